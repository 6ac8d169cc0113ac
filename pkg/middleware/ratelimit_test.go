package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/keystone/pkg/contextkeys"
	"github.com/platinummonkey/keystone/pkg/orgs"
)

func setupRateLimiter(t *testing.T, limit int) (*OrgRateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	config := &RateLimitConfig{RequestsPerWindow: limit, WindowDuration: time.Minute}
	return NewOrgRateLimiter(client, config, nil, quietLogger()), mr
}

func tenantRequest(slug string, id int64) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/api/org/"+slug+"/things", nil)
	ctx := contextkeys.WithValue(r.Context(), contextkeys.TenantKey,
		&orgs.Organization{ID: id, Slug: slug, IsActive: true})
	return r.WithContext(ctx)
}

func TestRateLimiterAllowsUnderLimit(t *testing.T) {
	rl, _ := setupRateLimiter(t, 3)
	handler := rl.Handler(okHandler())

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, tenantRequest("acme", 1))
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, tenantRequest("acme", 1))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestRateLimiterIsolatesTenants(t *testing.T) {
	rl, _ := setupRateLimiter(t, 1)
	handler := rl.Handler(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, tenantRequest("acme", 1))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, tenantRequest("acme", 1))
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	// a different tenant has its own window
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, tenantRequest("other", 2))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimiterKeysAnonymousByIP(t *testing.T) {
	rl, _ := setupRateLimiter(t, 1)
	handler := rl.Handler(okHandler())

	r := httptest.NewRequest(http.MethodGet, "/api/things", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code)

	r = httptest.NewRequest(http.MethodGet, "/api/things", nil)
	r.RemoteAddr = "10.0.0.1:5678"
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	r = httptest.NewRequest(http.MethodGet, "/api/things", nil)
	r.RemoteAddr = "10.0.0.2:1234"
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimiterFailsOpen(t *testing.T) {
	rl, mr := setupRateLimiter(t, 1)
	handler := rl.Handler(okHandler())

	mr.Close()

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, tenantRequest("acme", 1))
		assert.Equal(t, http.StatusOK, w.Code, "request %d should fail open", i+1)
	}
}

func TestRateLimiterWindowExpiry(t *testing.T) {
	rl, mr := setupRateLimiter(t, 1)
	handler := rl.Handler(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, tenantRequest("acme", 1))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, tenantRequest("acme", 1))
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	mr.FastForward(2 * time.Minute)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, tenantRequest("acme", 1))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimiterReset(t *testing.T) {
	rl, _ := setupRateLimiter(t, 1)
	ctx := context.Background()

	allowed, err := rl.Allow(ctx, "slug:acme")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = rl.Allow(ctx, "slug:acme")
	require.NoError(t, err)
	assert.False(t, allowed)

	require.NoError(t, rl.Reset(ctx, "slug:acme"))

	allowed, err = rl.Allow(ctx, "slug:acme")
	require.NoError(t, err)
	assert.True(t, allowed)
}
