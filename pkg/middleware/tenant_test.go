package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/platinummonkey/keystone/pkg/authz"
	"github.com/platinummonkey/keystone/pkg/contextkeys"
	"github.com/platinummonkey/keystone/pkg/orgs"
)

type fakeTenantSource struct {
	orgs map[string]*orgs.Organization
	err  error
}

func (f *fakeTenantSource) GetOrganizationBySlug(_ context.Context, slug string) (*orgs.Organization, error) {
	if f.err != nil {
		return nil, f.err
	}
	org, ok := f.orgs[slug]
	if !ok {
		return nil, orgs.ErrNotFound
	}
	return org, nil
}

func tenantSource() *fakeTenantSource {
	return &fakeTenantSource{orgs: map[string]*orgs.Organization{
		"acme":     {ID: 1, Name: "Acme", Slug: "acme", IsActive: true},
		"inactive": {ID: 2, Name: "Gone", Slug: "inactive", IsActive: false},
	}}
}

func TestExtractOrgSlug(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/api/org/acme/users", "acme"},
		{"/api/org/acme", "acme"},
		{"/org/acme/", "acme"},
		{"/api/users", ""},
		{"/api/org", ""},
		{"/api/organization/acme", ""},
		{"/", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, extractOrgSlug(tt.path), "path %s", tt.path)
	}
}

func TestTenantDetectionAttachesOrganization(t *testing.T) {
	mw := NewTenantDetection(tenantSource(), nil, quietLogger())
	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant := GetTenant(r)
		if assert.NotNil(t, tenant) {
			assert.Equal(t, "acme", tenant.Slug)
		}
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/api/org/acme/users", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTenantDetectionUnknownSlug(t *testing.T) {
	mw := NewTenantDetection(tenantSource(), nil, quietLogger())
	reached := false
	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	}))

	r := httptest.NewRequest(http.MethodGet, "/api/org/nope/users", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "tenant_not_found")
	assert.False(t, reached, "handler must not run for unknown tenants")
}

func TestTenantDetectionInactiveOrganization(t *testing.T) {
	mw := NewTenantDetection(tenantSource(), nil, quietLogger())
	handler := mw.Handler(okHandler())

	r := httptest.NewRequest(http.MethodGet, "/api/org/inactive/users", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTenantDetectionNoMarker(t *testing.T) {
	mw := NewTenantDetection(tenantSource(), nil, quietLogger())
	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Nil(t, GetTenant(r))
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTenantDetectionSkipPrefixes(t *testing.T) {
	// the skipped path contains an org marker that would otherwise 404
	mw := NewTenantDetection(tenantSource(), nil, quietLogger())
	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Nil(t, GetTenant(r))
		w.WriteHeader(http.StatusOK)
	}))

	for _, path := range []string{
		"/api/auth/org/nope/login",
		"/api/health/live",
		"/admin/org/nope/",
		"/static/org/nope/app.js",
	} {
		r := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		assert.Equal(t, http.StatusOK, w.Code, "path %s", path)
	}
}

func TestTenantRequired(t *testing.T) {
	mw := TenantRequired(nil, []string{"/api/org/public/"}, nil)
	handler := mw(okHandler())

	// tenant-mandatory prefix without a tenant → 400
	r := httptest.NewRequest(http.MethodGet, "/api/org/acme/users", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "tenant_required")

	// same prefix with a tenant attached proceeds
	r = httptest.NewRequest(http.MethodGet, "/api/org/acme/users", nil)
	ctx := contextkeys.WithValue(r.Context(), contextkeys.TenantKey,
		&orgs.Organization{ID: 1, Slug: "acme", IsActive: true})
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r.WithContext(ctx))
	assert.Equal(t, http.StatusOK, w.Code)

	// exempt prefix is carved out of the mandatory set
	r = httptest.NewRequest(http.MethodGet, "/api/org/public/info", nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)

	// non-mandatory prefix is untouched
	r = httptest.NewRequest(http.MethodGet, "/api/users", nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTenantIsolation(t *testing.T) {
	acme := &orgs.Organization{ID: 1, Slug: "acme", IsActive: true}
	orgA := int64(1)
	orgB := int64(2)

	tests := []struct {
		name    string
		authCtx *AuthContext
		tenant  *orgs.Organization
		want    int
	}{
		{"same org proceeds", authContextFor(authz.RoleUser, &orgA), acme, http.StatusOK},
		{"cross tenant denied", authContextFor(authz.RoleUser, &orgB), acme, http.StatusForbidden},
		{"no org denied", authContextFor(authz.RoleUser, nil), acme, http.StatusForbidden},
		{"superadmin bypasses", authContextFor(authz.RoleSuperadmin, &orgB), acme, http.StatusOK},
		{"admin does not bypass", authContextFor(authz.RoleAdmin, &orgB), acme, http.StatusForbidden},
		{"unauthenticated bypasses", nil, acme, http.StatusOK},
		{"no tenant bypasses", authContextFor(authz.RoleUser, &orgB), nil, http.StatusOK},
	}

	handler := TenantIsolation(nil)(okHandler())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := requestWithAuth(t, tt.authCtx)
			if tt.tenant != nil {
				ctx := contextkeys.WithValue(r.Context(), contextkeys.TenantKey, tt.tenant)
				r = r.WithContext(ctx)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusForbidden {
				assert.Contains(t, w.Body.String(), "cross_tenant_access")
			}
		})
	}
}
