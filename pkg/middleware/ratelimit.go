package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/keystone/pkg/httputil"
	"github.com/platinummonkey/keystone/pkg/observability"
)

// RateLimitConfig bounds requests per fixed window
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// DefaultRateLimitConfig allows 600 requests per minute
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 600,
		WindowDuration:    time.Minute,
	}
}

// OrgRateLimiter implements fixed-window rate limiting in Redis so limits
// hold across instances. Requests from a detected tenant share that
// organization's window; everything else is keyed by client IP.
type OrgRateLimiter struct {
	redis   *redis.Client
	config  *RateLimitConfig
	prefix  string
	metrics *observability.Metrics
	log     *logrus.Logger
}

// NewOrgRateLimiter creates a Redis-backed per-organization rate limiter
func NewOrgRateLimiter(redisClient *redis.Client, config *RateLimitConfig, metrics *observability.Metrics, log *logrus.Logger) *OrgRateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	return &OrgRateLimiter{
		redis:   redisClient,
		config:  config,
		prefix:  "ratelimit:org",
		metrics: metrics,
		log:     log,
	}
}

// Allow increments the window counter for a key and reports whether the
// request is under the limit.
func (rl *OrgRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)

	pipe := rl.redis.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, rl.config.WindowDuration)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, fmt.Errorf("redis error: %w", err)
	}

	return incr.Val() <= int64(rl.config.RequestsPerWindow), nil
}

// Remaining returns the unused request count in the current window
func (rl *OrgRateLimiter) Remaining(ctx context.Context, key string) (int, error) {
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)

	count, err := rl.redis.Get(ctx, redisKey).Int()
	if err == redis.Nil {
		return rl.config.RequestsPerWindow, nil
	} else if err != nil {
		return 0, err
	}

	remaining := rl.config.RequestsPerWindow - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// TTL returns the time until the window resets
func (rl *OrgRateLimiter) TTL(ctx context.Context, key string) (time.Duration, error) {
	return rl.redis.TTL(ctx, fmt.Sprintf("%s:%s", rl.prefix, key)).Result()
}

// Reset clears the window for a key
func (rl *OrgRateLimiter) Reset(ctx context.Context, key string) error {
	return rl.redis.Del(ctx, fmt.Sprintf("%s:%s", rl.prefix, key)).Err()
}

// Handler wraps an HTTP handler with rate limiting. Redis failures fail
// open: authorization still guards every route, so an unavailable limiter
// degrades throughput protection, not access control.
func (rl *OrgRateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var key, orgLabel string
		if tenant := GetTenant(r); tenant != nil {
			key = "slug:" + tenant.Slug
			orgLabel = tenant.Slug
		} else {
			key = "ip:" + httputil.ClientIP(r)
			orgLabel = "none"
		}

		allowed, err := rl.Allow(ctx, key)
		if err != nil {
			rl.log.WithError(err).Warn("rate limiter unavailable, failing open")
			next.ServeHTTP(w, r)
			return
		}

		if !allowed {
			if rl.metrics != nil {
				rl.metrics.RateLimitRejectionsTotal.WithLabelValues(orgLabel).Inc()
			}
			rl.rejectRequest(ctx, w, key)
			return
		}

		remaining, err := rl.Remaining(ctx, key)
		if err == nil {
			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", rl.config.RequestsPerWindow))
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *OrgRateLimiter) rejectRequest(ctx context.Context, w http.ResponseWriter, key string) {
	retryAfter := rl.config.WindowDuration.Seconds()
	if ttl, err := rl.TTL(ctx, key); err == nil && ttl > 0 {
		retryAfter = ttl.Seconds()
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", fmt.Sprintf("%.0f", retryAfter))
	w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", rl.config.RequestsPerWindow))
	w.Header().Set("X-RateLimit-Remaining", "0")
	w.WriteHeader(http.StatusTooManyRequests)
	fmt.Fprintf(w, `{"error":"rate limit exceeded","retry_after":%.0f}`, retryAfter)
}
