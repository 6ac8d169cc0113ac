// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// AuthKey contains *middleware.AuthContext
	// Set by: middleware.IdentityMiddleware and middleware.RoleContextMiddleware
	// Required by: guards, tenant isolation, all protected endpoints
	AuthKey Key = "auth_context"

	// TenantKey contains *orgs.Organization
	// Set by: middleware.TenantDetection (pkg/middleware/tenant.go)
	// Required by: tenant-scoped endpoints, tenant guards
	TenantKey Key = "tenant"

	// OrgSlugKey contains the raw org slug string parsed from the URL path
	// Set by: middleware.TenantDetection
	OrgSlugKey Key = "org_slug"

	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: logger, audit trail
	RequestIDKey Key = "request_id"
)

// WithValue adds a typed value under a Key.
func WithValue(ctx context.Context, key Key, value interface{}) context.Context {
	return context.WithValue(ctx, key, value)
}

// RequestID returns the request ID from the context, or "" if unset.
func RequestID(ctx context.Context) string {
	if v, ok := ctx.Value(RequestIDKey).(string); ok {
		return v
	}
	return ""
}
