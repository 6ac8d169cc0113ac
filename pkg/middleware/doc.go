// Package middleware implements the request authorization pipeline.
//
// Ordering matters and is fixed by the server:
//
//  1. IdentityMiddleware — Bearer token to local user (AuthContext).
//  2. RoleContextMiddleware — role facts, the single profile auto-heal point.
//  3. TenantDetection — org slug in the URL to *orgs.Organization in context.
//  4. TenantRequired — 400 on tenant-mandatory prefixes with no tenant.
//  5. TenantIsolation — 403 when a non-superadmin addresses another tenant.
//  6. OrgRateLimiter — per-tenant fixed window, failing open on Redis loss.
//
// Per-route Guards (RequirePermission, RequireRole, RequireSuperadmin,
// RequireAdminOrAbove, RequireTenant) run after the pipeline and share a
// fixed internal order: authenticated, profile present, then the predicate.
// Guards never create profiles; a missing profile is always a 403.
package middleware
