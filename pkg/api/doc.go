// Package api wires the HTTP surface: route registration, the middleware
// pipeline, and the handlers that translate requests into service calls.
//
// Routes fall into three groups:
//
//   - /api/auth/*            self-service for the authenticated principal
//   - /api/organizations/*   superadmin-only organization administration
//   - /api/org/{org_slug}/*  tenant-scoped resources; the slug in the path is
//     the sole source of tenant identity
//
// Handlers never re-derive the tenant or the caller: both are attached to the
// request context by the middleware pipeline before any handler runs.
package api
