// Package orgs provides multi-tenant organization management.
//
// # Overview
//
// An organization is a tenant: every tenant-scoped record carries its
// organization id, and the slug is the URL identifier used by tenant
// detection. Slugs are generated from the organization name at creation
// time and never change afterwards.
//
// The package manages the organization lifecycle, member listing, and the
// max_users seat limit enforced when users are assigned to a tenant.
//
// # Usage Example
//
// Create an organization:
//
//	org := &orgs.Organization{Name: "Acme Corp"}
//	err := service.CreateOrganization(ctx, org, &actorID, meta)
//
// Seat enforcement before assignment:
//
//	if err := service.CheckMemberLimit(ctx, orgID); err != nil {
//		return err
//	}
//
// # Related Packages
//
//   - pkg/users: profiles that reference an organization
//   - pkg/middleware: tenant detection and isolation from the slug
package orgs
