// Package tenancy is the in-process enforcement point for horizontal data
// isolation. Every handler that lists or returns tenant-owned records runs
// them through a Scope; SQL-level organization filters are an optimization,
// the scope is the contract.
package tenancy

import (
	"github.com/platinummonkey/keystone/pkg/authz"
	"github.com/platinummonkey/keystone/pkg/users"
)

// Scope filters collections of tenant-owned records of type T. It is
// parametrized by a function extracting the owning organization id from a
// record, so entity types need no embedding or interface to participate.
type Scope[T any] struct {
	orgID func(T) *int64
}

// NewScope creates a scope over records of type T
func NewScope[T any](orgID func(T) *int64) *Scope[T] {
	return &Scope[T]{orgID: orgID}
}

// ForTenant returns the records owned by the given organization. A nil
// organization id yields an empty result, never the full set.
func (s *Scope[T]) ForTenant(organizationID *int64, records []T) []T {
	if organizationID == nil {
		return nil
	}
	var out []T
	for _, record := range records {
		owner := s.orgID(record)
		if owner != nil && *owner == *organizationID {
			out = append(out, record)
		}
	}
	return out
}

// ForPrincipal returns the records owned by the principal's organization.
// Unauthenticated principals or principals without an organization get an
// empty result.
func (s *Scope[T]) ForPrincipal(profile *users.Profile, records []T) []T {
	if profile == nil {
		return nil
	}
	return s.ForTenant(profile.OrganizationID, records)
}

// AccessibleBy returns all records for superadmins and the principal's own
// organization's records for everyone else.
func (s *Scope[T]) AccessibleBy(profile *users.Profile, records []T) []T {
	if profile != nil && profile.Role == authz.RoleSuperadmin {
		return records
	}
	return s.ForPrincipal(profile, records)
}

// IsAccessibleBy is the single-record mirror of AccessibleBy: superadmins
// may access anything, everyone else only records owned by their own
// organization.
func (s *Scope[T]) IsAccessibleBy(profile *users.Profile, record T) bool {
	if profile == nil {
		return false
	}
	if profile.Role == authz.RoleSuperadmin {
		return true
	}
	owner := s.orgID(record)
	return owner != nil && profile.OrganizationID != nil && *owner == *profile.OrganizationID
}
