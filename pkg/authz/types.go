package authz

import "time"

// Category groups catalog permissions
type Category string

const (
	CategoryUsers     Category = "users"
	CategoryData      Category = "data"
	CategoryAnalytics Category = "analytics"
	CategorySettings  Category = "settings"
	CategorySystem    Category = "system"
)

// Valid reports whether c is a known category
func (c Category) Valid() bool {
	switch c {
	case CategoryUsers, CategoryData, CategoryAnalytics, CategorySettings, CategorySystem:
		return true
	}
	return false
}

// Permission is a catalog entry. The catalog is seeded once and treated as
// immutable afterwards.
type Permission struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Category    Category  `json:"category"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// RoleBinding grants a catalog permission to every profile holding the role.
// superadmin holds all permissions implicitly and never has binding rows.
type RoleBinding struct {
	ID           int64     `json:"id"`
	Role         Role      `json:"role"`
	PermissionID int64     `json:"permission_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// UserPermission is a per-profile override layered on top of role bindings.
// Only granted=true rows contribute to resolution; a granted=false row never
// revokes a role-derived grant.
type UserPermission struct {
	ID           int64     `json:"id"`
	ProfileID    int64     `json:"profile_id"`
	PermissionID int64     `json:"permission_id"`
	Granted      bool      `json:"granted"`
	GrantedBy    *int64    `json:"granted_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Principal is the minimal subject a resolution needs: which profile, and
// which role it holds.
type Principal struct {
	ProfileID int64
	Role      Role
}
