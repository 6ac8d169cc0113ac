package authz

// Role is the closed set of roles a profile can hold. Roles are not rows in a
// table; adding one here forces an explicit decision about its hierarchy
// weight below.
type Role string

const (
	RoleSuperadmin Role = "superadmin"
	RoleAdmin      Role = "admin"
	RoleManager    Role = "manager"
	RoleAnalyst    Role = "analyst"
	RoleUser       Role = "user"
	RoleViewer     Role = "viewer"
	RoleVolunteer  Role = "volunteer"
)

// AllRoles lists every valid role
var AllRoles = []Role{
	RoleSuperadmin,
	RoleAdmin,
	RoleManager,
	RoleAnalyst,
	RoleUser,
	RoleViewer,
	RoleVolunteer,
}

// roleWeights drives the coarse role-threshold checks. Roles absent from the
// table weigh 0: manager, analyst, viewer and volunteer participate through
// explicit permission grants only, never through the hierarchy.
var roleWeights = map[Role]int{
	RoleSuperadmin: 3,
	RoleAdmin:      2,
	RoleUser:       1,
}

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	for _, role := range AllRoles {
		if r == role {
			return true
		}
	}
	return false
}

// Weight returns the hierarchy weight of the role
func (r Role) Weight() int {
	return roleWeights[r]
}

// AtLeast reports whether the role meets the required role's hierarchy
// weight.
func (r Role) AtLeast(required Role) bool {
	return r.Weight() >= required.Weight()
}

func (r Role) String() string {
	return string(r)
}

// RoleFacts is the derived role information attached to every authenticated
// request.
type RoleFacts struct {
	Role           Role `json:"role"`
	HasRole        bool `json:"has_role"`
	IsSuperadmin   bool `json:"is_superadmin"`
	IsAdmin        bool `json:"is_admin"`
	IsAdminOrAbove bool `json:"is_admin_or_above"`
}

// NewRoleFacts derives role facts from a role
func NewRoleFacts(role Role) RoleFacts {
	return RoleFacts{
		Role:           role,
		HasRole:        true,
		IsSuperadmin:   role == RoleSuperadmin,
		IsAdmin:        role == RoleAdmin,
		IsAdminOrAbove: role == RoleAdmin || role == RoleSuperadmin,
	}
}

// NoRoleFacts is the fail-closed value used when role facts cannot be
// derived: no role, no privileges.
func NoRoleFacts() RoleFacts {
	return RoleFacts{}
}
