package authz

// Object-level rules, evaluated against a single target after the coarse
// guards have passed.

// IsOwnerOrAdminOrAbove grants when the requester is admin or superadmin,
// otherwise only when the requester owns the target.
func IsOwnerOrAdminOrAbove(requester Role, requesterUserID, ownerUserID int64) bool {
	if requester == RoleAdmin || requester == RoleSuperadmin {
		return true
	}
	return requesterUserID == ownerUserID
}

// CanManageUsers encodes the non-transitive management hierarchy: superadmin
// manages any target; admin manages only targets with role user. Admins can
// never manage other admins or superadmins.
func CanManageUsers(actor, target Role) bool {
	switch actor {
	case RoleSuperadmin:
		return true
	case RoleAdmin:
		return target == RoleUser
	default:
		return false
	}
}

// CanChangeRole restricts role reassignment to superadmin
func CanChangeRole(actor Role) bool {
	return actor == RoleSuperadmin
}
