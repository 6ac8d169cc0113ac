package authz

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Store handles authorization data persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new authorization store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsurePermission inserts a catalog permission if it does not exist.
// Returns true when a new row was created.
func (s *Store) EnsurePermission(ctx context.Context, perm *Permission) (bool, error) {
	query := `
		INSERT INTO permissions (name, category, description, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO NOTHING
	`

	res, err := s.db.ExecContext(ctx, query, perm.Name, perm.Category, perm.Description, time.Now())
	if err != nil {
		return false, fmt.Errorf("failed to ensure permission %s: %w", perm.Name, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}

	existing, err := s.GetPermissionByName(ctx, perm.Name)
	if err != nil {
		return false, err
	}
	*perm = *existing

	return affected > 0, nil
}

// GetPermissionByName retrieves a catalog permission by its unique name
func (s *Store) GetPermissionByName(ctx context.Context, name string) (*Permission, error) {
	query := `
		SELECT id, name, category, description, created_at
		FROM permissions
		WHERE name = $1
	`

	var perm Permission
	var description sql.NullString

	err := s.db.QueryRowContext(ctx, query, name).Scan(
		&perm.ID,
		&perm.Name,
		&perm.Category,
		&description,
		&perm.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("permission not found: %s", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permission: %w", err)
	}

	perm.Description = description.String
	return &perm, nil
}

// ListPermissions lists the full catalog ordered by category then name
func (s *Store) ListPermissions(ctx context.Context) ([]Permission, error) {
	query := `
		SELECT id, name, category, description, created_at
		FROM permissions
		ORDER BY category ASC, name ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var perm Permission
		var description sql.NullString

		if err := rows.Scan(&perm.ID, &perm.Name, &perm.Category, &description, &perm.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perm.Description = description.String
		perms = append(perms, perm)
	}

	return perms, rows.Err()
}

// EnsureRoleBinding binds a permission to a role if the pair does not exist.
// Returns true when a new row was created.
func (s *Store) EnsureRoleBinding(ctx context.Context, role Role, permissionID int64) (bool, error) {
	query := `
		INSERT INTO role_permissions (role, permission_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (role, permission_id) DO NOTHING
	`

	res, err := s.db.ExecContext(ctx, query, role, permissionID, time.Now())
	if err != nil {
		return false, fmt.Errorf("failed to bind permission %d to role %s: %w", permissionID, role, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}
	return affected > 0, nil
}

// RoleHasPermission reports whether the role is bound to the named permission
func (s *Store) RoleHasPermission(ctx context.Context, role Role, permission string) (bool, error) {
	query := `
		SELECT COUNT(1)
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role = $1 AND p.name = $2
	`

	var count int
	if err := s.db.QueryRowContext(ctx, query, role, permission).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check role binding: %w", err)
	}
	return count > 0, nil
}

// RolePermissionNames returns the names of all permissions bound to a role
func (s *Store) RolePermissionNames(ctx context.Context, role Role) ([]string, error) {
	query := `
		SELECT p.name
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role = $1
		ORDER BY p.name ASC
	`

	rows, err := s.db.QueryContext(ctx, query, role)
	if err != nil {
		return nil, fmt.Errorf("failed to list role permissions: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan permission name: %w", err)
		}
		names = append(names, name)
	}

	return names, rows.Err()
}

// CountRoleBindings counts binding rows for a role
func (s *Store) CountRoleBindings(ctx context.Context, role Role) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM role_permissions WHERE role = $1`, role,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count role bindings: %w", err)
	}
	return count, nil
}

// SetOverride creates or updates a per-profile permission override
func (s *Store) SetOverride(ctx context.Context, override *UserPermission) error {
	query := `
		INSERT INTO user_permissions (profile_id, permission_id, granted, granted_by, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (profile_id, permission_id)
		DO UPDATE SET granted = EXCLUDED.granted, granted_by = EXCLUDED.granted_by
		RETURNING id
	`

	now := time.Now()
	err := s.db.QueryRowContext(ctx, query,
		override.ProfileID,
		override.PermissionID,
		override.Granted,
		override.GrantedBy,
		now,
	).Scan(&override.ID)
	if err != nil {
		return fmt.Errorf("failed to set permission override: %w", err)
	}

	override.CreatedAt = now
	return nil
}

// RemoveOverride deletes a per-profile permission override
func (s *Store) RemoveOverride(ctx context.Context, profileID, permissionID int64) error {
	query := `DELETE FROM user_permissions WHERE profile_id = $1 AND permission_id = $2`
	if _, err := s.db.ExecContext(ctx, query, profileID, permissionID); err != nil {
		return fmt.Errorf("failed to remove permission override: %w", err)
	}
	return nil
}

// HasGrantedOverride reports whether the profile has a granted=true override
// for the named permission. Non-granted rows never contribute.
func (s *Store) HasGrantedOverride(ctx context.Context, profileID int64, permission string) (bool, error) {
	query := `
		SELECT COUNT(1)
		FROM user_permissions up
		JOIN permissions p ON p.id = up.permission_id
		WHERE up.profile_id = $1 AND p.name = $2 AND up.granted = TRUE
	`

	var count int
	if err := s.db.QueryRowContext(ctx, query, profileID, permission).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check permission override: %w", err)
	}
	return count > 0, nil
}

// GrantedOverrideNames returns the names of all granted override permissions
// for a profile.
func (s *Store) GrantedOverrideNames(ctx context.Context, profileID int64) ([]string, error) {
	query := `
		SELECT p.name
		FROM user_permissions up
		JOIN permissions p ON p.id = up.permission_id
		WHERE up.profile_id = $1 AND up.granted = TRUE
		ORDER BY p.name ASC
	`

	rows, err := s.db.QueryContext(ctx, query, profileID)
	if err != nil {
		return nil, fmt.Errorf("failed to list permission overrides: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan permission name: %w", err)
		}
		names = append(names, name)
	}

	return names, rows.Err()
}

// ListOverrides returns every override row for a profile, granted or not
func (s *Store) ListOverrides(ctx context.Context, profileID int64) ([]UserPermission, error) {
	query := `
		SELECT id, profile_id, permission_id, granted, granted_by, created_at
		FROM user_permissions
		WHERE profile_id = $1
		ORDER BY created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, profileID)
	if err != nil {
		return nil, fmt.Errorf("failed to list overrides: %w", err)
	}
	defer rows.Close()

	var overrides []UserPermission
	for rows.Next() {
		var up UserPermission
		var grantedBy sql.NullInt64

		err := rows.Scan(&up.ID, &up.ProfileID, &up.PermissionID, &up.Granted, &grantedBy, &up.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan override: %w", err)
		}
		if grantedBy.Valid {
			gb := grantedBy.Int64
			up.GrantedBy = &gb
		}
		overrides = append(overrides, up)
	}

	return overrides, rows.Err()
}
