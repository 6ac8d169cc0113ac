package users

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/platinummonkey/keystone/pkg/authz"
)

// Store handles user and profile persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new user store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateUser creates a new user
func (s *Store) CreateUser(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (external_subject, username, email, full_name, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	now := time.Now()
	err := s.db.QueryRowContext(ctx, query,
		user.ExternalSubject,
		user.Username,
		user.Email,
		user.FullName,
		user.IsActive,
		now,
		now,
	).Scan(&user.ID)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	user.CreatedAt = now
	user.UpdatedAt = now
	return nil
}

// GetUser retrieves a user by ID
func (s *Store) GetUser(ctx context.Context, userID int64) (*User, error) {
	return s.getUser(ctx, `WHERE id = $1`, userID)
}

// GetUserByExternalSubject retrieves a user by identity-provider subject
func (s *Store) GetUserByExternalSubject(ctx context.Context, subject string) (*User, error) {
	return s.getUser(ctx, `WHERE external_subject = $1`, subject)
}

func (s *Store) getUser(ctx context.Context, where string, arg interface{}) (*User, error) {
	query := `
		SELECT id, external_subject, username, email, full_name, is_active, created_at, updated_at
		FROM users
	` + where

	var user User
	var fullName sql.NullString

	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID,
		&user.ExternalSubject,
		&user.Username,
		&user.Email,
		&fullName,
		&user.IsActive,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	user.FullName = fullName.String
	return &user, nil
}

// GetOrCreateUser resolves a user row for an external subject, creating one
// on first access. Safe under concurrent first access: the unique constraint
// on external_subject backs the upsert.
func (s *Store) GetOrCreateUser(ctx context.Context, subject, username, email string) (*User, error) {
	query := `
		INSERT INTO users (external_subject, username, email, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, TRUE, $4, $4)
		ON CONFLICT (external_subject) DO NOTHING
	`

	if _, err := s.db.ExecContext(ctx, query, subject, username, email, time.Now()); err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	return s.GetUserByExternalSubject(ctx, subject)
}

// GetProfileByUserID retrieves a user's profile
func (s *Store) GetProfileByUserID(ctx context.Context, userID int64) (*Profile, error) {
	query := `
		SELECT id, user_id, organization_id, role, bio, avatar_url, phone, created_at, updated_at
		FROM profiles
		WHERE user_id = $1
	`

	var profile Profile
	var orgID sql.NullInt64
	var bio, avatarURL, phone sql.NullString
	var role string

	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&profile.ID,
		&profile.UserID,
		&orgID,
		&role,
		&bio,
		&avatarURL,
		&phone,
		&profile.CreatedAt,
		&profile.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	if orgID.Valid {
		id := orgID.Int64
		profile.OrganizationID = &id
	}
	profile.Role = authz.Role(role)
	profile.Bio = bio.String
	profile.AvatarURL = avatarURL.String
	profile.Phone = phone.String

	return &profile, nil
}

// GetOrCreateProfile resolves the profile for a user, lazily creating one
// with role=user and no organization. The insert races safely on the
// user_id unique constraint, so concurrent first access yields one row.
func (s *Store) GetOrCreateProfile(ctx context.Context, userID int64) (*Profile, bool, error) {
	query := `
		INSERT INTO profiles (user_id, role, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (user_id) DO NOTHING
	`

	res, err := s.db.ExecContext(ctx, query, userID, authz.RoleUser, time.Now())
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert profile: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read upsert result: %w", err)
	}

	profile, err := s.GetProfileByUserID(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	return profile, affected > 0, nil
}

// UpdateProfile applies a partial update to the mutable profile attributes
func (s *Store) UpdateProfile(ctx context.Context, profileID int64, update ProfileUpdate) error {
	query := `
		UPDATE profiles
		SET bio = COALESCE($1, bio),
		    avatar_url = COALESCE($2, avatar_url),
		    phone = COALESCE($3, phone),
		    updated_at = $4
		WHERE id = $5
	`

	res, err := s.db.ExecContext(ctx, query, update.Bio, update.AvatarURL, update.Phone, time.Now(), profileID)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SetRole changes a profile's role
func (s *Store) SetRole(ctx context.Context, profileID int64, role authz.Role) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE profiles SET role = $1, updated_at = $2 WHERE id = $3`,
		role, time.Now(), profileID,
	)
	if err != nil {
		return fmt.Errorf("failed to set role: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SetOrganization assigns a profile to an organization (nil detaches)
func (s *Store) SetOrganization(ctx context.Context, profileID int64, organizationID *int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE profiles SET organization_id = $1, updated_at = $2 WHERE id = $3`,
		organizationID, time.Now(), profileID,
	)
	if err != nil {
		return fmt.Errorf("failed to set organization: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// GetProfile retrieves a profile by its own ID
func (s *Store) GetProfile(ctx context.Context, profileID int64) (*Profile, error) {
	query := `
		SELECT id, user_id, organization_id, role, bio, avatar_url, phone, created_at, updated_at
		FROM profiles
		WHERE id = $1
	`

	var profile Profile
	var orgID sql.NullInt64
	var bio, avatarURL, phone sql.NullString
	var role string

	err := s.db.QueryRowContext(ctx, query, profileID).Scan(
		&profile.ID,
		&profile.UserID,
		&orgID,
		&role,
		&bio,
		&avatarURL,
		&phone,
		&profile.CreatedAt,
		&profile.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	if orgID.Valid {
		id := orgID.Int64
		profile.OrganizationID = &id
	}
	profile.Role = authz.Role(role)
	profile.Bio = bio.String
	profile.AvatarURL = avatarURL.String
	profile.Phone = phone.String

	return &profile, nil
}

// ListByOrganization lists users with profiles in an organization
func (s *Store) ListByOrganization(ctx context.Context, organizationID int64) ([]User, error) {
	query := `
		SELECT u.id, u.external_subject, u.username, u.email, u.full_name, u.is_active, u.created_at, u.updated_at
		FROM users u
		JOIN profiles p ON p.user_id = u.id
		WHERE p.organization_id = $1
		ORDER BY u.username ASC
	`

	rows, err := s.db.QueryContext(ctx, query, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var list []User
	for rows.Next() {
		var user User
		var fullName sql.NullString

		err := rows.Scan(
			&user.ID,
			&user.ExternalSubject,
			&user.Username,
			&user.Email,
			&fullName,
			&user.IsActive,
			&user.CreatedAt,
			&user.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		user.FullName = fullName.String
		list = append(list, user)
	}

	return list, rows.Err()
}

// CountByOrganization counts profiles attached to an organization
func (s *Store) CountByOrganization(ctx context.Context, organizationID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM profiles WHERE organization_id = $1`, organizationID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count members: %w", err)
	}
	return count, nil
}
