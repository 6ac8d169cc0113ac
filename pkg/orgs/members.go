package orgs

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/keystone/pkg/apierror"
)

// ListMembers retrieves all members of an organization, joined with their
// user identity, ordered by when they joined.
func (s *PostgresService) ListMembers(ctx context.Context, orgID int64) ([]*Member, error) {
	query := `
		SELECT p.id, p.user_id, u.username, u.email, u.full_name, p.role, p.created_at
		FROM profiles p
		JOIN users u ON u.id = p.user_id
		WHERE p.organization_id = $1
		ORDER BY p.created_at ASC, p.id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []*Member
	for rows.Next() {
		member := &Member{}
		var fullName sql.NullString
		if err := rows.Scan(
			&member.ProfileID, &member.UserID, &member.Username, &member.Email,
			&fullName, &member.Role, &member.JoinedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		if fullName.Valid {
			member.FullName = fullName.String
		}
		members = append(members, member)
	}
	return members, rows.Err()
}

// CountMembers returns the number of profiles assigned to an organization
func (s *PostgresService) CountMembers(ctx context.Context, orgID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM profiles WHERE organization_id = $1`, orgID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count members: %w", err)
	}
	return count, nil
}

// GetMemberLimit reports the organization's seat usage against max_users
func (s *PostgresService) GetMemberLimit(ctx context.Context, orgID int64) (*MemberLimit, error) {
	org, err := s.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	count, err := s.CountMembers(ctx, orgID)
	if err != nil {
		return nil, err
	}
	available := org.MaxUsers - count
	if available < 0 {
		available = 0
	}
	return &MemberLimit{
		CurrentCount:   count,
		MaxUsers:       org.MaxUsers,
		CanAddMore:     count < org.MaxUsers,
		AvailableSlots: available,
	}, nil
}

// CheckMemberLimit returns an error when the organization cannot accept
// another member. It satisfies users.MemberLimiter.
func (s *PostgresService) CheckMemberLimit(ctx context.Context, orgID int64) error {
	limit, err := s.GetMemberLimit(ctx, orgID)
	if err != nil {
		return err
	}
	if !limit.CanAddMore {
		return apierror.Invalid(fmt.Sprintf("organization is at its member limit (%d/%d)",
			limit.CurrentCount, limit.MaxUsers))
	}
	return nil
}
