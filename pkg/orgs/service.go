package orgs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/keystone/pkg/apierror"
	"github.com/platinummonkey/keystone/pkg/audit"
)

// PostgresService implements organization management on PostgreSQL
type PostgresService struct {
	db       *sql.DB
	recorder audit.Recorder
	log      *logrus.Logger
}

// NewPostgresService creates a new PostgresService
func NewPostgresService(db *sql.DB, recorder audit.Recorder, log *logrus.Logger) *PostgresService {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	return &PostgresService{db: db, recorder: recorder, log: log}
}

const orgColumns = `id, name, slug, subscription_status, subscription_tier, max_users, settings, is_active, created_at, updated_at`

// CreateOrganization creates a new organization. The slug is generated from
// the name when absent and must be unique.
func (s *PostgresService) CreateOrganization(ctx context.Context, org *Organization, actorUserID *int64, meta audit.RequestMeta) error {
	if org.Name == "" {
		return apierror.Invalid("organization name is required")
	}
	if org.Slug == "" {
		org.Slug = generateSlug(org.Name)
	}
	if org.Slug == "" {
		return apierror.Invalid("organization name does not yield a valid slug")
	}
	if org.SubscriptionStatus == "" {
		org.SubscriptionStatus = SubscriptionActive
	}
	if org.SubscriptionTier == "" {
		org.SubscriptionTier = TierBasic
	}
	if org.MaxUsers <= 0 {
		org.MaxUsers = org.SubscriptionTier.DefaultMaxUsers()
	}
	org.IsActive = true
	if org.Settings == nil {
		org.Settings = map[string]any{}
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM organizations WHERE slug = $1)`, org.Slug).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check slug: %w", err)
	}
	if exists {
		return apierror.Invalid(fmt.Sprintf("organization with slug %q already exists", org.Slug))
	}

	settingsJSON, err := json.Marshal(org.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	query := `
		INSERT INTO organizations (name, slug, subscription_status, subscription_tier, max_users, settings, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`
	err = s.db.QueryRowContext(ctx, query, org.Name, org.Slug, org.SubscriptionStatus,
		org.SubscriptionTier, org.MaxUsers, settingsJSON, org.IsActive).
		Scan(&org.ID, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create organization: %w", err)
	}

	entry := &audit.Entry{
		UserID:         actorUserID,
		OrganizationID: &org.ID,
		Action:         audit.ActionCreate,
		TargetModel:    "Organization",
		TargetID:       fmt.Sprintf("%d", org.ID),
		Changes:        map[string]any{"name": org.Name, "slug": org.Slug, "tier": string(org.SubscriptionTier)},
	}
	s.recorder.Record(ctx, entry.WithMeta(meta))

	return nil
}

// GetOrganization retrieves an organization by ID
func (s *PostgresService) GetOrganization(ctx context.Context, id int64) (*Organization, error) {
	return s.getOrganization(ctx, "id = $1", id)
}

// GetOrganizationBySlug retrieves an organization by slug
func (s *PostgresService) GetOrganizationBySlug(ctx context.Context, slug string) (*Organization, error) {
	return s.getOrganization(ctx, "slug = $1", slug)
}

func (s *PostgresService) getOrganization(ctx context.Context, where string, arg any) (*Organization, error) {
	query := fmt.Sprintf(`SELECT %s FROM organizations WHERE %s`, orgColumns, where)
	org, err := scanOrganization(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

// ListOrganizations lists all active organizations, newest first
func (s *PostgresService) ListOrganizations(ctx context.Context) ([]*Organization, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM organizations
		WHERE is_active = TRUE
		ORDER BY created_at DESC, id DESC
	`, orgColumns)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	var orgs []*Organization
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		orgs = append(orgs, org)
	}
	return orgs, rows.Err()
}

// UpdateOrganization applies a partial update. The slug is never changed.
// Settings keys are merged into the stored settings rather than replacing
// the whole map.
func (s *PostgresService) UpdateOrganization(ctx context.Context, id int64, updates *UpdateOrgRequest, actorUserID *int64, meta audit.RequestMeta) (*Organization, error) {
	current, err := s.GetOrganization(ctx, id)
	if err != nil {
		return nil, err
	}

	setClauses := []string{}
	args := []any{}
	argPos := 1
	changes := map[string]any{}

	if updates.Name != nil {
		setClauses = append(setClauses, fmt.Sprintf("name = $%d", argPos))
		args = append(args, *updates.Name)
		changes["name"] = *updates.Name
		argPos++
	}
	if updates.SubscriptionStatus != nil {
		setClauses = append(setClauses, fmt.Sprintf("subscription_status = $%d", argPos))
		args = append(args, *updates.SubscriptionStatus)
		changes["subscription_status"] = string(*updates.SubscriptionStatus)
		argPos++
	}
	if updates.SubscriptionTier != nil {
		setClauses = append(setClauses, fmt.Sprintf("subscription_tier = $%d", argPos))
		args = append(args, *updates.SubscriptionTier)
		changes["subscription_tier"] = string(*updates.SubscriptionTier)
		argPos++
	}
	if updates.MaxUsers != nil {
		if *updates.MaxUsers <= 0 {
			return nil, apierror.Invalid("max_users must be positive")
		}
		setClauses = append(setClauses, fmt.Sprintf("max_users = $%d", argPos))
		args = append(args, *updates.MaxUsers)
		changes["max_users"] = *updates.MaxUsers
		argPos++
	}
	if updates.Settings != nil {
		merged := current.Settings
		if merged == nil {
			merged = map[string]any{}
		}
		for k, v := range updates.Settings {
			merged[k] = v
		}
		settingsJSON, err := json.Marshal(merged)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal settings: %w", err)
		}
		setClauses = append(setClauses, fmt.Sprintf("settings = $%d", argPos))
		args = append(args, settingsJSON)
		changes["settings"] = updates.Settings
		argPos++
	}

	if len(setClauses) == 0 {
		return current, nil
	}

	setClauses = append(setClauses, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)
	query := fmt.Sprintf("UPDATE organizations SET %s WHERE id = $%d",
		strings.Join(setClauses, ", "), argPos)

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("failed to update organization: %w", err)
	}

	entry := &audit.Entry{
		UserID:         actorUserID,
		OrganizationID: &id,
		Action:         audit.ActionUpdate,
		TargetModel:    "Organization",
		TargetID:       fmt.Sprintf("%d", id),
		Changes:        changes,
	}
	s.recorder.Record(ctx, entry.WithMeta(meta))

	return s.GetOrganization(ctx, id)
}

// DeactivateOrganization soft deletes an organization. Its rows remain for
// the audit trail but tenant detection stops resolving the slug.
func (s *PostgresService) DeactivateOrganization(ctx context.Context, id int64, actorUserID *int64, meta audit.RequestMeta) error {
	query := `
		UPDATE organizations
		SET is_active = FALSE, subscription_status = $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2
	`
	result, err := s.db.ExecContext(ctx, query, SubscriptionCanceled, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate organization: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	entry := &audit.Entry{
		UserID:         actorUserID,
		OrganizationID: &id,
		Action:         audit.ActionDelete,
		TargetModel:    "Organization",
		TargetID:       fmt.Sprintf("%d", id),
	}
	s.recorder.Record(ctx, entry.WithMeta(meta))

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrganization(row rowScanner) (*Organization, error) {
	org := &Organization{}
	var settingsJSON []byte
	err := row.Scan(
		&org.ID, &org.Name, &org.Slug, &org.SubscriptionStatus, &org.SubscriptionTier,
		&org.MaxUsers, &settingsJSON, &org.IsActive, &org.CreatedAt, &org.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(settingsJSON) > 0 {
		if err := json.Unmarshal(settingsJSON, &org.Settings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
		}
	}
	return org, nil
}

// generateSlug derives a URL-safe slug from an organization name
func generateSlug(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.ReplaceAll(slug, " ", "-")
	slug = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			return r
		}
		return -1
	}, slug)
	return strings.Trim(slug, "-")
}
