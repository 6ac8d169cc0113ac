package notifications

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Store persists notifications
type Store struct {
	db *sql.DB
}

// NewStore creates a notification store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const notificationColumns = `id, user_id, organization_id, title, message, kind, is_read, read_at, related_model, related_id, metadata, created_at`

// Create inserts a notification and fills its ID and timestamp
func (s *Store) Create(ctx context.Context, n *Notification) error {
	metadataJSON, err := marshalMetadata(n.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO notifications (user_id, organization_id, title, message, kind, related_model, related_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`
	err = s.db.QueryRowContext(ctx, query,
		n.UserID, n.OrganizationID, n.Title, n.Message, n.Kind,
		n.RelatedModel, n.RelatedID, metadataJSON,
	).Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// CreateBulk inserts one notification per user in a single transaction
func (s *Store) CreateBulk(ctx context.Context, userIDs []int64, template *Notification) ([]*Notification, error) {
	metadataJSON, err := marshalMetadata(template.Metadata)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO notifications (user_id, organization_id, title, message, kind, related_model, related_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`
	created := make([]*Notification, 0, len(userIDs))
	for _, userID := range userIDs {
		n := *template
		n.UserID = userID
		err := tx.QueryRowContext(ctx, query,
			n.UserID, n.OrganizationID, n.Title, n.Message, n.Kind,
			n.RelatedModel, n.RelatedID, metadataJSON,
		).Scan(&n.ID, &n.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to create notification for user %d: %w", userID, err)
		}
		created = append(created, &n)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit notifications: %w", err)
	}
	return created, nil
}

// MarkRead marks a notification read for its owner. Notifications belonging
// to other users are invisible here, reported as sql.ErrNoRows.
func (s *Store) MarkRead(ctx context.Context, notificationID, userID int64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE notifications
		SET is_read = TRUE, read_at = $1
		WHERE id = $2 AND user_id = $3 AND is_read = FALSE
	`, time.Now().UTC(), notificationID, userID)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		// either not the owner's, unknown, or already read
		var isRead bool
		err := s.db.QueryRowContext(ctx,
			`SELECT is_read FROM notifications WHERE id = $1 AND user_id = $2`,
			notificationID, userID).Scan(&isRead)
		if err != nil {
			return sql.ErrNoRows
		}
		return nil
	}
	return nil
}

// MarkAllRead marks every unread notification of a user read, returning the count
func (s *Store) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE notifications
		SET is_read = TRUE, read_at = $1
		WHERE user_id = $2 AND is_read = FALSE
	`, time.Now().UTC(), userID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	return result.RowsAffected()
}

// UnreadCount returns the number of unread notifications for a user
func (s *Store) UnreadCount(ctx context.Context, userID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND is_read = FALSE`,
		userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}

// ListForUser returns a user's notifications newest first, optionally only
// unread ones.
func (s *Store) ListForUser(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]*Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`
		SELECT %s FROM notifications
		WHERE user_id = $1
	`, notificationColumns)
	if unreadOnly {
		query += " AND is_read = FALSE"
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT $2"

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		n := &Notification{}
		var orgID sql.NullInt64
		var readAt sql.NullTime
		var relatedModel, relatedID sql.NullString
		var metadataJSON []byte
		if err := rows.Scan(
			&n.ID, &n.UserID, &orgID, &n.Title, &n.Message, &n.Kind,
			&n.IsRead, &readAt, &relatedModel, &relatedID, &metadataJSON, &n.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		if orgID.Valid {
			n.OrganizationID = &orgID.Int64
		}
		if readAt.Valid {
			t := readAt.Time
			n.ReadAt = &t
		}
		if relatedModel.Valid {
			n.RelatedModel = relatedModel.String
		}
		if relatedID.Valid {
			n.RelatedID = relatedID.String
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &n.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func marshalMetadata(metadata map[string]any) ([]byte, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	b, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return b, nil
}
