package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/keystone/pkg/observability"
)

// DBRecorder persists audit entries to the audit_log table
type DBRecorder struct {
	db      *sql.DB
	metrics *observability.Metrics
	log     *logrus.Logger
}

// NewDBRecorder creates a database-backed audit recorder. Metrics may be
// nil in tests.
func NewDBRecorder(db *sql.DB, metrics *observability.Metrics, log *logrus.Logger) *DBRecorder {
	return &DBRecorder{db: db, metrics: metrics, log: log}
}

// Record writes the entry. Failures are logged and swallowed.
func (r *DBRecorder) Record(ctx context.Context, entry *Entry) {
	if err := r.insert(ctx, entry); err != nil {
		r.countEvent(entry.Action, "failed")
		r.log.WithError(err).WithFields(logrus.Fields{
			"action":       entry.Action,
			"target_model": entry.TargetModel,
			"target_id":    entry.TargetID,
		}).Error("Failed to write audit entry")
		return
	}
	r.countEvent(entry.Action, "recorded")
}

func (r *DBRecorder) countEvent(action Action, status string) {
	if r.metrics != nil {
		r.metrics.AuditEventsTotal.WithLabelValues(string(action), status).Inc()
	}
}

func (r *DBRecorder) insert(ctx context.Context, entry *Entry) error {
	changes := entry.Changes
	if changes == nil {
		changes = map[string]interface{}{}
	}
	changesJSON, err := json.Marshal(changes)
	if err != nil {
		return fmt.Errorf("failed to marshal changes: %w", err)
	}

	query := `
		INSERT INTO audit_log (user_id, organization_id, action, target_model, target_id, changes, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`

	now := time.Now()
	err = r.db.QueryRowContext(ctx, query,
		entry.UserID,
		entry.OrganizationID,
		entry.Action,
		entry.TargetModel,
		entry.TargetID,
		string(changesJSON),
		entry.IPAddress,
		entry.UserAgent,
		now,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}

	entry.CreatedAt = now
	return nil
}

// RecentForUser returns the newest entries recorded for a user
func (r *DBRecorder) RecentForUser(ctx context.Context, userID int64, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, user_id, organization_id, action, target_model, target_id, changes, ip_address, user_agent, created_at
		FROM audit_log
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// HistoryFor returns the newest entries recorded against a target inside
// one organization. Target ids are global, so the organization filter is
// what keeps one tenant's history view from exposing another tenant's
// actors and change payloads.
func (r *DBRecorder) HistoryFor(ctx context.Context, organizationID int64, targetModel, targetID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, user_id, organization_id, action, target_model, target_id, changes, ip_address, user_agent, created_at
		FROM audit_log
		WHERE organization_id = $1 AND target_model = $2 AND target_id = $3
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`

	rows, err := r.db.QueryContext(ctx, query, organizationID, targetModel, targetID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// RecentForOrganization returns the newest entries scoped to an organization
func (r *DBRecorder) RecentForOrganization(ctx context.Context, organizationID int64, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, user_id, organization_id, action, target_model, target_id, changes, ip_address, user_agent, created_at
		FROM audit_log
		WHERE organization_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, organizationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// PurgeOlderThan deletes entries past the retention window and returns the
// number removed. This is the only sanctioned delete path for the trail.
func (r *DBRecorder) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM audit_log WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit entries: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read purge result: %w", err)
	}
	return removed, nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var entry Entry
		var userID, orgID sql.NullInt64
		var targetID, ipAddress, userAgent sql.NullString
		var changesJSON string

		err := rows.Scan(
			&entry.ID,
			&userID,
			&orgID,
			&entry.Action,
			&entry.TargetModel,
			&targetID,
			&changesJSON,
			&ipAddress,
			&userAgent,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}

		if userID.Valid {
			id := userID.Int64
			entry.UserID = &id
		}
		if orgID.Valid {
			id := orgID.Int64
			entry.OrganizationID = &id
		}
		entry.TargetID = targetID.String
		entry.IPAddress = ipAddress.String
		entry.UserAgent = userAgent.String

		if changesJSON != "" {
			if err := json.Unmarshal([]byte(changesJSON), &entry.Changes); err != nil {
				entry.Changes = nil
			}
		}

		entries = append(entries, entry)
	}

	return entries, rows.Err()
}
