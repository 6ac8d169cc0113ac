package files

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Store persists file metadata
type Store struct {
	db *sql.DB
}

// NewStore creates a file metadata store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const fileColumns = `id, user_id, organization_id, filename, original_filename, size_bytes, mime_type, storage_key, bucket, category, metadata, created_at, updated_at`

// Create inserts a metadata record and fills its ID and timestamps
func (s *Store) Create(ctx context.Context, f *StoredFile) error {
	metadataJSON, err := json.Marshal(orEmpty(f.Metadata))
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO files (user_id, organization_id, filename, original_filename, size_bytes, mime_type, storage_key, bucket, category, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at
	`
	err = s.db.QueryRowContext(ctx, query,
		f.UserID, f.OrganizationID, f.Filename, f.OriginalFilename, f.Size,
		f.MimeType, f.StorageKey, f.Bucket, f.Category, metadataJSON,
	).Scan(&f.ID, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create file record: %w", err)
	}
	return nil
}

// Get returns a file by id. Returns sql.ErrNoRows when absent.
func (s *Store) Get(ctx context.Context, id int64) (*StoredFile, error) {
	query := fmt.Sprintf(`SELECT %s FROM files WHERE id = $1`, fileColumns)
	return scanFile(s.db.QueryRowContext(ctx, query, id))
}

// ListForOrganization returns an organization's files, newest first
func (s *Store) ListForOrganization(ctx context.Context, organizationID int64, limit int) ([]*StoredFile, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`
		SELECT %s FROM files
		WHERE organization_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, fileColumns)
	rows, err := s.db.QueryContext(ctx, query, organizationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()

	var out []*StoredFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// ListForUser returns a user's own files, newest first
func (s *Store) ListForUser(ctx context.Context, userID int64, limit int) ([]*StoredFile, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`
		SELECT %s FROM files
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, fileColumns)
	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()

	var out []*StoredFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Delete removes a metadata record. Returns sql.ErrNoRows when absent.
func (s *Store) Delete(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete file record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner) (*StoredFile, error) {
	f := &StoredFile{}
	var orgID sql.NullInt64
	var mimeType sql.NullString
	var metadataJSON []byte
	err := row.Scan(
		&f.ID, &f.UserID, &orgID, &f.Filename, &f.OriginalFilename, &f.Size,
		&mimeType, &f.StorageKey, &f.Bucket, &f.Category, &metadataJSON,
		&f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if orgID.Valid {
		f.OrganizationID = &orgID.Int64
	}
	if mimeType.Valid {
		f.MimeType = mimeType.String
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &f.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return f, nil
}

func orEmpty(metadata map[string]any) map[string]any {
	if metadata == nil {
		return map[string]any{}
	}
	return metadata
}
