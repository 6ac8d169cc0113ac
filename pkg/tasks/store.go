package tasks

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Store persists tasks. All listing queries are keyed by organization so a
// tenant can never enumerate another tenant's rows.
type Store struct {
	db *sql.DB
}

// NewStore creates a task store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const taskColumns = `id, organization_id, owner_id, title, description, status, priority, due_date, created_at, updated_at`

// Create inserts a task and fills its ID and timestamps
func (s *Store) Create(ctx context.Context, task *Task) error {
	query := fmt.Sprintf(`
		INSERT INTO tasks (organization_id, owner_id, title, description, status, priority, due_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING %s
	`, taskColumns)
	created, err := scanTask(s.db.QueryRowContext(ctx, query,
		task.OrganizationID, task.OwnerID, task.Title, task.Description,
		task.Status, task.Priority, task.DueDate))
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	*task = *created
	return nil
}

// Get returns a task by ID within one organization
func (s *Store) Get(ctx context.Context, organizationID, id int64) (*Task, error) {
	query := fmt.Sprintf(`SELECT %s FROM tasks WHERE id = $1 AND organization_id = $2`, taskColumns)
	return scanTask(s.db.QueryRowContext(ctx, query, id, organizationID))
}

// List returns an organization's tasks, newest first
func (s *Store) List(ctx context.Context, organizationID int64, filter ListTasksFilter) ([]*Task, error) {
	conditions := []string{"organization_id = $1"}
	args := []any{organizationID}
	argPos := 2

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argPos))
		args = append(args, filter.Status)
		argPos++
	}
	if filter.OwnerID != nil {
		conditions = append(conditions, fmt.Sprintf("owner_id = $%d", argPos))
		args = append(args, *filter.OwnerID)
		argPos++
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT %s FROM tasks
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d
	`, taskColumns, strings.Join(conditions, " AND "), argPos)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

// Update applies a partial update and returns the fresh row
func (s *Store) Update(ctx context.Context, organizationID, id int64, req UpdateTaskRequest) (*Task, error) {
	sets := []string{}
	args := []any{}
	argPos := 1

	if req.Title != nil {
		sets = append(sets, fmt.Sprintf("title = $%d", argPos))
		args = append(args, *req.Title)
		argPos++
	}
	if req.Description != nil {
		sets = append(sets, fmt.Sprintf("description = $%d", argPos))
		args = append(args, *req.Description)
		argPos++
	}
	if req.Status != nil {
		sets = append(sets, fmt.Sprintf("status = $%d", argPos))
		args = append(args, *req.Status)
		argPos++
	}
	if req.Priority != nil {
		sets = append(sets, fmt.Sprintf("priority = $%d", argPos))
		args = append(args, *req.Priority)
		argPos++
	}
	if req.DueDate != nil {
		sets = append(sets, fmt.Sprintf("due_date = $%d", argPos))
		args = append(args, *req.DueDate)
		argPos++
	}
	if len(sets) == 0 {
		return s.Get(ctx, organizationID, id)
	}

	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id, organizationID)

	query := fmt.Sprintf(`
		UPDATE tasks SET %s
		WHERE id = $%d AND organization_id = $%d
		RETURNING %s
	`, strings.Join(sets, ", "), argPos, argPos+1, taskColumns)

	task, err := scanTask(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, err
	}
	return task, nil
}

// Delete removes a task within one organization
func (s *Store) Delete(ctx context.Context, organizationID, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1 AND organization_id = $2`, id, organizationID)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check deleted rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	task := &Task{}
	var description sql.NullString
	var dueDate sql.NullTime
	err := row.Scan(
		&task.ID, &task.OrganizationID, &task.OwnerID, &task.Title,
		&description, &task.Status, &task.Priority, &dueDate,
		&task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	task.Description = description.String
	if dueDate.Valid {
		task.DueDate = &dueDate.Time
	}
	return task, nil
}
