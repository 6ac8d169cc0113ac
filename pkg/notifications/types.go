// Package notifications delivers per-user notifications with best-effort
// real-time fan-out over Redis pub/sub.
package notifications

import "time"

// Kind classifies a notification for client rendering
type Kind string

const (
	KindInfo    Kind = "info"
	KindSuccess Kind = "success"
	KindWarning Kind = "warning"
	KindError   Kind = "error"
	KindTask    Kind = "task"
	KindUser    Kind = "user"
	KindSystem  Kind = "system"
)

// Valid reports whether the kind is a known value
func (k Kind) Valid() bool {
	switch k {
	case KindInfo, KindSuccess, KindWarning, KindError, KindTask, KindUser, KindSystem:
		return true
	}
	return false
}

// Notification is a message addressed to a single user. RelatedModel and
// RelatedID optionally link it to the record that caused it.
type Notification struct {
	ID             int64          `json:"id"`
	UserID         int64          `json:"user_id"`
	OrganizationID *int64         `json:"organization_id,omitempty"`
	Title          string         `json:"title"`
	Message        string         `json:"message"`
	Kind           Kind           `json:"kind"`
	IsRead         bool           `json:"is_read"`
	ReadAt         *time.Time     `json:"read_at,omitempty"`
	RelatedModel   string         `json:"related_model,omitempty"`
	RelatedID      string         `json:"related_id,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}
