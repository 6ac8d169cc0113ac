// Package audit records permission-relevant actions to an append-only trail.
// Recording is best-effort: a failed write is logged and swallowed so the
// primary operation never blocks on its audit entry.
package audit

import (
	"net/http"
	"time"

	"github.com/platinummonkey/keystone/pkg/httputil"
)

// Action is the kind of audited operation
type Action string

const (
	ActionCreate           Action = "create"
	ActionRead             Action = "read"
	ActionUpdate           Action = "update"
	ActionDelete           Action = "delete"
	ActionLogin            Action = "login"
	ActionLogout           Action = "logout"
	ActionPermissionChange Action = "permission_change"
	ActionRoleChange       Action = "role_change"
)

// Entry is a single append-only audit record. Actor is nullable so anonymous
// actions still get logged.
type Entry struct {
	ID             int64                  `json:"id"`
	UserID         *int64                 `json:"user_id,omitempty"`
	OrganizationID *int64                 `json:"organization_id,omitempty"`
	Action         Action                 `json:"action"`
	TargetModel    string                 `json:"target_model"`
	TargetID       string                 `json:"target_id,omitempty"`
	Changes        map[string]interface{} `json:"changes,omitempty"`
	IPAddress      string                 `json:"ip_address,omitempty"`
	UserAgent      string                 `json:"user_agent,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

// RequestMeta is the network metadata captured from an inbound request
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// MetaFromRequest extracts audit metadata from an HTTP request
func MetaFromRequest(r *http.Request) RequestMeta {
	if r == nil {
		return RequestMeta{}
	}
	return RequestMeta{
		IPAddress: httputil.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}

// WithMeta copies request metadata onto the entry
func (e *Entry) WithMeta(meta RequestMeta) *Entry {
	e.IPAddress = meta.IPAddress
	e.UserAgent = meta.UserAgent
	return e
}
