package orgs

import (
	"errors"
	"time"

	"github.com/platinummonkey/keystone/pkg/authz"
)

// ErrNotFound is returned when no organization matches the given id or slug.
var ErrNotFound = errors.New("organization not found")

// SubscriptionStatus represents the billing state of an organization
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionTrial     SubscriptionStatus = "trial"
	SubscriptionPastDue   SubscriptionStatus = "past_due"
	SubscriptionSuspended SubscriptionStatus = "suspended"
	SubscriptionCanceled  SubscriptionStatus = "canceled"
)

// SubscriptionTier represents the plan an organization is on
type SubscriptionTier string

const (
	TierBasic      SubscriptionTier = "basic"
	TierPremium    SubscriptionTier = "premium"
	TierEnterprise SubscriptionTier = "enterprise"
)

// DefaultMaxUsers returns the member ceiling applied when an organization is
// created without an explicit max_users value.
func (t SubscriptionTier) DefaultMaxUsers() int {
	switch t {
	case TierPremium:
		return 50
	case TierEnterprise:
		return 500
	default:
		return 10
	}
}

// Organization is a tenant. The slug is the URL identifier and is immutable
// after creation.
type Organization struct {
	ID                 int64              `json:"id"`
	Name               string             `json:"name"`
	Slug               string             `json:"slug"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status"`
	SubscriptionTier   SubscriptionTier   `json:"subscription_tier"`
	MaxUsers           int                `json:"max_users"`
	Settings           map[string]any     `json:"settings,omitempty"`
	IsActive           bool               `json:"is_active"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// Member is a user's membership in an organization, joined with the
// identity fields handlers render.
type Member struct {
	ProfileID int64      `json:"profile_id"`
	UserID    int64      `json:"user_id"`
	Username  string     `json:"username"`
	Email     string     `json:"email"`
	FullName  string     `json:"full_name,omitempty"`
	Role      authz.Role `json:"role"`
	JoinedAt  time.Time  `json:"joined_at"`
}

// MemberLimit reports an organization's seat usage against its max_users cap.
type MemberLimit struct {
	CurrentCount   int  `json:"current_count"`
	MaxUsers       int  `json:"max_users"`
	CanAddMore     bool `json:"can_add_more"`
	AvailableSlots int  `json:"available_slots"`
}

// UpdateOrgRequest carries a partial organization update. Nil fields are
// left untouched; Settings keys are merged into the existing settings map.
type UpdateOrgRequest struct {
	Name               *string             `json:"name,omitempty"`
	SubscriptionStatus *SubscriptionStatus `json:"subscription_status,omitempty"`
	SubscriptionTier   *SubscriptionTier   `json:"subscription_tier,omitempty"`
	MaxUsers           *int                `json:"max_users,omitempty"`
	Settings           map[string]any      `json:"settings,omitempty"`
}
