package users

import (
	"time"

	"github.com/platinummonkey/keystone/pkg/authz"
)

// User is the external identity half of a principal
type User struct {
	ID              int64     `json:"id"`
	ExternalSubject string    `json:"-"`
	Username        string    `json:"username"`
	Email           string    `json:"email"`
	FullName        string    `json:"full_name,omitempty"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Profile carries the authorization-relevant half: role and owning
// organization. Every authenticated identity has exactly one; a missing row
// is lazily created with role=user by the role-context middleware.
type Profile struct {
	ID             int64      `json:"id"`
	UserID         int64      `json:"user_id"`
	OrganizationID *int64     `json:"organization_id,omitempty"`
	Role           authz.Role `json:"role"`
	Bio            string     `json:"bio,omitempty"`
	AvatarURL      string     `json:"avatar_url,omitempty"`
	Phone          string     `json:"phone,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Principal converts the profile into the subject shape the resolver takes
func (p *Profile) Principal() authz.Principal {
	return authz.Principal{ProfileID: p.ID, Role: p.Role}
}

// ProfileUpdate carries the mutable profile attributes. Nil fields are left
// untouched.
type ProfileUpdate struct {
	Bio       *string `json:"bio,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty"`
	Phone     *string `json:"phone,omitempty"`
}
