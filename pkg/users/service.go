package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/keystone/pkg/apierror"
	"github.com/platinummonkey/keystone/pkg/audit"
	"github.com/platinummonkey/keystone/pkg/authz"
)

// MemberLimiter checks whether an organization can accept another member.
// Implemented by the orgs service, injected to keep the dependency one-way.
type MemberLimiter interface {
	CheckMemberLimit(ctx context.Context, organizationID int64) error
}

// Service implements user and profile operations on top of the store,
// invalidating the permission resolver and recording audit entries where
// authorization state changes.
type Service struct {
	store    *Store
	resolver *authz.Resolver
	recorder audit.Recorder
	limiter  MemberLimiter
	log      *logrus.Logger
}

// NewService creates a user service
func NewService(store *Store, resolver *authz.Resolver, recorder audit.Recorder, limiter MemberLimiter, log *logrus.Logger) *Service {
	return &Service{
		store:    store,
		resolver: resolver,
		recorder: recorder,
		limiter:  limiter,
		log:      log,
	}
}

// CreateUserWithProfile creates a user and its profile in one step
func (s *Service) CreateUserWithProfile(ctx context.Context, user *User, role authz.Role, actorUserID *int64, meta audit.RequestMeta) (*Profile, error) {
	if role == "" {
		role = authz.RoleUser
	}
	if !role.Valid() {
		return nil, apierror.Invalid(fmt.Sprintf("unknown role: %s", role))
	}

	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, apierror.ServiceFailure(err)
	}

	profile, _, err := s.store.GetOrCreateProfile(ctx, user.ID)
	if err != nil {
		return nil, apierror.ServiceFailure(err)
	}

	if role != authz.RoleUser {
		if err := s.store.SetRole(ctx, profile.ID, role); err != nil {
			return nil, apierror.ServiceFailure(err)
		}
		profile.Role = role
	}

	s.recorder.Record(ctx, (&audit.Entry{
		UserID:      actorUserID,
		Action:      audit.ActionCreate,
		TargetModel: "user",
		TargetID:    strconv.FormatInt(user.ID, 10),
		Changes:     map[string]interface{}{"username": user.Username, "role": string(role)},
	}).WithMeta(meta))

	return profile, nil
}

// ResolvePrincipal loads the user and profile for a verified external
// subject, creating the user row on first login.
func (s *Service) ResolvePrincipal(ctx context.Context, subject, username, email string) (*User, error) {
	user, err := s.store.GetOrCreateUser(ctx, subject, username, email)
	if err != nil {
		return nil, apierror.ServiceFailure(err)
	}
	return user, nil
}

// UpdateProfile applies a partial profile update
func (s *Service) UpdateProfile(ctx context.Context, profileID int64, update ProfileUpdate, actorUserID *int64, meta audit.RequestMeta) (*Profile, error) {
	if err := s.store.UpdateProfile(ctx, profileID, update); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NotFound("profile")
		}
		return nil, apierror.ServiceFailure(err)
	}

	profile, err := s.store.GetProfile(ctx, profileID)
	if err != nil {
		return nil, apierror.ServiceFailure(err)
	}

	s.recorder.Record(ctx, (&audit.Entry{
		UserID:      actorUserID,
		Action:      audit.ActionUpdate,
		TargetModel: "profile",
		TargetID:    strconv.FormatInt(profileID, 10),
	}).WithMeta(meta))

	return profile, nil
}

// AssignRole changes a profile's role. The HTTP layer gates this behind
// CanChangeRole; the service re-checks nothing but records the change and
// drops any cached decisions for the profile.
func (s *Service) AssignRole(ctx context.Context, profileID int64, role authz.Role, actorUserID *int64, meta audit.RequestMeta) error {
	if !role.Valid() {
		return apierror.Invalid(fmt.Sprintf("unknown role: %s", role))
	}

	previous, err := s.store.GetProfile(ctx, profileID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apierror.NotFound("profile")
		}
		return apierror.ServiceFailure(err)
	}

	if err := s.store.SetRole(ctx, profileID, role); err != nil {
		return apierror.ServiceFailure(err)
	}

	s.resolver.Invalidate(profileID)

	s.recorder.Record(ctx, (&audit.Entry{
		UserID:      actorUserID,
		Action:      audit.ActionRoleChange,
		TargetModel: "profile",
		TargetID:    strconv.FormatInt(profileID, 10),
		Changes: map[string]interface{}{
			"from": string(previous.Role),
			"to":   string(role),
		},
	}).WithMeta(meta))

	return nil
}

// AssignToOrganization attaches a profile to an organization, enforcing the
// member limit.
func (s *Service) AssignToOrganization(ctx context.Context, profileID, organizationID int64, actorUserID *int64, meta audit.RequestMeta) error {
	if s.limiter != nil {
		if err := s.limiter.CheckMemberLimit(ctx, organizationID); err != nil {
			return err
		}
	}

	if err := s.store.SetOrganization(ctx, profileID, &organizationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apierror.NotFound("profile")
		}
		return apierror.ServiceFailure(err)
	}

	s.recorder.Record(ctx, (&audit.Entry{
		UserID:         actorUserID,
		OrganizationID: &organizationID,
		Action:         audit.ActionUpdate,
		TargetModel:    "profile",
		TargetID:       strconv.FormatInt(profileID, 10),
		Changes:        map[string]interface{}{"organization_id": organizationID},
	}).WithMeta(meta))

	return nil
}

// SetPermissionOverride grants or clears a per-profile permission override
// and invalidates cached decisions.
func (s *Service) SetPermissionOverride(ctx context.Context, authzStore *authz.Store, profileID int64, permission string, granted bool, actorUserID *int64, meta audit.RequestMeta) error {
	perm, err := authzStore.GetPermissionByName(ctx, permission)
	if err != nil {
		return apierror.NotFound("permission")
	}

	override := &authz.UserPermission{
		ProfileID:    profileID,
		PermissionID: perm.ID,
		Granted:      granted,
		GrantedBy:    actorUserID,
	}
	if err := authzStore.SetOverride(ctx, override); err != nil {
		return apierror.ServiceFailure(err)
	}

	s.resolver.Invalidate(profileID)

	s.recorder.Record(ctx, (&audit.Entry{
		UserID:      actorUserID,
		Action:      audit.ActionPermissionChange,
		TargetModel: "profile",
		TargetID:    strconv.FormatInt(profileID, 10),
		Changes: map[string]interface{}{
			"permission": permission,
			"granted":    granted,
		},
	}).WithMeta(meta))

	return nil
}

// GetUserPermissions returns the effective permission set for a user
func (s *Service) GetUserPermissions(ctx context.Context, userID int64) ([]string, error) {
	profile, err := s.store.GetProfileByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.ProfileMissing()
		}
		return nil, apierror.ServiceFailure(err)
	}

	names, err := s.resolver.EffectivePermissions(ctx, profile.Principal())
	if err != nil {
		return nil, apierror.ServiceFailure(err)
	}
	return names, nil
}

// Store exposes the underlying store for handlers that only read
func (s *Service) Store() *Store {
	return s.store
}
