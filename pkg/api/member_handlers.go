package api

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/keystone/pkg/apierror"
	"github.com/platinummonkey/keystone/pkg/audit"
	"github.com/platinummonkey/keystone/pkg/authz"
	"github.com/platinummonkey/keystone/pkg/httputil"
	"github.com/platinummonkey/keystone/pkg/middleware"
	"github.com/platinummonkey/keystone/pkg/orgs"
	"github.com/platinummonkey/keystone/pkg/users"
)

// MemberHandlers serves the tenant's member roster and the privileged
// mutations on it: attaching profiles, changing roles, permission overrides.
type MemberHandlers struct {
	users      *users.Service
	orgs       *orgs.PostgresService
	authzStore *authz.Store
	log        *logrus.Logger
}

// NewMemberHandlers creates member handlers
func NewMemberHandlers(userService *users.Service, orgService *orgs.PostgresService, authzStore *authz.Store, log *logrus.Logger) *MemberHandlers {
	return &MemberHandlers{users: userService, orgs: orgService, authzStore: authzStore, log: log}
}

// RegisterRoutes registers member routes on the tenant subrouter
func (h *MemberHandlers) RegisterRoutes(router *mux.Router, guards *middleware.Guards) {
	router.Handle("/users", guards.RequirePermission("view_users")(http.HandlerFunc(h.list))).Methods("GET")
	router.Handle("/users", guards.RequireAdminOrAbove()(http.HandlerFunc(h.addMember))).Methods("POST")
	router.Handle("/users/{profileID:[0-9]+}/role", guards.RequirePermission("manage_roles")(http.HandlerFunc(h.assignRole))).Methods("POST")
	router.Handle("/users/{profileID:[0-9]+}/permissions", guards.RequireSuperadmin()(http.HandlerFunc(h.setPermissionOverride))).Methods("PUT")
	router.Handle("/member-limit", guards.RequireAdminOrAbove()(http.HandlerFunc(h.memberLimit))).Methods("GET")
}

func (h *MemberHandlers) list(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.GetTenant(r)
	members, err := h.orgs.ListMembers(r.Context(), tenant.ID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"members": members, "count": len(members)})
}

func (h *MemberHandlers) memberLimit(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.GetTenant(r)
	limit, err := h.orgs.GetMemberLimit(r.Context(), tenant.ID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, limit)
}

type addMemberRequest struct {
	ProfileID int64 `json:"profile_id"`
}

// addMember attaches an existing profile to the tenant. The seat limit is
// enforced by the user service; admins can only pull in plain users.
func (h *MemberHandlers) addMember(w http.ResponseWriter, r *http.Request) {
	var req addMemberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	auth := middleware.GetAuthContext(r)
	tenant := middleware.GetTenant(r)

	target, err := h.users.Store().GetProfile(r.Context(), req.ProfileID)
	if errors.Is(err, sql.ErrNoRows) {
		httputil.WriteAPIError(w, apierror.NotFound("Profile"))
		return
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if !authz.CanManageUsers(auth.Profile.Role, target.Role) {
		httputil.WriteAPIError(w, apierror.PermissionDenied("manage_users"))
		return
	}

	if err := h.users.AssignToOrganization(r.Context(), req.ProfileID, tenant.ID, &auth.User.ID, audit.MetaFromRequest(r)); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"profile_id": req.ProfileID, "organization_id": tenant.ID})
}

type assignRoleRequest struct {
	Role authz.Role `json:"role"`
}

func (h *MemberHandlers) assignRole(w http.ResponseWriter, r *http.Request) {
	profileID, err := httputil.ParsePathInt64(r, "profileID")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid profile id")
		return
	}

	var req assignRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	auth := middleware.GetAuthContext(r)
	// holding manage_roles is not enough: role reassignment is pinned to
	// superadmin regardless of permission grants
	if !authz.CanChangeRole(auth.Profile.Role) {
		httputil.WriteAPIError(w, apierror.RoleDenied(string(authz.RoleSuperadmin), string(auth.Profile.Role)))
		return
	}

	if err := h.users.AssignRole(r.Context(), profileID, req.Role, &auth.User.ID, audit.MetaFromRequest(r)); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"profile_id": profileID, "role": req.Role})
}

type permissionOverrideRequest struct {
	Permission string `json:"permission"`
	Granted    bool   `json:"granted"`
}

func (h *MemberHandlers) setPermissionOverride(w http.ResponseWriter, r *http.Request) {
	profileID, err := httputil.ParsePathInt64(r, "profileID")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid profile id")
		return
	}

	var req permissionOverrideRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Permission == "" {
		httputil.WriteBadRequest(w, "permission is required")
		return
	}

	auth := middleware.GetAuthContext(r)
	err = h.users.SetPermissionOverride(r.Context(), h.authzStore, profileID, req.Permission, req.Granted, &auth.User.ID, audit.MetaFromRequest(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"profile_id": profileID,
		"permission": req.Permission,
		"granted":    req.Granted,
	})
}
