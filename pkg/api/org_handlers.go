package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/keystone/pkg/apierror"
	"github.com/platinummonkey/keystone/pkg/audit"
	"github.com/platinummonkey/keystone/pkg/httputil"
	"github.com/platinummonkey/keystone/pkg/middleware"
	"github.com/platinummonkey/keystone/pkg/orgs"
)

// OrgHandlers serves organization administration. Every route is gated on
// superadmin: organizations are the tenant boundary itself, so no tenant role
// reaches across it.
type OrgHandlers struct {
	orgs *orgs.PostgresService
	log  *logrus.Logger
}

// NewOrgHandlers creates organization handlers
func NewOrgHandlers(orgService *orgs.PostgresService, log *logrus.Logger) *OrgHandlers {
	return &OrgHandlers{orgs: orgService, log: log}
}

// RegisterRoutes registers the organization administration routes
func (h *OrgHandlers) RegisterRoutes(router *mux.Router, guards *middleware.Guards) {
	superadmin := guards.RequireSuperadmin()

	router.Handle("/api/organizations", superadmin(http.HandlerFunc(h.create))).Methods("POST")
	router.Handle("/api/organizations", superadmin(http.HandlerFunc(h.list))).Methods("GET")
	router.Handle("/api/organizations/{id:[0-9]+}", superadmin(http.HandlerFunc(h.get))).Methods("GET")
	router.Handle("/api/organizations/{id:[0-9]+}", superadmin(http.HandlerFunc(h.update))).Methods("PATCH")
	router.Handle("/api/organizations/{id:[0-9]+}", superadmin(http.HandlerFunc(h.deactivate))).Methods("DELETE")
	router.Handle("/api/organizations/{id:[0-9]+}/members", superadmin(http.HandlerFunc(h.listMembers))).Methods("GET")
	router.Handle("/api/organizations/{id:[0-9]+}/member-limit", superadmin(http.HandlerFunc(h.memberLimit))).Methods("GET")
}

type createOrgRequest struct {
	Name             string                 `json:"name"`
	Slug             string                 `json:"slug"`
	SubscriptionTier orgs.SubscriptionTier  `json:"subscription_tier"`
	MaxUsers         int                    `json:"max_users"`
	Settings         map[string]interface{} `json:"settings"`
}

func (h *OrgHandlers) create(w http.ResponseWriter, r *http.Request) {
	var req createOrgRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	auth := middleware.GetAuthContext(r)
	org := &orgs.Organization{
		Name:             req.Name,
		Slug:             req.Slug,
		SubscriptionTier: req.SubscriptionTier,
		MaxUsers:         req.MaxUsers,
		Settings:         req.Settings,
	}
	if err := h.orgs.CreateOrganization(r.Context(), org, &auth.User.ID, audit.MetaFromRequest(r)); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteCreated(w, org)
}

func (h *OrgHandlers) list(w http.ResponseWriter, r *http.Request) {
	listed, err := h.orgs.ListOrganizations(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"organizations": listed, "count": len(listed)})
}

func (h *OrgHandlers) get(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid organization id")
		return
	}

	org, err := h.orgs.GetOrganization(r.Context(), id)
	if errors.Is(err, orgs.ErrNotFound) {
		httputil.WriteAPIError(w, apierror.NotFound("Organization"))
		return
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, org)
}

func (h *OrgHandlers) update(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid organization id")
		return
	}

	var req orgs.UpdateOrgRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	auth := middleware.GetAuthContext(r)
	org, err := h.orgs.UpdateOrganization(r.Context(), id, &req, &auth.User.ID, audit.MetaFromRequest(r))
	if errors.Is(err, orgs.ErrNotFound) {
		httputil.WriteAPIError(w, apierror.NotFound("Organization"))
		return
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, org)
}

func (h *OrgHandlers) deactivate(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid organization id")
		return
	}

	auth := middleware.GetAuthContext(r)
	err = h.orgs.DeactivateOrganization(r.Context(), id, &auth.User.ID, audit.MetaFromRequest(r))
	if errors.Is(err, orgs.ErrNotFound) {
		httputil.WriteAPIError(w, apierror.NotFound("Organization"))
		return
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *OrgHandlers) listMembers(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid organization id")
		return
	}

	members, err := h.orgs.ListMembers(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"members": members, "count": len(members)})
}

func (h *OrgHandlers) memberLimit(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid organization id")
		return
	}

	limit, err := h.orgs.GetMemberLimit(r.Context(), id)
	if errors.Is(err, orgs.ErrNotFound) {
		httputil.WriteAPIError(w, apierror.NotFound("Organization"))
		return
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, limit)
}
