package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/keystone/pkg/apierror"
	"github.com/platinummonkey/keystone/pkg/audit"
	"github.com/platinummonkey/keystone/pkg/httputil"
	"github.com/platinummonkey/keystone/pkg/middleware"
	"github.com/platinummonkey/keystone/pkg/users"
)

// AuthHandlers serves the authenticated principal's own view: profile,
// role facts and effective permissions.
type AuthHandlers struct {
	users *users.Service
	log   *logrus.Logger
}

// NewAuthHandlers creates auth handlers
func NewAuthHandlers(userService *users.Service, log *logrus.Logger) *AuthHandlers {
	return &AuthHandlers{users: userService, log: log}
}

// RegisterRoutes registers the self-service routes
func (h *AuthHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/auth/me", h.me).Methods("GET")
	router.HandleFunc("/api/auth/me", h.updateProfile).Methods("PATCH")
	router.HandleFunc("/api/auth/me/permissions", h.myPermissions).Methods("GET")
}

// requireAuth enforces the fixed denial order for self-service routes, which
// sit outside the guard-wrapped tenant tree.
func (h *AuthHandlers) requireAuth(w http.ResponseWriter, r *http.Request) *middleware.AuthContext {
	auth := middleware.GetAuthContext(r)
	if auth == nil || !auth.Authenticated() {
		httputil.WriteAPIError(w, apierror.AuthenticationRequired())
		return nil
	}
	return auth
}

func (h *AuthHandlers) me(w http.ResponseWriter, r *http.Request) {
	auth := h.requireAuth(w, r)
	if auth == nil {
		return
	}

	response := map[string]interface{}{
		"user":       auth.User,
		"profile":    auth.Profile,
		"role_facts": auth.RoleFacts,
	}
	httputil.WriteSuccess(w, response)
}

func (h *AuthHandlers) myPermissions(w http.ResponseWriter, r *http.Request) {
	auth := h.requireAuth(w, r)
	if auth == nil {
		return
	}

	permissions, err := h.users.GetUserPermissions(r.Context(), auth.User.ID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"permissions": permissions})
}

func (h *AuthHandlers) updateProfile(w http.ResponseWriter, r *http.Request) {
	auth := h.requireAuth(w, r)
	if auth == nil {
		return
	}
	if auth.Profile == nil {
		httputil.WriteAPIError(w, apierror.ProfileMissing())
		return
	}

	var update users.ProfileUpdate
	if !httputil.ParseJSONOrError(w, r, &update) {
		return
	}

	profile, err := h.users.UpdateProfile(r.Context(), auth.Profile.ID, update, &auth.User.ID, audit.MetaFromRequest(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, profile)
}
