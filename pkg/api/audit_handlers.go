package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/keystone/pkg/audit"
	"github.com/platinummonkey/keystone/pkg/httputil"
	"github.com/platinummonkey/keystone/pkg/middleware"
	"github.com/platinummonkey/keystone/pkg/tenancy"
)

// AuditHandlers exposes the tenant's slice of the audit trail to holders of
// view_audit_logs. Results pass through a tenancy scope on top of the
// org-keyed queries; the scope is the contract, the SQL filter the
// optimization.
type AuditHandlers struct {
	recorder *audit.DBRecorder
	scope    *tenancy.Scope[audit.Entry]
	log      *logrus.Logger
}

// NewAuditHandlers creates audit handlers
func NewAuditHandlers(recorder *audit.DBRecorder, log *logrus.Logger) *AuditHandlers {
	return &AuditHandlers{
		recorder: recorder,
		scope:    tenancy.NewScope(func(e audit.Entry) *int64 { return e.OrganizationID }),
		log:      log,
	}
}

// RegisterRoutes registers audit routes on the tenant subrouter
func (h *AuditHandlers) RegisterRoutes(router *mux.Router, guards *middleware.Guards) {
	viewer := guards.RequirePermission("view_audit_logs")

	router.Handle("/audit", viewer(http.HandlerFunc(h.list))).Methods("GET")
	router.Handle("/audit/{model}/{targetID}", viewer(http.HandlerFunc(h.history))).Methods("GET")
}

func (h *AuditHandlers) list(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.GetTenant(r)

	entries, err := h.recorder.RecentForOrganization(r.Context(), tenant.ID, httputil.QueryInt(r, "limit", 50))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	entries = h.scope.ForTenant(&tenant.ID, entries)
	httputil.WriteSuccess(w, map[string]interface{}{"entries": entries, "count": len(entries)})
}

func (h *AuditHandlers) history(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.GetTenant(r)
	model := httputil.PathVar(r, "model")
	targetID := httputil.PathVar(r, "targetID")

	entries, err := h.recorder.HistoryFor(r.Context(), tenant.ID, model, targetID, httputil.QueryInt(r, "limit", 50))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	entries = h.scope.ForTenant(&tenant.ID, entries)
	httputil.WriteSuccess(w, map[string]interface{}{"entries": entries, "count": len(entries)})
}
