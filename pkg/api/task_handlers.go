package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/keystone/pkg/audit"
	"github.com/platinummonkey/keystone/pkg/httputil"
	"github.com/platinummonkey/keystone/pkg/middleware"
	"github.com/platinummonkey/keystone/pkg/tasks"
)

// TaskHandlers serves the tenant's tasks. Reads are open to any member of the
// tenant; creation needs the create_tasks permission and edits fall under the
// owner-or-admin rule inside the service.
type TaskHandlers struct {
	tasks *tasks.Service
	log   *logrus.Logger
}

// NewTaskHandlers creates task handlers
func NewTaskHandlers(taskService *tasks.Service, log *logrus.Logger) *TaskHandlers {
	return &TaskHandlers{tasks: taskService, log: log}
}

// RegisterRoutes registers task routes on the tenant subrouter
func (h *TaskHandlers) RegisterRoutes(router *mux.Router, guards *middleware.Guards) {
	member := guards.RequireTenant()

	router.Handle("/tasks", guards.RequirePermission("create_tasks")(http.HandlerFunc(h.create))).Methods("POST")
	router.Handle("/tasks", member(http.HandlerFunc(h.list))).Methods("GET")
	router.Handle("/tasks/{id:[0-9]+}", member(http.HandlerFunc(h.get))).Methods("GET")
	router.Handle("/tasks/{id:[0-9]+}", member(http.HandlerFunc(h.update))).Methods("PATCH")
	router.Handle("/tasks/{id:[0-9]+}", member(http.HandlerFunc(h.delete))).Methods("DELETE")
}

func (h *TaskHandlers) create(w http.ResponseWriter, r *http.Request) {
	var req tasks.CreateTaskRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	auth := middleware.GetAuthContext(r)
	tenant := middleware.GetTenant(r)
	task, err := h.tasks.Create(r.Context(), auth.Profile, tenant.ID, req, audit.MetaFromRequest(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteCreated(w, task)
}

func (h *TaskHandlers) list(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.GetTenant(r)

	filter := tasks.ListTasksFilter{
		Status: tasks.Status(r.URL.Query().Get("status")),
		Limit:  httputil.QueryInt(r, "limit", 0),
	}
	if r.URL.Query().Get("mine") == "true" {
		auth := middleware.GetAuthContext(r)
		filter.OwnerID = &auth.User.ID
	}

	listed, err := h.tasks.List(r.Context(), tenant.ID, filter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"tasks": listed, "count": len(listed)})
}

func (h *TaskHandlers) get(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid task id")
		return
	}

	tenant := middleware.GetTenant(r)
	task, err := h.tasks.Get(r.Context(), tenant.ID, id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, task)
}

func (h *TaskHandlers) update(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid task id")
		return
	}

	var req tasks.UpdateTaskRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	auth := middleware.GetAuthContext(r)
	tenant := middleware.GetTenant(r)
	task, err := h.tasks.Update(r.Context(), auth.Profile, tenant.ID, id, req, audit.MetaFromRequest(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, task)
}

func (h *TaskHandlers) delete(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid task id")
		return
	}

	auth := middleware.GetAuthContext(r)
	tenant := middleware.GetTenant(r)
	if err := h.tasks.Delete(r.Context(), auth.Profile, tenant.ID, id, audit.MetaFromRequest(r)); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}
