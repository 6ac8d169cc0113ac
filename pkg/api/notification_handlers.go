package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/keystone/pkg/httputil"
	"github.com/platinummonkey/keystone/pkg/middleware"
	"github.com/platinummonkey/keystone/pkg/notifications"
)

// NotificationHandlers serves the caller's own notification feed. Everything
// is keyed by the authenticated user; there is no cross-user access.
type NotificationHandlers struct {
	notifications *notifications.Service
	log           *logrus.Logger
}

// NewNotificationHandlers creates notification handlers
func NewNotificationHandlers(service *notifications.Service, log *logrus.Logger) *NotificationHandlers {
	return &NotificationHandlers{notifications: service, log: log}
}

// RegisterRoutes registers notification routes on the tenant subrouter
func (h *NotificationHandlers) RegisterRoutes(router *mux.Router, guards *middleware.Guards) {
	member := guards.RequireTenant()

	router.Handle("/notifications", member(http.HandlerFunc(h.list))).Methods("GET")
	router.Handle("/notifications/unread-count", member(http.HandlerFunc(h.unreadCount))).Methods("GET")
	router.Handle("/notifications/{id:[0-9]+}/read", member(http.HandlerFunc(h.markRead))).Methods("POST")
	router.Handle("/notifications/read-all", member(http.HandlerFunc(h.markAllRead))).Methods("POST")
}

func (h *NotificationHandlers) list(w http.ResponseWriter, r *http.Request) {
	auth := middleware.GetAuthContext(r)

	unreadOnly := r.URL.Query().Get("unread") == "true"
	listed, err := h.notifications.ListForUser(r.Context(), auth.User.ID, unreadOnly, httputil.QueryInt(r, "limit", 0))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"notifications": listed, "count": len(listed)})
}

func (h *NotificationHandlers) unreadCount(w http.ResponseWriter, r *http.Request) {
	auth := middleware.GetAuthContext(r)

	count, err := h.notifications.UnreadCount(r.Context(), auth.User.ID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"unread_count": count})
}

func (h *NotificationHandlers) markRead(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid notification id")
		return
	}

	auth := middleware.GetAuthContext(r)
	if err := h.notifications.MarkRead(r.Context(), id, auth.User.ID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"id": id, "is_read": true})
}

func (h *NotificationHandlers) markAllRead(w http.ResponseWriter, r *http.Request) {
	auth := middleware.GetAuthContext(r)

	updated, err := h.notifications.MarkAllRead(r.Context(), auth.User.ID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"marked_read": updated})
}
