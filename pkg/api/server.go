package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/keystone/pkg/audit"
	"github.com/platinummonkey/keystone/pkg/authn"
	"github.com/platinummonkey/keystone/pkg/authz"
	"github.com/platinummonkey/keystone/pkg/files"
	"github.com/platinummonkey/keystone/pkg/httputil"
	"github.com/platinummonkey/keystone/pkg/middleware"
	"github.com/platinummonkey/keystone/pkg/notifications"
	"github.com/platinummonkey/keystone/pkg/observability"
	"github.com/platinummonkey/keystone/pkg/orgs"
	"github.com/platinummonkey/keystone/pkg/tasks"
	"github.com/platinummonkey/keystone/pkg/users"
)

// Dependencies carries everything the server needs. RateLimiter, Metrics and
// Health may be nil; the corresponding layer is simply skipped.
type Dependencies struct {
	Users         *users.Service
	Orgs          *orgs.PostgresService
	Tasks         *tasks.Service
	Files         *files.Service
	Notifications *notifications.Service
	Audit         *audit.DBRecorder
	AuthzStore    *authz.Store
	Resolver      *authz.Resolver
	Verifier      authn.Verifier
	Metrics       *observability.Metrics
	RateLimiter   *middleware.OrgRateLimiter
	Health        *observability.HealthChecker
	CORSOrigins   []string
	Log           *logrus.Logger
}

// Server represents the API server
type Server struct {
	router *mux.Router
	deps   Dependencies
	guards *middleware.Guards
	log    *logrus.Logger
}

// NewServer creates the API server and registers all routes
func NewServer(deps Dependencies) *Server {
	s := &Server{
		router: mux.NewRouter(),
		deps:   deps,
		guards: middleware.NewGuards(deps.Resolver, deps.Metrics, deps.Log),
		log:    deps.Log,
	}
	s.setupRoutes()
	return s
}

// Router exposes the raw router, mainly for tests that bypass the pipeline
func (s *Server) Router() *mux.Router {
	return s.router
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/health/", s.healthCheck).Methods("GET")
	s.router.HandleFunc("/api/health", s.healthCheck).Methods("GET")

	authHandlers := NewAuthHandlers(s.deps.Users, s.log)
	authHandlers.RegisterRoutes(s.router)

	orgHandlers := NewOrgHandlers(s.deps.Orgs, s.log)
	orgHandlers.RegisterRoutes(s.router, s.guards)

	// Tenant-scoped resources. The slug is consumed by tenant detection; the
	// subrouter only anchors the paths.
	tenant := s.router.PathPrefix("/api/org/{org_slug}").Subrouter()

	memberHandlers := NewMemberHandlers(s.deps.Users, s.deps.Orgs, s.deps.AuthzStore, s.log)
	memberHandlers.RegisterRoutes(tenant, s.guards)

	taskHandlers := NewTaskHandlers(s.deps.Tasks, s.log)
	taskHandlers.RegisterRoutes(tenant, s.guards)

	fileHandlers := NewFileHandlers(s.deps.Files, s.log)
	fileHandlers.RegisterRoutes(tenant, s.guards)

	notificationHandlers := NewNotificationHandlers(s.deps.Notifications, s.log)
	notificationHandlers.RegisterRoutes(tenant, s.guards)

	auditHandlers := NewAuditHandlers(s.deps.Audit, s.log)
	auditHandlers.RegisterRoutes(tenant, s.guards)
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		s.deps.Health.Liveness(w, r)
		return
	}
	httputil.WriteSuccess(w, map[string]string{"status": "ok"})
}

// Handler assembles the middleware pipeline around the router. Order matters:
// identity and role context come before tenant detection so the isolation
// layer can see both sides, and the rate limiter runs last so rejected
// requests are still fully attributed.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.router

	if s.deps.RateLimiter != nil {
		h = s.deps.RateLimiter.Handler(h)
	}
	h = middleware.TenantIsolation(s.deps.Metrics)(h)
	h = middleware.TenantRequired(middleware.DefaultTenantRequiredPrefixes, nil, s.deps.Metrics)(h)

	tenantDetection := middleware.NewTenantDetection(s.deps.Orgs, nil, s.log)
	h = tenantDetection.Handler(h)

	h = middleware.RoleContextMiddleware(s.deps.Users.Store(), s.log)(h)

	identity := middleware.NewIdentityMiddleware(s.deps.Verifier, s.deps.Users, true, s.log)
	h = identity.Handler(h)

	if s.deps.Metrics != nil {
		h = observability.HTTPMetricsMiddleware(s.deps.Metrics)(h)
	}
	h = httputil.LoggingMiddleware(s.log)(h)
	h = httputil.RequestIDMiddleware(h)
	if len(s.deps.CORSOrigins) > 0 {
		h = httputil.CORSMiddleware(s.deps.CORSOrigins)(h)
	}
	h = httputil.RecoveryMiddleware(s.log)(h)

	return otelhttp.NewHandler(h, "keystone.api")
}
