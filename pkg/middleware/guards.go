package middleware

import (
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/keystone/pkg/apierror"
	"github.com/platinummonkey/keystone/pkg/authz"
	"github.com/platinummonkey/keystone/pkg/httputil"
	"github.com/platinummonkey/keystone/pkg/observability"
)

// Guards builds the per-route authorization middlewares. Every guard runs
// the same fixed check order: authenticated, profile present, then the
// guard-specific predicate. Guards never auto-heal a missing profile.
type Guards struct {
	resolver *authz.Resolver
	metrics  *observability.Metrics
	log      *logrus.Logger
}

// NewGuards creates the guard factory. Metrics may be nil in tests.
func NewGuards(resolver *authz.Resolver, metrics *observability.Metrics, log *logrus.Logger) *Guards {
	return &Guards{resolver: resolver, metrics: metrics, log: log}
}

// precheck runs the shared authenticated + profile-present checks. It
// returns the auth context when the request may proceed to the predicate.
func (g *Guards) precheck(w http.ResponseWriter, r *http.Request) (*AuthContext, bool) {
	authCtx := GetAuthContext(r)
	if !authCtx.Authenticated() {
		httputil.WriteAPIError(w, apierror.AuthenticationRequired())
		return nil, false
	}
	if authCtx.Profile == nil {
		httputil.WriteAPIError(w, apierror.ProfileMissing())
		return nil, false
	}
	return authCtx, true
}

// RequirePermission gates a route on a fine-grained permission name
func (g *Guards) RequirePermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx, ok := g.precheck(w, r)
			if !ok {
				return
			}

			allowed, err := g.resolver.HasPermission(r.Context(), authCtx.Principal(), permission)
			if err != nil {
				g.log.WithError(err).WithField("permission", permission).
					Error("permission resolution failed, denying")
				g.countPermissionCheck(permission, "error")
				httputil.WriteAPIError(w, apierror.ServiceFailure(err))
				return
			}
			if !allowed {
				g.countPermissionCheck(permission, "denied")
				httputil.WriteAPIError(w, apierror.PermissionDenied(permission))
				return
			}

			g.countPermissionCheck(permission, "allowed")
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole gates a route on membership in an explicit role set.
// Superadmins pass regardless of the listed roles.
func (g *Guards) RequireRole(roles ...authz.Role) func(http.Handler) http.Handler {
	names := make([]string, len(roles))
	for i, role := range roles {
		names[i] = string(role)
	}
	required := strings.Join(names, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx, ok := g.precheck(w, r)
			if !ok {
				return
			}

			facts := authCtx.RoleFacts
			allowed := facts.IsSuperadmin
			for _, role := range roles {
				if facts.HasRole && facts.Role == role {
					allowed = true
					break
				}
			}
			if !allowed {
				g.countRoleCheck(required, "denied")
				httputil.WriteAPIError(w, apierror.RoleDenied(required, string(facts.Role)))
				return
			}

			g.countRoleCheck(required, "allowed")
			next.ServeHTTP(w, r)
		})
	}
}

// RequireSuperadmin gates a route to superadmins only
func (g *Guards) RequireSuperadmin() func(http.Handler) http.Handler {
	return g.requireThreshold(authz.RoleSuperadmin)
}

// RequireAdminOrAbove gates a route on the role hierarchy weight, admitting
// admins and superadmins.
func (g *Guards) RequireAdminOrAbove() func(http.Handler) http.Handler {
	return g.requireThreshold(authz.RoleAdmin)
}

// requireThreshold implements the coarse weight-based role check. Roles
// without a hierarchy weight never satisfy a positive threshold, they only
// act through explicit permission grants.
func (g *Guards) requireThreshold(required authz.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx, ok := g.precheck(w, r)
			if !ok {
				return
			}

			facts := authCtx.RoleFacts
			if !facts.HasRole || !facts.Role.AtLeast(required) {
				g.countRoleCheck(string(required), "denied")
				httputil.WriteAPIError(w, apierror.RoleDenied(string(required), string(facts.Role)))
				return
			}

			g.countRoleCheck(string(required), "allowed")
			next.ServeHTTP(w, r)
		})
	}
}

// RequireTenant gates a route on a detected tenant in the request context
func (g *Guards) RequireTenant() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := g.precheck(w, r); !ok {
				return
			}
			if GetTenant(r) == nil {
				g.countTenantDenial("tenant_required")
				httputil.WriteAPIError(w, apierror.TenantRequired())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (g *Guards) countPermissionCheck(permission, outcome string) {
	if g.metrics != nil {
		g.metrics.PermissionChecksTotal.WithLabelValues(permission, outcome).Inc()
	}
}

func (g *Guards) countRoleCheck(required, outcome string) {
	if g.metrics != nil {
		g.metrics.RoleChecksTotal.WithLabelValues(required, outcome).Inc()
	}
}

func (g *Guards) countTenantDenial(reason string) {
	if g.metrics != nil {
		g.metrics.TenantDenialsTotal.WithLabelValues(reason).Inc()
	}
}
