package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/keystone/pkg/apierror"
	"github.com/platinummonkey/keystone/pkg/contextkeys"
	"github.com/platinummonkey/keystone/pkg/httputil"
	"github.com/platinummonkey/keystone/pkg/observability"
	"github.com/platinummonkey/keystone/pkg/orgs"
)

// TenantSource looks up an organization by its URL slug
type TenantSource interface {
	GetOrganizationBySlug(ctx context.Context, slug string) (*orgs.Organization, error)
}

// DefaultSkipPrefixes are the path prefixes tenant detection never inspects
var DefaultSkipPrefixes = []string{
	"/api/auth/",
	"/api/health/",
	"/api/docs/",
	"/admin/",
	"/static/",
	"/media/",
}

// DefaultTenantRequiredPrefixes are the prefixes that must carry a tenant
var DefaultTenantRequiredPrefixes = []string{"/api/org/"}

// GetTenant returns the organization attached by tenant detection, or nil
func GetTenant(r *http.Request) *orgs.Organization {
	org, _ := r.Context().Value(contextkeys.TenantKey).(*orgs.Organization)
	return org
}

// TenantDetection resolves the organization named in the URL path and
// attaches it to the request context. It is the only place tenant identity
// is derived from the URL; downstream code trusts the attached value.
type TenantDetection struct {
	source       TenantSource
	skipPrefixes []string
	log          *logrus.Logger
}

// NewTenantDetection creates the tenant detection middleware. A nil
// skipPrefixes uses DefaultSkipPrefixes.
func NewTenantDetection(source TenantSource, skipPrefixes []string, log *logrus.Logger) *TenantDetection {
	if skipPrefixes == nil {
		skipPrefixes = DefaultSkipPrefixes
	}
	return &TenantDetection{source: source, skipPrefixes: skipPrefixes, log: log}
}

// Handler scans the path for an "org" marker segment followed by a slug.
// No marker means no tenant and the request proceeds; a marker naming an
// unknown or inactive organization fails the request with 404 before any
// routing happens.
func (m *TenantDetection) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, prefix := range m.skipPrefixes {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}

		slug := extractOrgSlug(r.URL.Path)
		if slug == "" {
			next.ServeHTTP(w, r)
			return
		}

		org, err := m.source.GetOrganizationBySlug(r.Context(), slug)
		if err != nil {
			if errors.Is(err, orgs.ErrNotFound) {
				httputil.WriteAPIError(w, apierror.TenantNotFound(slug))
				return
			}
			m.log.WithError(err).WithField("slug", slug).Error("tenant lookup failed")
			httputil.WriteAPIError(w, apierror.ServiceFailure(err))
			return
		}
		if !org.IsActive {
			httputil.WriteAPIError(w, apierror.TenantNotFound(slug))
			return
		}

		ctx := contextkeys.WithValue(r.Context(), contextkeys.TenantKey, org)
		ctx = contextkeys.WithValue(ctx, contextkeys.OrgSlugKey, slug)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractOrgSlug returns the path segment following the first literal "org"
// segment, or "" when the marker is absent or trailed by nothing.
func extractOrgSlug(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i, segment := range segments {
		if segment == "org" && i+1 < len(segments) && segments[i+1] != "" {
			return segments[i+1]
		}
	}
	return ""
}

// TenantRequired rejects requests on tenant-mandatory prefixes that reached
// routing without a detected tenant. Exempt prefixes are carved out of the
// mandatory set.
func TenantRequired(requiredPrefixes, exemptPrefixes []string, metrics *observability.Metrics) func(http.Handler) http.Handler {
	if requiredPrefixes == nil {
		requiredPrefixes = DefaultTenantRequiredPrefixes
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mandatory := false
			for _, prefix := range requiredPrefixes {
				if strings.HasPrefix(r.URL.Path, prefix) {
					mandatory = true
					break
				}
			}
			if mandatory {
				for _, prefix := range exemptPrefixes {
					if strings.HasPrefix(r.URL.Path, prefix) {
						mandatory = false
						break
					}
				}
			}

			if mandatory && GetTenant(r) == nil {
				if metrics != nil {
					metrics.TenantDenialsTotal.WithLabelValues("tenant_required").Inc()
				}
				httputil.WriteAPIError(w, apierror.TenantRequired())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// TenantIsolation rejects authenticated non-superadmin requests whose
// principal belongs to a different organization than the detected tenant.
// Superadmins bypass unconditionally; unauthenticated requests are left to
// the authentication layer.
func TenantIsolation(metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenant := GetTenant(r)
			authCtx := GetAuthContext(r)

			if tenant == nil || !authCtx.Authenticated() || authCtx.RoleFacts.IsSuperadmin {
				next.ServeHTTP(w, r)
				return
			}

			orgID := authCtx.OrganizationID()
			if orgID == nil || *orgID != tenant.ID {
				if metrics != nil {
					metrics.TenantDenialsTotal.WithLabelValues("cross_tenant").Inc()
				}
				httputil.WriteAPIError(w, apierror.CrossTenantAccess())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
