package middleware

import (
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/keystone/pkg/apierror"
	"github.com/platinummonkey/keystone/pkg/authn"
	"github.com/platinummonkey/keystone/pkg/authz"
	"github.com/platinummonkey/keystone/pkg/contextkeys"
	"github.com/platinummonkey/keystone/pkg/httputil"
	"github.com/platinummonkey/keystone/pkg/users"
)

// AuthContext is the immutable per-request authorization context. It is
// constructed by IdentityMiddleware, extended once by RoleContextMiddleware,
// and read-only from then on.
type AuthContext struct {
	User      *users.User
	Profile   *users.Profile
	RoleFacts authz.RoleFacts
}

// Authenticated reports whether the request carries a verified identity
func (a *AuthContext) Authenticated() bool {
	return a != nil && a.User != nil
}

// OrganizationID returns the principal's organization, or nil when the
// principal has no profile or no organization.
func (a *AuthContext) OrganizationID() *int64 {
	if a == nil || a.Profile == nil {
		return nil
	}
	return a.Profile.OrganizationID
}

// Principal returns the authz principal for permission resolution
func (a *AuthContext) Principal() authz.Principal {
	if a == nil || a.Profile == nil {
		return authz.Principal{}
	}
	return a.Profile.Principal()
}

// GetAuthContext extracts the auth context from a request, or nil
func GetAuthContext(r *http.Request) *AuthContext {
	authCtx, _ := r.Context().Value(contextkeys.AuthKey).(*AuthContext)
	return authCtx
}

// IdentityMiddleware resolves a Bearer token to a local user. In optional
// mode requests without credentials proceed unauthenticated; invalid
// credentials are always rejected.
type IdentityMiddleware struct {
	verifier authn.Verifier
	users    *users.Service
	optional bool
	log      *logrus.Logger
}

// NewIdentityMiddleware creates a new identity middleware
func NewIdentityMiddleware(verifier authn.Verifier, userService *users.Service, optional bool, log *logrus.Logger) *IdentityMiddleware {
	return &IdentityMiddleware{
		verifier: verifier,
		users:    userService,
		optional: optional,
		log:      log,
	}
}

// Handler wraps an HTTP handler with identity resolution
func (m *IdentityMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteAPIError(w, apierror.AuthenticationRequired())
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			httputil.WriteAPIError(w, apierror.AuthenticationRequired())
			return
		}

		identity, err := m.verifier.Verify(r.Context(), parts[1])
		if err != nil {
			m.log.WithError(err).Debug("token verification failed")
			httputil.WriteAPIError(w, apierror.AuthenticationRequired())
			return
		}

		user, err := m.users.ResolvePrincipal(r.Context(), identity.Subject, identity.Name, identity.Email)
		if err != nil {
			m.log.WithError(err).WithField("subject", identity.Subject).
				Error("failed to resolve principal")
			httputil.WriteAPIError(w, apierror.ServiceFailure(err))
			return
		}
		if !user.IsActive {
			httputil.WriteAPIError(w, apierror.AuthenticationRequired())
			return
		}

		ctx := contextkeys.WithValue(r.Context(), contextkeys.AuthKey, &AuthContext{User: user})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RoleContextMiddleware attaches role facts for every authenticated request.
// A missing profile is auto-created here with role=user; this is the single
// auto-heal point in the pipeline, guards downstream never create profiles.
// Any internal failure degrades to no-role facts rather than erroring the
// request, so a broken profile read denies instead of crashing.
func RoleContextMiddleware(store *users.Store, log *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := GetAuthContext(r)
			if !authCtx.Authenticated() {
				next.ServeHTTP(w, r)
				return
			}

			profile, created, err := store.GetOrCreateProfile(r.Context(), authCtx.User.ID)
			if err != nil {
				log.WithError(err).WithField("user_id", authCtx.User.ID).
					Error("failed to attach role context, degrading to no-role facts")
				enriched := &AuthContext{User: authCtx.User, RoleFacts: authz.NoRoleFacts()}
				ctx := contextkeys.WithValue(r.Context(), contextkeys.AuthKey, enriched)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			if created {
				log.WithFields(logrus.Fields{
					"user_id":    authCtx.User.ID,
					"profile_id": profile.ID,
				}).Info("auto-created missing profile")
			}

			enriched := &AuthContext{
				User:      authCtx.User,
				Profile:   profile,
				RoleFacts: authz.NewRoleFacts(profile.Role),
			}
			ctx := contextkeys.WithValue(r.Context(), contextkeys.AuthKey, enriched)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
