package authz

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/keystone/pkg/observability"
)

const cacheSize = 4096

// DefaultCacheTTL is the decision cache lifetime used by the server
const DefaultCacheTTL = 5 * time.Minute

// Resolver answers permission questions for a principal. Resolution order:
// superadmin holds everything, then role bindings, then granted per-profile
// overrides, otherwise deny.
type Resolver struct {
	store        *Store
	cache        *expirable.LRU[string, bool]
	cacheEnabled bool
	metrics      *observability.Metrics
	log          *logrus.Logger
}

// NewResolver creates a resolver. A cacheTTL of 0 disables the decision
// cache; with a TTL set, every role or override mutation must go through
// Invalidate/InvalidateAll so checks never serve stale grants. Metrics may
// be nil in tests.
func NewResolver(store *Store, cacheTTL time.Duration, metrics *observability.Metrics, log *logrus.Logger) *Resolver {
	r := &Resolver{
		store:        store,
		cacheEnabled: cacheTTL > 0,
		metrics:      metrics,
		log:          log,
	}
	if r.cacheEnabled {
		r.cache = expirable.NewLRU[string, bool](cacheSize, nil, cacheTTL)
	}
	return r
}

func cacheKey(profileID int64, permission string) string {
	return strconv.FormatInt(profileID, 10) + ":" + permission
}

// HasPermission reports whether the principal holds the named permission.
// Store errors propagate so callers can fail closed.
func (r *Resolver) HasPermission(ctx context.Context, p Principal, permission string) (bool, error) {
	if p.Role == RoleSuperadmin {
		return true, nil
	}

	key := cacheKey(p.ProfileID, permission)
	if r.cacheEnabled {
		if allowed, ok := r.cache.Get(key); ok {
			r.countCache("hit")
			return allowed, nil
		}
		r.countCache("miss")
	}

	allowed, err := r.store.RoleHasPermission(ctx, p.Role, permission)
	if err != nil {
		return false, fmt.Errorf("failed to resolve permission %s: %w", permission, err)
	}

	if !allowed {
		allowed, err = r.store.HasGrantedOverride(ctx, p.ProfileID, permission)
		if err != nil {
			return false, fmt.Errorf("failed to resolve permission %s: %w", permission, err)
		}
	}

	if r.cacheEnabled {
		r.cache.Add(key, allowed)
	}

	return allowed, nil
}

// EffectivePermissions returns the sorted set of all permissions the
// principal holds. Superadmin gets the full catalog.
func (r *Resolver) EffectivePermissions(ctx context.Context, p Principal) ([]string, error) {
	if p.Role == RoleSuperadmin {
		catalog, err := r.store.ListPermissions(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load permission catalog: %w", err)
		}
		names := make([]string, 0, len(catalog))
		for _, perm := range catalog {
			names = append(names, perm.Name)
		}
		return names, nil
	}

	roleNames, err := r.store.RolePermissionNames(ctx, p.Role)
	if err != nil {
		return nil, fmt.Errorf("failed to load role permissions: %w", err)
	}
	overrideNames, err := r.store.GrantedOverrideNames(ctx, p.ProfileID)
	if err != nil {
		return nil, fmt.Errorf("failed to load permission overrides: %w", err)
	}

	set := make(map[string]struct{}, len(roleNames)+len(overrideNames))
	for _, name := range roleNames {
		set[name] = struct{}{}
	}
	for _, name := range overrideNames {
		set[name] = struct{}{}
	}

	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (r *Resolver) countCache(outcome string) {
	if r.metrics == nil {
		return
	}
	if outcome == "hit" {
		r.metrics.CacheHitsTotal.WithLabelValues("permission_decisions").Inc()
		return
	}
	r.metrics.CacheMissesTotal.WithLabelValues("permission_decisions").Inc()
}

// Invalidate drops all cached decisions for a profile. Call after any
// override mutation or role change for the profile.
func (r *Resolver) Invalidate(profileID int64) {
	if !r.cacheEnabled {
		return
	}
	prefix := strconv.FormatInt(profileID, 10) + ":"
	for _, key := range r.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			r.cache.Remove(key)
		}
	}
	r.log.WithField("profile_id", profileID).Debug("invalidated cached permission decisions")
}

// InvalidateAll drops the whole decision cache. Call after role binding
// mutations, which affect every profile holding the role.
func (r *Resolver) InvalidateAll() {
	if !r.cacheEnabled {
		return
	}
	r.cache.Purge()
	r.log.Debug("purged permission decision cache")
}
