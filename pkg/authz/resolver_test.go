package authz

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/platinummonkey/keystone/pkg/observability"
)

func seededResolver(t *testing.T, cacheTTL time.Duration) (*Resolver, *Store) {
	t.Helper()

	db := setupTestDB(t)
	store := NewStore(db)
	if _, err := Seed(context.Background(), store, quietLogger()); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	return NewResolver(store, cacheTTL, nil, quietLogger()), store
}

func TestSuperadminHoldsEverything(t *testing.T) {
	resolver, store := seededResolver(t, 0)
	ctx := context.Background()

	p := Principal{ProfileID: 1, Role: RoleSuperadmin}

	for _, perm := range DefaultPermissions() {
		allowed, err := resolver.HasPermission(ctx, p, perm.Name)
		if err != nil {
			t.Fatalf("HasPermission(%s) failed: %v", perm.Name, err)
		}
		if !allowed {
			t.Errorf("Expected superadmin to hold %s", perm.Name)
		}
	}

	// Even permissions outside the catalog are granted without a lookup
	allowed, err := resolver.HasPermission(ctx, p, "not_in_catalog")
	if err != nil {
		t.Fatalf("HasPermission failed: %v", err)
	}
	if !allowed {
		t.Error("Expected superadmin grant to be unconditional")
	}

	effective, err := resolver.EffectivePermissions(ctx, p)
	if err != nil {
		t.Fatalf("EffectivePermissions failed: %v", err)
	}
	catalog, err := store.ListPermissions(ctx)
	if err != nil {
		t.Fatalf("ListPermissions failed: %v", err)
	}
	if len(effective) != len(catalog) {
		t.Errorf("Expected superadmin effective set to equal the catalog: %d != %d", len(effective), len(catalog))
	}
}

func TestDenyByDefault(t *testing.T) {
	resolver, _ := seededResolver(t, 0)
	ctx := context.Background()

	cases := []struct {
		role       Role
		permission string
	}{
		{RoleUser, "delete_users"},
		{RoleUser, "manage_billing"},
		{RoleViewer, "create_tasks"},
		{RoleVolunteer, "view_settings"},
		{RoleManager, "manage_system_settings"},
		{RoleAnalyst, "manage_roles"},
	}

	for _, tc := range cases {
		allowed, err := resolver.HasPermission(ctx, Principal{ProfileID: 7, Role: tc.role}, tc.permission)
		if err != nil {
			t.Fatalf("HasPermission(%s, %s) failed: %v", tc.role, tc.permission, err)
		}
		if allowed {
			t.Errorf("Expected %s to be denied %s", tc.role, tc.permission)
		}
	}
}

func TestManagerDashboardScenario(t *testing.T) {
	resolver, _ := seededResolver(t, 0)
	ctx := context.Background()

	p := Principal{ProfileID: 3, Role: RoleManager}

	allowed, err := resolver.HasPermission(ctx, p, "view_dashboard")
	if err != nil {
		t.Fatalf("HasPermission failed: %v", err)
	}
	if !allowed {
		t.Error("Expected manager to hold view_dashboard")
	}

	allowed, err = resolver.HasPermission(ctx, p, "manage_system_settings")
	if err != nil {
		t.Fatalf("HasPermission failed: %v", err)
	}
	if allowed {
		t.Error("Expected manager to be denied manage_system_settings")
	}
}

func TestOverrideGrantsBeyondRole(t *testing.T) {
	resolver, store := seededResolver(t, 0)
	ctx := context.Background()

	p := Principal{ProfileID: 9, Role: RoleUser}

	allowed, err := resolver.HasPermission(ctx, p, "manage_billing")
	if err != nil {
		t.Fatalf("HasPermission failed: %v", err)
	}
	if allowed {
		t.Fatal("Expected user role to lack manage_billing before override")
	}

	perm, err := store.GetPermissionByName(ctx, "manage_billing")
	if err != nil {
		t.Fatalf("GetPermissionByName failed: %v", err)
	}
	if err := store.SetOverride(ctx, &UserPermission{ProfileID: 9, PermissionID: perm.ID, Granted: true}); err != nil {
		t.Fatalf("SetOverride failed: %v", err)
	}

	allowed, err = resolver.HasPermission(ctx, p, "manage_billing")
	if err != nil {
		t.Fatalf("HasPermission failed: %v", err)
	}
	if !allowed {
		t.Error("Expected granted override to allow manage_billing")
	}

	effective, err := resolver.EffectivePermissions(ctx, p)
	if err != nil {
		t.Fatalf("EffectivePermissions failed: %v", err)
	}
	found := false
	for _, name := range effective {
		if name == "manage_billing" {
			found = true
		}
	}
	if !found {
		t.Error("Expected manage_billing in effective permission set")
	}
}

func TestCacheInvalidation(t *testing.T) {
	resolver, store := seededResolver(t, time.Minute)
	ctx := context.Background()

	p := Principal{ProfileID: 11, Role: RoleUser}

	allowed, err := resolver.HasPermission(ctx, p, "export_data")
	if err != nil {
		t.Fatalf("HasPermission failed: %v", err)
	}
	if allowed {
		t.Fatal("Expected user role to lack export_data")
	}

	perm, err := store.GetPermissionByName(ctx, "export_data")
	if err != nil {
		t.Fatalf("GetPermissionByName failed: %v", err)
	}
	if err := store.SetOverride(ctx, &UserPermission{ProfileID: 11, PermissionID: perm.ID, Granted: true}); err != nil {
		t.Fatalf("SetOverride failed: %v", err)
	}

	// Stale until invalidated
	allowed, err = resolver.HasPermission(ctx, p, "export_data")
	if err != nil {
		t.Fatalf("HasPermission failed: %v", err)
	}
	if allowed {
		t.Fatal("Expected cached denial before invalidation")
	}

	resolver.Invalidate(11)

	allowed, err = resolver.HasPermission(ctx, p, "export_data")
	if err != nil {
		t.Fatalf("HasPermission failed: %v", err)
	}
	if !allowed {
		t.Error("Expected fresh grant after invalidation")
	}
}

func TestSeedIdempotent(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	first, err := Seed(ctx, store, quietLogger())
	if err != nil {
		t.Fatalf("First seed failed: %v", err)
	}
	if first.PermissionsCreated != len(DefaultPermissions()) {
		t.Errorf("Expected %d permissions created, got %d", len(DefaultPermissions()), first.PermissionsCreated)
	}
	if first.BindingsCreated == 0 {
		t.Error("Expected bindings to be created on first seed")
	}

	second, err := Seed(ctx, store, quietLogger())
	if err != nil {
		t.Fatalf("Second seed failed: %v", err)
	}
	if second.PermissionsCreated != 0 || second.BindingsCreated != 0 {
		t.Errorf("Expected second seed to be a no-op, got %+v", second)
	}

	// superadmin holds everything implicitly, never via rows
	count, err := store.CountRoleBindings(ctx, RoleSuperadmin)
	if err != nil {
		t.Fatalf("CountRoleBindings failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected no binding rows for superadmin, got %d", count)
	}
}

func TestResolverCountsCacheTraffic(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	if _, err := Seed(context.Background(), store, quietLogger()); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	resolver := NewResolver(store, time.Minute, metrics, quietLogger())
	ctx := context.Background()

	p := Principal{ProfileID: 7, Role: RoleUser}
	for i := 0; i < 2; i++ {
		if _, err := resolver.HasPermission(ctx, p, "create_tasks"); err != nil {
			t.Fatalf("HasPermission failed: %v", err)
		}
	}

	misses := testutil.ToFloat64(metrics.CacheMissesTotal.WithLabelValues("permission_decisions"))
	hits := testutil.ToFloat64(metrics.CacheHitsTotal.WithLabelValues("permission_decisions"))
	if misses != 1 {
		t.Errorf("Expected 1 cache miss, got %v", misses)
	}
	if hits != 1 {
		t.Errorf("Expected 1 cache hit, got %v", hits)
	}

	// superadmin decisions never touch the cache
	if _, err := resolver.HasPermission(ctx, Principal{ProfileID: 1, Role: RoleSuperadmin}, "view_users"); err != nil {
		t.Fatalf("HasPermission failed: %v", err)
	}
	if got := testutil.ToFloat64(metrics.CacheMissesTotal.WithLabelValues("permission_decisions")); got != misses {
		t.Errorf("Expected superadmin check to leave the miss count at %v, got %v", misses, got)
	}
}
