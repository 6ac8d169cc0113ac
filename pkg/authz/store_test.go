package authz

import (
	"context"
	"database/sql"
	"io"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE permissions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			category TEXT NOT NULL,
			description TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE role_permissions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			role TEXT NOT NULL,
			permission_id INTEGER NOT NULL REFERENCES permissions(id),
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(role, permission_id)
		);

		CREATE TABLE user_permissions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			profile_id INTEGER NOT NULL,
			permission_id INTEGER NOT NULL REFERENCES permissions(id),
			granted INTEGER NOT NULL DEFAULT 1,
			granted_by INTEGER,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(profile_id, permission_id)
		);
	`)
	if err != nil {
		t.Fatalf("Failed to create test schema: %v", err)
	}

	return db
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestEnsurePermissionIdempotent(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	perm := Permission{Name: "view_users", Category: CategoryUsers, Description: "View user list"}
	created, err := store.EnsurePermission(ctx, &perm)
	if err != nil {
		t.Fatalf("EnsurePermission failed: %v", err)
	}
	if !created {
		t.Error("Expected first EnsurePermission to create a row")
	}
	if perm.ID == 0 {
		t.Error("Expected permission ID to be populated")
	}

	again := Permission{Name: "view_users", Category: CategoryUsers}
	created, err = store.EnsurePermission(ctx, &again)
	if err != nil {
		t.Fatalf("EnsurePermission failed on second run: %v", err)
	}
	if created {
		t.Error("Expected second EnsurePermission to be a no-op")
	}
	if again.ID != perm.ID {
		t.Errorf("Expected same ID on re-ensure, got %d and %d", perm.ID, again.ID)
	}
}

func TestEnsureRoleBindingIdempotent(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	perm := Permission{Name: "view_dashboard", Category: CategoryData}
	if _, err := store.EnsurePermission(ctx, &perm); err != nil {
		t.Fatalf("EnsurePermission failed: %v", err)
	}

	created, err := store.EnsureRoleBinding(ctx, RoleManager, perm.ID)
	if err != nil {
		t.Fatalf("EnsureRoleBinding failed: %v", err)
	}
	if !created {
		t.Error("Expected first binding to be created")
	}

	created, err = store.EnsureRoleBinding(ctx, RoleManager, perm.ID)
	if err != nil {
		t.Fatalf("EnsureRoleBinding failed on second run: %v", err)
	}
	if created {
		t.Error("Expected second binding to be a no-op")
	}

	has, err := store.RoleHasPermission(ctx, RoleManager, "view_dashboard")
	if err != nil {
		t.Fatalf("RoleHasPermission failed: %v", err)
	}
	if !has {
		t.Error("Expected manager to have view_dashboard")
	}

	has, err = store.RoleHasPermission(ctx, RoleViewer, "view_dashboard")
	if err != nil {
		t.Fatalf("RoleHasPermission failed: %v", err)
	}
	if has {
		t.Error("Expected viewer to lack view_dashboard")
	}
}

func TestOverrides(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	perm := Permission{Name: "manage_billing", Category: CategorySettings}
	if _, err := store.EnsurePermission(ctx, &perm); err != nil {
		t.Fatalf("EnsurePermission failed: %v", err)
	}

	override := UserPermission{ProfileID: 42, PermissionID: perm.ID, Granted: true}
	if err := store.SetOverride(ctx, &override); err != nil {
		t.Fatalf("SetOverride failed: %v", err)
	}
	if override.ID == 0 {
		t.Error("Expected override ID to be populated")
	}

	has, err := store.HasGrantedOverride(ctx, 42, "manage_billing")
	if err != nil {
		t.Fatalf("HasGrantedOverride failed: %v", err)
	}
	if !has {
		t.Error("Expected granted override to be visible")
	}

	// Flipping granted to false must stop contributing
	override.Granted = false
	if err := store.SetOverride(ctx, &override); err != nil {
		t.Fatalf("SetOverride update failed: %v", err)
	}
	has, err = store.HasGrantedOverride(ctx, 42, "manage_billing")
	if err != nil {
		t.Fatalf("HasGrantedOverride failed: %v", err)
	}
	if has {
		t.Error("Expected non-granted override to not contribute")
	}

	overrides, err := store.ListOverrides(ctx, 42)
	if err != nil {
		t.Fatalf("ListOverrides failed: %v", err)
	}
	if len(overrides) != 1 {
		t.Fatalf("Expected a single override row after upsert, got %d", len(overrides))
	}

	if err := store.RemoveOverride(ctx, 42, perm.ID); err != nil {
		t.Fatalf("RemoveOverride failed: %v", err)
	}
	overrides, err = store.ListOverrides(ctx, 42)
	if err != nil {
		t.Fatalf("ListOverrides failed: %v", err)
	}
	if len(overrides) != 0 {
		t.Errorf("Expected no override rows after removal, got %d", len(overrides))
	}
}
