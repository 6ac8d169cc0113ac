package authz

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// SeedResult reports what a seed run actually created. Re-running the seed
// against a populated database yields all zeros.
type SeedResult struct {
	PermissionsCreated int `json:"permissions_created"`
	BindingsCreated    int `json:"bindings_created"`
}

// DefaultPermissions returns the full permission catalog
func DefaultPermissions() []Permission {
	return []Permission{
		// User management
		{Name: "view_users", Category: CategoryUsers, Description: "View user list and profiles"},
		{Name: "create_users", Category: CategoryUsers, Description: "Create new users"},
		{Name: "edit_users", Category: CategoryUsers, Description: "Edit user information"},
		{Name: "delete_users", Category: CategoryUsers, Description: "Delete users"},
		{Name: "manage_roles", Category: CategoryUsers, Description: "Change user roles and permissions"},

		// Data access
		{Name: "view_dashboard", Category: CategoryData, Description: "View main dashboard"},
		{Name: "view_analytics", Category: CategoryData, Description: "View analytics and reports"},
		{Name: "view_reports", Category: CategoryData, Description: "View detailed reports"},
		{Name: "export_data", Category: CategoryData, Description: "Export data to CSV/PDF"},
		{Name: "import_data", Category: CategoryData, Description: "Import data from files"},
		{Name: "create_tasks", Category: CategoryData, Description: "Create new tasks"},
		{Name: "manage_tasks", Category: CategoryData, Description: "Manage all tasks"},

		// Analytics
		{Name: "view_basic_analytics", Category: CategoryAnalytics, Description: "View basic analytics"},
		{Name: "view_advanced_analytics", Category: CategoryAnalytics, Description: "View advanced analytics"},
		{Name: "generate_reports", Category: CategoryAnalytics, Description: "Generate custom reports"},

		// Settings
		{Name: "view_settings", Category: CategorySettings, Description: "View application settings"},
		{Name: "edit_settings", Category: CategorySettings, Description: "Edit application settings"},
		{Name: "manage_billing", Category: CategorySettings, Description: "Manage billing and subscriptions"},

		// System
		{Name: "manage_organizations", Category: CategorySystem, Description: "Manage organizations"},
		{Name: "view_all_data", Category: CategorySystem, Description: "View all organization data"},
		{Name: "manage_system_settings", Category: CategorySystem, Description: "Manage system-wide settings"},
		{Name: "view_audit_logs", Category: CategorySystem, Description: "View audit logs"},
	}
}

// DefaultRoleBindings returns the base permission set per role. superadmin
// holds everything implicitly and gets no rows.
func DefaultRoleBindings() map[Role][]string {
	return map[Role][]string{
		RoleAdmin: {
			"view_users", "create_users", "edit_users", "delete_users", "manage_roles",
			"view_dashboard", "view_analytics", "view_reports", "export_data", "import_data",
			"create_tasks", "manage_tasks",
			"view_basic_analytics", "view_advanced_analytics", "generate_reports",
			"view_settings", "edit_settings", "manage_billing",
			"view_audit_logs",
		},
		RoleManager: {
			"view_users", "create_users", "edit_users",
			"view_dashboard", "view_analytics", "view_reports", "export_data",
			"create_tasks", "manage_tasks",
			"view_basic_analytics", "view_advanced_analytics", "generate_reports",
			"view_settings",
		},
		RoleAnalyst: {
			"view_users",
			"view_dashboard", "view_analytics", "view_reports", "export_data",
			"create_tasks",
			"view_basic_analytics", "view_advanced_analytics", "generate_reports",
			"view_settings",
		},
		RoleUser: {
			"view_dashboard", "create_tasks",
			"view_basic_analytics",
			"view_settings",
		},
		RoleViewer: {
			"view_dashboard", "view_analytics",
			"view_basic_analytics",
		},
		RoleVolunteer: {
			"view_dashboard", "create_tasks",
		},
	}
}

// Seed populates the permission catalog and default role bindings. It is
// idempotent: existing rows are left alone and only newly created rows are
// counted.
func Seed(ctx context.Context, store *Store, log *logrus.Logger) (*SeedResult, error) {
	result := &SeedResult{}

	permissions := DefaultPermissions()
	permissionIDs := make(map[string]int64, len(permissions))

	for i := range permissions {
		perm := permissions[i]
		created, err := store.EnsurePermission(ctx, &perm)
		if err != nil {
			return nil, fmt.Errorf("failed to seed permission %s: %w", perm.Name, err)
		}
		if created {
			result.PermissionsCreated++
			log.WithField("permission", perm.Name).Info("Created permission")
		}
		permissionIDs[perm.Name] = perm.ID
	}

	for role, names := range DefaultRoleBindings() {
		for _, name := range names {
			permID, ok := permissionIDs[name]
			if !ok {
				return nil, fmt.Errorf("role %s references unknown permission %s", role, name)
			}
			created, err := store.EnsureRoleBinding(ctx, role, permID)
			if err != nil {
				return nil, fmt.Errorf("failed to seed binding %s -> %s: %w", role, name, err)
			}
			if created {
				result.BindingsCreated++
			}
		}
	}

	log.WithFields(logrus.Fields{
		"permissions_created": result.PermissionsCreated,
		"bindings_created":    result.BindingsCreated,
	}).Info("Permission seed complete")

	return result, nil
}
