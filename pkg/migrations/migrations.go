// Package migrations holds the versioned schema for the service. Migrations
// run in order inside transactions with a tracking table, so re-running is
// always safe.
package migrations

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all migrations in order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id BIGSERIAL PRIMARY KEY,
					external_subject VARCHAR(255) NOT NULL UNIQUE,
					username VARCHAR(255) NOT NULL,
					email VARCHAR(255) NOT NULL,
					full_name VARCHAR(255),
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_users_email ON users(email);
			`,
		},
		{
			Version:     2,
			Description: "Create organizations table",
			SQL: `
				CREATE TABLE IF NOT EXISTS organizations (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					slug VARCHAR(255) NOT NULL UNIQUE,
					subscription_status VARCHAR(50) NOT NULL DEFAULT 'active',
					subscription_tier VARCHAR(50) NOT NULL DEFAULT 'basic',
					max_users INT NOT NULL DEFAULT 10,
					settings JSONB NOT NULL DEFAULT '{}',
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_organizations_slug ON organizations(slug);
			`,
		},
		{
			Version:     3,
			Description: "Create profiles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS profiles (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL UNIQUE REFERENCES users(id) ON DELETE CASCADE,
					organization_id BIGINT REFERENCES organizations(id) ON DELETE SET NULL,
					role VARCHAR(50) NOT NULL DEFAULT 'user',
					bio TEXT,
					avatar_url TEXT,
					phone VARCHAR(50),
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_profiles_organization_id ON profiles(organization_id);
				CREATE INDEX idx_profiles_role ON profiles(role);
			`,
		},
		{
			Version:     4,
			Description: "Create permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS permissions (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL UNIQUE,
					category VARCHAR(50) NOT NULL,
					description TEXT,
					created_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_permissions_category ON permissions(category);
			`,
		},
		{
			Version:     5,
			Description: "Create role_permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS role_permissions (
					id BIGSERIAL PRIMARY KEY,
					role VARCHAR(50) NOT NULL,
					permission_id BIGINT NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(role, permission_id)
				);

				CREATE INDEX idx_role_permissions_role ON role_permissions(role);
			`,
		},
		{
			Version:     6,
			Description: "Create user_permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_permissions (
					id BIGSERIAL PRIMARY KEY,
					profile_id BIGINT NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
					permission_id BIGINT NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
					granted BOOLEAN NOT NULL DEFAULT TRUE,
					granted_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(profile_id, permission_id)
				);

				CREATE INDEX idx_user_permissions_profile_id ON user_permissions(profile_id);
			`,
		},
		{
			Version:     7,
			Description: "Create audit_log table",
			SQL: `
				CREATE TABLE IF NOT EXISTS audit_log (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT REFERENCES users(id) ON DELETE SET NULL,
					organization_id BIGINT REFERENCES organizations(id) ON DELETE SET NULL,
					action VARCHAR(50) NOT NULL,
					target_model VARCHAR(255) NOT NULL,
					target_id VARCHAR(255),
					changes JSONB NOT NULL DEFAULT '{}',
					ip_address VARCHAR(64),
					user_agent TEXT,
					created_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_audit_log_user_id ON audit_log(user_id);
				CREATE INDEX idx_audit_log_target ON audit_log(target_model, target_id);
				CREATE INDEX idx_audit_log_created_at ON audit_log(created_at);
			`,
		},
		{
			Version:     8,
			Description: "Create notifications table",
			SQL: `
				CREATE TABLE IF NOT EXISTS notifications (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					organization_id BIGINT REFERENCES organizations(id) ON DELETE CASCADE,
					title VARCHAR(255) NOT NULL,
					message TEXT NOT NULL,
					kind VARCHAR(50) NOT NULL DEFAULT 'info',
					is_read BOOLEAN NOT NULL DEFAULT FALSE,
					read_at TIMESTAMP,
					related_model VARCHAR(255),
					related_id VARCHAR(255),
					metadata JSONB NOT NULL DEFAULT '{}',
					created_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_notifications_user_id ON notifications(user_id);
				CREATE INDEX idx_notifications_is_read ON notifications(user_id, is_read);
			`,
		},
		{
			Version:     9,
			Description: "Create files table",
			SQL: `
				CREATE TABLE IF NOT EXISTS files (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					organization_id BIGINT REFERENCES organizations(id) ON DELETE CASCADE,
					filename VARCHAR(512) NOT NULL,
					original_filename VARCHAR(512) NOT NULL,
					size_bytes BIGINT NOT NULL DEFAULT 0,
					mime_type VARCHAR(255),
					storage_key VARCHAR(1024) NOT NULL,
					bucket VARCHAR(255) NOT NULL,
					category VARCHAR(50) NOT NULL DEFAULT 'other',
					metadata JSONB NOT NULL DEFAULT '{}',
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_files_organization_id ON files(organization_id);
				CREATE INDEX idx_files_user_id ON files(user_id);
			`,
		},
		{
			Version:     10,
			Description: "Create tasks table",
			SQL: `
				CREATE TABLE IF NOT EXISTS tasks (
					id BIGSERIAL PRIMARY KEY,
					organization_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					owner_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					title VARCHAR(512) NOT NULL,
					description TEXT,
					status VARCHAR(50) NOT NULL DEFAULT 'pending',
					priority VARCHAR(50) NOT NULL DEFAULT 'medium',
					due_date TIMESTAMP,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_tasks_organization_id ON tasks(organization_id);
				CREATE INDEX idx_tasks_owner_id ON tasks(owner_id);
				CREATE INDEX idx_tasks_status ON tasks(status);
			`,
		},
	}
}

// RunMigrations executes all pending migrations
func RunMigrations(ctx context.Context, db *sql.DB, log *logrus.Logger) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS keystone_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM keystone_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}

		log.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("Running migration")

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO keystone_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
