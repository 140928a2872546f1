package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// migration is one versioned schema step. Applied steps are recorded
// in schema_migrations and never run twice.
type migration struct {
	version int
	name    string
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		name:    "create_users",
		sql: `
			CREATE TABLE IF NOT EXISTS users (
				id BIGSERIAL PRIMARY KEY,
				email VARCHAR(255) NOT NULL UNIQUE,
				name VARCHAR(255) NOT NULL DEFAULT '',
				super_user BOOLEAN NOT NULL DEFAULT FALSE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			)`,
	},
	{
		version: 2,
		name:    "create_clients",
		sql: `
			CREATE TABLE IF NOT EXISTS clients (
				id BIGSERIAL PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			)`,
	},
	{
		version: 3,
		name:    "create_github_installations",
		sql: `
			CREATE TABLE IF NOT EXISTS github_installations (
				id BIGSERIAL PRIMARY KEY,
				github_id BIGINT NOT NULL UNIQUE,
				client_id BIGINT NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
				account_login VARCHAR(255) NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_github_installations_client
				ON github_installations(client_id)`,
	},
	{
		version: 4,
		name:    "create_github_repos",
		sql: `
			CREATE TABLE IF NOT EXISTS github_repos (
				id BIGSERIAL PRIMARY KEY,
				installation_id BIGINT NOT NULL REFERENCES github_installations(id) ON DELETE CASCADE,
				owner VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				is_enabled BOOLEAN NOT NULL DEFAULT TRUE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				UNIQUE(installation_id, owner, name)
			);
			CREATE INDEX IF NOT EXISTS idx_github_repos_installation
				ON github_repos(installation_id)`,
	},
	{
		version: 5,
		name:    "create_shared_client_access",
		sql: `
			CREATE TABLE IF NOT EXISTS shared_client_access (
				id BIGSERIAL PRIMARY KEY,
				sharer_id BIGINT NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
				recipient_id BIGINT NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				UNIQUE(sharer_id, recipient_id),
				CHECK (sharer_id <> recipient_id)
			);
			CREATE INDEX IF NOT EXISTS idx_shared_client_access_recipient
				ON shared_client_access(recipient_id)`,
	},
	{
		version: 6,
		name:    "create_user_client_roles",
		sql: `
			CREATE TABLE IF NOT EXISTS user_client_roles (
				id BIGSERIAL PRIMARY KEY,
				user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				client_id BIGINT NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
				role VARCHAR(20) NOT NULL CHECK (role IN ('SHARED_ACCESS', 'USER', 'ADMIN')),
				delegation_id BIGINT REFERENCES shared_client_access(id) ON DELETE CASCADE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				UNIQUE(user_id, client_id, delegation_id)
			);
			CREATE UNIQUE INDEX IF NOT EXISTS idx_user_client_roles_direct
				ON user_client_roles(user_id, client_id)
				WHERE delegation_id IS NULL;
			CREATE INDEX IF NOT EXISTS idx_user_client_roles_client
				ON user_client_roles(client_id);
			CREATE INDEX IF NOT EXISTS idx_user_client_roles_delegation
				ON user_client_roles(delegation_id)`,
	},
}

// Migrate applies all pending migrations in version order.
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	for _, m := range migrations {
		applied, err := migrationApplied(ctx, db, m.version)
		if err != nil {
			return err
		}
		if applied {
			continue
		}
		if err := applyMigration(ctx, db, m); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.name, err)
		}
	}

	return nil
}

func migrationApplied(ctx context.Context, db *sql.DB, version int) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`, version).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check migration %d: %w", version, err)
	}
	return exists, nil
}

func applyMigration(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.sql); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.version, m.name); err != nil {
		return err
	}
	return tx.Commit()
}
