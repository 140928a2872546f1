package access

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	// A fresh connection would see a fresh in-memory database.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			email TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL DEFAULT '',
			super_user INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE clients (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE github_installations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			github_id INTEGER NOT NULL UNIQUE,
			client_id INTEGER NOT NULL REFERENCES clients(id),
			account_login TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE github_repos (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			installation_id INTEGER NOT NULL REFERENCES github_installations(id),
			owner TEXT NOT NULL,
			name TEXT NOT NULL,
			is_enabled INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE shared_client_access (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sharer_id INTEGER NOT NULL REFERENCES clients(id),
			recipient_id INTEGER NOT NULL REFERENCES clients(id),
			created_at TIMESTAMP NOT NULL,
			UNIQUE(sharer_id, recipient_id)
		);

		CREATE TABLE user_client_roles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL REFERENCES users(id),
			client_id INTEGER NOT NULL REFERENCES clients(id),
			role TEXT NOT NULL,
			delegation_id INTEGER REFERENCES shared_client_access(id),
			created_at TIMESTAMP NOT NULL,
			UNIQUE(user_id, client_id, delegation_id)
		);

		CREATE UNIQUE INDEX idx_user_client_roles_direct
			ON user_client_roles(user_id, client_id)
			WHERE delegation_id IS NULL;
	`)
	if err != nil {
		t.Fatalf("Failed to create test tables: %v", err)
	}

	return db
}

func seedUser(t *testing.T, db *sql.DB, email string, super bool) int64 {
	t.Helper()
	result, err := db.Exec("INSERT INTO users (email, name, super_user) VALUES (?, ?, ?)",
		email, email, super)
	if err != nil {
		t.Fatalf("Failed to seed user %s: %v", email, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		t.Fatalf("Failed to get user id: %v", err)
	}
	return id
}

func seedClient(t *testing.T, db *sql.DB, name string) int64 {
	t.Helper()
	result, err := db.Exec("INSERT INTO clients (name) VALUES (?)", name)
	if err != nil {
		t.Fatalf("Failed to seed client %s: %v", name, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		t.Fatalf("Failed to get client id: %v", err)
	}
	return id
}

func seedRepo(t *testing.T, db *sql.DB, clientID int64, owner, name string) int64 {
	t.Helper()
	result, err := db.Exec("INSERT INTO github_installations (github_id, client_id, account_login) VALUES (?, ?, ?)",
		clientID*1000, clientID, owner)
	if err != nil {
		t.Fatalf("Failed to seed installation: %v", err)
	}
	installationID, err := result.LastInsertId()
	if err != nil {
		t.Fatalf("Failed to get installation id: %v", err)
	}
	result, err = db.Exec("INSERT INTO github_repos (installation_id, owner, name) VALUES (?, ?, ?)",
		installationID, owner, name)
	if err != nil {
		t.Fatalf("Failed to seed repo: %v", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		t.Fatalf("Failed to get repo id: %v", err)
	}
	return id
}

// mustInvite seeds a direct membership through the engine so derived
// rows propagate the way production writes do.
func mustInvite(t *testing.T, e *Engine, actorID, clientID int64, email string, role Role) {
	t.Helper()
	if _, _, err := e.InviteMember(context.Background(), actorID, clientID, email, role); err != nil {
		t.Fatalf("Failed to invite %s to client %d: %v", email, clientID, err)
	}
}

// seedAdmin inserts the bootstrap admin row directly, the way client
// creation does before any engine exists to call.
func seedAdmin(t *testing.T, db *sql.DB, userID, clientID int64) {
	t.Helper()
	_, err := db.Exec(
		"INSERT INTO user_client_roles (user_id, client_id, role, delegation_id, created_at) VALUES (?, ?, 'ADMIN', NULL, CURRENT_TIMESTAMP)",
		userID, clientID)
	if err != nil {
		t.Fatalf("Failed to seed admin: %v", err)
	}
}

func membershipRows(t *testing.T, db *sql.DB, userID, clientID int64) []Membership {
	t.Helper()
	memberships, err := listMemberships(context.Background(), db, userID, clientID)
	if err != nil {
		t.Fatalf("Failed to list memberships: %v", err)
	}
	return memberships
}
