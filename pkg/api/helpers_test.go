package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/gitpulse/gitpulse/pkg/audit"
	"github.com/gitpulse/gitpulse/pkg/auth"
	"github.com/gitpulse/gitpulse/pkg/middleware"
	"github.com/gitpulse/gitpulse/pkg/observability"
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

	t.Cleanup(func() { db.Close() })
	return db
}

func newTestServer(t *testing.T, db *sql.DB) *Server {
	t.Helper()
	server := NewServer(db, Options{
		Logger: observability.NewLogger(observability.ErrorLevel, io.Discard),
	})
	authMw, err := middleware.NewAuthMiddleware(nil, auth.NewStore(db), 16, true)
	if err != nil {
		t.Fatalf("Failed to create auth middleware: %v", err)
	}
	server.RegisterRoutes(authMw)
	return server
}

func seedUser(t *testing.T, db *sql.DB, email string, super bool) int64 {
	t.Helper()
	result, err := db.Exec("INSERT INTO users (email, name, super_user) VALUES (?, ?, ?)",
		email, email, super)
	if err != nil {
		t.Fatalf("Failed to seed user %s: %v", email, err)
	}
	id, _ := result.LastInsertId()
	return id
}

// doJSON performs a request as the given user and returns the recorder.
func doJSON(t *testing.T, server *Server, method, path string, userID int64, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if userID != 0 {
		req.Header.Set(middleware.TestUserHeader, strconv.FormatInt(userID, 10))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dest); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
	}
}

// createClientVia creates a client through the API as the given user
// and returns its ID.
func createClientVia(t *testing.T, server *Server, userID int64, name string) int64 {
	t.Helper()
	rec := doJSON(t, server, http.MethodPost, "/api/clients", userID, map[string]string{"name": name})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Failed to create client %s: status %d: %s", name, rec.Code, rec.Body.String())
	}
	var client struct {
		ID int64 `json:"id"`
	}
	decodeBody(t, rec, &client)
	return client.ID
}

func inviteVia(t *testing.T, server *Server, actorID, clientID int64, email, role string) {
	t.Helper()
	rec := doJSON(t, server, http.MethodPost,
		fmt.Sprintf("/api/clients/%d/inviteMember", clientID), actorID,
		map[string]string{"email": email, "role": role})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Failed to invite %s: status %d: %s", email, rec.Code, rec.Body.String())
	}
}

// memoryAuditor records event types so tests can assert on what the
// handlers emitted.
type memoryAuditor struct {
	events []audit.EventType
}

func (m *memoryAuditor) Log(ctx context.Context, event *audit.AuditEvent) error {
	m.events = append(m.events, event.EventType)
	return nil
}

func (m *memoryAuditor) LogMembership(ctx context.Context, eventType audit.EventType, actorID *int64, clientID int64, targetEmail string, message string) error {
	m.events = append(m.events, eventType)
	return nil
}

func (m *memoryAuditor) LogDelegation(ctx context.Context, eventType audit.EventType, actorID *int64, sharerID, recipientID int64, message string) error {
	m.events = append(m.events, eventType)
	return nil
}

func (m *memoryAuditor) LogAdminAction(ctx context.Context, eventType audit.EventType, adminUserID *int64, targetUserID *int64, message string) error {
	m.events = append(m.events, eventType)
	return nil
}

func (m *memoryAuditor) LogAccessDenied(ctx context.Context, userID *int64, resourceType audit.ResourceType, resourceID string, reason string) error {
	m.events = append(m.events, audit.EventTypeAccessDenied)
	return nil
}

func (m *memoryAuditor) Close() error { return nil }

func (m *memoryAuditor) last(t *testing.T) audit.EventType {
	t.Helper()
	if len(m.events) == 0 {
		t.Fatal("Expected at least one audit event")
	}
	return m.events[len(m.events)-1]
}

func newTestServerWithAuditor(t *testing.T, db *sql.DB) (*Server, *memoryAuditor) {
	t.Helper()
	auditor := &memoryAuditor{}
	server := NewServer(db, Options{
		Auditor: auditor,
		Logger:  observability.NewLogger(observability.ErrorLevel, io.Discard),
	})
	authMw, err := middleware.NewAuthMiddleware(nil, auth.NewStore(db), 16, true)
	if err != nil {
		t.Fatalf("Failed to create auth middleware: %v", err)
	}
	server.RegisterRoutes(authMw)
	return server, auditor
}
