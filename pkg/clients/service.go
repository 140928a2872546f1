package clients

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gitpulse/gitpulse/pkg/access"
	"github.com/gitpulse/gitpulse/pkg/audit"
)

// ErrClientNotFound is returned when a lookup matches no client row.
var ErrClientNotFound = errors.New("client not found")

// ErrRepoNotFound is returned when a lookup matches no repo row.
var ErrRepoNotFound = errors.New("repo not found")

// PostgresService implements client, installation and repo management
// using PostgreSQL.
type PostgresService struct {
	db *sql.DB
}

// NewPostgresService creates a new PostgresService.
func NewPostgresService(db *sql.DB) *PostgresService {
	return &PostgresService{db: db}
}

// CreateClient creates a client and makes the creator its first
// direct admin, so the client is administrable from the start.
func (s *PostgresService) CreateClient(ctx context.Context, name string, creatorID int64) (*Client, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	client := &Client{Name: name}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO clients (name, created_at, updated_at)
		VALUES ($1, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING id, created_at, updated_at
	`, name).Scan(&client.ID, &client.CreatedAt, &client.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO user_client_roles (user_id, client_id, role, delegation_id, created_at)
		VALUES ($1, $2, $3, NULL, CURRENT_TIMESTAMP)
	`, creatorID, client.ID, access.RoleAdmin.String())
	if err != nil {
		return nil, fmt.Errorf("failed to create bootstrap admin: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return client, nil
}

// GetClient retrieves a client with its member and repo counts.
// Member count covers direct members only; delegated users are listed
// separately by ListMembers.
func (s *PostgresService) GetClient(ctx context.Context, id int64) (*ClientDetail, error) {
	detail := &ClientDetail{}
	err := s.db.QueryRowContext(ctx, `
		SELECT c.id, c.name, c.created_at, c.updated_at,
		       (SELECT COUNT(*) FROM user_client_roles r
		        WHERE r.client_id = c.id AND r.delegation_id IS NULL),
		       (SELECT COUNT(*) FROM github_repos gr
		        JOIN github_installations gi ON gi.id = gr.installation_id
		        WHERE gi.client_id = c.id)
		FROM clients c
		WHERE c.id = $1
	`, id).Scan(&detail.ID, &detail.Name, &detail.CreatedAt, &detail.UpdatedAt,
		&detail.MemberCount, &detail.RepoCount)
	if err == sql.ErrNoRows {
		return nil, ErrClientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	return detail, nil
}

// ListClientsForUser lists the clients the user can see, i.e. those
// where any membership row exists. Superusers list everything via
// ListClients instead.
func (s *PostgresService) ListClientsForUser(ctx context.Context, userID int64) ([]*Client, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT c.id, c.name, c.created_at, c.updated_at
		FROM clients c
		JOIN user_client_roles r ON r.client_id = c.id
		WHERE r.user_id = $1
		ORDER BY c.id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	defer rows.Close()
	return scanClients(rows)
}

// ListClients lists every client.
func (s *PostgresService) ListClients(ctx context.Context) ([]*Client, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, created_at, updated_at FROM clients ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	defer rows.Close()
	return scanClients(rows)
}

func scanClients(rows *sql.Rows) ([]*Client, error) {
	var clients []*Client
	for rows.Next() {
		c := &Client{}
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

// ListMembers lists everyone with any membership row on the client,
// with effective role and provenance. Each user appears once; derived
// access names the recipient client whose delegation grants it.
func (s *PostgresService) ListMembers(ctx context.Context, clientID int64) ([]*Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.email, u.name, r.role, r.delegation_id, rc.name
		FROM user_client_roles r
		JOIN users u ON u.id = r.user_id
		LEFT JOIN shared_client_access d ON d.id = r.delegation_id
		LEFT JOIN clients rc ON rc.id = d.recipient_id
		WHERE r.client_id = $1
		ORDER BY u.id, r.delegation_id
	`, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []*Member
	var current *Member
	var currentRole access.Role
	for rows.Next() {
		var userID int64
		var email, name, roleName string
		var delegationID sql.NullInt64
		var viaName sql.NullString
		if err := rows.Scan(&userID, &email, &name, &roleName, &delegationID, &viaName); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		role, err := access.ParseRole(roleName)
		if err != nil {
			return nil, err
		}

		if current == nil || current.UserID != userID {
			current = &Member{UserID: userID, Email: email, Name: name}
			currentRole = role
			members = append(members, current)
		} else if role > currentRole {
			currentRole = role
		}
		current.Role = currentRole.String()

		if delegationID.Valid {
			if viaName.Valid {
				current.ViaClients = append(current.ViaClients, viaName.String)
			}
		} else {
			current.Direct = true
		}
	}
	return members, rows.Err()
}

// CreateInstallation records a GitHub App installation for a client.
func (s *PostgresService) CreateInstallation(ctx context.Context, clientID, githubID int64, accountLogin string) (*Installation, error) {
	inst := &Installation{GithubID: githubID, ClientID: clientID, AccountLogin: accountLogin}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO github_installations (github_id, client_id, account_login, created_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP)
		RETURNING id, created_at
	`, githubID, clientID, accountLogin).Scan(&inst.ID, &inst.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create installation: %w", err)
	}
	return inst, nil
}

// CreateRepo tracks a repository under an installation.
func (s *PostgresService) CreateRepo(ctx context.Context, installationID int64, owner, name string) (*Repo, error) {
	repo := &Repo{InstallationID: installationID, Owner: owner, Name: name, Enabled: true}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO github_repos (installation_id, owner, name, is_enabled)
		VALUES ($1, $2, $3, TRUE)
		RETURNING id
	`, installationID, owner, name).Scan(&repo.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create repo: %w", err)
	}

	var clientID int64
	if err := s.db.QueryRowContext(ctx, `
		SELECT client_id FROM github_installations WHERE id = $1
	`, installationID).Scan(&clientID); err != nil {
		return nil, fmt.Errorf("failed to resolve installation client: %w", err)
	}

	audit.FromContext(ctx).Log(ctx, &audit.AuditEvent{
		Timestamp:    time.Now().UTC(),
		EventType:    audit.EventTypeRepoCreate,
		Status:       audit.EventStatusSuccess,
		ClientID:     &clientID,
		ResourceType: audit.ResourceTypeRepo,
		ResourceID:   strconv.FormatInt(repo.ID, 10),
		Message:      fmt.Sprintf("tracking %s/%s", owner, name),
	})
	return repo, nil
}

// ListRepos lists every tracked repo across the client's
// installations.
func (s *PostgresService) ListRepos(ctx context.Context, clientID int64) ([]*Repo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.installation_id, r.owner, r.name, r.is_enabled
		FROM github_repos r
		JOIN github_installations i ON i.id = r.installation_id
		WHERE i.client_id = $1
		ORDER BY r.owner, r.name
	`, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list repos: %w", err)
	}
	defer rows.Close()

	var repos []*Repo
	for rows.Next() {
		r := &Repo{}
		if err := rows.Scan(&r.ID, &r.InstallationID, &r.Owner, &r.Name, &r.Enabled); err != nil {
			return nil, fmt.Errorf("failed to scan repo: %w", err)
		}
		repos = append(repos, r)
	}
	return repos, rows.Err()
}

// SetRepoEnabled toggles tracking for a repo.
func (s *PostgresService) SetRepoEnabled(ctx context.Context, repoID int64, enabled bool) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE github_repos SET is_enabled = $1 WHERE id = $2
	`, enabled, repoID)
	if err != nil {
		return fmt.Errorf("failed to update repo: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrRepoNotFound
	}
	return nil
}
