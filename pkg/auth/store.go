package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// ErrUserNotFound is returned when a lookup matches no user row.
var ErrUserNotFound = errors.New("user not found")

// Store manages user rows.
type Store struct {
	db *sql.DB
}

// NewStore creates a user store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const userColumns = `id, email, name, super_user, created_at, updated_at`

func scanUser(row *sql.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.SuperUser, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &u, nil
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(ctx context.Context, id int64) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetUserByEmail retrieves a user by email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

// CreateUser inserts a new user. The email must be unique.
func (s *Store) CreateUser(ctx context.Context, email, name string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO users (email, name, super_user, created_at, updated_at)
		VALUES ($1, $2, FALSE, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING `+userColumns,
		email, name)
	u, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("user with email %s already exists", email)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return u, nil
}

// GetOrCreateByEmail resolves an email to a user, provisioning the row
// on first login.
func (s *Store) GetOrCreateByEmail(ctx context.Context, email, name string) (*User, error) {
	u, err := s.GetUserByEmail(ctx, email)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}
	u, err = s.CreateUser(ctx, email, name)
	if err == nil {
		return u, nil
	}
	// Lost a provisioning race: the row exists now.
	if u2, err2 := s.GetUserByEmail(ctx, email); err2 == nil {
		return u2, nil
	}
	return nil, err
}

// SetSuperUser flips the superuser flag on a user.
func (s *Store) SetSuperUser(ctx context.Context, id int64, super bool) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET super_user = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2
	`, super, id)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
