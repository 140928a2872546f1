package access

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// querier is the subset of *sql.DB and *sql.Tx the access queries
// need. The engine runs every mutation against a transaction; the
// resolver and Store read against the pool directly.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store exposes read access to memberships and delegations, and the
// direct-membership mutations available outside the propagation
// engine. Derived rows can only be created or destroyed by the engine.
type Store struct {
	db *sql.DB
}

// NewStore creates a membership store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// ListMemberships returns every membership row for the (user, client)
// pair, direct and derived.
func (s *Store) ListMemberships(ctx context.Context, userID, clientID int64) ([]Membership, error) {
	return listMemberships(ctx, s.db, userID, clientID)
}

// EffectiveRole returns the highest ranked role across all membership
// rows for the pair. The second return is false when no rows exist.
func (s *Store) EffectiveRole(ctx context.Context, userID, clientID int64) (Role, bool, error) {
	return effectiveRole(ctx, s.db, userID, clientID)
}

// ListDelegations returns all delegations in which the client
// participates, as sharer or as recipient.
func (s *Store) ListDelegations(ctx context.Context, clientID int64) ([]Delegation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sharer_id, recipient_id, created_at
		FROM shared_client_access
		WHERE sharer_id = $1 OR recipient_id = $1
		ORDER BY created_at ASC
	`, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list delegations: %w", err)
	}
	defer rows.Close()

	var delegations []Delegation
	for rows.Next() {
		var d Delegation
		if err := rows.Scan(&d.ID, &d.SharerID, &d.RecipientID, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan delegation: %w", err)
		}
		delegations = append(delegations, d)
	}
	return delegations, rows.Err()
}

// CreateDirectMembership inserts a direct row for the pair. It fails
// with KindDuplicate if a direct row already exists; invite goes
// through the engine instead, which upgrades in place.
func (s *Store) CreateDirectMembership(ctx context.Context, userID, clientID int64, role Role) (*Membership, error) {
	const op = "access.CreateDirectMembership"
	m, err := insertDirectMembership(ctx, s.db, userID, clientID, role)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, errf(KindDuplicate, op, "user %d already has a direct role on client %d", userID, clientID)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return m, nil
}

// DeleteDirectMemberships removes the direct rows matching the given
// role set and returns how many were deleted. Derived rows are never
// touched.
func (s *Store) DeleteDirectMemberships(ctx context.Context, userID, clientID int64, roles []Role) (int64, error) {
	return deleteDirectMemberships(ctx, s.db, userID, clientID, roles)
}

// SweepDerived deletes derived rows that no delegation justifies any
// more: the delegation is gone, points at a different sharer, or the
// user no longer holds a direct USER/ADMIN role on the recipient. The
// mutation paths keep these rows consistent inline; the sweep exists
// for drift introduced outside the engine, such as manual data fixes.
func (s *Store) SweepDerived(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM user_client_roles
		WHERE id IN (
			SELECT d.id FROM user_client_roles d
			LEFT JOIN shared_client_access sca ON sca.id = d.delegation_id
			WHERE d.delegation_id IS NOT NULL
			  AND (sca.id IS NULL
				OR sca.sharer_id <> d.client_id
				OR NOT EXISTS (
					SELECT 1 FROM user_client_roles r
					WHERE r.user_id = d.user_id
					  AND r.client_id = sca.recipient_id
					  AND r.delegation_id IS NULL
					  AND r.role IN ($1, $2)
				))
		)
	`, RoleUser.String(), RoleAdmin.String())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep derived memberships: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

// userExists returns the superuser flag for the user, or a
// KindUnknownPrincipal error.
func userSuper(ctx context.Context, q querier, op string, userID int64) (bool, error) {
	var super bool
	err := q.QueryRowContext(ctx, `SELECT super_user FROM users WHERE id = $1`, userID).Scan(&super)
	if err == sql.ErrNoRows {
		return false, errf(KindUnknownPrincipal, op, "user %d does not exist", userID)
	}
	if err != nil {
		return false, fmt.Errorf("failed to load user %d: %w", userID, err)
	}
	return super, nil
}

// userIDByEmail resolves an email to a user id, or KindUnknownPrincipal.
func userIDByEmail(ctx context.Context, q querier, op, email string) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `SELECT id FROM users WHERE email = $1`, email).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, errf(KindUnknownPrincipal, op, "no user with email %s", email)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load user by email: %w", err)
	}
	return id, nil
}

// clientExists checks the client row, returning KindUnknownResource
// when absent.
func clientExists(ctx context.Context, q querier, op string, clientID int64) error {
	var id int64
	err := q.QueryRowContext(ctx, `SELECT id FROM clients WHERE id = $1`, clientID).Scan(&id)
	if err == sql.ErrNoRows {
		return errf(KindUnknownResource, op, "client %d does not exist", clientID)
	}
	if err != nil {
		return fmt.Errorf("failed to load client %d: %w", clientID, err)
	}
	return nil
}

func listMemberships(ctx context.Context, q querier, userID, clientID int64) ([]Membership, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, user_id, client_id, role, delegation_id, created_at
		FROM user_client_roles
		WHERE user_id = $1 AND client_id = $2
	`, userID, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()
	return scanMemberships(rows)
}

func scanMemberships(rows *sql.Rows) ([]Membership, error) {
	var memberships []Membership
	for rows.Next() {
		var m Membership
		var roleName string
		var delegationID sql.NullInt64
		if err := rows.Scan(&m.ID, &m.UserID, &m.ClientID, &roleName, &delegationID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		role, err := ParseRole(roleName)
		if err != nil {
			return nil, err
		}
		m.Role = role
		m.RoleName = roleName
		if delegationID.Valid {
			id := delegationID.Int64
			m.DelegationID = &id
		}
		memberships = append(memberships, m)
	}
	return memberships, rows.Err()
}

// effectiveRole computes the maximum rank across all membership rows
// for the pair. At most one query; the propagation engine keeps the
// derived rows precomputed so no delegation traversal happens here.
func effectiveRole(ctx context.Context, q querier, userID, clientID int64) (Role, bool, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT role FROM user_client_roles
		WHERE user_id = $1 AND client_id = $2
	`, userID, clientID)
	if err != nil {
		return 0, false, fmt.Errorf("failed to query roles: %w", err)
	}
	defer rows.Close()

	best := RoleSharedAccess
	found := false
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return 0, false, fmt.Errorf("failed to scan role: %w", err)
		}
		role, err := ParseRole(name)
		if err != nil {
			return 0, false, err
		}
		if !found || role > best {
			best = role
		}
		found = true
	}
	if err := rows.Err(); err != nil {
		return 0, false, err
	}
	return best, found, nil
}

// directMembership loads the single direct row for the pair, or nil.
func directMembership(ctx context.Context, q querier, userID, clientID int64) (*Membership, error) {
	var m Membership
	var roleName string
	err := q.QueryRowContext(ctx, `
		SELECT id, user_id, client_id, role, created_at
		FROM user_client_roles
		WHERE user_id = $1 AND client_id = $2 AND delegation_id IS NULL
	`, userID, clientID).Scan(&m.ID, &m.UserID, &m.ClientID, &roleName, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load direct membership: %w", err)
	}
	role, err := ParseRole(roleName)
	if err != nil {
		return nil, err
	}
	m.Role = role
	m.RoleName = roleName
	return &m, nil
}

func insertDirectMembership(ctx context.Context, q querier, userID, clientID int64, role Role) (*Membership, error) {
	now := time.Now().UTC()
	var id int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO user_client_roles (user_id, client_id, role, delegation_id, created_at)
		VALUES ($1, $2, $3, NULL, $4)
		RETURNING id
	`, userID, clientID, role.String(), now).Scan(&id)
	if err != nil {
		return nil, err
	}
	return &Membership{
		ID:        id,
		UserID:    userID,
		ClientID:  clientID,
		Role:      role,
		RoleName:  role.String(),
		CreatedAt: now,
	}, nil
}

func updateDirectRole(ctx context.Context, q querier, membershipID int64, role Role) error {
	_, err := q.ExecContext(ctx, `
		UPDATE user_client_roles SET role = $1 WHERE id = $2 AND delegation_id IS NULL
	`, role.String(), membershipID)
	if err != nil {
		return fmt.Errorf("failed to update direct role: %w", err)
	}
	return nil
}

func deleteDirectMemberships(ctx context.Context, q querier, userID, clientID int64, roles []Role) (int64, error) {
	if len(roles) == 0 {
		return 0, nil
	}
	query := `
		DELETE FROM user_client_roles
		WHERE user_id = $1 AND client_id = $2 AND delegation_id IS NULL AND role IN (`
	args := []any{userID, clientID}
	for i, role := range roles {
		if i > 0 {
			query += ", "
		}
		query += fmt.Sprintf("$%d", len(args)+1)
		args = append(args, role.String())
	}
	query += ")"

	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete direct memberships: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

// countDirectAdmins returns how many direct ADMIN rows the client has.
func countDirectAdmins(ctx context.Context, q querier, clientID int64) (int64, error) {
	var count int64
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM user_client_roles
		WHERE client_id = $1 AND delegation_id IS NULL AND role = $2
	`, clientID, RoleAdmin.String()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count direct admins: %w", err)
	}
	return count, nil
}

// fanOutToSharers creates the derived SHARED_ACCESS rows a user gains
// from every delegation that shares into clients the user just became
// a direct member of. Existing rows and direct roles on the sharer are
// skipped, so the insert is idempotent.
func fanOutToSharers(ctx context.Context, q querier, userID, recipientID int64) (int64, error) {
	result, err := q.ExecContext(ctx, `
		INSERT INTO user_client_roles (user_id, client_id, role, delegation_id, created_at)
		SELECT $1, d.sharer_id, $2, d.id, $3
		FROM shared_client_access d
		WHERE d.recipient_id = $4
		  AND NOT EXISTS (
			SELECT 1 FROM user_client_roles r
			WHERE r.user_id = $1 AND r.client_id = d.sharer_id
			  AND r.delegation_id IS NULL AND r.role IN ($5, $6)
		  )
		  AND NOT EXISTS (
			SELECT 1 FROM user_client_roles r
			WHERE r.user_id = $1 AND r.client_id = d.sharer_id AND r.delegation_id = d.id
		  )
	`, userID, RoleSharedAccess.String(), time.Now().UTC(), recipientID,
		RoleUser.String(), RoleAdmin.String())
	if err != nil {
		return 0, fmt.Errorf("failed to fan out derived memberships: %w", err)
	}
	created, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return created, nil
}

// fanOutToRecipientMembers creates the derived SHARED_ACCESS rows on
// the sharer for every direct USER/ADMIN member of the recipient,
// skipping members who already hold a direct USER/ADMIN role on the
// sharer.
func fanOutToRecipientMembers(ctx context.Context, q querier, delegationID, sharerID, recipientID int64) (int64, error) {
	result, err := q.ExecContext(ctx, `
		INSERT INTO user_client_roles (user_id, client_id, role, delegation_id, created_at)
		SELECT r.user_id, $1, $2, $3, $4
		FROM user_client_roles r
		WHERE r.client_id = $5 AND r.delegation_id IS NULL AND r.role IN ($6, $7)
		  AND NOT EXISTS (
			SELECT 1 FROM user_client_roles x
			WHERE x.user_id = r.user_id AND x.client_id = $1
			  AND x.delegation_id IS NULL AND x.role IN ($6, $7)
		  )
	`, sharerID, RoleSharedAccess.String(), delegationID, time.Now().UTC(), recipientID,
		RoleUser.String(), RoleAdmin.String())
	if err != nil {
		return 0, fmt.Errorf("failed to fan out derived memberships: %w", err)
	}
	created, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return created, nil
}

// pruneUnjustifiedDerived deletes the user's derived rows for every
// delegation whose recipient is recipientID, unless the user still
// holds a direct USER/ADMIN role on that recipient. Recomputing the
// justification per delegation is deliberate: delegation is one hop
// only, so the fan-out stays small and there is no reference count to
// drift.
func pruneUnjustifiedDerived(ctx context.Context, q querier, userID, recipientID int64) (int64, error) {
	result, err := q.ExecContext(ctx, `
		DELETE FROM user_client_roles
		WHERE user_id = $1
		  AND delegation_id IN (
			SELECT id FROM shared_client_access WHERE recipient_id = $2
		  )
		  AND NOT EXISTS (
			SELECT 1 FROM user_client_roles r
			WHERE r.user_id = $1 AND r.client_id = $2
			  AND r.delegation_id IS NULL AND r.role IN ($3, $4)
		  )
	`, userID, recipientID, RoleUser.String(), RoleAdmin.String())
	if err != nil {
		return 0, fmt.Errorf("failed to prune derived memberships: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

// deleteDerivedByDelegation removes every derived row keyed by the
// delegation. Cascade is explicit here so the invariant holds even on
// stores without cascading foreign keys.
func deleteDerivedByDelegation(ctx context.Context, q querier, delegationID int64) (int64, error) {
	result, err := q.ExecContext(ctx, `
		DELETE FROM user_client_roles WHERE delegation_id = $1
	`, delegationID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete derived memberships: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

func getDelegation(ctx context.Context, q querier, sharerID, recipientID int64) (*Delegation, error) {
	var d Delegation
	err := q.QueryRowContext(ctx, `
		SELECT id, sharer_id, recipient_id, created_at
		FROM shared_client_access
		WHERE sharer_id = $1 AND recipient_id = $2
	`, sharerID, recipientID).Scan(&d.ID, &d.SharerID, &d.RecipientID, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load delegation: %w", err)
	}
	return &d, nil
}

func insertDelegation(ctx context.Context, q querier, sharerID, recipientID int64) (*Delegation, error) {
	now := time.Now().UTC()
	var id int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO shared_client_access (sharer_id, recipient_id, created_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`, sharerID, recipientID, now).Scan(&id)
	if err != nil {
		return nil, err
	}
	return &Delegation{ID: id, SharerID: sharerID, RecipientID: recipientID, CreatedAt: now}, nil
}

func deleteDelegation(ctx context.Context, q querier, delegationID int64) error {
	_, err := q.ExecContext(ctx, `DELETE FROM shared_client_access WHERE id = $1`, delegationID)
	if err != nil {
		return fmt.Errorf("failed to delete delegation: %w", err)
	}
	return nil
}

// loadRepo resolves a repo and its owning client through the
// installation edge. A non-nil clientID hint additionally requires the
// repo to belong to that client.
func loadRepo(ctx context.Context, q querier, op string, repoID int64, clientID *int64) (*Repo, error) {
	query := `
		SELECT r.id, r.installation_id, i.client_id, r.owner, r.name, r.is_enabled
		FROM github_repos r
		JOIN github_installations i ON i.id = r.installation_id
		WHERE r.id = $1
	`
	args := []any{repoID}
	if clientID != nil {
		query += ` AND i.client_id = $2`
		args = append(args, *clientID)
	}

	var repo Repo
	err := q.QueryRowContext(ctx, query, args...).Scan(
		&repo.ID, &repo.InstallationID, &repo.ClientID, &repo.Owner, &repo.Name, &repo.Enabled,
	)
	if err == sql.ErrNoRows {
		return nil, errf(KindUnknownResource, op, "repo %d not found", repoID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load repo %d: %w", repoID, err)
	}
	return &repo, nil
}
