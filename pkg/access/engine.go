package access

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// Engine runs the membership and delegation mutations. Every mutation
// executes in a single serializable transaction so the derived rows
// can never be observed half-propagated. Delegation is one hop only:
// a derived row never spawns further derived rows, which keeps each
// fan-out bounded by the direct member count of one client.
type Engine struct {
	db      *sql.DB
	txOpts  *sql.TxOptions
	observe Observer
}

// Observer receives the outcome of each mutation together with the
// number of derived rows it touched. Used to feed metrics without
// coupling this package to a metrics library.
type Observer func(operation, status string, fanOut int64)

// NewEngine creates a propagation engine over the given database.
func NewEngine(db *sql.DB) *Engine {
	return &Engine{
		db:     db,
		txOpts: &sql.TxOptions{Isolation: sql.LevelSerializable},
	}
}

// SetObserver installs a mutation observer. Must be called before the
// engine is shared across goroutines.
func (e *Engine) SetObserver(obs Observer) {
	e.observe = obs
}

func (e *Engine) report(operation string, err error, fanOut int64) {
	if e.observe == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	e.observe(operation, status, fanOut)
}

const txAttempts = 3

// withTx runs fn in a serializable transaction, retrying on
// serialization failures.
func (e *Engine) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var err error
	for attempt := 0; attempt < txAttempts; attempt++ {
		err = e.runTx(ctx, fn)
		if !isSerializationFailure(err) {
			return err
		}
	}
	return err
}

func (e *Engine) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := e.db.BeginTx(ctx, e.txOpts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "40001"
}

// requireAdmin checks inside the transaction that the actor may
// administer the client. Superusers always pass.
func requireAdmin(ctx context.Context, q querier, op string, actorID, clientID int64) error {
	super, err := userSuper(ctx, q, op, actorID)
	if err != nil {
		return err
	}
	if super {
		return nil
	}
	role, found, err := effectiveRole(ctx, q, actorID, clientID)
	if err != nil {
		return err
	}
	if !found {
		return errf(KindNoMembership, op, "user %d has no membership on client %d", actorID, clientID)
	}
	if !role.Satisfies(RoleAdmin) {
		return errf(KindInsufficientRole, op, "user %d has role %s on client %d, %s required",
			actorID, role, clientID, RoleAdmin)
	}
	return nil
}

// InviteMember grants the user identified by email a direct role on
// the client. Inviting an existing direct member upgrades their role
// in place when the new role ranks higher and is a no-op otherwise;
// the returned flag reports whether an upgrade happened. After the
// direct row lands, the user gains derived SHARED_ACCESS rows on
// every client that shares into this one.
func (e *Engine) InviteMember(ctx context.Context, actorID, clientID int64, email string, role Role) (*Membership, bool, error) {
	const op = "access.InviteMember"

	if role != RoleUser && role != RoleAdmin {
		return nil, false, errf(KindInvalid, op, "members are invited as %s or %s, got %s", RoleUser, RoleAdmin, role)
	}

	var membership *Membership
	var upgraded bool
	var fanOut int64
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		upgraded = false
		if err := clientExists(ctx, tx, op, clientID); err != nil {
			return err
		}
		if err := requireAdmin(ctx, tx, op, actorID, clientID); err != nil {
			return err
		}
		userID, err := userIDByEmail(ctx, tx, op, email)
		if err != nil {
			return err
		}

		existing, err := directMembership(ctx, tx, userID, clientID)
		if err != nil {
			return err
		}
		if existing != nil {
			// Invites only ever raise a member's role. An equal or
			// lower role leaves the existing grant untouched rather
			// than downgrading it.
			if role.Satisfies(existing.Role) && role != existing.Role {
				if err := updateDirectRole(ctx, tx, existing.ID, role); err != nil {
					return err
				}
				existing.Role = role
				existing.RoleName = role.String()
				upgraded = true
			}
			membership = existing
		} else {
			membership, err = insertDirectMembership(ctx, tx, userID, clientID, role)
			if err != nil {
				if isUniqueViolation(err) {
					return errf(KindDuplicate, op, "user %d already has a direct role on client %d", userID, clientID)
				}
				return fmt.Errorf("failed to insert membership: %w", err)
			}
		}

		fanOut, err = fanOutToSharers(ctx, tx, userID, clientID)
		return err
	})
	e.report("invite_member", err, fanOut)
	if err != nil {
		return nil, false, err
	}
	return membership, upgraded, nil
}

// RemoveMember deletes the user's direct membership on the client and
// prunes every derived row that membership justified. Removing the
// last direct admin is refused; members may remove themselves subject
// to the same rule.
func (e *Engine) RemoveMember(ctx context.Context, actorID, clientID int64, email string) error {
	const op = "access.RemoveMember"

	var fanOut int64
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		if err := clientExists(ctx, tx, op, clientID); err != nil {
			return err
		}
		if err := requireAdmin(ctx, tx, op, actorID, clientID); err != nil {
			return err
		}
		userID, err := userIDByEmail(ctx, tx, op, email)
		if err != nil {
			return err
		}

		existing, err := directMembership(ctx, tx, userID, clientID)
		if err != nil {
			return err
		}
		if existing == nil {
			return errf(KindNotAMember, op, "user %d is not a direct member of client %d", userID, clientID)
		}
		if existing.Role == RoleAdmin {
			admins, err := countDirectAdmins(ctx, tx, clientID)
			if err != nil {
				return err
			}
			if admins <= 1 {
				return errf(KindLastAdminViolation, op, "client %d would be left without an admin", clientID)
			}
		}

		if _, err := deleteDirectMemberships(ctx, tx, userID, clientID, []Role{existing.Role}); err != nil {
			return err
		}
		fanOut, err = pruneUnjustifiedDerived(ctx, tx, userID, clientID)
		return err
	})
	e.report("remove_member", err, fanOut)
	return err
}

// ShareAccess creates a delegation from sharer to recipient and grants
// every direct USER or ADMIN member of the recipient a derived
// SHARED_ACCESS row on the sharer. Sharing is directional; it never
// grants sharer members anything on the recipient.
func (e *Engine) ShareAccess(ctx context.Context, actorID, sharerID, recipientID int64) (*Delegation, error) {
	const op = "access.ShareAccess"

	if sharerID == recipientID {
		return nil, errf(KindInvalid, op, "client %d cannot share access with itself", sharerID)
	}

	var delegation *Delegation
	var fanOut int64
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		if err := clientExists(ctx, tx, op, sharerID); err != nil {
			return err
		}
		if err := requireAdmin(ctx, tx, op, actorID, sharerID); err != nil {
			return err
		}
		if err := clientExists(ctx, tx, op, recipientID); err != nil {
			if KindOf(err) == KindUnknownResource {
				return errf(KindUnknownRecipient, op, "recipient client %d does not exist", recipientID)
			}
			return err
		}
		existing, err := getDelegation(ctx, tx, sharerID, recipientID)
		if err != nil {
			return err
		}
		if existing != nil {
			return errf(KindDuplicate, op, "client %d already shares access with client %d", sharerID, recipientID)
		}

		delegation, err = insertDelegation(ctx, tx, sharerID, recipientID)
		if err != nil {
			if isUniqueViolation(err) {
				return errf(KindDuplicate, op, "client %d already shares access with client %d", sharerID, recipientID)
			}
			if isForeignKeyViolation(err) {
				return errf(KindUnknownRecipient, op, "recipient client %d does not exist", recipientID)
			}
			return fmt.Errorf("failed to insert delegation: %w", err)
		}
		fanOut, err = fanOutToRecipientMembers(ctx, tx, delegation.ID, sharerID, recipientID)
		return err
	})
	e.report("share_access", err, fanOut)
	if err != nil {
		return nil, err
	}
	return delegation, nil
}

// RevokeAccess deletes the delegation from sharer to recipient along
// with every derived row it justified. Direct memberships are never
// touched.
func (e *Engine) RevokeAccess(ctx context.Context, actorID, sharerID, recipientID int64) error {
	const op = "access.RevokeAccess"

	var fanOut int64
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		if err := clientExists(ctx, tx, op, sharerID); err != nil {
			return err
		}
		if err := requireAdmin(ctx, tx, op, actorID, sharerID); err != nil {
			return err
		}
		delegation, err := getDelegation(ctx, tx, sharerID, recipientID)
		if err != nil {
			return err
		}
		if delegation == nil {
			return errf(KindNotFound, op, "client %d does not share access with client %d", sharerID, recipientID)
		}
		fanOut, err = deleteDerivedByDelegation(ctx, tx, delegation.ID)
		if err != nil {
			return err
		}
		return deleteDelegation(ctx, tx, delegation.ID)
	})
	e.report("revoke_access", err, fanOut)
	return err
}
