package access

import (
	"context"
	"database/sql"
)

// Resolver answers access-control questions. Reads are cheap: the
// propagation engine keeps derived rows materialized, so a check is a
// handful of point queries with no delegation traversal.
type Resolver struct {
	db *sql.DB
}

// NewResolver creates a resolver over the given database.
func NewResolver(db *sql.DB) *Resolver {
	return &Resolver{db: db}
}

// CheckAccess verifies that the user holds at least the required role
// on the client and returns the effective grant. Denials come back as
// *Error values: KindUnknownPrincipal, KindUnknownResource,
// KindNoMembership or KindInsufficientRole, all matched by IsDenied.
//
// Superusers pass every check regardless of membership; the grant is
// flagged so callers can audit it separately.
func (r *Resolver) CheckAccess(ctx context.Context, userID, clientID int64, required Role) (*Grant, error) {
	const op = "access.CheckAccess"

	super, err := userSuper(ctx, r.db, op, userID)
	if err != nil {
		return nil, err
	}
	if err := clientExists(ctx, r.db, op, clientID); err != nil {
		return nil, err
	}
	if super {
		return &Grant{UserID: userID, ClientID: clientID, Role: RoleAdmin, SuperUser: true}, nil
	}

	role, found, err := effectiveRole(ctx, r.db, userID, clientID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errf(KindNoMembership, op, "user %d has no membership on client %d", userID, clientID)
	}
	if !role.Satisfies(required) {
		return nil, errf(KindInsufficientRole, op, "user %d has role %s on client %d, %s required",
			userID, role, clientID, required)
	}
	return &Grant{UserID: userID, ClientID: clientID, Role: role}, nil
}

// CheckRepoAccess resolves a repo to its owning client and runs the
// client check. When clientID is non-nil the repo must belong to that
// client; a mismatch reads the same as a missing repo so callers can
// not probe which client owns what.
func (r *Resolver) CheckRepoAccess(ctx context.Context, userID, repoID int64, required Role, clientID *int64) (*Grant, *Repo, error) {
	const op = "access.CheckRepoAccess"

	repo, err := loadRepo(ctx, r.db, op, repoID, clientID)
	if err != nil {
		return nil, nil, err
	}
	grant, err := r.CheckAccess(ctx, userID, repo.ClientID, required)
	if err != nil {
		return nil, nil, err
	}
	return grant, repo, nil
}
