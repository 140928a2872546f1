package access

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// Kind classifies access-control failures. Handlers map kinds to HTTP
// statuses; the resolver and engine never retry on any of them.
type Kind string

const (
	// KindUnknownPrincipal means the referenced user does not exist.
	KindUnknownPrincipal Kind = "unknown_principal"

	// KindUnknownResource means the referenced client or repo does not
	// exist, or the repo does not belong to the hinted client.
	KindUnknownResource Kind = "unknown_resource"

	// KindNoMembership means the user has no membership rows on the
	// client and is not a superuser.
	KindNoMembership Kind = "no_membership"

	// KindInsufficientRole means the user's effective role is ranked
	// below the required role.
	KindInsufficientRole Kind = "insufficient_role"

	// KindNotAMember means a member operation targeted a user with no
	// direct membership row to act on.
	KindNotAMember Kind = "not_a_member"

	// KindLastAdminViolation means a removal would leave the client
	// with zero direct admins.
	KindLastAdminViolation Kind = "last_admin_violation"

	// KindUnknownRecipient means a share referenced a client that does
	// not exist.
	KindUnknownRecipient Kind = "unknown_recipient"

	// KindNotFound means a revoke referenced a delegation that does
	// not exist.
	KindNotFound Kind = "not_found"

	// KindDuplicate means a create collided with an existing row where
	// upsert semantics were not expected.
	KindDuplicate Kind = "duplicate"

	// KindInvalid means the request itself is malformed, such as a
	// client sharing access with itself.
	KindInvalid Kind = "invalid_argument"
)

// Error is the failure type returned by the resolver and the engine.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "access.CheckAccess"
	Msg  string
	Err  error // underlying cause, if any
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// errf builds an *Error with a formatted message.
func errf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from an error chain, or "" if the error is
// not an access error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsDenied reports whether the error is an authorization denial, i.e.
// a deliberate decision rather than an infrastructure fault.
func IsDenied(err error) bool {
	switch KindOf(err) {
	case KindUnknownPrincipal, KindUnknownResource, KindNoMembership, KindInsufficientRole:
		return true
	}
	return false
}

// Postgres error codes surfaced by lib/pq.
const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

// isUniqueViolation reports whether err is a unique-constraint
// violation. The string fallback covers the sqlite driver used by
// tests.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqUniqueViolation
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isForeignKeyViolation reports whether err is a foreign-key
// violation.
func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqForeignKeyViolation
	}
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
