// Package audit provides audit logging for security-relevant events.
//
// Every membership change, delegation grant or revocation, superuser
// flip and denied authorization check is recorded as an AuditEvent.
// The DBLogger persists events to PostgreSQL; a no-op logger is used
// when auditing is disabled in configuration.
//
// Handlers obtain the logger from the request context:
//
//	audit.FromContext(ctx).LogMembership(ctx,
//		audit.EventTypeMemberInvite, &actorID, clientID,
//		"bob@example.com", "invited as ADMIN")
//
// Events can be searched and exported (JSON, NDJSON, CSV) through the
// operator endpoints, and the worker prunes rows past the retention
// policy.
package audit
