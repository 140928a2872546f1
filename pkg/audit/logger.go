package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/gitpulse/gitpulse/pkg/contextkeys"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *AuditEvent) error

	// LogMembership logs membership grants, role changes and removals
	// against a client.
	LogMembership(ctx context.Context, eventType EventType, actorID *int64, clientID int64, targetEmail string, message string) error

	// LogDelegation logs access sharing grants and revocations between
	// two clients.
	LogDelegation(ctx context.Context, eventType EventType, actorID *int64, sharerID, recipientID int64, message string) error

	// LogAdminAction logs an operator action against a user
	LogAdminAction(ctx context.Context, eventType EventType, adminUserID *int64, targetUserID *int64, message string) error

	// LogAccessDenied records a failed authorization check.
	LogAccessDenied(ctx context.Context, userID *int64, resourceType ResourceType, resourceID string, reason string) error

	// Close closes the logger and flushes any buffered logs
	Close() error
}

// WithLogger adds an audit logger to the context
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, contextkeys.AuditLoggerKey, logger)
}

// FromContext retrieves the audit logger from context. Returns a no-op
// logger if none is set so call sites never need a nil check.
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(contextkeys.AuditLoggerKey).(Logger); ok {
		return logger
	}
	return &noOpLogger{}
}

// NopLogger returns a logger that discards every event.
func NopLogger() Logger {
	return &noOpLogger{}
}

type noOpLogger struct{}

func (l *noOpLogger) Log(ctx context.Context, event *AuditEvent) error {
	return nil
}

func (l *noOpLogger) LogMembership(ctx context.Context, eventType EventType, actorID *int64, clientID int64, targetEmail string, message string) error {
	return nil
}

func (l *noOpLogger) LogDelegation(ctx context.Context, eventType EventType, actorID *int64, sharerID, recipientID int64, message string) error {
	return nil
}

func (l *noOpLogger) LogAdminAction(ctx context.Context, eventType EventType, adminUserID *int64, targetUserID *int64, message string) error {
	return nil
}

func (l *noOpLogger) LogAccessDenied(ctx context.Context, userID *int64, resourceType ResourceType, resourceID string, reason string) error {
	return nil
}

func (l *noOpLogger) Close() error {
	return nil
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}

// buildBaseEvent creates a base audit event with common fields populated
func buildBaseEvent(ctx context.Context, r *http.Request, eventType EventType, status EventStatus) *AuditEvent {
	event := &AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		RequestID: contextkeys.RequestID(ctx),
		Metadata:  make(map[string]interface{}),
	}

	if r != nil {
		event.IPAddress = getClientIP(r)
		event.Method = r.Method
		event.Path = r.URL.Path
	}

	return event
}
