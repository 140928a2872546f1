// Package contextkeys provides centralized context key definitions.
//
// All context keys used across the application are defined here to
// prevent typos and make key usage discoverable.
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// AuthKey contains *auth.AuthContext
	// Set by: middleware.AuthMiddleware (pkg/middleware/auth.go)
	// Required by: all protected API endpoints
	AuthKey Key = "auth_context"

	// RequestIDKey contains the request ID string (UUID)
	// Set by: observability request middleware
	// Used by: logger, audit trail
	RequestIDKey Key = "request_id"

	// AuditLoggerKey contains an audit.Logger
	// Set by: pkg/audit middleware
	// Used by: handlers that record audit events
	AuditLoggerKey Key = "audit_logger"
)

// WithAuth adds authentication context to the context
func WithAuth(ctx context.Context, authCtx interface{}) context.Context {
	return context.WithValue(ctx, AuthKey, authCtx)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// RequestID extracts the request ID from the context, or ""
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}
