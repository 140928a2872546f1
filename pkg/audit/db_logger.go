package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/lib/pq"
)

// DBLogger implements audit logging to PostgreSQL
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a new database-based audit logger
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	logger := &DBLogger{db: db}

	// Ensure the audit_logs table exists
	if err := logger.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_logs table: %w", err)
	}

	return logger, nil
}

// ensureTable creates the audit_logs table if it doesn't exist
func (l *DBLogger) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_logs (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		event_type VARCHAR(100) NOT NULL,
		status VARCHAR(20) NOT NULL,
		user_id BIGINT,
		email VARCHAR(255),
		client_id BIGINT,
		resource_type VARCHAR(50),
		resource_id VARCHAR(255),
		ip_address VARCHAR(45),
		request_id VARCHAR(100),
		method VARCHAR(10),
		path TEXT,
		status_code INTEGER,
		message TEXT,
		error_message TEXT,
		metadata JSONB,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_event_type ON audit_logs(event_type);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_user_id ON audit_logs(user_id);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_client_id ON audit_logs(client_id);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_resource ON audit_logs(resource_type, resource_id);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_status ON audit_logs(status);
	`

	_, err := l.db.Exec(query)
	return err
}

// Log logs an audit event to the database
func (l *DBLogger) Log(ctx context.Context, event *AuditEvent) error {
	var metadataJSON []byte
	var err error

	if event.Metadata != nil {
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	query := `
		INSERT INTO audit_logs (
			timestamp, event_type, status,
			user_id, email, client_id,
			resource_type, resource_id,
			ip_address, request_id,
			method, path, status_code,
			message, error_message, metadata
		) VALUES (
			$1, $2, $3,
			$4, $5, $6,
			$7, $8,
			$9, $10,
			$11, $12, $13,
			$14, $15, $16
		) RETURNING id
	`

	err = l.db.QueryRowContext(ctx, query,
		event.Timestamp, event.EventType, event.Status,
		event.UserID, event.Email, event.ClientID,
		event.ResourceType, event.ResourceID,
		event.IPAddress, event.RequestID,
		event.Method, event.Path, event.StatusCode,
		event.Message, event.ErrorMessage, metadataJSON,
	).Scan(&event.ID)

	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	return nil
}

// LogMembership logs a membership change against a client
func (l *DBLogger) LogMembership(ctx context.Context, eventType EventType, actorID *int64, clientID int64, targetEmail string, message string) error {
	event := buildBaseEvent(ctx, nil, eventType, EventStatusSuccess)
	event.UserID = actorID
	event.ClientID = &clientID
	event.ResourceType = ResourceTypeClient
	event.ResourceID = strconv.FormatInt(clientID, 10)
	event.Message = message
	event.Metadata["target_email"] = targetEmail

	return l.Log(ctx, event)
}

// LogDelegation logs a sharing grant or revocation between clients
func (l *DBLogger) LogDelegation(ctx context.Context, eventType EventType, actorID *int64, sharerID, recipientID int64, message string) error {
	event := buildBaseEvent(ctx, nil, eventType, EventStatusSuccess)
	event.UserID = actorID
	event.ClientID = &sharerID
	event.ResourceType = ResourceTypeDelegation
	event.ResourceID = fmt.Sprintf("%d->%d", sharerID, recipientID)
	event.Message = message
	event.Metadata["recipient_id"] = recipientID

	return l.Log(ctx, event)
}

// LogAdminAction logs an operator action against a user
func (l *DBLogger) LogAdminAction(ctx context.Context, eventType EventType, adminUserID *int64, targetUserID *int64, message string) error {
	event := buildBaseEvent(ctx, nil, eventType, EventStatusSuccess)
	event.UserID = adminUserID
	event.ResourceType = ResourceTypeUser
	event.Message = message
	if targetUserID != nil {
		event.ResourceID = strconv.FormatInt(*targetUserID, 10)
		event.Metadata["target_user_id"] = *targetUserID
	}

	return l.Log(ctx, event)
}

// LogAccessDenied records a failed authorization check
func (l *DBLogger) LogAccessDenied(ctx context.Context, userID *int64, resourceType ResourceType, resourceID string, reason string) error {
	event := buildBaseEvent(ctx, nil, EventTypeAccessDenied, EventStatusDenied)
	event.UserID = userID
	event.ResourceType = resourceType
	event.ResourceID = resourceID
	event.Message = fmt.Sprintf("Access denied: %s", reason)

	return l.Log(ctx, event)
}

// Search searches audit logs based on filters
func (l *DBLogger) Search(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error) {
	query := `
		SELECT
			id, timestamp, event_type, status,
			user_id, email, client_id,
			resource_type, resource_id,
			ip_address, request_id,
			method, path, status_code,
			message, error_message, metadata
		FROM audit_logs
		WHERE 1=1
	`

	args := []interface{}{}
	argCount := 1

	if filter.StartTime != nil {
		query += fmt.Sprintf(" AND timestamp >= $%d", argCount)
		args = append(args, *filter.StartTime)
		argCount++
	}

	if filter.EndTime != nil {
		query += fmt.Sprintf(" AND timestamp <= $%d", argCount)
		args = append(args, *filter.EndTime)
		argCount++
	}

	if filter.UserID != nil {
		query += fmt.Sprintf(" AND user_id = $%d", argCount)
		args = append(args, *filter.UserID)
		argCount++
	}

	if filter.ClientID != nil {
		query += fmt.Sprintf(" AND client_id = $%d", argCount)
		args = append(args, *filter.ClientID)
		argCount++
	}

	if len(filter.EventTypes) > 0 {
		query += fmt.Sprintf(" AND event_type = ANY($%d)", argCount)
		eventTypeStrs := make([]string, len(filter.EventTypes))
		for i, et := range filter.EventTypes {
			eventTypeStrs[i] = string(et)
		}
		args = append(args, pq.Array(eventTypeStrs))
		argCount++
	}

	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, string(*filter.Status))
		argCount++
	}

	if filter.ResourceType != "" {
		query += fmt.Sprintf(" AND resource_type = $%d", argCount)
		args = append(args, string(filter.ResourceType))
		argCount++
	}

	if filter.ResourceID != "" {
		query += fmt.Sprintf(" AND resource_id = $%d", argCount)
		args = append(args, filter.ResourceID)
		argCount++
	}

	query += " ORDER BY timestamp DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argCount)
		args = append(args, filter.Limit)
		argCount++
	}

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argCount)
		args = append(args, filter.Offset)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit logs: %w", err)
	}
	defer rows.Close()

	events := make([]*AuditEvent, 0)
	for rows.Next() {
		event := &AuditEvent{
			Metadata: make(map[string]interface{}),
		}

		var metadataJSON []byte

		err := rows.Scan(
			&event.ID, &event.Timestamp, &event.EventType, &event.Status,
			&event.UserID, &event.Email, &event.ClientID,
			&event.ResourceType, &event.ResourceID,
			&event.IPAddress, &event.RequestID,
			&event.Method, &event.Path, &event.StatusCode,
			&event.Message, &event.ErrorMessage, &metadataJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}

		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &event.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit logs: %w", err)
	}

	return events, nil
}

// Prune deletes audit logs older than the cutoff and returns the number
// of rows removed. Run periodically by the worker per the retention
// policy.
func (l *DBLogger) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM audit_logs WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune audit logs: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database logger
func (l *DBLogger) Close() error {
	// We don't close the database connection as it may be shared
	return nil
}
