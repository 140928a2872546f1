package audit

import (
	"encoding/json"
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Membership events
	EventTypeMemberInvite     EventType = "member.invite"
	EventTypeMemberRoleChange EventType = "member.role_change"
	EventTypeMemberRemove     EventType = "member.remove"

	// Delegation events
	EventTypeShareGrant  EventType = "share.grant"
	EventTypeShareRevoke EventType = "share.revoke"

	// Resource events
	EventTypeClientCreate EventType = "client.create"
	EventTypeRepoCreate   EventType = "repo.create"
	EventTypeRepoToggle   EventType = "repo.toggle"

	// Admin events
	EventTypeSuperUserChange EventType = "admin.superuser_change"

	// Authorization events
	EventTypeAccessDenied EventType = "authz.access_denied"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType represents the type of resource being acted on
type ResourceType string

const (
	ResourceTypeClient     ResourceType = "client"
	ResourceTypeRepo       ResourceType = "repo"
	ResourceTypeUser       ResourceType = "user"
	ResourceTypeDelegation ResourceType = "delegation"
)

// AuditEvent represents a single audit log entry
type AuditEvent struct {
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor information
	UserID   *int64 `json:"user_id,omitempty"`
	Email    string `json:"email,omitempty"`
	ClientID *int64 `json:"client_id,omitempty"`

	// Resource information
	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`

	// Request context
	IPAddress  string `json:"ip_address,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	Method     string `json:"method,omitempty"`
	Path       string `json:"path,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`

	Message      string                 `json:"message,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// ToJSON converts the audit event to JSON
func (e *AuditEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON parses an audit event from JSON
func FromJSON(data []byte) (*AuditEvent, error) {
	var event AuditEvent
	err := json.Unmarshal(data, &event)
	return &event, err
}

// SearchFilter represents filters for searching audit logs
type SearchFilter struct {
	StartTime *time.Time
	EndTime   *time.Time

	UserID   *int64
	ClientID *int64

	EventTypes []EventType
	Status     *EventStatus

	ResourceType ResourceType
	ResourceID   string

	Limit  int
	Offset int
}

// ExportFormat represents the format for exporting audit logs
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatNDJSON ExportFormat = "ndjson" // Newline-delimited JSON
)

// ParseExportFormat validates a format string from a query parameter.
func ParseExportFormat(s string) (ExportFormat, bool) {
	switch ExportFormat(s) {
	case ExportFormatJSON, ExportFormatCSV, ExportFormatNDJSON:
		return ExportFormat(s), true
	case "":
		return ExportFormatNDJSON, true
	}
	return "", false
}

// RetentionPolicy defines how long audit logs should be kept
type RetentionPolicy struct {
	RetentionDays int
}

// DefaultRetentionPolicy returns a default retention policy (90 days)
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{RetentionDays: 90}
}
