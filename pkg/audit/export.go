package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
)

// Export serializes audit events in the requested format.
func Export(events []*AuditEvent, format ExportFormat) ([]byte, error) {
	switch format {
	case ExportFormatJSON:
		return exportJSON(events)
	case ExportFormatNDJSON:
		return exportNDJSON(events)
	case ExportFormatCSV:
		return exportCSV(events)
	}
	return nil, fmt.Errorf("unsupported export format: %s", format)
}

// ContentType returns the MIME type for an export format.
func ContentType(format ExportFormat) string {
	switch format {
	case ExportFormatCSV:
		return "text/csv"
	case ExportFormatNDJSON:
		return "application/x-ndjson"
	}
	return "application/json"
}

// exportJSON exports audit events as a JSON array
func exportJSON(events []*AuditEvent) ([]byte, error) {
	return json.MarshalIndent(events, "", "  ")
}

// exportNDJSON exports audit events as newline-delimited JSON
func exportNDJSON(events []*AuditEvent) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)

	for _, event := range events {
		if err := encoder.Encode(event); err != nil {
			return nil, fmt.Errorf("failed to encode event: %w", err)
		}
	}

	return buf.Bytes(), nil
}

// exportCSV exports audit events as CSV
func exportCSV(events []*AuditEvent) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	header := []string{
		"ID",
		"Timestamp",
		"EventType",
		"Status",
		"UserID",
		"Email",
		"ClientID",
		"ResourceType",
		"ResourceID",
		"IPAddress",
		"RequestID",
		"Method",
		"Path",
		"StatusCode",
		"Message",
		"ErrorMessage",
	}

	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, event := range events {
		row := []string{
			strconv.FormatInt(event.ID, 10),
			event.Timestamp.Format("2006-01-02 15:04:05"),
			string(event.EventType),
			string(event.Status),
			formatInt64Ptr(event.UserID),
			event.Email,
			formatInt64Ptr(event.ClientID),
			string(event.ResourceType),
			event.ResourceID,
			event.IPAddress,
			event.RequestID,
			event.Method,
			event.Path,
			strconv.Itoa(event.StatusCode),
			event.Message,
			event.ErrorMessage,
		}

		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// formatInt64Ptr formats an int64 pointer as string, returning empty string for nil
func formatInt64Ptr(val *int64) string {
	if val == nil {
		return ""
	}
	return strconv.FormatInt(*val, 10)
}
