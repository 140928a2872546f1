package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gitpulse/gitpulse/pkg/audit"
	"github.com/gitpulse/gitpulse/pkg/auth"
	"github.com/gitpulse/gitpulse/pkg/httputil"
)

// GetMe returns the authenticated user and the clients they can see.
func (s *Server) GetMe(w http.ResponseWriter, r *http.Request) {
	actor := s.actor(w, r)
	if actor == nil {
		return
	}

	list, err := s.clients.ListClientsForUser(r.Context(), actor.ID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, MeResponse{User: actor, Clients: list})
}

// SetSuperUser flips a user's superuser flag. Superuser only.
func (s *Server) SetSuperUser(w http.ResponseWriter, r *http.Request) {
	actor := s.actor(w, r)
	if actor == nil {
		return
	}
	targetID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req SetSuperUserRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := s.users.SetSuperUser(r.Context(), targetID, req.SuperUser); err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			httputil.WriteNotFoundError(w, "user not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	s.auditor.LogAdminAction(r.Context(), audit.EventTypeSuperUserChange,
		&actor.ID, &targetID,
		fmt.Sprintf("set super_user=%t on user %d", req.SuperUser, targetID))

	httputil.WriteNoContent(w)
}

// auditSearcher is satisfied by audit.DBLogger. The no-op logger used
// when auditing is disabled does not implement it.
type auditSearcher interface {
	Search(ctx context.Context, filter audit.SearchFilter) ([]*audit.AuditEvent, error)
}

// SearchAudit searches audit events, optionally exporting them as
// CSV or NDJSON via the format query parameter. Superuser only.
func (s *Server) SearchAudit(w http.ResponseWriter, r *http.Request) {
	searcher, ok := s.auditor.(auditSearcher)
	if !ok {
		httputil.WriteServiceUnavailable(w, "audit logging is not enabled")
		return
	}

	filter, err := parseAuditFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	format, ok := audit.ParseExportFormat(r.URL.Query().Get("format"))
	if !ok {
		httputil.WriteBadRequest(w, "format must be json, csv or ndjson")
		return
	}

	events, err := searcher.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	data, err := audit.Export(events, format)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	w.Header().Set("Content-Type", audit.ContentType(format))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func parseAuditFilter(r *http.Request) (audit.SearchFilter, error) {
	filter := audit.SearchFilter{Limit: 100}
	q := r.URL.Query()

	if raw := q.Get("user_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return filter, fmt.Errorf("invalid user_id: %w", err)
		}
		filter.UserID = &id
	}
	if raw := q.Get("client_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return filter, fmt.Errorf("invalid client_id: %w", err)
		}
		filter.ClientID = &id
	}
	if raw := q.Get("event_type"); raw != "" {
		filter.EventTypes = []audit.EventType{audit.EventType(raw)}
	}
	if raw := q.Get("status"); raw != "" {
		status := audit.EventStatus(raw)
		filter.Status = &status
	}
	if raw := q.Get("start"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, fmt.Errorf("invalid start time: %w", err)
		}
		filter.StartTime = &t
	}
	if raw := q.Get("end"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, fmt.Errorf("invalid end time: %w", err)
		}
		filter.EndTime = &t
	}
	if limit, err := httputil.ParseQueryInt64(r, "limit", 100); err == nil && limit > 0 {
		filter.Limit = int(limit)
	}
	if offset, err := httputil.ParseQueryInt64(r, "offset", 0); err == nil && offset > 0 {
		filter.Offset = int(offset)
	}

	return filter, nil
}
