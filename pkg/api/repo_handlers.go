package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gitpulse/gitpulse/pkg/access"
	"github.com/gitpulse/gitpulse/pkg/audit"
	"github.com/gitpulse/gitpulse/pkg/clients"
	"github.com/gitpulse/gitpulse/pkg/httputil"
)

// GetRepo resolves a repository through its owning client and returns
// it when the caller holds any role there. An optional client_id query
// parameter pins the expected owner; a mismatch reads as not found.
func (s *Server) GetRepo(w http.ResponseWriter, r *http.Request) {
	actor := s.actor(w, r)
	if actor == nil {
		return
	}
	repoID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var clientHint *int64
	if raw := r.URL.Query().Get("client_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httputil.WriteBadRequest(w, "invalid client_id")
			return
		}
		clientHint = &id
	}

	start := time.Now()
	grant, repo, err := s.resolver.CheckRepoAccess(r.Context(), actor.ID, repoID, access.RoleSharedAccess, clientHint)
	s.observeCheck(r.Context(), access.RoleSharedAccess, err, time.Since(start))
	if err != nil {
		s.denyRepo(w, r, actor.ID, repoID, err)
		return
	}

	httputil.WriteSuccess(w, RepoResponse{
		Repo:  repo,
		Role:  grant.Role.String(),
		Super: grant.SuperUser,
	})
}

// SetRepoEnabled toggles tracking for a repository. Requires ADMIN on
// the owning client.
func (s *Server) SetRepoEnabled(w http.ResponseWriter, r *http.Request) {
	actor := s.actor(w, r)
	if actor == nil {
		return
	}
	repoID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req SetRepoEnabledRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	start := time.Now()
	_, repo, err := s.resolver.CheckRepoAccess(r.Context(), actor.ID, repoID, access.RoleAdmin, nil)
	s.observeCheck(r.Context(), access.RoleAdmin, err, time.Since(start))
	if err != nil {
		s.denyRepo(w, r, actor.ID, repoID, err)
		return
	}

	if err := s.clients.SetRepoEnabled(r.Context(), repoID, req.Enabled); err != nil {
		if errors.Is(err, clients.ErrRepoNotFound) {
			httputil.WriteNotFoundError(w, "repo not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	s.auditor.Log(r.Context(), &audit.AuditEvent{
		Timestamp:    time.Now().UTC(),
		EventType:    audit.EventTypeRepoToggle,
		Status:       audit.EventStatusSuccess,
		UserID:       &actor.ID,
		ClientID:     &repo.ClientID,
		ResourceType: audit.ResourceTypeRepo,
		ResourceID:   strconv.FormatInt(repoID, 10),
		Message:      fmt.Sprintf("set enabled=%t on %s/%s", req.Enabled, repo.Owner, repo.Name),
	})

	repo.Enabled = req.Enabled
	httputil.WriteSuccess(w, repo)
}

func (s *Server) denyRepo(w http.ResponseWriter, r *http.Request, userID, repoID int64, err error) {
	if access.IsDenied(err) {
		s.auditor.LogAccessDenied(r.Context(), &userID,
			audit.ResourceTypeRepo, strconv.FormatInt(repoID, 10), err.Error())
	}
	writeAccessError(w, err)
}
