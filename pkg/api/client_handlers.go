package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gitpulse/gitpulse/pkg/access"
	"github.com/gitpulse/gitpulse/pkg/audit"
	"github.com/gitpulse/gitpulse/pkg/clients"
	"github.com/gitpulse/gitpulse/pkg/httputil"
)

// CreateClient creates a new client with the caller as its first
// admin.
func (s *Server) CreateClient(w http.ResponseWriter, r *http.Request) {
	actor := s.actor(w, r)
	if actor == nil {
		return
	}

	var req clients.CreateClientRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		httputil.WriteBadRequest(w, "client name is required")
		return
	}

	client, err := s.clients.CreateClient(r.Context(), req.Name, actor.ID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	s.auditor.LogMembership(r.Context(), audit.EventTypeClientCreate,
		&actor.ID, client.ID, actor.Email,
		fmt.Sprintf("created client %q", client.Name))

	httputil.WriteCreated(w, client)
}

// ListClients lists clients visible to the caller. Superusers see all
// clients; everyone else sees the clients they hold a role on.
func (s *Server) ListClients(w http.ResponseWriter, r *http.Request) {
	actor := s.actor(w, r)
	if actor == nil {
		return
	}

	var (
		list []*clients.Client
		err  error
	)
	if actor.SuperUser {
		list, err = s.clients.ListClients(r.Context())
	} else {
		list, err = s.clients.ListClientsForUser(r.Context(), actor.ID)
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, list)
}

// GetClient returns a client's detail view. Any level of access,
// including delegated SHARED_ACCESS, is enough to read it.
func (s *Server) GetClient(w http.ResponseWriter, r *http.Request) {
	actor := s.actor(w, r)
	if actor == nil {
		return
	}
	clientID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if _, err := s.checkAccess(r, actor.ID, clientID, access.RoleSharedAccess); err != nil {
		s.denyClient(w, r, actor.ID, clientID, err)
		return
	}

	detail, err := s.clients.GetClient(r.Context(), clientID)
	if err != nil {
		if errors.Is(err, clients.ErrClientNotFound) {
			httputil.WriteNotFoundError(w, "client not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, detail)
}

// ListMembers lists the members of a client with role provenance.
func (s *Server) ListMembers(w http.ResponseWriter, r *http.Request) {
	actor := s.actor(w, r)
	if actor == nil {
		return
	}
	clientID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if _, err := s.checkAccess(r, actor.ID, clientID, access.RoleUser); err != nil {
		s.denyClient(w, r, actor.ID, clientID, err)
		return
	}

	members, err := s.clients.ListMembers(r.Context(), clientID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, members)
}

// InviteMember grants the user a direct USER or ADMIN role on the
// client. The engine enforces that the caller administers the client.
func (s *Server) InviteMember(w http.ResponseWriter, r *http.Request) {
	actor := s.actor(w, r)
	if actor == nil {
		return
	}
	clientID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req InviteMemberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	role, err := access.ParseRole(req.Role)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	membership, upgraded, err := s.engine.InviteMember(r.Context(), actor.ID, clientID, req.Email, role)
	if err != nil {
		s.denyClient(w, r, actor.ID, clientID, err)
		return
	}

	if upgraded {
		s.auditor.LogMembership(r.Context(), audit.EventTypeMemberRoleChange,
			&actor.ID, clientID, req.Email,
			fmt.Sprintf("raised %s to %s", req.Email, role))
	} else {
		s.auditor.LogMembership(r.Context(), audit.EventTypeMemberInvite,
			&actor.ID, clientID, req.Email,
			fmt.Sprintf("invited %s as %s", req.Email, role))
	}

	httputil.WriteCreated(w, membership)
}

// RemoveMember drops the user's direct role on the client and prunes
// the derived rows it justified.
func (s *Server) RemoveMember(w http.ResponseWriter, r *http.Request) {
	actor := s.actor(w, r)
	if actor == nil {
		return
	}
	clientID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req RemoveMemberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := s.engine.RemoveMember(r.Context(), actor.ID, clientID, req.Email); err != nil {
		s.denyClient(w, r, actor.ID, clientID, err)
		return
	}

	s.auditor.LogMembership(r.Context(), audit.EventTypeMemberRemove,
		&actor.ID, clientID, req.Email,
		fmt.Sprintf("removed %s", req.Email))

	httputil.WriteNoContent(w)
}

// ShareAccess delegates the path client's resources to the recipient
// client's members.
func (s *Server) ShareAccess(w http.ResponseWriter, r *http.Request) {
	actor := s.actor(w, r)
	if actor == nil {
		return
	}
	sharerID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req ShareAccessRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	delegation, err := s.engine.ShareAccess(r.Context(), actor.ID, sharerID, req.RecipientClientID)
	if err != nil {
		s.denyClient(w, r, actor.ID, sharerID, err)
		return
	}

	s.auditor.LogDelegation(r.Context(), audit.EventTypeShareGrant,
		&actor.ID, sharerID, req.RecipientClientID,
		fmt.Sprintf("shared client %d with client %d", sharerID, req.RecipientClientID))

	httputil.WriteCreated(w, delegation)
}

// RevokeAccess withdraws a delegation and the derived rows it created.
func (s *Server) RevokeAccess(w http.ResponseWriter, r *http.Request) {
	actor := s.actor(w, r)
	if actor == nil {
		return
	}
	sharerID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req RevokeAccessRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := s.engine.RevokeAccess(r.Context(), actor.ID, sharerID, req.RecipientClientID); err != nil {
		s.denyClient(w, r, actor.ID, sharerID, err)
		return
	}

	s.auditor.LogDelegation(r.Context(), audit.EventTypeShareRevoke,
		&actor.ID, sharerID, req.RecipientClientID,
		fmt.Sprintf("revoked sharing of client %d with client %d", sharerID, req.RecipientClientID))

	httputil.WriteNoContent(w)
}

// ListDelegations lists the delegations where the client is sharer or
// recipient.
func (s *Server) ListDelegations(w http.ResponseWriter, r *http.Request) {
	actor := s.actor(w, r)
	if actor == nil {
		return
	}
	clientID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if _, err := s.checkAccess(r, actor.ID, clientID, access.RoleUser); err != nil {
		s.denyClient(w, r, actor.ID, clientID, err)
		return
	}

	delegations, err := s.store.ListDelegations(r.Context(), clientID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, delegations)
}

// ListRepos lists the tracked repositories of a client.
func (s *Server) ListRepos(w http.ResponseWriter, r *http.Request) {
	actor := s.actor(w, r)
	if actor == nil {
		return
	}
	clientID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if _, err := s.checkAccess(r, actor.ID, clientID, access.RoleSharedAccess); err != nil {
		s.denyClient(w, r, actor.ID, clientID, err)
		return
	}

	repos, err := s.clients.ListRepos(r.Context(), clientID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, repos)
}

// denyClient writes the error response for a failed client operation
// and audits denials.
func (s *Server) denyClient(w http.ResponseWriter, r *http.Request, userID, clientID int64, err error) {
	if access.IsDenied(err) {
		s.auditor.LogAccessDenied(r.Context(), &userID,
			audit.ResourceTypeClient, strconv.FormatInt(clientID, 10), err.Error())
	}
	writeAccessError(w, err)
}
