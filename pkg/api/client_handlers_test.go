package api

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/gitpulse/gitpulse/pkg/audit"
)

func TestCreateClient(t *testing.T) {
	db := setupTestDB(t)
	server := newTestServer(t, db)
	alice := seedUser(t, db, "alice@example.com", false)

	rec := doJSON(t, server, http.MethodPost, "/api/clients", alice, map[string]string{"name": "acme"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var client struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	}
	decodeBody(t, rec, &client)
	if client.Name != "acme" {
		t.Errorf("Expected name acme, got %s", client.Name)
	}

	// The creator becomes the bootstrap admin and can invite.
	seedUser(t, db, "bob@example.com", false)
	inviteVia(t, server, alice, client.ID, "bob@example.com", "USER")
}

func TestCreateClient_Validation(t *testing.T) {
	db := setupTestDB(t)
	server := newTestServer(t, db)
	alice := seedUser(t, db, "alice@example.com", false)

	rec := doJSON(t, server, http.MethodPost, "/api/clients", alice, map[string]string{"name": "   "})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for blank name, got %d", rec.Code)
	}

	rec = doJSON(t, server, http.MethodPost, "/api/clients", 0, map[string]string{"name": "acme"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 without auth, got %d", rec.Code)
	}
}

func TestListClients(t *testing.T) {
	db := setupTestDB(t)
	server := newTestServer(t, db)
	alice := seedUser(t, db, "alice@example.com", false)
	bob := seedUser(t, db, "bob@example.com", false)
	root := seedUser(t, db, "root@example.com", true)

	createClientVia(t, server, alice, "acme")
	createClientVia(t, server, alice, "initech")
	createClientVia(t, server, bob, "globex")

	var list []struct {
		Name string `json:"name"`
	}

	rec := doJSON(t, server, http.MethodGet, "/api/clients", alice, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	decodeBody(t, rec, &list)
	if len(list) != 2 {
		t.Errorf("Expected alice to see 2 clients, got %d", len(list))
	}

	// Superusers see every client.
	rec = doJSON(t, server, http.MethodGet, "/api/clients", root, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	decodeBody(t, rec, &list)
	if len(list) != 3 {
		t.Errorf("Expected superuser to see 3 clients, got %d", len(list))
	}
}

func TestGetClient(t *testing.T) {
	db := setupTestDB(t)
	server := newTestServer(t, db)
	alice := seedUser(t, db, "alice@example.com", false)
	mallory := seedUser(t, db, "mallory@example.com", false)

	clientID := createClientVia(t, server, alice, "acme")

	rec := doJSON(t, server, http.MethodGet, fmt.Sprintf("/api/clients/%d", clientID), alice, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var detail struct {
		Name        string `json:"name"`
		MemberCount int64  `json:"member_count"`
	}
	decodeBody(t, rec, &detail)
	if detail.Name != "acme" {
		t.Errorf("Expected name acme, got %s", detail.Name)
	}
	if detail.MemberCount != 1 {
		t.Errorf("Expected 1 member, got %d", detail.MemberCount)
	}

	// A stranger gets 403, a bogus ID 404.
	rec = doJSON(t, server, http.MethodGet, fmt.Sprintf("/api/clients/%d", clientID), mallory, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected status 403 for non-member, got %d", rec.Code)
	}
	rec = doJSON(t, server, http.MethodGet, "/api/clients/9999", alice, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for missing client, got %d", rec.Code)
	}
}

func TestInviteMemberHandler(t *testing.T) {
	db := setupTestDB(t)
	server := newTestServer(t, db)
	alice := seedUser(t, db, "alice@example.com", false)
	seedUser(t, db, "bob@example.com", false)
	clientID := createClientVia(t, server, alice, "acme")

	rec := doJSON(t, server, http.MethodPost,
		fmt.Sprintf("/api/clients/%d/inviteMember", clientID), alice,
		map[string]string{"email": "bob@example.com", "role": "USER"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var membership struct {
		Role string `json:"role"`
	}
	decodeBody(t, rec, &membership)
	if membership.Role != "USER" {
		t.Errorf("Expected role USER, got %s", membership.Role)
	}

	// Re-inviting at the same role succeeds without changing the grant.
	rec = doJSON(t, server, http.MethodPost,
		fmt.Sprintf("/api/clients/%d/inviteMember", clientID), alice,
		map[string]string{"email": "bob@example.com", "role": "USER"})
	if rec.Code != http.StatusCreated {
		t.Errorf("Expected status 201 for same-role re-invite, got %d", rec.Code)
	}

	// Unknown email reads as 404.
	rec = doJSON(t, server, http.MethodPost,
		fmt.Sprintf("/api/clients/%d/inviteMember", clientID), alice,
		map[string]string{"email": "nobody@example.com", "role": "USER"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for unknown email, got %d", rec.Code)
	}

	// SHARED_ACCESS cannot be granted directly.
	rec = doJSON(t, server, http.MethodPost,
		fmt.Sprintf("/api/clients/%d/inviteMember", clientID), alice,
		map[string]string{"email": "bob@example.com", "role": "SHARED_ACCESS"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for SHARED_ACCESS invite, got %d", rec.Code)
	}

	// Gibberish role is rejected before hitting the engine.
	rec = doJSON(t, server, http.MethodPost,
		fmt.Sprintf("/api/clients/%d/inviteMember", clientID), alice,
		map[string]string{"email": "bob@example.com", "role": "OVERLORD"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for invalid role, got %d", rec.Code)
	}
}

func TestInviteMemberHandler_AuditEvents(t *testing.T) {
	db := setupTestDB(t)
	server, auditor := newTestServerWithAuditor(t, db)
	alice := seedUser(t, db, "alice@example.com", false)
	seedUser(t, db, "bob@example.com", false)
	clientID := createClientVia(t, server, alice, "acme")

	// A fresh invite is recorded as an invite.
	rec := doJSON(t, server, http.MethodPost,
		fmt.Sprintf("/api/clients/%d/inviteMember", clientID), alice,
		map[string]string{"email": "bob@example.com", "role": "USER"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := auditor.last(t); got != audit.EventTypeMemberInvite {
		t.Errorf("Expected %s event, got %s", audit.EventTypeMemberInvite, got)
	}

	// Raising the role is recorded as a role change.
	rec = doJSON(t, server, http.MethodPost,
		fmt.Sprintf("/api/clients/%d/inviteMember", clientID), alice,
		map[string]string{"email": "bob@example.com", "role": "ADMIN"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected status 201 for upgrade, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := auditor.last(t); got != audit.EventTypeMemberRoleChange {
		t.Errorf("Expected %s event, got %s", audit.EventTypeMemberRoleChange, got)
	}

	// A same-role re-invite does not read as a role change.
	rec = doJSON(t, server, http.MethodPost,
		fmt.Sprintf("/api/clients/%d/inviteMember", clientID), alice,
		map[string]string{"email": "bob@example.com", "role": "ADMIN"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected status 201 for re-invite, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := auditor.last(t); got != audit.EventTypeMemberInvite {
		t.Errorf("Expected %s event for no-op re-invite, got %s", audit.EventTypeMemberInvite, got)
	}
}

func TestInviteMemberHandler_Forbidden(t *testing.T) {
	db := setupTestDB(t)
	server := newTestServer(t, db)
	alice := seedUser(t, db, "alice@example.com", false)
	bob := seedUser(t, db, "bob@example.com", false)
	seedUser(t, db, "carol@example.com", false)
	clientID := createClientVia(t, server, alice, "acme")
	inviteVia(t, server, alice, clientID, "bob@example.com", "USER")

	// A USER cannot invite.
	rec := doJSON(t, server, http.MethodPost,
		fmt.Sprintf("/api/clients/%d/inviteMember", clientID), bob,
		map[string]string{"email": "carol@example.com", "role": "USER"})
	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected status 403 for USER actor, got %d", rec.Code)
	}
}

func TestRemoveMemberHandler(t *testing.T) {
	db := setupTestDB(t)
	server := newTestServer(t, db)
	alice := seedUser(t, db, "alice@example.com", false)
	seedUser(t, db, "bob@example.com", false)
	clientID := createClientVia(t, server, alice, "acme")
	inviteVia(t, server, alice, clientID, "bob@example.com", "USER")

	rec := doJSON(t, server, http.MethodPost,
		fmt.Sprintf("/api/clients/%d/removeMember", clientID), alice,
		map[string]string{"email": "bob@example.com"})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("Expected status 204, got %d: %s", rec.Code, rec.Body.String())
	}

	// Removing again is 404: not a member anymore.
	rec = doJSON(t, server, http.MethodPost,
		fmt.Sprintf("/api/clients/%d/removeMember", clientID), alice,
		map[string]string{"email": "bob@example.com"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for repeat removal, got %d", rec.Code)
	}

	// The last admin cannot remove themselves.
	rec = doJSON(t, server, http.MethodPost,
		fmt.Sprintf("/api/clients/%d/removeMember", clientID), alice,
		map[string]string{"email": "alice@example.com"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for last admin removal, got %d", rec.Code)
	}
}

func TestShareRevokeHandlers(t *testing.T) {
	db := setupTestDB(t)
	server := newTestServer(t, db)
	alice := seedUser(t, db, "alice@example.com", false)
	bob := seedUser(t, db, "bob@example.com", false)
	sharer := createClientVia(t, server, alice, "acme")
	recipient := createClientVia(t, server, bob, "globex")

	rec := doJSON(t, server, http.MethodPost,
		fmt.Sprintf("/api/clients/%d/shareAccess", sharer), alice,
		map[string]int64{"recipient_client_id": recipient})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var delegation struct {
		SharerID    int64 `json:"sharer_id"`
		RecipientID int64 `json:"recipient_id"`
	}
	decodeBody(t, rec, &delegation)
	if delegation.SharerID != sharer || delegation.RecipientID != recipient {
		t.Errorf("Unexpected delegation %+v", delegation)
	}

	// Bob now reads the sharer client through delegated access.
	rec = doJSON(t, server, http.MethodGet, fmt.Sprintf("/api/clients/%d", sharer), bob, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200 for delegated read, got %d: %s", rec.Code, rec.Body.String())
	}

	// Sharing twice conflicts, self-share is invalid.
	rec = doJSON(t, server, http.MethodPost,
		fmt.Sprintf("/api/clients/%d/shareAccess", sharer), alice,
		map[string]int64{"recipient_client_id": recipient})
	if rec.Code != http.StatusConflict {
		t.Errorf("Expected status 409 for duplicate share, got %d", rec.Code)
	}
	rec = doJSON(t, server, http.MethodPost,
		fmt.Sprintf("/api/clients/%d/shareAccess", sharer), alice,
		map[string]int64{"recipient_client_id": sharer})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for self share, got %d", rec.Code)
	}

	// Revoke and the delegated read disappears.
	rec = doJSON(t, server, http.MethodPost,
		fmt.Sprintf("/api/clients/%d/revokeAccess", sharer), alice,
		map[string]int64{"recipient_client_id": recipient})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("Expected status 204, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, server, http.MethodGet, fmt.Sprintf("/api/clients/%d", sharer), bob, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected status 403 after revoke, got %d", rec.Code)
	}

	// Revoking a delegation that does not exist is 404.
	rec = doJSON(t, server, http.MethodPost,
		fmt.Sprintf("/api/clients/%d/revokeAccess", sharer), alice,
		map[string]int64{"recipient_client_id": recipient})
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for missing delegation, got %d", rec.Code)
	}
}

func TestListMembersHandler(t *testing.T) {
	db := setupTestDB(t)
	server := newTestServer(t, db)
	alice := seedUser(t, db, "alice@example.com", false)
	bob := seedUser(t, db, "bob@example.com", false)
	clientID := createClientVia(t, server, alice, "acme")
	inviteVia(t, server, alice, clientID, "bob@example.com", "USER")

	rec := doJSON(t, server, http.MethodGet,
		fmt.Sprintf("/api/clients/%d/members", clientID), bob, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var members []struct {
		Email  string `json:"email"`
		Role   string `json:"role"`
		Direct bool   `json:"direct"`
	}
	decodeBody(t, rec, &members)
	if len(members) != 2 {
		t.Fatalf("Expected 2 members, got %d", len(members))
	}
	byEmail := map[string]string{}
	for _, m := range members {
		byEmail[m.Email] = m.Role
		if !m.Direct {
			t.Errorf("Expected %s to be a direct member", m.Email)
		}
	}
	if byEmail["alice@example.com"] != "ADMIN" || byEmail["bob@example.com"] != "USER" {
		t.Errorf("Unexpected member roles: %v", byEmail)
	}
}

func TestListDelegationsHandler(t *testing.T) {
	db := setupTestDB(t)
	server := newTestServer(t, db)
	alice := seedUser(t, db, "alice@example.com", false)
	bob := seedUser(t, db, "bob@example.com", false)
	sharer := createClientVia(t, server, alice, "acme")
	recipient := createClientVia(t, server, bob, "globex")

	rec := doJSON(t, server, http.MethodPost,
		fmt.Sprintf("/api/clients/%d/shareAccess", sharer), alice,
		map[string]int64{"recipient_client_id": recipient})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Failed to share: %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, server, http.MethodGet,
		fmt.Sprintf("/api/clients/%d/delegations", sharer), alice, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var delegations []struct {
		SharerID    int64 `json:"sharer_id"`
		RecipientID int64 `json:"recipient_id"`
	}
	decodeBody(t, rec, &delegations)
	if len(delegations) != 1 {
		t.Fatalf("Expected 1 delegation, got %d", len(delegations))
	}
	if delegations[0].RecipientID != recipient {
		t.Errorf("Expected recipient %d, got %d", recipient, delegations[0].RecipientID)
	}
}
