package api

import (
	"github.com/gitpulse/gitpulse/pkg/access"
	"github.com/gitpulse/gitpulse/pkg/auth"
	"github.com/gitpulse/gitpulse/pkg/clients"
)

// InviteMemberRequest grants or changes a direct role on a client.
type InviteMemberRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

// RemoveMemberRequest drops a user's direct role on a client.
type RemoveMemberRequest struct {
	Email string `json:"email"`
}

// ShareAccessRequest delegates access from the path client to the
// recipient.
type ShareAccessRequest struct {
	RecipientClientID int64 `json:"recipient_client_id"`
}

// RevokeAccessRequest withdraws a delegation.
type RevokeAccessRequest struct {
	RecipientClientID int64 `json:"recipient_client_id"`
}

// SetRepoEnabledRequest toggles repository tracking.
type SetRepoEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// SetSuperUserRequest flips a user's superuser flag.
type SetSuperUserRequest struct {
	SuperUser bool `json:"super_user"`
}

// MeResponse describes the authenticated user and their clients.
type MeResponse struct {
	User    *auth.User        `json:"user"`
	Clients []*clients.Client `json:"clients"`
}

// RepoResponse is a repository together with the role that granted
// access to it.
type RepoResponse struct {
	Repo  *access.Repo `json:"repo"`
	Role  string       `json:"role"`
	Super bool         `json:"super_user,omitempty"`
}
