package clients

import "time"

// Client represents a tenant: a customer organization whose GitHub
// repositories GitPulse tracks.
type Client struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ClientDetail is a client plus the counts the dashboard shows.
type ClientDetail struct {
	Client
	MemberCount int64 `json:"member_count"`
	RepoCount   int64 `json:"repo_count"`
}

// Member is a user's standing within a client, including where each
// role came from.
type Member struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	// Role is the effective (highest ranked) role.
	Role string `json:"role"`
	// Direct is true when the user holds a direct role here, not only
	// delegated access.
	Direct bool `json:"direct"`
	// ViaClients names the clients whose delegations grant this user
	// derived access, empty for purely direct members.
	ViaClients []string `json:"via_clients,omitempty"`
}

// Installation is a GitHub App installation owned by a client.
type Installation struct {
	ID           int64     `json:"id"`
	GithubID     int64     `json:"github_id"`
	ClientID     int64     `json:"client_id"`
	AccountLogin string    `json:"account_login"`
	CreatedAt    time.Time `json:"created_at"`
}

// Repo is a tracked repository under one of the client's
// installations.
type Repo struct {
	ID             int64  `json:"id"`
	InstallationID int64  `json:"installation_id"`
	Owner          string `json:"owner"`
	Name           string `json:"name"`
	Enabled        bool   `json:"is_enabled"`
}

// CreateClientRequest is the payload for creating a client.
type CreateClientRequest struct {
	Name string `json:"name"`
}
