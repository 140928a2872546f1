package access

import "time"

// Membership is a row of the user_client_roles table: one user's role
// on one client. A nil DelegationID marks a direct grant (created by
// invite or client-creation bootstrap); a non-nil DelegationID marks a
// derived grant owned by the propagation engine.
type Membership struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"user_id"`
	ClientID     int64     `json:"client_id"`
	Role         Role      `json:"-"`
	RoleName     string    `json:"role"`
	DelegationID *int64    `json:"delegation_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Derived reports whether the membership was produced by a delegation.
func (m *Membership) Derived() bool {
	return m.DelegationID != nil
}

// Delegation is a directed sharing edge: direct members of the
// recipient client (role >= USER) gain SHARED_ACCESS on the sharer
// client. Delegation is one hop only and never chains.
type Delegation struct {
	ID          int64     `json:"id"`
	SharerID    int64     `json:"sharer_id"`
	RecipientID int64     `json:"recipient_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// Grant is a positive access decision.
type Grant struct {
	UserID    int64 `json:"user_id"`
	ClientID  int64 `json:"client_id"`
	Role      Role  `json:"-"`
	SuperUser bool  `json:"super_user,omitempty"`
}

// Repo is the resource view the ownership bridge resolves: a GitHub
// repository reachable through installation and owning client.
type Repo struct {
	ID             int64  `json:"id"`
	InstallationID int64  `json:"installation_id"`
	ClientID       int64  `json:"client_id"`
	Owner          string `json:"owner"`
	Name           string `json:"name"`
	Enabled        bool   `json:"is_enabled"`
}
