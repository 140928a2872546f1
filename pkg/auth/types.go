package auth

import "time"

// User represents an authenticated account.
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	SuperUser bool      `json:"super_user"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AuthContext carries the authenticated identity through a request.
type AuthContext struct {
	User *User
	// TokenSubject is the OIDC subject claim the user was resolved
	// from, empty for test-mode requests.
	TokenSubject string
}
