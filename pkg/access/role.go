package access

import "fmt"

// Role represents a user's privilege level on a client.
//
// Roles form a total order: SharedAccess < User < Admin. The ordinal
// value of the enum is the rank, so comparisons never go through a
// lookup table that could drift out of sync.
type Role int

const (
	// RoleSharedAccess is the read-only visibility granted to members
	// of a client that another client has shared access with.
	RoleSharedAccess Role = iota

	// RoleUser is a regular direct member of a client.
	RoleUser

	// RoleAdmin can manage members and sharing for a client.
	RoleAdmin
)

// roleNames maps each role to its storage representation. The values
// match the role enum used by the database schema.
var roleNames = [...]string{
	RoleSharedAccess: "SHARED_ACCESS",
	RoleUser:         "USER",
	RoleAdmin:        "ADMIN",
}

// String returns the storage name of the role.
func (r Role) String() string {
	if r < RoleSharedAccess || r > RoleAdmin {
		return fmt.Sprintf("Role(%d)", int(r))
	}
	return roleNames[r]
}

// Rank returns the ordinal rank of the role (SharedAccess=0, User=1,
// Admin=2).
func (r Role) Rank() int {
	return int(r)
}

// Satisfies reports whether the role meets the required privilege
// level: rank(r) >= rank(required).
func (r Role) Satisfies(required Role) bool {
	return r >= required
}

// Valid reports whether r is one of the defined roles.
func (r Role) Valid() bool {
	return r >= RoleSharedAccess && r <= RoleAdmin
}

// ParseRole converts a storage name back into a Role.
func ParseRole(s string) (Role, error) {
	for r, name := range roleNames {
		if s == name {
			return Role(r), nil
		}
	}
	return 0, fmt.Errorf("unknown role: %q", s)
}

// maxRole returns the higher ranked of two roles.
func maxRole(a, b Role) Role {
	if a >= b {
		return a
	}
	return b
}
