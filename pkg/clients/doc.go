// Package clients manages tenants and their GitHub footprint:
// clients, App installations, and tracked repositories. Membership
// and delegation semantics live in pkg/access; this package only
// reads the membership tables to present members and counts.
package clients
