// Package postgres provides database connectivity and schema
// management.
//
// ConnectionManager holds the primary connection plus optional read
// replicas with round-robin selection. Migrate applies the versioned
// schema: users, clients, github_installations, github_repos,
// shared_client_access and user_client_roles, including the partial
// unique index that allows at most one direct role per user and
// client while permitting a derived row per delegation.
package postgres
