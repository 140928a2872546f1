// Package access implements the tenant access-control model: direct
// and derived membership roles, cross-client delegations, and the
// resolver that answers permission checks against them.
//
// Roles form a total order, SHARED_ACCESS < USER < ADMIN, and a check
// passes when the effective role ranks at or above the required one.
// A user's effective role on a client is the maximum across all of
// their membership rows there. Direct rows are granted by admins;
// derived rows carry a delegation id and exist only because a
// delegation shares one client's resources with the direct members of
// another. The Engine materializes derived rows eagerly on every
// mutation, so the Resolver never walks the delegation graph at read
// time.
package access
