// Package api implements the HTTP surface of the GitPulse control
// plane.
//
// Routes are grouped by resource:
//
//	POST   /api/clients                      create a client
//	GET    /api/clients                      list visible clients
//	GET    /api/clients/{id}                 client detail
//	GET    /api/clients/{id}/members         list members with provenance
//	POST   /api/clients/{id}/inviteMember    grant or change a direct role
//	POST   /api/clients/{id}/removeMember    drop a direct role
//	POST   /api/clients/{id}/shareAccess     delegate access to another client
//	POST   /api/clients/{id}/revokeAccess    withdraw a delegation
//	GET    /api/clients/{id}/repos           list tracked repositories
//	GET    /api/repos/{id}                   repository detail
//	POST   /api/repos/{id}/enable            toggle tracking
//	GET    /api/me                           authenticated user and memberships
//	POST   /api/admin/users/{id}/superUser   flip the superuser flag
//	GET    /api/admin/audit                  search or export audit events
//
// Authorization decisions come from the access package; handlers only
// translate its error kinds to HTTP statuses. All mutation handlers
// record audit events.
package api
