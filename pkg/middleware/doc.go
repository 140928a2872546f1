// Package middleware provides HTTP middleware for authentication and
// rate limiting.
//
// AuthMiddleware verifies OIDC bearer tokens, resolves them to user
// rows, and attaches an auth.AuthContext to the request. Verified
// tokens are cached in a bounded LRU so hot clients do not re-verify
// on every request. A test mode accepts the x-test-user-id header in
// place of a token for local development and handler tests.
//
// RateLimitMiddleware enforces a Redis-backed fixed window per user
// (falling back to remote IP for unauthenticated requests) so limits
// hold across API replicas. Redis failures fail open.
package middleware
