// Package auth provides user identity for the GitPulse API.
//
// Users authenticate with OIDC tokens issued by the identity provider;
// the middleware verifies the token and resolves it to a User row via
// this package's Store. The superuser flag marks operators who bypass
// per-client role checks, and every use of it is audited.
package auth
