// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings.
//
// # Configuration Structure
//
// Server settings:
//
//	GITPULSE_HOST="0.0.0.0"
//	GITPULSE_PORT="8080"
//	GITPULSE_HEALTH_PORT="9090"
//	GITPULSE_READ_TIMEOUT="15s"
//	GITPULSE_WRITE_TIMEOUT="15s"
//
// Database settings:
//
//	GITPULSE_POSTGRES_URL="postgres://localhost/gitpulse"
//	GITPULSE_POSTGRES_MAX_CONNS="25"
//
// Auth settings:
//
//	GITPULSE_OIDC_ISSUER="https://login.example.com"
//	GITPULSE_OIDC_CLIENT_ID="gitpulse-api"
//	GITPULSE_AUTH_TEST_MODE="false"
//
// Rate limit settings:
//
//	GITPULSE_REDIS_URL="redis://localhost:6379"
//
// Observability settings:
//
//	GITPULSE_LOG_LEVEL="info"
//	GITPULSE_METRICS_ENABLED="true"
//	GITPULSE_OTEL_ENABLED="false"
//	GITPULSE_OTEL_ENDPOINT="localhost:4317"
//
// Audit settings:
//
//	GITPULSE_AUDIT_ENABLED="true"
//	GITPULSE_AUDIT_RETENTION_DAYS="90"
package config
