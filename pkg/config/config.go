package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gitpulse/gitpulse/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Redis configuration
	Redis RedisConfig

	// Auth configuration
	Auth AuthConfig

	// Observability configuration
	Observability ObservabilityConfig

	// Audit configuration
	Audit AuditConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL string
	// ReplicaURLs is a comma-separated list of read replica URLs.
	ReplicaURLs string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
}

// RedisConfig holds Redis configuration for rate limiting
type RedisConfig struct {
	URL      string
	Password string
	DB       int
}

// AuthConfig holds OIDC authentication configuration
type AuthConfig struct {
	// OIDCIssuer is the identity provider's issuer URL.
	OIDCIssuer string
	// OIDCClientID is the audience expected in ID tokens.
	OIDCClientID string
	// TestMode accepts the x-test-user-id header instead of tokens.
	// Never enable outside local development and CI.
	TestMode bool
	// TokenCacheSize bounds the verified-token LRU cache.
	TokenCacheSize int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// AuditConfig holds audit trail settings
type AuditConfig struct {
	Enabled bool
	// RetentionDays is how long the worker keeps audit rows.
	RetentionDays int
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("GITPULSE_HOST", "0.0.0.0"),
			Port:            getEnv("GITPULSE_PORT", "8080"),
			ReadTimeout:     getEnvDuration("GITPULSE_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("GITPULSE_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("GITPULSE_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("GITPULSE_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("GITPULSE_HEALTH_PORT", "9090"),
		},
		Database: DatabaseConfig{
			URL:         getEnv("GITPULSE_POSTGRES_URL", ""),
			ReplicaURLs: getEnv("GITPULSE_POSTGRES_REPLICA_URLS", ""),
			MaxConns:    getEnvInt("GITPULSE_POSTGRES_MAX_CONNS", 25),
			MinConns:    getEnvInt("GITPULSE_POSTGRES_MIN_CONNS", 5),
			Timeout:     getEnvDuration("GITPULSE_POSTGRES_TIMEOUT", 30*time.Second),
		},
		Redis: RedisConfig{
			URL:      getEnv("GITPULSE_REDIS_URL", ""),
			Password: getEnv("GITPULSE_REDIS_PASSWORD", ""),
			DB:       getEnvInt("GITPULSE_REDIS_DB", 0),
		},
		Auth: AuthConfig{
			OIDCIssuer:     getEnv("GITPULSE_OIDC_ISSUER", ""),
			OIDCClientID:   getEnv("GITPULSE_OIDC_CLIENT_ID", ""),
			TestMode:       getEnvBool("GITPULSE_AUTH_TEST_MODE", false),
			TokenCacheSize: getEnvInt("GITPULSE_TOKEN_CACHE_SIZE", 1024),
		},
		Observability: ObservabilityConfig{
			LogLevel:           parseLogLevel(getEnv("GITPULSE_LOG_LEVEL", "info")),
			MetricsEnabled:     getEnvBool("GITPULSE_METRICS_ENABLED", true),
			OTelEnabled:        getEnvBool("GITPULSE_OTEL_ENABLED", false),
			OTelEndpoint:       getEnv("GITPULSE_OTEL_ENDPOINT", "localhost:4317"),
			OTelServiceName:    getEnv("GITPULSE_OTEL_SERVICE_NAME", "gitpulse"),
			OTelServiceVersion: getEnv("GITPULSE_OTEL_SERVICE_VERSION", "1.0.0"),
			OTelInsecure:       getEnvBool("GITPULSE_OTEL_INSECURE", true),
		},
		Audit: AuditConfig{
			Enabled:       getEnvBool("GITPULSE_AUDIT_ENABLED", true),
			RetentionDays: getEnvInt("GITPULSE_AUDIT_RETENTION_DAYS", 90),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	if !c.Auth.TestMode {
		if c.Auth.OIDCIssuer == "" {
			return fmt.Errorf("OIDC issuer is required outside test mode")
		}
		if c.Auth.OIDCClientID == "" {
			return fmt.Errorf("OIDC client ID is required outside test mode")
		}
	}
	if c.Auth.TokenCacheSize <= 0 {
		return fmt.Errorf("token cache size must be positive")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	if c.Audit.Enabled && c.Audit.RetentionDays <= 0 {
		return fmt.Errorf("audit retention must be positive when audit is enabled")
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
