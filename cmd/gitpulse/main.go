package main

import (
	"context"
	"database/sql"
	"net"
	"net/http"
	"os"
	"time"

	redis "github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/gitpulse/gitpulse/pkg/api"
	"github.com/gitpulse/gitpulse/pkg/audit"
	"github.com/gitpulse/gitpulse/pkg/auth"
	"github.com/gitpulse/gitpulse/pkg/config"
	"github.com/gitpulse/gitpulse/pkg/middleware"
	"github.com/gitpulse/gitpulse/pkg/observability"
	"github.com/gitpulse/gitpulse/pkg/storage/postgres"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		os.Stderr.WriteString("configuration error: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.WithField("version", observability.Version).Info("Starting gitpulse API server")

	ctx := context.Background()

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize OpenTelemetry")
		os.Exit(1)
	}

	connections, err := postgres.NewConnectionManager(postgres.ConnectionConfig{
		PrimaryURL:  cfg.Database.URL,
		ReplicaURLs: postgres.ParseReplicaURLs(cfg.Database.ReplicaURLs),
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		Timeout:     cfg.Database.Timeout,
		MaxLifetime: 30 * time.Minute,
		MaxIdleTime: 5 * time.Minute,
	})
	if err != nil {
		logger.WithError(err).Error("Failed to connect to database")
		os.Exit(1)
	}
	db := connections.Primary()

	if err := postgres.Migrate(ctx, db); err != nil {
		logger.WithError(err).Error("Failed to run migrations")
		os.Exit(1)
	}
	logger.Info("Database migrations applied")

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		redisClient, err = postgres.NewRedisClient(postgres.RedisOptions{
			URL:      cfg.Redis.URL,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			logger.WithError(err).Error("Failed to connect to Redis")
			os.Exit(1)
		}
		logger.Info("Connected to Redis")
	} else {
		logger.Warn("Redis not configured, rate limiting disabled")
	}

	auditor := audit.NopLogger()
	if cfg.Audit.Enabled {
		dbLogger, err := audit.NewDBLogger(db)
		if err != nil {
			logger.WithError(err).Error("Failed to initialize audit logger")
			os.Exit(1)
		}
		auditor = dbLogger
		logger.Info("Audit logging enabled")
	}

	var metrics *observability.Metrics
	registry := prometheus.NewRegistry()
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	var otelMetrics *observability.OTelMetrics
	if otelProviders != nil {
		otelMetrics, err = observability.NewOTelMetrics()
		if err != nil {
			logger.WithError(err).Error("Failed to create OTel instruments")
			os.Exit(1)
		}
	}

	var verifier middleware.TokenVerifier
	if !cfg.Auth.TestMode {
		verifier, err = middleware.NewOIDCVerifier(ctx, cfg.Auth.OIDCIssuer, cfg.Auth.OIDCClientID)
		if err != nil {
			logger.WithError(err).Error("Failed to initialize OIDC verifier")
			os.Exit(1)
		}
	} else {
		logger.Warn("Auth test mode enabled, do not use in production")
	}

	authMiddleware, err := middleware.NewAuthMiddleware(verifier, auth.NewStore(db), cfg.Auth.TokenCacheSize, cfg.Auth.TestMode)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize auth middleware")
		os.Exit(1)
	}

	server := api.NewServer(db, api.Options{
		Auditor:     auditor,
		Metrics:     metrics,
		OTelMetrics: otelMetrics,
		Logger:      logger,
	})

	var extra []mux.MiddlewareFunc
	if redisClient != nil {
		rateLimit := middleware.NewRateLimitMiddleware(redisClient, metrics)
		extra = append(extra, rateLimit.Handler)
	}
	server.RegisterRoutes(authMiddleware, extra...)

	var handler http.Handler = server
	if otelProviders != nil {
		handler = otelhttp.NewHandler(handler, "gitpulse.api")
	}

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health checks and metrics live on a separate port so they are
	// reachable by probes without going through auth or rate limits.
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(db, redisClient))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: healthMux,
	}

	if metrics != nil {
		go func() {
			defer observability.RecoverPanic(logger, "pool stats sampler")
			samplePoolStats(connections, metrics)
		}()
		go func() {
			defer observability.RecoverPanic(logger, "business stats sampler")
			sampleBusinessStats(connections.Replica(), metrics, logger)
		}()
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterNamed("health server", healthServer.Shutdown)
	shutdown.RegisterNamed("audit logger", func(ctx context.Context) error {
		return auditor.Close()
	})
	if redisClient != nil {
		shutdown.RegisterNamed("redis", func(ctx context.Context) error {
			return redisClient.Close()
		})
	}
	shutdown.RegisterNamed("database pool", func(ctx context.Context) error {
		return connections.Close()
	})
	if otelProviders != nil {
		shutdown.RegisterNamed("otel exporters", func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, otelProviders, logger)
		})
	}

	go func() {
		logger.Infof("Health server listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Health server failed")
		}
	}()

	go func() {
		logger.Infof("API server listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("API server failed")
			os.Exit(1)
		}
	}()

	if err := shutdown.WaitForShutdown(); err != nil {
		logger.WithError(err).Error("Shutdown finished with errors")
		os.Exit(1)
	}
}

// samplePoolStats periodically exports database pool statistics.
func samplePoolStats(connections *postgres.ConnectionManager, metrics *observability.Metrics) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		stats := connections.Stats()
		metrics.DBConnectionsActive.Set(float64(stats.Primary.InUse))
		metrics.DBConnectionsIdle.Set(float64(stats.Primary.Idle))
		metrics.DBConnectionsWaitCount.Set(float64(stats.Primary.WaitCount))
	}
}

// sampleBusinessStats periodically refreshes the coarse business
// gauges from cheap count queries against a read replica.
func sampleBusinessStats(db *sql.DB, metrics *observability.Metrics, logger *observability.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	gauges := []struct {
		query string
		gauge prometheus.Gauge
	}{
		{"SELECT COUNT(*) FROM clients", metrics.ClientsTotal},
		{"SELECT COUNT(*) FROM users", metrics.UsersTotal},
		{"SELECT COUNT(*) FROM github_repos WHERE is_enabled", metrics.TrackedReposTotal},
		{"SELECT COUNT(*) FROM shared_client_access", metrics.DelegationsTotal},
	}

	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		for _, g := range gauges {
			var count int64
			if err := db.QueryRowContext(ctx, g.query).Scan(&count); err != nil {
				logger.WithError(err).Warn("Failed to refresh business gauges")
				break
			}
			g.gauge.Set(float64(count))
		}
		cancel()
	}
}
