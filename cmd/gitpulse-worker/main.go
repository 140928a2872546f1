package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/gitpulse/gitpulse/pkg/access"
	"github.com/gitpulse/gitpulse/pkg/audit"
)

var (
	dbURL         = flag.String("db-url", getEnv("GITPULSE_POSTGRES_URL", "postgres://localhost/gitpulse?sslmode=disable"), "PostgreSQL connection URL")
	pruneSchedule = flag.String("prune-schedule", "30 0 * * *", "Cron schedule for audit log pruning (default: 00:30 UTC)")
	sweepSchedule = flag.String("sweep-schedule", "0 * * * *", "Cron schedule for the derived membership sweep (default: every hour)")
	retentionDays = flag.Int("retention-days", 90, "How many days of audit logs to keep")
	runOnce       = flag.Bool("run-once", false, "Run both maintenance jobs once and exit")
)

func main() {
	flag.Parse()

	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)
	logger.SetFormatter(&logrus.JSONFormatter{})

	db, err := sql.Open("postgres", *dbURL)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.WithError(err).Fatal("Failed to ping database")
	}

	auditLogger, err := audit.NewDBLogger(db)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize audit logger")
	}
	store := access.NewStore(db)

	if *runOnce {
		var g errgroup.Group
		g.Go(func() error { return pruneAuditLogs(auditLogger, *retentionDays, logger) })
		g.Go(func() error { return sweepDerived(store, logger) })
		if err := g.Wait(); err != nil {
			logger.WithError(err).Fatal("Maintenance job failed")
		}
		logger.Info("Maintenance jobs completed")
		return
	}

	// A panicking job is logged and skipped rather than crashing the
	// scheduler.
	c := cron.New(cron.WithChain(cron.Recover(cron.PrintfLogger(logger))))

	_, err = c.AddFunc(*pruneSchedule, func() {
		if err := pruneAuditLogs(auditLogger, *retentionDays, logger); err != nil {
			logger.WithError(err).Error("Audit prune failed")
		}
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to schedule audit prune")
	}

	_, err = c.AddFunc(*sweepSchedule, func() {
		if err := sweepDerived(store, logger); err != nil {
			logger.WithError(err).Error("Derived membership sweep failed")
		}
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to schedule derived membership sweep")
	}

	c.Start()
	logger.WithFields(logrus.Fields{
		"prune_schedule": *pruneSchedule,
		"sweep_schedule": *sweepSchedule,
		"retention_days": *retentionDays,
	}).Info("gitpulse worker started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	logger.Info("Shutting down gracefully...")

	ctx := c.Stop()
	<-ctx.Done()

	logger.Info("Worker stopped")
}

func pruneAuditLogs(auditLogger *audit.DBLogger, retentionDays int, logger *logrus.Logger) error {
	ctx := context.Background()
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

	logger.WithField("cutoff", cutoff.Format("2006-01-02")).Info("Pruning audit logs")
	deleted, err := auditLogger.Prune(ctx, cutoff)
	if err != nil {
		return err
	}
	logger.WithField("deleted", deleted).Info("Audit logs pruned")
	return nil
}

func sweepDerived(store *access.Store, logger *logrus.Logger) error {
	ctx := context.Background()

	deleted, err := store.SweepDerived(ctx)
	if err != nil {
		return err
	}
	if deleted > 0 {
		logger.WithField("deleted", deleted).Warn("Sweep removed derived memberships without a justifying delegation")
	} else {
		logger.Info("Derived memberships consistent")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
