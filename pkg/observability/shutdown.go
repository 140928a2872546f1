package observability

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// ShutdownFunc releases one resource during shutdown.
type ShutdownFunc func(context.Context) error

type shutdownStep struct {
	name string
	fn   ShutdownFunc
}

// ShutdownManager drains the API server and then releases registered
// resources when the process receives SIGINT or SIGTERM. Steps run
// sequentially in registration order so that consumers (the auditor,
// the cache) close before the resources they write to (the database
// pool, the OTel exporters).
type ShutdownManager struct {
	logger  *Logger
	server  *http.Server
	timeout time.Duration

	mu    sync.Mutex
	steps []shutdownStep
}

// NewShutdownManager creates a manager for the given API server. A
// zero timeout defaults to 30 seconds.
func NewShutdownManager(logger *Logger, server *http.Server, timeout time.Duration) *ShutdownManager {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownManager{
		logger:  logger,
		server:  server,
		timeout: timeout,
	}
}

// RegisterNamed appends a cleanup step with a label used in log
// output. Steps run in the order they were registered.
func (sm *ShutdownManager) RegisterNamed(name string, fn ShutdownFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.steps = append(sm.steps, shutdownStep{name: name, fn: fn})
}

// WaitForShutdown blocks until a termination signal arrives, then
// runs Shutdown with the configured timeout.
func (sm *ShutdownManager) WaitForShutdown() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	sm.logger.Infof("Received signal %s, starting graceful shutdown", sig)

	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()

	return sm.Shutdown(ctx)
}

// Shutdown drains the API server and runs every registered step. It
// keeps going past step failures so a broken cache connection does
// not leave the database pool open, and reports the first error.
func (sm *ShutdownManager) Shutdown(ctx context.Context) error {
	var firstErr error

	if sm.server != nil {
		sm.logger.Info("Draining API server")
		if err := sm.server.Shutdown(ctx); err != nil {
			sm.logger.WithError(err).Error("API server shutdown failed")
			firstErr = fmt.Errorf("api server shutdown: %w", err)
		}
	}

	sm.mu.Lock()
	steps := make([]shutdownStep, len(sm.steps))
	copy(steps, sm.steps)
	sm.mu.Unlock()

	for i, step := range steps {
		name := step.name
		if name == "" {
			name = fmt.Sprintf("step %d", i)
		}
		if err := ctx.Err(); err != nil {
			sm.logger.Warnf("Shutdown timeout reached before %s", name)
			if firstErr == nil {
				firstErr = fmt.Errorf("shutdown timed out before %s: %w", name, err)
			}
			break
		}
		if err := step.fn(ctx); err != nil {
			sm.logger.WithError(err).Errorf("Shutdown of %s failed", name)
			if firstErr == nil {
				firstErr = fmt.Errorf("shutdown of %s: %w", name, err)
			}
			continue
		}
		sm.logger.Debugf("Shutdown of %s complete", name)
	}

	if firstErr == nil {
		sm.logger.Info("Graceful shutdown complete")
	}
	return firstErr
}
