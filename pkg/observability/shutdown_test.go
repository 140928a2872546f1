package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestShutdownRunsStepsInOrder(t *testing.T) {
	logger := NewLogger(ErrorLevel, io.Discard)
	sm := NewShutdownManager(logger, nil, time.Second)

	var order []string
	for _, name := range []string{"auditor", "cache", "database"} {
		n := name
		sm.RegisterNamed(n, func(ctx context.Context) error {
			order = append(order, n)
			return nil
		})
	}

	if err := sm.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	got := strings.Join(order, ",")
	if got != "auditor,cache,database" {
		t.Errorf("Expected registration order, got %s", got)
	}
}

func TestShutdownContinuesPastFailedStep(t *testing.T) {
	logger := NewLogger(ErrorLevel, io.Discard)
	sm := NewShutdownManager(logger, nil, time.Second)

	cacheErr := errors.New("connection refused")
	sm.RegisterNamed("cache", func(ctx context.Context) error {
		return cacheErr
	})
	poolClosed := false
	sm.RegisterNamed("database", func(ctx context.Context) error {
		poolClosed = true
		return nil
	})

	err := sm.Shutdown(context.Background())
	if !errors.Is(err, cacheErr) {
		t.Errorf("Expected cache error to surface, got %v", err)
	}
	if !poolClosed {
		t.Error("Expected database step to run after cache failure")
	}
}

func TestShutdownDrainsAPIServer(t *testing.T) {
	logger := NewLogger(ErrorLevel, io.Discard)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	ts := httptest.NewUnstartedServer(handler)
	server := &http.Server{Handler: handler}

	ln := ts.Listener
	go func() {
		_ = server.Serve(ln)
	}()

	url := fmt.Sprintf("http://%s/health", ln.Addr())
	if _, err := http.Get(url); err != nil {
		t.Fatalf("Server not reachable before shutdown: %v", err)
	}

	sm := NewShutdownManager(logger, server, time.Second)
	if err := sm.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	if _, err := http.Get(url); err == nil {
		t.Error("Expected requests to fail after shutdown")
	}
}

func TestShutdownTimeoutSkipsRemainingSteps(t *testing.T) {
	logger := NewLogger(ErrorLevel, io.Discard)
	sm := NewShutdownManager(logger, nil, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	sm.RegisterNamed("auditor", func(ctx context.Context) error {
		cancel()
		return nil
	})
	ran := false
	sm.RegisterNamed("database", func(ctx context.Context) error {
		ran = true
		return nil
	})

	err := sm.Shutdown(ctx)
	if err == nil {
		t.Fatal("Expected deadline error")
	}
	if ran {
		t.Error("Expected database step to be skipped after deadline")
	}
}

func TestShutdownDefaultTimeout(t *testing.T) {
	logger := NewLogger(ErrorLevel, io.Discard)
	sm := NewShutdownManager(logger, nil, 0)
	if sm.timeout != 30*time.Second {
		t.Errorf("Expected 30s default timeout, got %v", sm.timeout)
	}
}
