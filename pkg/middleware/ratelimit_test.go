package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/gitpulse/gitpulse/pkg/auth"
	"github.com/gitpulse/gitpulse/pkg/contextkeys"
)

func setupTestRedis(t *testing.T) *redis.Client {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRateLimiter_Allow(t *testing.T) {
	client := setupTestRedis(t)
	limiter := NewRateLimiter(client, &RateLimitConfig{
		RequestsPerWindow: 3,
		WindowDuration:    time.Minute,
	}, "test")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := limiter.Allow(ctx, "user1")
		if err != nil {
			t.Fatalf("unexpected error on request %d: %v", i+1, err)
		}
		if !allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	allowed, err := limiter.Allow(ctx, "user1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Errorf("request over the limit should be rejected")
	}

	// A different key has its own window.
	allowed, err = limiter.Allow(ctx, "user2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Errorf("separate key should be allowed")
	}
}

func TestRateLimiter_Remaining(t *testing.T) {
	client := setupTestRedis(t)
	limiter := NewRateLimiter(client, &RateLimitConfig{
		RequestsPerWindow: 5,
		WindowDuration:    time.Minute,
	}, "test")
	ctx := context.Background()

	remaining, err := limiter.Remaining(ctx, "user1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if remaining != 5 {
		t.Errorf("expected 5 remaining before any requests, got %d", remaining)
	}

	limiter.Allow(ctx, "user1")
	limiter.Allow(ctx, "user1")

	remaining, err = limiter.Remaining(ctx, "user1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if remaining != 3 {
		t.Errorf("expected 3 remaining after 2 requests, got %d", remaining)
	}
}

func TestRateLimiter_Reset(t *testing.T) {
	client := setupTestRedis(t)
	limiter := NewRateLimiter(client, &RateLimitConfig{
		RequestsPerWindow: 1,
		WindowDuration:    time.Minute,
	}, "test")
	ctx := context.Background()

	limiter.Allow(ctx, "user1")
	if allowed, _ := limiter.Allow(ctx, "user1"); allowed {
		t.Fatalf("second request should be rejected")
	}

	if err := limiter.Reset(ctx, "user1"); err != nil {
		t.Fatalf("failed to reset: %v", err)
	}

	if allowed, _ := limiter.Allow(ctx, "user1"); !allowed {
		t.Errorf("request after reset should be allowed")
	}
}

func TestRateLimiter_FailOpen(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	mr.Close()

	limiter := NewRateLimiter(client, nil, "test")
	allowed, err := limiter.Allow(context.Background(), "user1")
	if err == nil {
		t.Errorf("expected error from dead redis")
	}
	if !allowed {
		t.Errorf("should fail open when redis is unavailable")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	client := setupTestRedis(t)
	m := NewRateLimitMiddleware(client, nil)
	// Shrink the anonymous window so the test does not need 61 requests.
	m.anonLimiter = NewRateLimiter(client, &RateLimitConfig{
		RequestsPerWindow: 2,
		WindowDuration:    time.Minute,
	}, "ratelimit:anon")

	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/clients", nil)
		req.RemoteAddr = "10.0.0.1:4567"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected status 200, got %d", i+1, rec.Code)
		}
		if rec.Header().Get("X-RateLimit-Limit") != "2" {
			t.Errorf("expected X-RateLimit-Limit header of 2, got %q", rec.Header().Get("X-RateLimit-Limit"))
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/clients", nil)
	req.RemoteAddr = "10.0.0.1:4567"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected status 429 over the limit, got %d", rec.Code)
	}

	// A different IP is not affected.
	req = httptest.NewRequest(http.MethodGet, "/api/clients", nil)
	req.RemoteAddr = "10.0.0.2:4567"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200 for other address, got %d", rec.Code)
	}
}

func TestRateLimitMiddleware_UserKey(t *testing.T) {
	client := setupTestRedis(t)
	m := NewRateLimitMiddleware(client, nil)
	m.userLimiter = NewRateLimiter(client, &RateLimitConfig{
		RequestsPerWindow: 1,
		WindowDuration:    time.Minute,
	}, "ratelimit:user")

	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(userID int64) int {
		req := httptest.NewRequest(http.MethodGet, "/api/clients", nil)
		req.RemoteAddr = "10.0.0.1:4567"
		ctx := contextkeys.WithAuth(req.Context(), &auth.AuthContext{
			User: &auth.User{ID: userID, Email: "u@example.com"},
		})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req.WithContext(ctx))
		return rec.Code
	}

	if code := do(1); code != http.StatusOK {
		t.Fatalf("first request for user 1: expected 200, got %d", code)
	}
	if code := do(1); code != http.StatusTooManyRequests {
		t.Errorf("second request for user 1: expected 429, got %d", code)
	}
	if code := do(2); code != http.StatusOK {
		t.Errorf("first request for user 2: expected 200, got %d", code)
	}
}
