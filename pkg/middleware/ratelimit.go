package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/gitpulse/gitpulse/pkg/httputil"
	"github.com/gitpulse/gitpulse/pkg/observability"
)

// RateLimitConfig defines a fixed window limit.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// DefaultRateLimitConfig applies to unauthenticated callers.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 60,
		WindowDuration:    time.Minute,
	}
}

// PerUserRateLimitConfig applies to authenticated users.
func PerUserRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 600,
		WindowDuration:    time.Minute,
	}
}

// RateLimiter implements a fixed window rate limit backed by Redis so
// limits hold across API replicas.
type RateLimiter struct {
	redis  *redis.Client
	config *RateLimitConfig
	prefix string
}

// NewRateLimiter creates a new Redis-backed rate limiter
func NewRateLimiter(redisClient *redis.Client, config *RateLimitConfig, prefix string) *RateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RateLimiter{
		redis:  redisClient,
		config: config,
		prefix: prefix,
	}
}

// Allow checks if a request is allowed. On Redis errors it fails open
// so a cache outage does not take the API down with it.
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)

	pipe := rl.redis.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, rl.config.WindowDuration)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, fmt.Errorf("redis error: %w", err)
	}

	return incr.Val() <= int64(rl.config.RequestsPerWindow), nil
}

// Remaining returns the number of remaining requests in the window
func (rl *RateLimiter) Remaining(ctx context.Context, key string) (int, error) {
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)

	count, err := rl.redis.Get(ctx, redisKey).Int()
	if err == redis.Nil {
		return rl.config.RequestsPerWindow, nil
	} else if err != nil {
		return 0, err
	}

	remaining := rl.config.RequestsPerWindow - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Reset clears the rate limit for a key
func (rl *RateLimiter) Reset(ctx context.Context, key string) error {
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)
	return rl.redis.Del(ctx, redisKey).Err()
}

// RateLimitMiddleware limits requests per authenticated user, falling
// back to the remote IP for anonymous requests.
type RateLimitMiddleware struct {
	userLimiter *RateLimiter
	anonLimiter *RateLimiter
	metrics     *observability.Metrics
}

// NewRateLimitMiddleware creates a new rate limit middleware. metrics
// may be nil.
func NewRateLimitMiddleware(redisClient *redis.Client, metrics *observability.Metrics) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		userLimiter: NewRateLimiter(redisClient, PerUserRateLimitConfig(), "ratelimit:user"),
		anonLimiter: NewRateLimiter(redisClient, DefaultRateLimitConfig(), "ratelimit:anon"),
		metrics:     metrics,
	}
}

// Handler wraps an HTTP handler with rate limiting
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		limiter := m.anonLimiter
		key := remoteIP(r)
		if authCtx := GetAuthContext(r); authCtx != nil && authCtx.User != nil {
			limiter = m.userLimiter
			key = strconv.FormatInt(authCtx.User.ID, 10)
		}

		allowed, err := limiter.Allow(ctx, key)
		if err != nil {
			// Fail open, but surface the degraded state in headers.
			w.Header().Set("X-RateLimit-Degraded", "true")
			next.ServeHTTP(w, r)
			return
		}

		remaining, _ := limiter.Remaining(ctx, key)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.config.RequestsPerWindow))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			if m.metrics != nil {
				m.metrics.RateLimitRejectionsTotal.WithLabelValues(r.URL.Path).Inc()
			}
			httputil.WriteTooManyRequests(w, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func remoteIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
