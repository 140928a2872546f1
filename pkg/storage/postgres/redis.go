package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisOptions configures the shared Redis client.
type RedisOptions struct {
	URL      string
	Password string
	DB       int
}

// NewRedisClient connects to Redis and verifies the connection. The
// client backs the distributed rate limiter and health checks.
func NewRedisClient(opts RedisOptions) (*redis.Client, error) {
	parsed, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if opts.Password != "" {
		parsed.Password = opts.Password
	}
	if opts.DB > 0 {
		parsed.DB = opts.DB
	}

	parsed.DialTimeout = 5 * time.Second
	parsed.ReadTimeout = 3 * time.Second
	parsed.WriteTimeout = 3 * time.Second
	parsed.PoolTimeout = 4 * time.Second

	client := redis.NewClient(parsed)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}
