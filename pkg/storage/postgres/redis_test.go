package postgres

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestNewRedisClient(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()

	client, err := NewRedisClient(RedisOptions{URL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("NewRedisClient failed: %v", err)
	}
	defer client.Close()

	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Errorf("ping failed: %v", err)
	}
}

func TestNewRedisClient_InvalidURL(t *testing.T) {
	if _, err := NewRedisClient(RedisOptions{URL: "not-a-url"}); err == nil {
		t.Errorf("expected error for invalid URL")
	}
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	addr := mr.Addr()
	mr.Close()

	if _, err := NewRedisClient(RedisOptions{URL: "redis://" + addr}); err == nil {
		t.Errorf("expected error for unreachable redis")
	}
}
