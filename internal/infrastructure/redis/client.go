package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// NewClient creates a new Redis client and verifies it with a PING.
func NewClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

// NewOptionalClient returns (nil, nil) when redisURL is empty. Redis backs
// the sync lock, the mapping cache and HTTP idempotency, and the ledger runs
// without all three.
func NewOptionalClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, nil
	}
	return NewClient(ctx, redisURL)
}
