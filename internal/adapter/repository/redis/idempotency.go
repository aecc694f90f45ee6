package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// InFlight is stored under a key whose request has not finished yet.
const InFlight = "processing"

// IdempotencyStore implements usecase.IdempotencyStore using Redis.
type IdempotencyStore struct {
	client *redis.Client
	prefix string
}

// NewIdempotencyStore creates an IdempotencyStore whose keys live under
// namespace.
func NewIdempotencyStore(client *redis.Client, namespace string) *IdempotencyStore {
	return &IdempotencyStore{
		client: client,
		prefix: keyPrefix + namespace + ":idempotency:",
	}
}

// CheckAndSet reports whether key was already claimed and, if so, what it
// holds. An unclaimed key is claimed with response, or with InFlight when
// response is nil.
func (s *IdempotencyStore) CheckAndSet(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error) {
	fullKey := s.prefix + key

	var value any = InFlight
	if response != nil {
		value = response
	}

	claimed, err := s.client.SetNX(ctx, fullKey, value, ttl).Result()
	if err != nil {
		return false, nil, err
	}
	if claimed {
		return false, nil, nil
	}

	existing, err := s.client.Get(ctx, fullKey).Bytes()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; the caller may retry.
		return true, nil, nil
	}
	if err != nil {
		return false, nil, err
	}
	return true, existing, nil
}

// Update stores the final response under key.
func (s *IdempotencyStore) Update(ctx context.Context, key string, response []byte, ttl time.Duration) error {
	return s.client.Set(ctx, s.prefix+key, response, ttl).Err()
}
