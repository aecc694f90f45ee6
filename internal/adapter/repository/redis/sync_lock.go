package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/iho/botledger/internal/domain"
)

const keyPrefix = "botledger:"

// releaseScript deletes the lock only while it still holds our token, so a
// run whose lock expired cannot release a newer holder's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// SyncLock implements usecase.SyncLock with SET NX PX.
type SyncLock struct {
	client *redis.Client
}

// NewSyncLock creates a SyncLock.
func NewSyncLock(client *redis.Client) *SyncLock {
	return &SyncLock{client: client}
}

// Acquire takes the lock for ttl or fails with domain.ErrSyncInProgress.
func (l *SyncLock) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	fullKey := keyPrefix + "lock:" + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire sync lock: %w", err)
	}
	if !ok {
		return nil, domain.ErrSyncInProgress
	}

	release := func(ctx context.Context) error {
		err := releaseScript.Run(ctx, l.client, []string{fullKey}, token).Err()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("release sync lock: %w", err)
		}
		return nil
	}
	return release, nil
}
