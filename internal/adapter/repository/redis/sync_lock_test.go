package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/iho/botledger/internal/domain"
)

func TestSyncLock_Exclusive(t *testing.T) {
	client, _ := newTestRedisClient(t)

	lock := NewSyncLock(client)
	ctx := context.Background()

	release, err := lock.Acquire(ctx, "sync:ACME_US_ALPACA_bot1", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	if _, err := lock.Acquire(ctx, "sync:ACME_US_ALPACA_bot1", time.Minute); !errors.Is(err, domain.ErrSyncInProgress) {
		t.Fatalf("expected ErrSyncInProgress, got %v", err)
	}

	if _, err := lock.Acquire(ctx, "sync:OTHER_US_ALPACA_bot1", time.Minute); err != nil {
		t.Fatalf("other identity should not be blocked: %v", err)
	}

	if err := release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := lock.Acquire(ctx, "sync:ACME_US_ALPACA_bot1", time.Minute); err != nil {
		t.Fatalf("reacquire after release: %v", err)
	}
}

func TestSyncLock_StaleReleaseKeepsNewHolder(t *testing.T) {
	client, mr := newTestRedisClient(t)

	lock := NewSyncLock(client)
	ctx := context.Background()

	staleRelease, err := lock.Acquire(ctx, "sync:bot", time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	mr.FastForward(2 * time.Second)

	if _, err := lock.Acquire(ctx, "sync:bot", time.Minute); err != nil {
		t.Fatalf("acquire after expiry: %v", err)
	}

	if err := staleRelease(ctx); err != nil {
		t.Fatalf("stale release: %v", err)
	}
	if !mr.Exists(storedKey("lock", "sync", "bot")) {
		t.Fatal("stale release removed the new holder's lock")
	}
}
