package redis

import (
	"context"
	"testing"
	"time"
)

func TestIdempotencyStore_CheckAndSetExisting(t *testing.T) {
	client, _ := newTestRedisClient(t)

	store := NewIdempotencyStore(client, "bot")
	ctx := context.Background()

	if err := client.Set(ctx, store.prefix+"key", "cached", time.Minute).Err(); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	exists, resp, err := store.CheckAndSet(ctx, "key", nil, time.Minute)
	if err != nil {
		t.Fatalf("CheckAndSet failed: %v", err)
	}
	if !exists || string(resp) != "cached" {
		t.Fatalf("expected existing cached response, got exists=%v resp=%s", exists, resp)
	}
}

func TestIdempotencyStore_CheckAndSetClaimsNewKey(t *testing.T) {
	client, _ := newTestRedisClient(t)

	store := NewIdempotencyStore(client, "bot")
	ctx := context.Background()

	exists, resp, err := store.CheckAndSet(ctx, "pending", nil, time.Minute)
	if err != nil || exists || resp != nil {
		t.Fatalf("unexpected result: exists=%v resp=%v err=%v", exists, resp, err)
	}

	val, err := client.Get(ctx, store.prefix+"pending").Result()
	if err != nil || val != InFlight {
		t.Fatalf("expected in-flight marker, got val=%s err=%v", val, err)
	}

	exists, resp, err = store.CheckAndSet(ctx, "pending", nil, time.Minute)
	if err != nil || !exists || string(resp) != InFlight {
		t.Fatalf("second claim should see the marker, got exists=%v resp=%s err=%v", exists, resp, err)
	}
}

func TestIdempotencyStore_CheckAndSetWithResponse(t *testing.T) {
	client, _ := newTestRedisClient(t)

	store := NewIdempotencyStore(client, "bot")
	ctx := context.Background()

	if exists, _, err := store.CheckAndSet(ctx, "k", []byte("body"), time.Minute); err != nil || exists {
		t.Fatalf("unexpected result: exists=%v err=%v", exists, err)
	}

	val, err := client.Get(ctx, store.prefix+"k").Result()
	if err != nil || val != "body" {
		t.Fatalf("expected stored response, got val=%s err=%v", val, err)
	}
}

func TestIdempotencyStore_Update(t *testing.T) {
	client, _ := newTestRedisClient(t)

	store := NewIdempotencyStore(client, "bot")
	ctx := context.Background()

	if err := store.Update(ctx, "complete", []byte("done"), time.Minute); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	val, err := client.Get(ctx, store.prefix+"complete").Result()
	if err != nil || val != "done" {
		t.Fatalf("expected stored response, got val=%s err=%v", val, err)
	}
}
