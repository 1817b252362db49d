package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lamemoria/baldosas/internal/marker"
)

// redisClient connects to a local Redis, skipping the test when none is
// running.
func redisClient(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // keep test keys away from development data
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available, skipping integration test")
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestPinsCacheRoundTrip(t *testing.T) {
	client := redisClient(t)
	cache := NewPinsCache(client, time.Minute, nil)
	ctx := context.Background()
	cache.Invalidate(ctx)

	if _, ok := cache.Get(ctx); ok {
		t.Fatal("expected miss on empty cache")
	}

	pins := []*marker.Pin{
		{ID: "m1", Code: "BALD-0001", Name: "Ana", Neighborhood: "Almagro"},
		{ID: "m2", Code: "BALD-0002", Name: "Luis", Neighborhood: "Boedo"},
	}
	cache.Set(ctx, pins)

	got, ok := cache.Get(ctx)
	if !ok {
		t.Fatal("expected hit after Set")
	}
	if len(got) != 2 || got[0].Code != "BALD-0001" || got[1].Code != "BALD-0002" {
		t.Fatalf("got %+v", got)
	}

	cache.Invalidate(ctx)
	if _, ok := cache.Get(ctx); ok {
		t.Fatal("expected miss after Invalidate")
	}
}

func TestPinsCacheFailsOpen(t *testing.T) {
	// A client pointed at a closed port must degrade to misses, not errors.
	client := redis.NewClient(&redis.Options{
		Addr:        "localhost:1",
		DialTimeout: 100 * time.Millisecond,
	})
	defer client.Close()

	cache := NewPinsCache(client, time.Minute, nil)
	ctx := context.Background()

	if _, ok := cache.Get(ctx); ok {
		t.Fatal("expected miss when Redis is unreachable")
	}
	// Set and Invalidate must not panic.
	cache.Set(ctx, []*marker.Pin{{ID: "m1", Code: "BALD-0001"}})
	cache.Invalidate(ctx)
}

func TestPinsCacheCorruptPayload(t *testing.T) {
	client := redisClient(t)
	cache := NewPinsCache(client, time.Minute, nil)
	ctx := context.Background()

	if err := client.Set(ctx, "baldosas:pins:v1", "not json", time.Minute).Err(); err != nil {
		t.Fatalf("seeding corrupt payload: %v", err)
	}

	if _, ok := cache.Get(ctx); ok {
		t.Fatal("expected miss on corrupt payload")
	}
	// The corrupt key should have been dropped.
	if err := client.Get(ctx, "baldosas:pins:v1").Err(); err != redis.Nil {
		t.Fatalf("corrupt key still present: %v", err)
	}
}
