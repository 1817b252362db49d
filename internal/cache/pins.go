// Package cache provides the Redis-backed read cache for hot map queries.
// The pins listing backs the initial map render on every visit, so it is
// cached aggressively and invalidated on marker writes.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lamemoria/baldosas/internal/marker"
)

// DefaultPinsTTL bounds staleness of the map between marker writes and
// invalidation failures.
const DefaultPinsTTL = 5 * time.Minute

const pinsKey = "baldosas:pins:v1"

// PinsCache caches the full active-marker pin list. All operations fail
// open: a Redis outage degrades to repository reads, never to errors.
type PinsCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewPinsCache creates a pins cache. A zero ttl uses DefaultPinsTTL.
func NewPinsCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *PinsCache {
	if ttl <= 0 {
		ttl = DefaultPinsTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PinsCache{client: client, ttl: ttl, logger: logger}
}

// Get returns the cached pin list, or ok=false on miss or any Redis failure.
func (c *PinsCache) Get(ctx context.Context) ([]*marker.Pin, bool) {
	payload, err := c.client.Get(ctx, pinsKey).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("pins cache read failed", "error", err)
		}
		return nil, false
	}

	var pins []*marker.Pin
	if err := json.Unmarshal(payload, &pins); err != nil {
		c.logger.Warn("pins cache payload corrupt, invalidating", "error", err)
		c.Invalidate(ctx)
		return nil, false
	}
	return pins, true
}

// Set stores the pin list with the configured TTL. Failures are logged and
// swallowed.
func (c *PinsCache) Set(ctx context.Context, pins []*marker.Pin) {
	payload, err := json.Marshal(pins)
	if err != nil {
		c.logger.Warn("pins cache encode failed", "error", err)
		return
	}
	if err := c.client.Set(ctx, pinsKey, payload, c.ttl).Err(); err != nil {
		c.logger.Warn("pins cache write failed", "error", err)
	}
}

// Invalidate drops the cached pin list. Called after marker writes.
func (c *PinsCache) Invalidate(ctx context.Context) {
	if err := c.client.Del(ctx, pinsKey).Err(); err != nil {
		c.logger.Warn("pins cache invalidation failed", "error", err)
	}
}
