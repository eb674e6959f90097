package repository

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const eventKeyPrefix = "telemind:event:"

// EventCache deduplicates inbound events with Redis SETNX; the key TTL is the dedup window
type EventCache struct {
	client *redis.Client
}

// NewEventCache creates a Redis-backed event deduplicator
func NewEventCache(client *redis.Client) *EventCache {
	return &EventCache{client: client}
}

func (c *EventCache) Claim(ctx context.Context, eventID string, window time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, eventKeyPrefix+eventID, time.Now().UTC().Format(time.RFC3339), window).Result()
	if err != nil {
		return false, storeError("claim event", err)
	}
	return ok, nil
}

func (c *EventCache) Release(ctx context.Context, eventID string) error {
	if err := c.client.Del(ctx, eventKeyPrefix+eventID).Err(); err != nil {
		return storeError("release event", err)
	}
	return nil
}

// Ping reports whether Redis is reachable
func (c *EventCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
