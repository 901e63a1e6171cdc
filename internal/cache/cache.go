package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/telhawk-systems/finops/internal/metrics"
)

// Key identifies one cached provider response.
type Key struct {
	TenantID    string
	Provider    string
	Resource    string
	PayloadHash string
}

// String renders the key as stored in Redis.
func (k Key) String() string {
	return "ingestion:" + k.Provider + ":" + k.Resource + ":" + k.TenantID + ":" + k.PayloadHash
}

// Cache maps a request fingerprint to the last successful provider response.
// A miss is reported as ok=false, never as an error.
type Cache interface {
	Get(ctx context.Context, key Key) (payload json.RawMessage, ok bool, err error)
	Put(ctx context.Context, key Key, payload json.RawMessage, ttl time.Duration) error
}

// RedisCache stores responses as JSON strings with a TTL.
type RedisCache struct {
	client redis.Cmdable
}

// NewRedisCache creates a response cache backed by client.
func NewRedisCache(client redis.Cmdable) *RedisCache {
	return &RedisCache{client: client}
}

// Get returns the cached payload for key.
func (c *RedisCache) Get(ctx context.Context, key Key) (json.RawMessage, bool, error) {
	data, err := c.client.Get(ctx, key.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false, nil
	}
	if err != nil {
		metrics.CacheLookups.WithLabelValues("error").Inc()
		return nil, false, fmt.Errorf("failed to read cached response: %w", err)
	}
	if !json.Valid(data) {
		// A corrupt entry behaves like a miss and is overwritten by the next put.
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false, nil
	}

	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return json.RawMessage(data), true, nil
}

// Put stores payload under key for ttl. A non-positive ttl disables caching.
func (c *RedisCache) Put(ctx context.Context, key Key, payload json.RawMessage, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := c.client.Set(ctx, key.String(), []byte(payload), ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache response: %w", err)
	}
	return nil
}

// NoOpCache never stores anything.
type NoOpCache struct{}

func (NoOpCache) Get(ctx context.Context, key Key) (json.RawMessage, bool, error) {
	return nil, false, nil
}

func (NoOpCache) Put(ctx context.Context, key Key, payload json.RawMessage, ttl time.Duration) error {
	return nil
}
