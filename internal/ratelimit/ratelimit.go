package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/telhawk-systems/finops/common/logging"
	"github.com/telhawk-systems/finops/internal/metrics"
)

// Limiter admits provider calls against a per (provider, tenant) token bucket.
type Limiter interface {
	// TryAcquire consumes one token from the bucket for (provider, tenant)
	// at time now. limitPerMinute is both the bucket capacity and the number
	// of tokens refilled per minute. A non-positive limit is never allowed.
	TryAcquire(ctx context.Context, provider, tenant string, limitPerMinute int, now time.Time) (bool, error)
}

// Key returns the storage key holding the bucket for (provider, tenant).
func Key(provider, tenant string) string {
	return "ratelimit:" + provider + ":" + tenant
}

// tokenBucketScript refills and consumes atomically on the server so that
// concurrent workers never both observe the same token.
//
// KEYS[1] bucket hash
// ARGV[1] capacity (limit per minute)
// ARGV[2] now in milliseconds
// ARGV[3] key expiry in milliseconds
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local state = redis.call('HMGET', key, 'tokens', 'last_refill')
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])
if tokens == nil or last_refill == nil then
	tokens = capacity
	last_refill = now
end

-- A caller whose clock lags must not move the refill point back, or the
-- next caller would be credited the same interval twice.
local elapsed = math.max(0, now - last_refill)
tokens = math.min(capacity, tokens + (elapsed * capacity) / 60000)
last_refill = math.max(last_refill, now)

local allowed = 0
if tokens >= 1 then
	tokens = tokens - 1
	allowed = 1
end

redis.call('HSET', key, 'tokens', tostring(tokens), 'last_refill', tostring(last_refill))
redis.call('PEXPIRE', key, ttl)
return allowed
`)

// bucketTTL bounds how long idle bucket state lives. A bucket idle for a
// full minute is back at capacity, so expiring it later loses nothing.
const bucketTTL = 2 * time.Minute

// RedisLimiter keeps bucket state in Redis shared by all worker processes.
type RedisLimiter struct {
	client redis.Scripter
	logger *slog.Logger
}

// NewRedisLimiter creates a limiter backed by client.
func NewRedisLimiter(client redis.Scripter, logger *slog.Logger) *RedisLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLimiter{
		client: client,
		logger: logger.With(logging.Component("ratelimit")),
	}
}

// TryAcquire implements Limiter.
func (r *RedisLimiter) TryAcquire(ctx context.Context, provider, tenant string, limitPerMinute int, now time.Time) (bool, error) {
	if limitPerMinute <= 0 {
		metrics.RateLimitDenied.WithLabelValues(provider).Inc()
		return false, nil
	}

	result, err := tokenBucketScript.Run(ctx, r.client,
		[]string{Key(provider, tenant)},
		limitPerMinute, now.UnixMilli(), bucketTTL.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit check failed: %w", err)
	}

	allowed := result == 1
	if !allowed {
		metrics.RateLimitDenied.WithLabelValues(provider).Inc()
		logging.FromContext(ctx, r.logger).Debug("rate limit token denied",
			logging.Provider(provider), logging.TenantID(tenant))
	}

	return allowed, nil
}

// NoOpLimiter always admits calls (for testing or disabled rate limiting).
type NoOpLimiter struct{}

func (NoOpLimiter) TryAcquire(ctx context.Context, provider, tenant string, limitPerMinute int, now time.Time) (bool, error) {
	return true, nil
}
