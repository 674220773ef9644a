package reqflow

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is a Cache backed by Redis hashes, for deployments where
// multiple processes should share one response cache. Eviction is delegated
// to Redis TTLs (and the server's own memory policy) instead of the
// in-process LRU; the freshness/validator contract is identical to
// MemoryCache.
type RedisCache struct {
	client *redis.Client
	prefix string

	// staleWindow is how long past its freshness deadline a
	// validator-bearing entry stays revalidatable before Redis drops it.
	staleWindow time.Duration
}

// RedisCacheOption configures a RedisCache.
type RedisCacheOption func(*RedisCache)

// WithRedisPrefix sets the key prefix, default "reqflow:cache".
func WithRedisPrefix(prefix string) RedisCacheOption {
	return func(c *RedisCache) {
		c.prefix = prefix
	}
}

// WithRedisStaleWindow sets how long stale-but-validatable entries survive.
func WithRedisStaleWindow(d time.Duration) RedisCacheOption {
	return func(c *RedisCache) {
		c.staleWindow = d
	}
}

// NewRedisCache creates a Redis-backed cache on an existing client.
func NewRedisCache(client *redis.Client, opts ...RedisCacheOption) *RedisCache {
	c := &RedisCache{
		client:      client,
		prefix:      "reqflow:cache",
		staleWindow: time.Hour,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RedisCache) key(key string) string {
	return c.prefix + ":" + key
}

// Lookup implements Cache.
func (c *RedisCache) Lookup(ctx context.Context, key string) (Lookup, error) {
	fields, err := c.client.HGetAll(ctx, c.key(key)).Result()
	if err != nil {
		return Lookup{}, fmt.Errorf("reqflow: redis lookup failed: %w", err)
	}
	if len(fields) == 0 {
		return Lookup{State: Miss}, nil
	}

	freshNanos, err := strconv.ParseInt(fields["fresh_until"], 10, 64)
	if err != nil {
		return Lookup{State: Miss}, nil
	}
	payload := []byte(fields["payload"])
	validator := fields["validator"]

	if time.Now().Before(time.Unix(0, freshNanos)) {
		return Lookup{State: Fresh, Payload: payload, Validator: validator}, nil
	}
	if validator != "" {
		return Lookup{State: Stale, Payload: payload, Validator: validator}, nil
	}

	_ = c.client.Del(ctx, c.key(key)).Err()
	return Lookup{State: Miss}, nil
}

// Store implements Cache.
func (c *RedisCache) Store(ctx context.Context, key string, payload []byte, validator string, freshUntil time.Time) error {
	k := c.key(key)

	pipe := c.client.TxPipeline()
	pipe.Del(ctx, k)
	pipe.HSet(ctx, k,
		"payload", payload,
		"validator", validator,
		"fresh_until", strconv.FormatInt(freshUntil.UnixNano(), 10),
	)
	pipe.PExpireAt(ctx, k, c.expiry(validator, freshUntil))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("reqflow: redis store failed: %w", err)
	}
	return nil
}

// Refresh implements Cache.
func (c *RedisCache) Refresh(ctx context.Context, key string, freshUntil time.Time) error {
	k := c.key(key)

	exists, err := c.client.Exists(ctx, k).Result()
	if err != nil {
		return fmt.Errorf("reqflow: redis refresh failed: %w", err)
	}
	if exists == 0 {
		return nil
	}

	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, k, "fresh_until", strconv.FormatInt(freshUntil.UnixNano(), 10))
	pipe.PExpireAt(ctx, k, freshUntil.Add(c.staleWindow))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("reqflow: redis refresh failed: %w", err)
	}
	return nil
}

// Invalidate implements Cache.
func (c *RedisCache) Invalidate(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("reqflow: redis invalidate failed: %w", err)
	}
	return nil
}

// InvalidateAll implements Cache.
func (c *RedisCache) InvalidateAll(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.prefix+":*", 256).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("reqflow: redis invalidate-all failed: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("reqflow: redis invalidate-all scan failed: %w", err)
	}
	return nil
}

// expiry keeps validator-bearing entries around for revalidation; entries
// without a validator are useless once stale.
func (c *RedisCache) expiry(validator string, freshUntil time.Time) time.Time {
	if validator != "" {
		return freshUntil.Add(c.staleWindow)
	}
	if freshUntil.Before(time.Now()) {
		// Already stale and unvalidatable: give Redis a floor so the write
		// is not immediately reaped mid-store.
		return time.Now().Add(time.Second)
	}
	return freshUntil
}
