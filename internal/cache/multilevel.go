package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Cache is what the todo service needs from a cache tier.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, key string) error
	DeletePattern(ctx context.Context, pattern string) error
	Stats() map[string]interface{}
}

// MultiLevelCache reads L1 (process memory) first, then L2 (redis). L2 may be nil,
// in which case only the local tier is used.
type MultiLevelCache struct {
	l1      *MemoryCache
	l2      *RedisCache
	l1TTL   time.Duration
	metrics *CacheMetrics
}

func NewMultiLevelCache(redisCache *RedisCache, metrics *CacheMetrics) *MultiLevelCache {
	if metrics == nil {
		metrics = NewCacheMetrics()
	}
	return &MultiLevelCache{
		l1:      NewMemoryCache(),
		l2:      redisCache,
		l1TTL:   30 * time.Second,
		metrics: metrics,
	}
}

func (c *MultiLevelCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	c.l1.Set(key, data, c.localTTL(ttl))
	c.metrics.RecordSet()

	if c.l2 != nil {
		if err := c.l2.Set(ctx, key, value, ttl); err != nil {
			c.metrics.RecordError()
			return err
		}
	}
	return nil
}

func (c *MultiLevelCache) Get(ctx context.Context, key string, dest interface{}) error {
	if value, found := c.l1.Get(key); found {
		c.metrics.RecordHit(TierLocal)
		return decodeLocal(value, dest)
	}

	if c.l2 == nil {
		c.metrics.RecordMiss()
		return ErrCacheMiss
	}

	err := c.l2.Get(ctx, key, dest)
	switch {
	case err == nil:
		c.metrics.RecordHit(TierRedis)
		if data, marshalErr := json.Marshal(dest); marshalErr == nil {
			c.l1.Set(key, data, c.l1TTL)
		}
	case errors.Is(err, ErrCacheMiss):
		c.metrics.RecordMiss()
	default:
		c.metrics.RecordError()
	}
	return err
}

func (c *MultiLevelCache) Delete(ctx context.Context, key string) error {
	c.l1.Delete(key)
	c.metrics.RecordInvalidation()

	if c.l2 != nil {
		return c.l2.Delete(ctx, key)
	}
	return nil
}

func (c *MultiLevelCache) DeletePattern(ctx context.Context, pattern string) error {
	c.l1.DeletePattern(pattern)
	c.metrics.RecordInvalidation()

	if c.l2 != nil {
		if err := c.l2.DeletePattern(ctx, pattern); err != nil {
			c.metrics.RecordError()
			return err
		}
	}
	return nil
}

func (c *MultiLevelCache) Metrics() *CacheMetrics {
	return c.metrics
}

func (c *MultiLevelCache) Stats() map[string]interface{} {
	stats := map[string]interface{}{
		"l1":      c.l1.Stats(),
		"metrics": c.metrics.Snapshot(),
	}
	if c.l2 != nil {
		stats["l2"] = c.l2.Stats()
	}
	return stats
}

func (c *MultiLevelCache) Health(ctx context.Context) error {
	if c.l2 != nil {
		return c.l2.Health(ctx)
	}
	return nil
}

// Close releases nothing shared: the redis client belongs to the caller.
func (c *MultiLevelCache) Close() error {
	c.l1.DeleteExpired()
	return nil
}

// localTTL caps L1 lifetime so other instances' invalidations are seen quickly.
func (c *MultiLevelCache) localTTL(ttl time.Duration) time.Duration {
	if c.l2 == nil || (ttl > 0 && ttl < c.l1TTL) {
		return ttl
	}
	return c.l1TTL
}

// decodeLocal unmarshals the L1 copy so callers never share it.
func decodeLocal(value interface{}, dest interface{}) error {
	data, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("unexpected local cache entry %T", value)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal cached data: %w", err)
	}
	return nil
}
