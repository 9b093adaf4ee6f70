package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrCacheMiss = errors.New("cache miss")
	ErrCacheDown = errors.New("cache unavailable")
)

// RedisCache is the shared L2 tier. Every call goes through the circuit
// breaker; a miss is not counted as a failure.
type RedisCache struct {
	client  *redis.Client
	breaker *CircuitBreaker
}

type CacheConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 5,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// NewRedisClient builds the client shared by the cache, the realtime relay and the job queue.
func NewRedisClient(config *CacheConfig) *redis.Client {
	if config == nil {
		config = DefaultCacheConfig()
	}

	return redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		MaxRetries:   config.MaxRetries,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})
}

func NewRedisCache(client *redis.Client, breaker *CircuitBreaker) *RedisCache {
	if breaker == nil {
		breaker = NewCircuitBreaker(nil)
	}
	return &RedisCache{client: client, breaker: breaker}
}

func (r *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	return r.execute(func() error {
		ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()

		if err := r.client.Set(ctx, key, data, expiration).Err(); err != nil {
			return fmt.Errorf("failed to set cache: %w", err)
		}
		return nil
	})
}

func (r *RedisCache) Get(ctx context.Context, key string, dest interface{}) error {
	var data []byte
	miss := false
	err := r.execute(func() error {
		ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()

		result, err := r.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			miss = true
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to get from cache: %w", err)
		}
		data = result
		return nil
	})
	if err != nil {
		return err
	}
	if miss {
		return ErrCacheMiss
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal cached data: %w", err)
	}
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.execute(func() error {
		ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()

		return r.client.Del(ctx, key).Err()
	})
}

// DeletePattern walks the keyspace with SCAN so large keyspaces never block the server.
func (r *RedisCache) DeletePattern(ctx context.Context, pattern string) error {
	return r.execute(func() error {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
		var keys []string
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("failed to scan keys for pattern %s: %w", pattern, err)
		}
		if len(keys) > 0 {
			return r.client.Del(ctx, keys...).Err()
		}
		return nil
	})
}

func (r *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := r.execute(func() error {
		ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()

		result, err := r.client.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		exists = result > 0
		return nil
	})
	return exists, err
}

func (r *RedisCache) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	return r.client.Ping(ctx).Err()
}

func (r *RedisCache) Stats() map[string]interface{} {
	poolStats := r.client.PoolStats()

	return map[string]interface{}{
		"pool_hits":       poolStats.Hits,
		"pool_misses":     poolStats.Misses,
		"pool_timeouts":   poolStats.Timeouts,
		"pool_total":      poolStats.TotalConns,
		"pool_idle":       poolStats.IdleConns,
		"pool_stale":      poolStats.StaleConns,
		"circuit_breaker": r.breaker.GetStats(),
	}
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}

func (r *RedisCache) execute(fn func() error) error {
	err := r.breaker.Execute(fn)
	if errors.Is(err, ErrCircuitBreakerOpen) {
		return fmt.Errorf("%w: %w", ErrCacheDown, err)
	}
	return err
}
