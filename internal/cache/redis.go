// internal/cache/redis.go - Redis write-through cache for the latest sample
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"bitaxe-monitor/internal/database"
)

const (
	LatestSampleKey  = "bitaxe:sample:latest"
	IngestCounterKey = "bitaxe:stats:ingested"

	DefaultTTL = time.Hour
)

// ErrCacheMiss is returned when the key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects and pings the server.
func NewRedisCache(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, ttl: ttl}, nil
}

// SetLatest stores sample as the latest one and bumps the ingest counter.
func (r *RedisCache) SetLatest(ctx context.Context, sample *database.Sample) error {
	data, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("failed to marshal sample: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, LatestSampleKey, data, r.ttl)
	pipe.Incr(ctx, IngestCounterKey)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cache sample: %w", err)
	}
	return nil
}

func (r *RedisCache) GetLatest(ctx context.Context) (*database.Sample, error) {
	data, err := r.client.Get(ctx, LatestSampleKey).Bytes()
	if err == redis.Nil {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest sample: %w", err)
	}

	var sample database.Sample
	if err := json.Unmarshal(data, &sample); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sample: %w", err)
	}
	return &sample, nil
}

// IngestedCount returns the number of samples cached since the counter was
// created.
func (r *RedisCache) IngestedCount(ctx context.Context) (int64, error) {
	n, err := r.client.Get(ctx, IngestCounterKey).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

// Invalidate drops the latest sample, used after the store is pruned or
// compacted.
func (r *RedisCache) Invalidate(ctx context.Context) error {
	return r.client.Del(ctx, LatestSampleKey).Err()
}

func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}
