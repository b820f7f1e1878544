package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IANDYI/progress-service/internal/core/ports"
	"github.com/go-redis/redis/v8"
)

// DashboardStatsKey is the Redis key holding the cached dashboard aggregate
const DashboardStatsKey = "progress:dashboard-stats"

// DefaultStatsTTL bounds how stale a cached dashboard may be
const DefaultStatsTTL = 15 * time.Second

// NewRedisClient creates a Redis client for the stats cache
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// RedisStatsCache implements StatsCache on a single Redis key with a TTL
type RedisStatsCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStatsCache creates a dashboard stats cache
func NewRedisStatsCache(client *redis.Client, ttl time.Duration) *RedisStatsCache {
	if ttl <= 0 {
		ttl = DefaultStatsTTL
	}
	return &RedisStatsCache{client: client, ttl: ttl}
}

// Get returns the cached stats, or (nil, nil) when nothing is cached
func (c *RedisStatsCache) Get(ctx context.Context) (*ports.DashboardStats, error) {
	data, err := c.client.Get(ctx, DashboardStatsKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read dashboard stats: %w", err)
	}

	var stats ports.DashboardStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("failed to decode dashboard stats: %w", err)
	}
	return &stats, nil
}

// Set stores the stats for the configured TTL
func (c *RedisStatsCache) Set(ctx context.Context, stats *ports.DashboardStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to encode dashboard stats: %w", err)
	}
	if err := c.client.Set(ctx, DashboardStatsKey, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write dashboard stats: %w", err)
	}
	return nil
}

// Invalidate drops the cached stats
func (c *RedisStatsCache) Invalidate(ctx context.Context) error {
	if err := c.client.Del(ctx, DashboardStatsKey).Err(); err != nil {
		return fmt.Errorf("failed to invalidate dashboard stats: %w", err)
	}
	return nil
}

// Ping checks the Redis connection
func (c *RedisStatsCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Ensure RedisStatsCache implements the interface
var _ ports.StatsCache = (*RedisStatsCache)(nil)
