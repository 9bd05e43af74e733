package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/markdave123-py/uwia/internal/core"
	"github.com/markdave123-py/uwia/internal/logger"
)

var _ core.ClassificationCache = (*RedisCache)(nil)

// RedisCache shares classifications across replicas. Values live in one hash; a sorted
// set scored by last use keeps the hash within capacity.
type RedisCache struct {
	rdb      *redis.Client
	capacity int64
	values   string
	recency  string
	logger   *slog.Logger
}

// NewRedisClient connects and pings redisURL.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	rdb := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return rdb, nil
}

func NewRedisCache(rdb *redis.Client, prefix string, capacity int, log *slog.Logger) *RedisCache {
	if capacity <= 0 {
		capacity = 1000
	}
	return &RedisCache{
		rdb:      rdb,
		capacity: int64(capacity),
		values:   prefix + ":values",
		recency:  prefix + ":recency",
		logger:   logger.OrDefault(log).With("component", "redis_cache"),
	}
}

func encode(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

// Get reads a classification. Redis errors are treated as misses; the caller recomputes.
func (c *RedisCache) Get(ctx context.Context, key string) (bool, bool) {
	v, err := c.rdb.HGet(ctx, c.values, key).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("cache read failed", "error", err)
		}
		return false, false
	}
	c.rdb.ZAdd(ctx, c.recency, redis.Z{Score: float64(time.Now().UnixNano()), Member: key})
	return v == "1", true
}

func (c *RedisCache) Set(ctx context.Context, key string, needsVisual bool) {
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, c.values, key, encode(needsVisual))
		p.ZAdd(ctx, c.recency, redis.Z{Score: float64(time.Now().UnixNano()), Member: key})
		return nil
	})
	if err != nil {
		c.logger.Warn("cache write failed", "error", err)
		return
	}
	c.trim(ctx)
}

// trim drops the least recently used keys beyond capacity.
func (c *RedisCache) trim(ctx context.Context) {
	n, err := c.rdb.ZCard(ctx, c.recency).Result()
	if err != nil || n <= c.capacity {
		return
	}
	stale, err := c.rdb.ZRange(ctx, c.recency, 0, n-c.capacity-1).Result()
	if err != nil || len(stale) == 0 {
		return
	}
	members := make([]any, len(stale))
	for i, s := range stale {
		members[i] = s
	}
	_, err = c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HDel(ctx, c.values, stale...)
		p.ZRem(ctx, c.recency, members...)
		return nil
	})
	if err != nil {
		c.logger.Warn("cache trim failed", "error", err)
	}
}

func (c *RedisCache) Evict(ctx context.Context, key string) {
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HDel(ctx, c.values, key)
		p.ZRem(ctx, c.recency, key)
		return nil
	})
	if err != nil {
		c.logger.Warn("cache evict failed", "error", err)
	}
}

func (c *RedisCache) Len(ctx context.Context) int {
	n, err := c.rdb.HLen(ctx, c.values).Result()
	if err != nil {
		return 0
	}
	return int(n)
}
