package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/storefront-scraper/internal/models"
	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of go-redis used here.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisCache shares cached captures between processes. Lookup errors are
// logged and treated as a miss.
type RedisCache struct {
	client RedisClient
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisCache(client RedisClient, prefix string, ttl time.Duration, logger *slog.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCache{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.With("component", "redis_cache"),
	}
}

func (c *RedisCache) Get(ctx context.Context, key string) (*models.Capture, bool) {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("cache lookup failed", "key", key, "error", err)
		return nil, false
	}

	var data models.Capture
	if err := json.Unmarshal(raw, &data); err != nil {
		c.logger.Warn("discarding malformed cache entry", "key", key, "error", err)
		return nil, false
	}
	return &data, true
}

func (c *RedisCache) Set(ctx context.Context, key string, data *models.Capture) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal capture: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}
