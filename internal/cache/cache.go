package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Store is the cache surface the data gateway and scheduler depend on.
// Values are JSON-encoded. Get reports a miss with found=false rather than
// an error so callers can fall through to the origin.
type Store interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	Health(ctx context.Context) error
}

// RedisCache is the production Store over a Redis client. Keys are
// namespaced with a fixed prefix.
type RedisCache struct {
	client *redis.Client
	prefix string
	logger *logrus.Logger
}

// NewRedisCache wraps a Redis client. An empty prefix defaults to "fpl:cache".
func NewRedisCache(client *redis.Client, prefix string, logger *logrus.Logger) *RedisCache {
	if prefix == "" {
		prefix = "fpl:cache"
	}
	return &RedisCache{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

func (c *RedisCache) fullKey(key string) string {
	return fmt.Sprintf("%s:%s", c.prefix, key)
}

// Get loads and decodes a cached value. A missing key is not an error.
func (c *RedisCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	fullKey := c.fullKey(key)
	data, err := c.client.Get(ctx, fullKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			c.logger.WithField("cache_key", fullKey).Debug("Cache miss")
			return false, nil
		}
		return false, fmt.Errorf("failed to get %s from cache: %w", key, err)
	}

	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached %s: %w", key, err)
	}

	c.logger.WithField("cache_key", fullKey).Debug("Cache hit")
	return true, nil
}

// Set stores a value with the given TTL.
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}

	fullKey := c.fullKey(key)
	if err := c.client.Set(ctx, fullKey, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s in cache: %w", key, err)
	}

	c.logger.WithFields(logrus.Fields{
		"cache_key": fullKey,
		"ttl":       ttl,
	}).Debug("Cached value")
	return nil
}

// SetNX stores a value only when the key is absent. Returns whether the
// write won.
func (c *RedisCache) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("failed to marshal %s: %w", key, err)
	}

	ok, err := c.client.SetNX(ctx, c.fullKey(key), data, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to setnx %s: %w", key, err)
	}
	return ok, nil
}

// Delete removes a key. Deleting a missing key is not an error.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.fullKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete %s from cache: %w", key, err)
	}
	return nil
}

// Health pings the backing Redis.
func (c *RedisCache) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
