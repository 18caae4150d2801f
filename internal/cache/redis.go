// SPDX-License-Identifier: MIT

package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/clipwork/clipwork/internal/xerr"
)

const opTimeout = 2 * time.Second

// RedisCache is the Redis-backed implementation of Cache.
type RedisCache struct {
	client *redis.Client
	logger zerolog.Logger
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient dials Redis and verifies connectivity. The returned client
// is shared by the cache, the queue and the upload-session store.
func NewRedisClient(cfg RedisConfig, logger zerolog.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("connected to shared store")
	return client, nil
}

// NewRedisCache wraps an established client as a Cache.
func NewRedisCache(client *redis.Client, logger zerolog.Logger) *RedisCache {
	return &RedisCache{client: client, logger: logger}
}

// Get retrieves and decodes a value. Transport failures surface as Transient.
func (c *RedisCache) Get(key string, dest any) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	val, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, xerr.Wrapf(xerr.Transient, err, "cache get %s", key)
	}
	if err := json.Unmarshal(val, dest); err != nil {
		// A corrupt entry behaves like a miss; the writer will repopulate.
		c.logger.Warn().Err(err).Str("key", key).Msg("cache entry undecodable, treating as miss")
		return false, nil
	}
	return true, nil
}

// Set encodes and stores a value with the given TTL.
func (c *RedisCache) Set(key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal %s: %w", key, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return xerr.Wrapf(xerr.Transient, err, "cache set %s", key)
	}
	return nil
}

// Delete removes the given keys.
func (c *RedisCache) Delete(keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return xerr.Wrapf(xerr.Transient, err, "cache delete")
	}
	return nil
}

// Exists reports whether key is present.
func (c *RedisCache) Exists(key string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	n, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, xerr.Wrapf(xerr.Transient, err, "cache exists %s", key)
	}
	return n > 0, nil
}
