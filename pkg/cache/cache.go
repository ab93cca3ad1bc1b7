// Package cache is the Redis layer fronting hot deployment reads. Status
// polling and SSE ticks hammer GET /v1/deployments/{id} while a deployment
// warms, so the store caches serialized records here for a short TTL and
// invalidates on every write; nothing else is kept in Redis.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/visgate-ai/deploy-orchestrator/internal/config"
)

// Cache is a thin wrapper over one Redis connection pool, narrowed to the
// get/set/invalidate surface the deployment store needs.
type Cache struct {
	client *redis.Client
}

// New connects to Redis and verifies the connection with a bounded ping.
func New(cfg config.RedisConfig) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.PoolSize / 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("unable to connect to Redis: %w", err)
	}
	return &Cache{client: client}, nil
}

func (c *Cache) Close() error {
	return c.client.Close()
}

// Health reports whether Redis is reachable, for the readiness probe.
func (c *Cache) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Get returns the cached value for key, or "" on a miss. Only a transport
// or server failure is an error; a miss is a normal outcome the read-through
// store falls past to Postgres.
func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return val, err
}

// Set stores a serialized record under key for ttl.
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

// Delete invalidates key. Deleting an absent key is a no-op.
func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}
