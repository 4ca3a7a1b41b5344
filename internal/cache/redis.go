package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/secretshub/policy-core/pkg/types"
)

// RedisConfig configures the Redis decision cache
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	TTL       time.Duration
	KeyPrefix string
}

// DefaultRedisConfig returns default Redis cache configuration
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:      "localhost:6379",
		TTL:       5 * time.Minute,
		KeyPrefix: "policy:decision:",
	}
}

// RedisCache implements Cache using Redis as a distributed decision cache.
// Decisions are serialized as JSON; a miss on deserialization counts as a
// cache miss rather than an error.
type RedisCache struct {
	client *redis.Client
	config *RedisConfig
	ctx    context.Context
	cancel context.CancelFunc

	hits   uint64
	misses uint64
}

// NewRedisCache creates a new Redis decision cache and verifies connectivity
func NewRedisCache(config *RedisConfig) (*RedisCache, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}
	if config.TTL <= 0 {
		config.TTL = 5 * time.Minute
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "policy:decision:"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
		// CLIENT SETINFO is not supported by every server the cache
		// has to talk to (miniredis, older proxies).
		DisableIndentity: true,
	})

	ctx, cancel := context.WithCancel(context.Background())

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		cancel()
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{
		client: client,
		config: config,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Get retrieves a decision from Redis
func (c *RedisCache) Get(key string) (*types.Decision, bool) {
	data, err := c.client.Get(c.ctx, c.config.KeyPrefix+key).Bytes()
	if err != nil {
		atomic.AddUint64(&c.misses, 1)
		return nil, false
	}

	var decision types.Decision
	if err := json.Unmarshal(data, &decision); err != nil {
		atomic.AddUint64(&c.misses, 1)
		return nil, false
	}

	atomic.AddUint64(&c.hits, 1)
	return &decision, true
}

// Set stores a decision in Redis with the configured TTL
func (c *RedisCache) Set(key string, decision *types.Decision) {
	data, err := json.Marshal(decision)
	if err != nil {
		return
	}
	c.client.Set(c.ctx, c.config.KeyPrefix+key, data, c.config.TTL)
}

// Delete removes a key from Redis
func (c *RedisCache) Delete(key string) {
	c.client.Del(c.ctx, c.config.KeyPrefix+key)
}

// Clear removes all cached decisions under the key prefix
func (c *RedisCache) Clear() {
	iter := c.client.Scan(c.ctx, 0, c.config.KeyPrefix+"*", 0).Iterator()
	for iter.Next(c.ctx) {
		c.client.Del(c.ctx, iter.Val())
	}
}

// Stats returns cache statistics
func (c *RedisCache) Stats() Stats {
	hits := atomic.LoadUint64(&c.hits)
	misses := atomic.LoadUint64(&c.misses)
	total := hits + misses

	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	size := 0
	if n, err := c.client.DBSize(c.ctx).Result(); err == nil {
		size = int(n)
	}

	return Stats{
		Size:    size,
		Hits:    hits,
		Misses:  misses,
		HitRate: hitRate,
	}
}

// Close releases the Redis connection
func (c *RedisCache) Close() error {
	c.cancel()
	return c.client.Close()
}
