package resilience

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisHealthCache is a distributed variant of HealthCache, backed by Redis,
// so multiple service replicas share one last-known-good view per backend
// instead of each re-probing independently. Adapted from the teacher's
// RedisDedupeStore (internal/orchestrator/dedupe.go), which used the same
// get/set-with-TTL shape for idempotency keys.
type RedisHealthCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisHealthCache connects to addr and pings it to validate the
// connection before returning.
func NewRedisHealthCache(addr string, ttl time.Duration) (*RedisHealthCache, error) {
	if ttl <= 0 {
		ttl = DefaultHealthTTL
	}
	c := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisHealthCache{client: c, ttl: ttl}, nil
}

// Check consults Redis for a cached positive result under key
// "health:<backend>"; on a miss (including a prior negative, which is never
// stored) it runs probe and caches only a healthy outcome.
func (c *RedisHealthCache) Check(ctx context.Context, backend string, probe Probe) (bool, error) {
	key := "health:" + backend
	v, err := c.client.Get(ctx, key).Result()
	if err == nil && v == "1" {
		return true, nil
	}
	if err != nil && err != redis.Nil {
		// Redis itself being unreachable degrades to a direct probe rather
		// than failing the health check outright.
		return probe(ctx) == nil, nil
	}

	perr := probe(ctx)
	if perr == nil {
		_ = c.client.Set(ctx, key, "1", c.ttl).Err()
		return true, nil
	}
	return false, perr
}

func (c *RedisHealthCache) Invalidate(ctx context.Context, backend string) {
	_ = c.client.Del(ctx, "health:"+backend).Err()
}

func (c *RedisHealthCache) Close() error {
	return c.client.Close()
}
