package eventconfig

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKey = "civreg:event-configs"

// RedisCache shares the fetched configuration between instances so a fleet
// restart does not stampede the config service.
type RedisCache struct {
	client redis.UniversalClient
	key    string
}

func NewRedisCache(client redis.UniversalClient, key string) *RedisCache {
	if key == "" {
		key = defaultRedisKey
	}
	return &RedisCache{client: client, key: key}
}

func (c *RedisCache) Get(ctx context.Context) ([]byte, bool, error) {
	raw, err := c.client.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", c.key, err)
	}
	return raw, true, nil
}

func (c *RedisCache) Set(ctx context.Context, payload []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", c.key, err)
	}
	return nil
}
