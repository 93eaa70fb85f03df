//go:build integration

package eventconfig

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func TestRedisCacheRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("redis container test skipped in short mode")
	}
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	addr, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := redis.ParseURL(addr)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	cache := NewRedisCache(client, "")
	_, ok, err := cache.Get(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, cache.Set(ctx, []byte(`[{"id":"birth"}]`), time.Minute))
	raw, ok, err := cache.Get(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `[{"id":"birth"}]`, string(raw))
}
