package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func setupRedis(t *testing.T) *RedisCache {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}

	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Skipf("Skipping test: docker not available: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	connStr, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	c, err := NewRedisCache(normalize(connStr), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func normalize(url string) string {
	url = strings.TrimPrefix(url, "redis://")
	return strings.TrimSuffix(url, "/")
}

func TestRedisCacheIntegration(t *testing.T) {
	c := setupRedis(t)
	ctx := context.Background()

	var dest string
	assert.ErrorIs(t, c.Get(ctx, "missing", &dest), ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "balance:1", "5000", time.Minute))
	require.NoError(t, c.Get(ctx, "balance:1", &dest))
	assert.Equal(t, "5000", dest)

	n, err := c.Increment(ctx, "velocity:count:u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	f, err := c.IncrementByFloat(ctx, "velocity:volume:u1", 250.25)
	require.NoError(t, err)
	assert.Equal(t, 250.25, f)

	ok, err := c.SetNX(ctx, "idem:k", "tx-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = c.SetNX(ctx, "idem:k", "tx-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Delete(ctx, "balance:1", "idem:k"))
	exists, err := c.Exists(ctx, "idem:k")
	require.NoError(t, err)
	assert.False(t, exists)
}
