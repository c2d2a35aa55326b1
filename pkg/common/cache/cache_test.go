package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheRoundTrip(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", map[string]int{"a": 1}, 0))

	var out map[string]int
	require.NoError(t, c.Get(ctx, "k", &out))
	assert.Equal(t, 1, out["a"])

	assert.ErrorIs(t, c.Get(ctx, "missing", &out), ErrNotFound)
}

func TestMemoryCacheTTL(t *testing.T) {
	c := NewMemoryCache()
	base := time.Now()
	c.now = func() time.Time { return base }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", 30*time.Second))

	var out string
	require.NoError(t, c.Get(ctx, "k", &out))

	base = base.Add(31 * time.Second)
	assert.ErrorIs(t, c.Get(ctx, "k", &out), ErrNotFound)
}

func TestMemoryCacheIncrExpire(t *testing.T) {
	c := NewMemoryCache()
	base := time.Now()
	c.now = func() time.Time { return base }
	ctx := context.Background()

	n, err := c.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = c.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, c.Expire(ctx, "counter", 60*time.Second))
	base = base.Add(61 * time.Second)

	n, err = c.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRedisCacheRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := NewRedisCache("redis://" + mr.Addr())
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", []float32{1, 0.5}, time.Minute))

	var out []float32
	require.NoError(t, c.Get(ctx, "k", &out))
	assert.Equal(t, []float32{1, 0.5}, out)

	assert.ErrorIs(t, c.Get(ctx, "missing", &out), ErrNotFound)
}

func TestRedisCacheIncrExpire(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := NewRedisCache("redis://" + mr.Addr())
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	ctx := context.Background()
	n, err := c.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, c.Expire(ctx, "counter", 60*time.Second))
	mr.FastForward(61 * time.Second)

	n, err = c.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRedisCacheBadURL(t *testing.T) {
	_, err := NewRedisCache("not-a-url")
	assert.Error(t, err)
}
