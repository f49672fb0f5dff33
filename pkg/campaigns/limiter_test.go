package campaigns

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, maxSlots int64) *RedisDialLimiter {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisDialLimiter(client, maxSlots)
}

func TestDialLimiterBoundsConcurrency(t *testing.T) {
	limiter := newTestLimiter(t, 2)
	ctx := context.Background()

	first, err := limiter.Acquire(ctx, 1)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := limiter.Acquire(ctx, 1)
	require.NoError(t, err)
	assert.True(t, second)

	third, err := limiter.Acquire(ctx, 1)
	require.NoError(t, err)
	assert.False(t, third, "the third concurrent dial is rejected")

	require.NoError(t, limiter.Release(ctx, 1))

	again, err := limiter.Acquire(ctx, 1)
	require.NoError(t, err)
	assert.True(t, again, "a released slot can be re-acquired")
}

func TestDialLimiterIsPerOrganization(t *testing.T) {
	limiter := newTestLimiter(t, 1)
	ctx := context.Background()

	ok1, err := limiter.Acquire(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok1)

	blocked, err := limiter.Acquire(ctx, 1)
	require.NoError(t, err)
	assert.False(t, blocked)

	ok2, err := limiter.Acquire(ctx, 2)
	require.NoError(t, err)
	assert.True(t, ok2, "another organization has its own slots")
}
