package entitlement_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/keytier/svc/entitlement"
)

func newRedisGuard(t *testing.T) (*entitlement.RedisGuard, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return entitlement.NewRedisGuard(client, ""), mr
}

func TestRedisGuard(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("exclusive until released", func(t *testing.T) {
		t.Parallel()
		g, mr := newRedisGuard(t)

		release, ok, err := g.TryAcquire(ctx, "select:user_1", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, mr.Exists("keytier:guard:select:user_1"))
		assert.Equal(t, time.Minute, mr.TTL("keytier:guard:select:user_1"))

		_, ok, err = g.TryAcquire(ctx, "select:user_1", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		_, ok, err = g.TryAcquire(ctx, "select:user_2", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "other keys are independent")

		release()
		assert.False(t, mr.Exists("keytier:guard:select:user_1"))
		_, ok, err = g.TryAcquire(ctx, "select:user_1", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("expired holder does not clear a newer one", func(t *testing.T) {
		t.Parallel()
		g, mr := newRedisGuard(t)

		stale, ok, err := g.TryAcquire(ctx, "k", time.Second)
		require.NoError(t, err)
		require.True(t, ok)
		mr.FastForward(2 * time.Second)

		_, ok, err = g.TryAcquire(ctx, "k", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
		held, err := mr.Get("keytier:guard:k")
		require.NoError(t, err)

		stale()
		current, err := mr.Get("keytier:guard:k")
		require.NoError(t, err)
		assert.Equal(t, held, current)

		_, ok, err = g.TryAcquire(ctx, "k", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("release survives a canceled request context", func(t *testing.T) {
		t.Parallel()
		g, mr := newRedisGuard(t)
		reqCtx, cancel := context.WithCancel(ctx)

		release, ok, err := g.TryAcquire(reqCtx, "k", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		cancel()
		release()
		assert.False(t, mr.Exists("keytier:guard:k"))
	})

	t.Run("server errors surface", func(t *testing.T) {
		t.Parallel()
		g, mr := newRedisGuard(t)
		mr.SetError("ERR injected failure")

		release, ok, err := g.TryAcquire(ctx, "k", time.Minute)
		require.Error(t, err)
		assert.False(t, ok)
		assert.NotPanics(t, release)
	})
}
