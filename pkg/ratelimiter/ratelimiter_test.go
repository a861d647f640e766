package ratelimiter_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/keytier/pkg/ratelimiter"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newLimiter() (*ratelimiter.Limiter, *clock) {
	c := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return ratelimiter.New(ratelimiter.NewMemoryStore(ratelimiter.WithClock(c.Now))), c
}

func TestLimiter_Allow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("consumes until empty", func(t *testing.T) {
		t.Parallel()
		l, _ := newLimiter()
		cfg := ratelimiter.Daily(3)

		for i := 2; i >= 0; i-- {
			res, err := l.Allow(ctx, "k", cfg)
			require.NoError(t, err)
			assert.True(t, res.Allowed())
			assert.Equal(t, i, res.Remaining)
			assert.Equal(t, 3, res.Limit)
		}

		res, err := l.Allow(ctx, "k", cfg)
		require.NoError(t, err)
		assert.False(t, res.Allowed())
	})

	t.Run("denied requests do not accumulate debt", func(t *testing.T) {
		t.Parallel()
		l, c := newLimiter()
		cfg := ratelimiter.PerMinute(1)

		_, err := l.Allow(ctx, "k", cfg)
		require.NoError(t, err)
		for range 5 {
			res, err := l.Allow(ctx, "k", cfg)
			require.NoError(t, err)
			assert.False(t, res.Allowed())
		}

		c.Advance(time.Minute)
		res, err := l.Allow(ctx, "k", cfg)
		require.NoError(t, err)
		assert.True(t, res.Allowed())
	})

	t.Run("refills after the interval", func(t *testing.T) {
		t.Parallel()
		l, c := newLimiter()
		cfg := ratelimiter.Daily(2)

		_, _ = l.AllowN(ctx, "k", 2, cfg)
		c.Advance(23 * time.Hour)
		res, err := l.Allow(ctx, "k", cfg)
		require.NoError(t, err)
		assert.False(t, res.Allowed())

		c.Advance(time.Hour)
		res, err = l.Allow(ctx, "k", cfg)
		require.NoError(t, err)
		assert.True(t, res.Allowed())
		assert.Equal(t, 1, res.Remaining)
	})

	t.Run("keys are independent", func(t *testing.T) {
		t.Parallel()
		l, _ := newLimiter()
		cfg := ratelimiter.Daily(1)

		_, _ = l.Allow(ctx, "a", cfg)
		res, err := l.Allow(ctx, "b", cfg)
		require.NoError(t, err)
		assert.True(t, res.Allowed())
	})

	t.Run("status does not consume", func(t *testing.T) {
		t.Parallel()
		l, _ := newLimiter()
		cfg := ratelimiter.Daily(5)

		_, _ = l.Allow(ctx, "k", cfg)
		for range 3 {
			res, err := l.Status(ctx, "k", cfg)
			require.NoError(t, err)
			assert.Equal(t, 4, res.Remaining)
		}
	})

	t.Run("reset", func(t *testing.T) {
		t.Parallel()
		l, _ := newLimiter()
		cfg := ratelimiter.Daily(1)

		_, _ = l.Allow(ctx, "k", cfg)
		require.NoError(t, l.Reset(ctx, "k"))
		res, err := l.Allow(ctx, "k", cfg)
		require.NoError(t, err)
		assert.True(t, res.Allowed())
	})
}

func TestLimiter_Validation(t *testing.T) {
	t.Parallel()
	l, _ := newLimiter()
	ctx := context.Background()

	_, err := l.AllowN(ctx, "k", 0, ratelimiter.Daily(1))
	require.ErrorIs(t, err, ratelimiter.ErrInvalidTokenCount)

	_, err = l.Allow(ctx, "k", ratelimiter.Daily(0))
	require.ErrorIs(t, err, ratelimiter.ErrInvalidConfig)

	_, err = l.Allow(ctx, "k", ratelimiter.Config{Capacity: 1, RefillRate: 1})
	require.ErrorIs(t, err, ratelimiter.ErrInvalidConfig)
}

func TestLimiter_Concurrent(t *testing.T) {
	t.Parallel()
	l, _ := newLimiter()
	cfg := ratelimiter.Daily(50)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for range 200 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.Allow(context.Background(), "shared", cfg)
			if err == nil && res.Allowed() {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, allowed)
}

func TestResult_RetryAfter(t *testing.T) {
	t.Parallel()
	at := time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)

	ok := &ratelimiter.Result{Remaining: 0, ResetAt: at.Add(time.Hour), CheckedAt: at}
	assert.Zero(t, ok.RetryAfter())

	denied := &ratelimiter.Result{Remaining: -1, ResetAt: at.Add(time.Hour), CheckedAt: at}
	assert.Equal(t, time.Hour, denied.RetryAfter())

	past := &ratelimiter.Result{Remaining: -1, ResetAt: at.Add(-time.Hour), CheckedAt: at}
	assert.Zero(t, past.RetryAfter())

	t.Run("measured on the store clock", func(t *testing.T) {
		t.Parallel()
		l, c := newLimiter()
		ctx := context.Background()
		cfg := ratelimiter.PerMinute(1)

		_, err := l.Allow(ctx, "k", cfg)
		require.NoError(t, err)
		c.Advance(20 * time.Second)

		res, err := l.Allow(ctx, "k", cfg)
		require.NoError(t, err)
		require.False(t, res.Allowed())
		assert.Equal(t, c.Now(), res.CheckedAt)
		assert.Equal(t, 40*time.Second, res.RetryAfter())
	})
}
