package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/keytier/pkg/retry"
)

var errBoom = errors.New("boom")

func TestDo(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fast := retry.Fixed(time.Millisecond)

	t.Run("succeeds after failures", func(t *testing.T) {
		t.Parallel()
		calls := 0
		var retried []int
		err := retry.Do(ctx, retry.Policy{
			Attempts: 3,
			Strategy: fast,
			OnRetry:  func(attempt int, _ error, _ time.Duration) { retried = append(retried, attempt) },
		}, func(context.Context) error {
			calls++
			if calls < 3 {
				return errBoom
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
		assert.Equal(t, []int{1, 2}, retried)
	})

	t.Run("exhausted", func(t *testing.T) {
		t.Parallel()
		calls := 0
		err := retry.Do(ctx, retry.Policy{Attempts: 2, Strategy: fast}, func(context.Context) error {
			calls++
			return errBoom
		})
		require.ErrorIs(t, err, retry.ErrExhausted)
		require.ErrorIs(t, err, errBoom)
		assert.Equal(t, 2, calls)
	})

	t.Run("permanent stops immediately", func(t *testing.T) {
		t.Parallel()
		calls := 0
		err := retry.Do(ctx, retry.Policy{Attempts: 5, Strategy: fast}, func(context.Context) error {
			calls++
			return retry.Permanent(errBoom)
		})
		require.ErrorIs(t, err, errBoom)
		assert.NotErrorIs(t, err, retry.ErrExhausted)
		assert.Equal(t, 1, calls)
	})

	t.Run("context cancel", func(t *testing.T) {
		t.Parallel()
		cctx, cancel := context.WithCancel(ctx)
		err := retry.Do(cctx, retry.Policy{Attempts: 5, Strategy: retry.Fixed(time.Hour)}, func(context.Context) error {
			cancel()
			return errBoom
		})
		require.ErrorIs(t, err, context.Canceled)
		require.ErrorIs(t, err, errBoom)
	})

	t.Run("zero attempts runs once", func(t *testing.T) {
		t.Parallel()
		calls := 0
		_ = retry.Do(ctx, retry.Policy{}, func(context.Context) error {
			calls++
			return errBoom
		})
		assert.Equal(t, 1, calls)
	})
}

func TestExponential(t *testing.T) {
	t.Parallel()

	e := retry.Exponential{Initial: 10 * time.Millisecond, Max: 50 * time.Millisecond, Multiplier: 2}
	assert.Zero(t, e.Delay(0))
	assert.Equal(t, 10*time.Millisecond, e.Delay(1))
	assert.Equal(t, 20*time.Millisecond, e.Delay(2))
	assert.Equal(t, 40*time.Millisecond, e.Delay(3))
	assert.Equal(t, 50*time.Millisecond, e.Delay(4))

	j := retry.Exponential{Initial: 100 * time.Millisecond, Max: time.Second, Jitter: 0.2}
	for range 20 {
		d := j.Delay(1)
		assert.GreaterOrEqual(t, d, 80*time.Millisecond)
		assert.LessOrEqual(t, d, 120*time.Millisecond)
	}
}
