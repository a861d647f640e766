package redis_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/keytier/pkg/redis"
)

func TestConnect(t *testing.T) {
	t.Parallel()

	t.Run("disabled without url", func(t *testing.T) {
		t.Parallel()
		assert.False(t, redis.Config{}.Enabled())
		_, err := redis.Connect(context.Background(), redis.Config{})
		require.ErrorIs(t, err, redis.ErrEmptyConnectionURL)
	})

	t.Run("invalid url", func(t *testing.T) {
		t.Parallel()
		_, err := redis.Connect(context.Background(), redis.Config{ConnectionURL: "http://not-redis"})
		require.ErrorIs(t, err, redis.ErrFailedToParseRedisConnString)
	})
}
