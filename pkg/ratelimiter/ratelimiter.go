package ratelimiter

import (
	"context"
	"fmt"
)

// Limiter applies token bucket limits. The bucket shape is supplied per call
// so a single limiter can enforce different quotas for different plan tiers.
type Limiter struct {
	store Store
}

// New creates a limiter backed by store.
func New(store Store) *Limiter {
	return &Limiter{store: store}
}

// Allow consumes one token from the bucket identified by key.
func (l *Limiter) Allow(ctx context.Context, key string, cfg Config) (*Result, error) {
	return l.AllowN(ctx, key, 1, cfg)
}

// AllowN consumes n tokens from the bucket identified by key.
func (l *Limiter) AllowN(ctx context.Context, key string, n int, cfg Config) (*Result, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: must be positive, got %d", ErrInvalidTokenCount, n)
	}
	return l.consume(ctx, key, n, cfg)
}

// Status returns the current state without consuming tokens.
func (l *Limiter) Status(ctx context.Context, key string, cfg Config) (*Result, error) {
	return l.consume(ctx, key, 0, cfg)
}

// Reset forgets the bucket for key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.store.Reset(ctx, key)
}

func (l *Limiter) consume(ctx context.Context, key string, n int, cfg Config) (*Result, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return l.store.ConsumeTokens(ctx, key, n, cfg)
}
