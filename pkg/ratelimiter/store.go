package ratelimiter

import "context"

// Store defines the interface for rate limit storage backends.
type Store interface {
	// ConsumeTokens refills the bucket for the elapsed time and then takes
	// tokens from it. A negative Remaining means the request is denied.
	// CheckedAt is read from the same clock as ResetAt.
	ConsumeTokens(ctx context.Context, key string, tokens int, config Config) (*Result, error)

	// Reset clears the rate limit state for the given key.
	Reset(ctx context.Context, key string) error
}
