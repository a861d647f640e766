package ratelimiter

import "time"

// Result contains the result of a rate limit check.
type Result struct {
	Limit     int       // Maximum tokens (bucket capacity)
	Remaining int       // Tokens remaining, negative when denied
	ResetAt   time.Time // Time when tokens will be refilled
	CheckedAt time.Time // Store clock reading the check ran at
}

// Allowed returns whether the request is allowed based on remaining tokens.
func (r *Result) Allowed() bool {
	return r.Remaining >= 0
}

// RetryAfter returns how long to wait before the next request, measured on
// the store's clock. Returns 0 if the request was allowed.
func (r *Result) RetryAfter() time.Duration {
	if r.Allowed() {
		return 0
	}
	return max(0, r.ResetAt.Sub(r.CheckedAt))
}

// Config defines the token bucket configuration.
type Config struct {
	Capacity       int           // Maximum tokens the bucket can hold (burst limit)
	RefillRate     int           // Number of tokens added per refill interval
	RefillInterval time.Duration // How often tokens are added
}

// Daily returns a bucket that grants limit requests and refills completely
// once per day. It models the per-credential daily quota of a plan tier.
func Daily(limit int) Config {
	return Config{Capacity: limit, RefillRate: limit, RefillInterval: 24 * time.Hour}
}

// PerMinute returns a bucket that grants n requests per minute.
func PerMinute(n int) Config {
	return Config{Capacity: n, RefillRate: n, RefillInterval: time.Minute}
}

func (c Config) validate() error {
	if c.Capacity <= 0 {
		return invalidConfig("capacity must be positive, got %d", c.Capacity)
	}
	if c.RefillRate <= 0 {
		return invalidConfig("refill rate must be positive, got %d", c.RefillRate)
	}
	if c.RefillInterval <= 0 {
		return invalidConfig("refill interval must be positive, got %v", c.RefillInterval)
	}
	return nil
}
