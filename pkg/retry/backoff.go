package retry

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy calculates the delay before the next attempt.
// Implementations must be safe for concurrent use.
type Strategy interface {
	// Delay returns the wait before retry number attempt (starting at 1).
	Delay(attempt int) time.Duration
}

// Exponential grows the delay geometrically with optional jitter.
type Exponential struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

// Delay computes min(Initial * Multiplier^(attempt-1) * (1 ± Jitter), Max).
func (e Exponential) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	initial := cmpOr(e.Initial, 100*time.Millisecond)
	ceiling := cmpOr(e.Max, 5*time.Second)
	multiplier := e.Multiplier
	if multiplier == 0 {
		multiplier = 2
	}

	interval := float64(initial) * math.Pow(multiplier, float64(attempt-1))
	if e.Jitter > 0 {
		interval *= 1 + (rand.Float64()*2-1)*e.Jitter
	}

	return min(time.Duration(interval), ceiling)
}

// Fixed waits the same interval between attempts.
type Fixed time.Duration

// Delay always returns the fixed interval.
func (f Fixed) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return time.Duration(f)
}

// Default is the strategy used for local reconciliation writes: a few quick
// retries that stay well inside a request deadline.
func Default() Strategy {
	return Exponential{
		Initial:    100 * time.Millisecond,
		Max:        2 * time.Second,
		Multiplier: 2,
		Jitter:     0.1,
	}
}

func cmpOr(d, fallback time.Duration) time.Duration {
	if d == 0 {
		return fallback
	}
	return d
}
