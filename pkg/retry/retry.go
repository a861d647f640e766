package retry

import (
	"context"
	"errors"
	"time"
)

// ErrExhausted wraps the last error once every attempt failed.
var ErrExhausted = errors.New("retry: attempts exhausted")

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. Do returns it unwrapped.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// Notify is called before sleeping between attempts.
type Notify func(attempt int, err error, next time.Duration)

// Policy bundles how many times to try and how long to wait.
type Policy struct {
	Attempts int
	Strategy Strategy
	OnRetry  Notify
}

// Do runs fn until it succeeds, returns a Permanent error, the context is
// done, or the attempts are used up.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := max(p.Attempts, 1)
	strategy := p.Strategy
	if strategy == nil {
		strategy = Default()
	}

	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}

		var perm permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if attempt >= attempts {
			return errors.Join(ErrExhausted, err)
		}

		wait := strategy.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(ctx.Err(), err)
		case <-timer.C:
		}
	}
}
