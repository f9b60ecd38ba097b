// Package retry implements the fixed-backoff retry policy used around
// transient store failures.
package retry

import (
	"context"
	"errors"
	"time"
)

// Policy retries a call a bounded number of times with a fixed backoff
// between attempts.
type Policy struct {
	Attempts int
	Backoff  time.Duration

	// ShouldRetry decides whether an error is transient. Nil means every
	// error except a cancelled context is retried.
	ShouldRetry func(error) bool
}

// Default matches the participant protocol bounds: 5 attempts, 0.5s apart.
var Default = Policy{Attempts: 5, Backoff: 500 * time.Millisecond}

// Do runs fn until it succeeds, the attempts are exhausted, or the error is
// not retryable. The last error is returned on exhaustion.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	shouldRetry := p.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err = fn(); err == nil {
			return nil
		}
		if attempt == attempts || !shouldRetry(err) {
			return err
		}
		if p.Backoff > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.Backoff):
			}
		}
	}
	return err
}
