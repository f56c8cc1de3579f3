// Package retry runs an operation with capped exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy bounds a retry loop.
type Policy struct {
	Attempts int           // 0 retries until the context is done
	Initial  time.Duration // first wait, doubled after every failure
	Max      time.Duration // wait cap

	// OnRetry runs after a failed attempt, before waiting.
	OnRetry func(attempt int, wait time.Duration, err error)
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. Do returns the wrapped error
// unchanged.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do calls fn until it succeeds, returns a Permanent error, the attempts are
// exhausted or ctx is done. The last error is wrapped in the result.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	wait := p.Initial
	if wait <= 0 {
		wait = 100 * time.Millisecond
	}

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if p.Attempts > 0 && attempt >= p.Attempts {
			return fmt.Errorf("gave up after %d attempts: %w", attempt, err)
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, wait, err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("gave up after %d attempts (%v): %w", attempt, ctx.Err(), err)
		case <-timer.C:
			wait *= 2
			if p.Max > 0 && wait > p.Max {
				wait = p.Max
			}
		}
	}
}
