// Package retry runs an operation a bounded number of times, accumulating
// the error from every failed attempt.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrPermanent marks an error that should stop retrying immediately.
var ErrPermanent = errors.New("permanent failure")

// Policy bounds a retry loop.
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration
}

// Result reports how many attempts ran and every error they produced.
type Result struct {
	Attempts int
	Errors   []error
}

// Err joins the accumulated errors, or returns nil when the last attempt succeeded.
func (r Result) Err() error {
	return errors.Join(r.Errors...)
}

// Permanent wraps err so Do stops after the current attempt.
func Permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// Do calls fn until it succeeds, returns a Permanent error, the policy's
// attempts are exhausted, or ctx is done. Backoff doubles after each failure
// up to MaxBackoff. The returned Result's Errors is empty on success.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) Result {
	attempts := max(p.MaxAttempts, 1)
	backoff := p.Backoff

	var r Result
	for attempt := 1; attempt <= attempts; attempt++ {
		r.Attempts = attempt

		err := fn(ctx, attempt)
		if err == nil {
			r.Errors = nil
			return r
		}
		r.Errors = append(r.Errors, fmt.Errorf("attempt %d: %w", attempt, err))

		if errors.Is(err, ErrPermanent) || attempt == attempts {
			break
		}

		if backoff > 0 {
			select {
			case <-ctx.Done():
				r.Errors = append(r.Errors, ctx.Err())
				return r
			case <-time.After(backoff):
			}
			backoff *= 2
			if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
				backoff = p.MaxBackoff
			}
		} else if ctx.Err() != nil {
			r.Errors = append(r.Errors, ctx.Err())
			return r
		}
	}

	return r
}
