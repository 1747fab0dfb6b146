package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultBackoff is the delay before the first retry. Each later retry
// waits twice as long as the one before.
const DefaultBackoff = 500 * time.Millisecond

// Policy bounds how often Deliver retries a failed send.
type Policy struct {
	// Retries is the number of attempts after the first.
	Retries int
	// Backoff is the first retry delay (default 500ms).
	Backoff time.Duration
}

// Validate rejects negative retry counts.
func (p Policy) Validate() error {
	if p.Retries < 0 {
		return fmt.Errorf("retries must be >= 0, got %d", p.Retries)
	}
	return nil
}

// delay returns the wait before attempt n (n >= 1).
func (p Policy) delay(n int) time.Duration {
	base := p.Backoff
	if base <= 0 {
		base = DefaultBackoff
	}
	return base << (n - 1)
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err so that Deliver returns it without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err}
}

// Deliver calls send until it succeeds, returns a Permanent error, the
// policy is exhausted or ctx ends. name prefixes returned errors.
func Deliver(ctx context.Context, name string, p Policy, send func(context.Context) error) error {
	attempts := 1 + p.Retries
	var last error
	for n := range attempts {
		if n > 0 {
			t := time.NewTimer(p.delay(n))
			select {
			case <-ctx.Done():
				t.Stop()
				return fmt.Errorf("%s: canceled during backoff: %w", name, ctx.Err())
			case <-t.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: canceled: %w", name, err)
		}

		last = send(ctx)
		if last == nil {
			return nil
		}
		var perm permanentError
		if errors.As(last, &perm) {
			return fmt.Errorf("%s: non-retriable error: %w", name, perm.err)
		}
	}
	return fmt.Errorf("%s: failed after %d attempts: %w", name, attempts, last)
}
