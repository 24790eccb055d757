// Package retry runs an operation with bounded attempts and exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"
)

// Policy bounds how often and how patiently an operation is retried.
type Policy struct {
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Default is used by components that are not given an explicit policy.
var Default = Policy{Attempts: 3, InitialBackoff: 50 * time.Millisecond, MaxBackoff: time.Second}

// Do calls fn until it succeeds, returns a non-retryable error, the attempts run out or ctx ends.
// onRetry, if set, is told about every failed attempt that will be retried.
// The returned attempt count is 1-based.
func (p Policy) Do(ctx context.Context, retryable func(error) bool, onRetry func(attempt int, err error), fn func() error) (int, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	if retryable == nil {
		retryable = IsTransient
	}

	backoff := p.InitialBackoff
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return attempt, ctx.Err()
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= p.MaxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			return attempt + 1, nil
		}
		if !retryable(err) || attempt == attempts-1 {
			return attempt + 1, err
		}
		if onRetry != nil {
			onRetry(attempt+1, err)
		}
	}
	return attempts, err
}

// IsTransient reports whether err looks like a timeout or a temporary network condition.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
