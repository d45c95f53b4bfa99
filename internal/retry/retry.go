// Package retry runs venue lookups under a bounded retry policy.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/119969788/poly-copy-trading/internal/domain"
)

// Policy bounds how often and how patiently a call is retried. The delay
// doubles after every failed attempt and is capped at MaxDelay. A zero
// BaseDelay retries immediately, which is what tests use.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Permanent reports whether err should stop retrying. Not-found answers,
// rejected orders, invariant violations, auth failures and cancellation are
// permanent; everything else counts as transient.
func Permanent(err error) bool {
	return errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrOrderRejected) ||
		errors.Is(err, domain.ErrInvariantViolation) ||
		errors.Is(err, domain.ErrUnauthorized) ||
		errors.Is(err, context.Canceled)
}

// Do calls fn until it succeeds, fails permanently, runs out of attempts or
// ctx ends. It returns the last error.
func Do[T any](ctx context.Context, p Policy, fn func(context.Context) (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.BaseDelay

	var zero T
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if Permanent(err) || attempt == attempts {
			break
		}
		if err := sleep(ctx, delay); err != nil {
			return zero, errors.Join(lastErr, err)
		}
		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return zero, lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
