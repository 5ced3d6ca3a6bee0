package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy defines a bounded exponential backoff with jitter. The zero value
// is not usable; construct with DefaultPolicy or fill every field.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter is the fraction of the computed delay randomized on each
	// attempt, in [0,1]. 0 disables jitter (useful in tests).
	Jitter float64
}

// DefaultPolicy returns the policy used when no knobs are configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Jitter:      0.2,
	}
}

// Do runs fn until it succeeds, the retryable predicate rejects the error,
// attempts are exhausted, or ctx is done. The last error is returned on
// failure. fn receives the 1-based attempt number.
func (p Policy) Do(ctx context.Context, fn func(attempt int) error, retryable func(error) bool) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}

		if retryable != nil && !retryable(lastErr) {
			return lastErr
		}

		if attempt == maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.delay(attempt)):
		}
	}

	return lastErr
}

// delay computes the backoff for the given 1-based attempt.
func (p Policy) delay(attempt int) time.Duration {
	d := p.BaseDelay
	if d <= 0 {
		d = time.Second
	}
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter > 0 {
		spread := float64(d) * p.Jitter
		d = time.Duration(float64(d) - spread/2 + rand.Float64()*spread)
	}
	return d
}
