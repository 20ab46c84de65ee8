// Package retry runs external calls with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"zeroledger/internal/apperr"
)

// ErrMaxAttemptsExceeded is wrapped around the last error once every attempt
// failed with a retryable error.
var ErrMaxAttemptsExceeded = errors.New("max retry attempts exceeded")

// Policy configures retry behavior.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first one.
	MaxAttempts int
	// BaseDelay is the wait before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps every wait, jitter included.
	MaxDelay time.Duration
	// Multiplier grows the delay between consecutive retries.
	Multiplier float64
	// Jitter is the upper bound of the random extra wait added from the
	// second retry on.
	Jitter time.Duration
	// AttemptTimeout bounds each attempt. Zero means no per-attempt bound.
	AttemptTimeout time.Duration
	// IsRetryable decides whether an error is worth another attempt.
	IsRetryable func(error) bool
	// OnRetry is called before each wait.
	OnRetry func(attempt int, err error, delay time.Duration)

	sleep func(ctx context.Context, d time.Duration) error
	rand  func() float64
}

// DefaultPolicy returns 3 attempts with 1s, 2s, 4s... backoff capped at 8s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		BaseDelay:      time.Second,
		MaxDelay:       8 * time.Second,
		Multiplier:     2,
		Jitter:         250 * time.Millisecond,
		AttemptTimeout: 30 * time.Second,
		IsRetryable:    DefaultIsRetryable,
	}
}

// DefaultIsRetryable retries transient service errors and attempt timeouts.
func DefaultIsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return apperr.IsTransient(err) || errors.Is(err, context.DeadlineExceeded)
}

// WithSleep replaces the wait function. Tests use it to run without delays.
func (p Policy) WithSleep(sleep func(ctx context.Context, d time.Duration) error) Policy {
	p.sleep = sleep
	return p
}

// WithRand replaces the jitter source, which must return values in [0, 1).
func (p Policy) WithRand(r func() float64) Policy {
	p.rand = r
	return p
}

func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.Multiplier <= 0 {
		p.Multiplier = d.Multiplier
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.IsRetryable == nil {
		p.IsRetryable = DefaultIsRetryable
	}
	if p.sleep == nil {
		p.sleep = sleepContext
	}
	if p.rand == nil {
		p.rand = rand.Float64
	}
	return p
}

// Delay returns the wait before retry number n (0-based). The first wait is
// exactly BaseDelay; later waits add up to Jitter. The result never exceeds
// MaxDelay.
func (p Policy) Delay(n int) time.Duration {
	p = p.normalized()
	if n < 0 {
		n = 0
	}

	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(n))
	if n > 0 && p.Jitter > 0 {
		d += p.rand() * float64(p.Jitter)
	}
	if d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Do runs fn until it succeeds, fails with a non-retryable error, or the
// attempts run out. It returns the number of attempts made.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	p = p.normalized()

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, fmt.Errorf("retry aborted: %w", err)
		}

		lastErr = p.attempt(ctx, fn)
		if lastErr == nil {
			return attempt, nil
		}
		if !p.IsRetryable(lastErr) {
			return attempt, lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		delay := p.Delay(attempt - 1)
		if p.OnRetry != nil {
			p.OnRetry(attempt, lastErr, delay)
		}
		if err := p.sleep(ctx, delay); err != nil {
			return attempt, fmt.Errorf("retry aborted: %w", err)
		}
	}

	return p.MaxAttempts, fmt.Errorf("%w after %d attempts: %w", ErrMaxAttemptsExceeded, p.MaxAttempts, lastErr)
}

func (p Policy) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.AttemptTimeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
	defer cancel()
	return fn(attemptCtx)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
