package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zeroledger/internal/apperr"
)

func noSleep(recorded *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*recorded = append(*recorded, d)
		return nil
	}
}

func TestDelayBounds(t *testing.T) {
	p := DefaultPolicy()

	for _, r := range []float64{0, 0.5, 0.999} {
		p := p.WithRand(func() float64 { return r })

		assert.Equal(t, time.Second, p.Delay(0))

		d1 := p.Delay(1)
		assert.GreaterOrEqual(t, d1, 2*time.Second)
		assert.LessOrEqual(t, d1, 2*time.Second+p.Jitter)

		d2 := p.Delay(2)
		assert.GreaterOrEqual(t, d2, 4*time.Second)
		assert.LessOrEqual(t, d2, 4*time.Second+p.Jitter)

		assert.Equal(t, 8*time.Second, p.Delay(3))
		assert.Equal(t, 8*time.Second, p.Delay(10))
	}
}

func TestDoRetriesTransientUntilExhausted(t *testing.T) {
	var waits []time.Duration
	p := DefaultPolicy().WithSleep(noSleep(&waits)).WithRand(func() float64 { return 0 })

	calls := 0
	attempts, err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return apperr.Transient("generator", 503, errors.New("unavailable"))
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMaxAttemptsExceeded)
	assert.True(t, apperr.IsTransient(err))
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, waits)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	var waits []time.Duration
	p := DefaultPolicy().WithSleep(noSleep(&waits))

	calls := 0
	_, err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return apperr.Permanent("generator", 401, errors.New("bad key"))
	})

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMaxAttemptsExceeded)
	assert.Equal(t, 1, calls)
	assert.Empty(t, waits)
}

func TestDoSucceedsAfterRetry(t *testing.T) {
	var waits []time.Duration
	p := DefaultPolicy().WithSleep(noSleep(&waits))

	calls := 0
	attempts, err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 2 {
			return apperr.Transient("classifier", 429, errors.New("slow down"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Len(t, waits, 1)
}

func TestDoAppliesAttemptTimeout(t *testing.T) {
	var waits []time.Duration
	p := DefaultPolicy().WithSleep(noSleep(&waits))
	p.AttemptTimeout = 10 * time.Millisecond

	calls := 0
	_, err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		<-ctx.Done()
		return ctx.Err()
	})

	assert.ErrorIs(t, err, ErrMaxAttemptsExceeded)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 3, calls)
}

func TestDoHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	attempts, err := DefaultPolicy().Do(ctx, func(context.Context) error {
		calls++
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
	assert.Zero(t, attempts)
}
