package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zeroledger/internal/apperr"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

var errUnavailable = apperr.Transient("generator", 503, errors.New("unavailable"))

func failing(context.Context) error { return errUnavailable }
func passing(context.Context) error { return nil }

func newTestBreaker(clock *fakeClock, transitions *[]string) *Breaker {
	return New(Config{
		Name:             "generator",
		FailureThreshold: 3,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
		Now:              clock.Now,
		OnStateChange: func(_ string, from, to State) {
			*transitions = append(*transitions, from.String()+"->"+to.String())
		},
	})
}

func TestBreakerOpensAfterConsecutiveTransientFailures(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	var transitions []string
	b := newTestBreaker(clock, &transitions)
	ctx := context.Background()

	for range 3 {
		assert.ErrorIs(t, b.Execute(ctx, failing), errUnavailable)
	}
	require.Equal(t, StateOpen, b.State())

	calls := 0
	err := b.Execute(ctx, func(context.Context) error { calls++; return nil })
	assert.True(t, IsOpen(err))
	assert.Zero(t, calls)
	assert.Equal(t, []string{"closed->open"}, transitions)
}

func TestBreakerIgnoresNonTransientErrors(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	var transitions []string
	b := newTestBreaker(clock, &transitions)
	authErr := apperr.Permanent("generator", 401, errors.New("bad key"))

	for range 10 {
		_ = b.Execute(context.Background(), func(context.Context) error { return authErr })
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	var transitions []string
	b := newTestBreaker(clock, &transitions)
	ctx := context.Background()

	_ = b.Execute(ctx, failing)
	_ = b.Execute(ctx, failing)
	require.NoError(t, b.Execute(ctx, passing))
	_ = b.Execute(ctx, failing)
	_ = b.Execute(ctx, failing)

	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	var transitions []string
	b := newTestBreaker(clock, &transitions)
	ctx := context.Background()

	for range 3 {
		_ = b.Execute(ctx, failing)
	}
	clock.Advance(time.Minute)

	require.NoError(t, b.Execute(ctx, passing))
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	var transitions []string
	b := newTestBreaker(clock, &transitions)
	ctx := context.Background()

	for range 3 {
		_ = b.Execute(ctx, failing)
	}
	clock.Advance(2 * time.Minute)
	_ = b.Execute(ctx, failing)

	assert.Equal(t, StateOpen, b.State())
	assert.True(t, IsOpen(b.Execute(ctx, passing)))
}

func TestGetStats(t *testing.T) {
	clock := &fakeClock{now: time.Unix(100, 0)}
	var transitions []string
	b := newTestBreaker(clock, &transitions)
	_ = b.Execute(context.Background(), failing)

	stats := b.GetStats()
	assert.Equal(t, "generator", stats.Name)
	assert.Equal(t, "closed", stats.State)
	assert.Equal(t, 1, stats.FailureCount)
	assert.Equal(t, time.Unix(100, 0), stats.LastFailureTime)
}
