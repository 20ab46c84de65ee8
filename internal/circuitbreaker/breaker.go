// Package circuitbreaker short-circuits calls to an external service after
// repeated transient failures.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"zeroledger/internal/apperr"
)

// ErrCircuitOpen is returned when the breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the state of the circuit breaker
type State int

const (
	// StateClosed means the circuit is closed and requests are allowed
	StateClosed State = iota
	// StateOpen means the circuit is open and requests are blocked
	StateOpen
	// StateHalfOpen means the circuit lets one trial call through to test recovery
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config configures a circuit breaker
type Config struct {
	// Name identifies the breaker in logs, metrics and alerts.
	Name string
	// FailureThreshold is the number of consecutive failures before opening the circuit
	FailureThreshold int
	// SuccessThreshold is the number of consecutive successes in half-open state before closing
	SuccessThreshold int
	// Timeout is how long the circuit stays open before transitioning to half-open
	Timeout time.Duration
	// IsFailure decides which errors count towards opening. Defaults to
	// transient service errors only.
	IsFailure func(error) bool
	// OnStateChange is called with the breaker lock released.
	OnStateChange func(name string, from, to State)
	// Now replaces the clock in tests.
	Now func() time.Time
}

// DefaultConfig returns a default circuit breaker configuration
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Timeout:          30 * time.Second,
	}
}

// Breaker implements the circuit breaker pattern.
type Breaker struct {
	mu              sync.Mutex
	state           State
	failureCount    int
	successCount    int
	trialing        bool
	lastFailureTime time.Time
	config          Config
}

// New creates a new circuit breaker with the given configuration
func New(config Config) *Breaker {
	d := DefaultConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = d.FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = d.SuccessThreshold
	}
	if config.Timeout <= 0 {
		config.Timeout = d.Timeout
	}
	if config.IsFailure == nil {
		config.IsFailure = isTransient
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Breaker{state: StateClosed, config: config}
}

func isTransient(err error) bool {
	return apperr.IsTransient(err) || errors.Is(err, context.DeadlineExceeded)
}

// Name returns the configured breaker name.
func (b *Breaker) Name() string {
	return b.config.Name
}

// Execute runs fn unless the circuit is open. Errors that IsFailure rejects
// are returned unchanged and leave the failure count alone.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.beforeCall(); err != nil {
		return err
	}

	err := fn(ctx)
	b.afterCall(err)
	return err
}

func (b *Breaker) beforeCall() error {
	var from, to State
	changed := false

	b.mu.Lock()
	switch b.state {
	case StateOpen:
		wait := b.config.Timeout - b.config.Now().Sub(b.lastFailureTime)
		if wait > 0 {
			b.mu.Unlock()
			return fmt.Errorf("%s: %w: retry after %v", b.config.Name, ErrCircuitOpen, wait)
		}
		from, to, changed = b.transitionTo(StateHalfOpen)
		b.trialing = true
	case StateHalfOpen:
		// One trial call at a time.
		if b.trialing {
			b.mu.Unlock()
			return fmt.Errorf("%s: %w: trial call in flight", b.config.Name, ErrCircuitOpen)
		}
		b.trialing = true
	}
	b.mu.Unlock()

	if changed {
		b.notify(from, to)
	}
	return nil
}

func (b *Breaker) afterCall(err error) {
	var from, to State
	changed := false

	b.mu.Lock()
	if b.state == StateHalfOpen {
		b.trialing = false
	}
	switch {
	case err == nil:
		from, to, changed = b.recordSuccess()
	case b.config.IsFailure(err):
		from, to, changed = b.recordFailure()
	default:
		// Not a service health signal (bad request, contract violation).
		if b.state == StateHalfOpen {
			from, to, changed = b.recordSuccess()
		}
	}
	b.mu.Unlock()

	if changed {
		b.notify(from, to)
	}
}

func (b *Breaker) recordFailure() (State, State, bool) {
	b.failureCount++
	b.lastFailureTime = b.config.Now()

	switch b.state {
	case StateClosed:
		if b.failureCount >= b.config.FailureThreshold {
			return b.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		return b.transitionTo(StateOpen)
	}
	return b.state, b.state, false
}

func (b *Breaker) recordSuccess() (State, State, bool) {
	b.failureCount = 0

	if b.state == StateHalfOpen {
		b.successCount++
		if b.successCount >= b.config.SuccessThreshold {
			return b.transitionTo(StateClosed)
		}
	}
	return b.state, b.state, false
}

// transitionTo must be called with mu held.
func (b *Breaker) transitionTo(newState State) (State, State, bool) {
	oldState := b.state
	if oldState == newState {
		return oldState, newState, false
	}
	b.state = newState

	switch newState {
	case StateClosed, StateOpen:
		b.failureCount = 0
		b.successCount = 0
		b.trialing = false
	case StateHalfOpen:
		b.successCount = 0
	}
	return oldState, newState, true
}

func (b *Breaker) notify(from, to State) {
	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.config.Name, from, to)
	}
}

// State returns the current state of the circuit breaker
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from, to, changed := b.transitionTo(StateClosed)
	b.mu.Unlock()

	if changed {
		b.notify(from, to)
	}
}

// Stats is a point-in-time view of the breaker.
type Stats struct {
	Name            string    `json:"name"`
	State           string    `json:"state"`
	FailureCount    int       `json:"failure_count"`
	LastFailureTime time.Time `json:"last_failure_time,omitempty"`
}

// GetStats returns current statistics
func (b *Breaker) GetStats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Name:            b.config.Name,
		State:           b.state.String(),
		FailureCount:    b.failureCount,
		LastFailureTime: b.lastFailureTime,
	}
}

// IsOpen reports whether err came from a rejected call.
func IsOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}
