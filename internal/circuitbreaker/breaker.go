// Package circuitbreaker implements the per-dependency circuit breaker
// state machine.
package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"github.com/waylink/platform-core/internal/domain"
)

// State is the breaker's position in the Closed/Open/HalfOpen machine.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds breaker thresholds.
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	ResetTimeout     time.Duration
	// OnStateChange is invoked after every transition, outside hot paths.
	OnStateChange func(name string, from, to State)
}

// Snapshot is a read-only view of a breaker's state.
type Snapshot struct {
	Name         string    `json:"name"`
	State        string    `json:"state"`
	FailureCount int       `json:"failureCount"`
	SuccessCount int       `json:"successCount"`
	LastFailure  time.Time `json:"lastFailure,omitempty"`
	NextAttempt  time.Time `json:"nextAttempt,omitempty"`
}

// Breaker guards calls to a single named dependency. Created lazily by the
// Registry and lives for the process lifetime.
type Breaker struct {
	mu           sync.Mutex
	name         string
	cfg          Config
	state        State
	failureCount int
	successCount int
	lastFailure  time.Time
	nextAttempt  time.Time
	now          func() time.Time
}

// New creates a breaker in the closed state.
func New(name string, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = time.Minute
	}
	return &Breaker{
		name:  name,
		cfg:   cfg,
		state: StateClosed,
		now:   time.Now,
	}
}

// Execute runs op under breaker protection. When the breaker is open and the
// cooldown has not elapsed, the call fast-fails with a CircuitOpenError
// naming the dependency, or returns fallback's result when one is supplied.
// A fallback also recovers an op failure.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error, fallback func(ctx context.Context) error) error {
	if !b.allowRequest() {
		if fallback != nil {
			return fallback(ctx)
		}
		return domain.NewCircuitOpenError(b.name)
	}

	err := op(ctx)
	if err != nil {
		b.recordFailure()
		if fallback != nil {
			return fallback(ctx)
		}
		return err
	}

	b.recordSuccess()
	return nil
}

// allowRequest decides whether a call may proceed, transitioning
// Open -> HalfOpen once the cooldown elapses.
func (b *Breaker) allowRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if !b.now().Before(b.nextAttempt) {
			b.transitionTo(StateHalfOpen)
			return true
		}
		return false
	default:
		return false
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failureCount = 0
	case StateHalfOpen:
		b.successCount++
		if b.successCount >= b.cfg.SuccessThreshold {
			b.transitionTo(StateClosed)
		}
	}
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = b.now()

	switch b.state {
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.cfg.FailureThreshold {
			b.trip()
		}
	case StateHalfOpen:
		b.trip()
	}
}

// trip opens the breaker and schedules the next probe. Lock held.
func (b *Breaker) trip() {
	b.nextAttempt = b.now().Add(b.cfg.ResetTimeout)
	b.transitionTo(StateOpen)
}

// transitionTo changes state and resets the per-state counters. Lock held.
func (b *Breaker) transitionTo(next State) {
	if b.state == next {
		return
	}
	prev := b.state
	b.state = next

	switch next {
	case StateClosed:
		b.failureCount = 0
		b.successCount = 0
	case StateHalfOpen:
		b.successCount = 0
	}

	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, prev, next)
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns the full breaker state for diagnostics.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Snapshot{
		Name:         b.name,
		State:        b.state.String(),
		FailureCount: b.failureCount,
		SuccessCount: b.successCount,
		LastFailure:  b.lastFailure,
		NextAttempt:  b.nextAttempt,
	}
}

// Reset forces the breaker closed and clears counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.transitionTo(StateClosed)
	b.failureCount = 0
	b.successCount = 0
	b.lastFailure = time.Time{}
	b.nextAttempt = time.Time{}
}
