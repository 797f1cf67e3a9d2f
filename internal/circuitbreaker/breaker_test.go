package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waylink/platform-core/internal/domain"
)

var errUpstream = errors.New("upstream failed")

func failingOp(ctx context.Context) error    { return errUpstream }
func succeedingOp(ctx context.Context) error { return nil }

// fakeClock drives a breaker's view of time from the test.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg Config) (*Breaker, *fakeClock) {
	b := New("test-dep", cfg)
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b.now = clock.now
	return b, clock
}

func TestBreakerOpensAfterFailureThreshold(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 3, SuccessThreshold: 1, ResetTimeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		err := b.Execute(ctx, failingOp, nil)
		assert.ErrorIs(t, err, errUpstream)
		assert.Equal(t, StateClosed, b.State())
	}

	err := b.Execute(ctx, failingOp, nil)
	assert.ErrorIs(t, err, errUpstream)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerFastFailsWhileOpen(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 1, SuccessThreshold: 1, ResetTimeout: time.Minute})
	ctx := context.Background()

	_ = b.Execute(ctx, failingOp, nil)
	require.Equal(t, StateOpen, b.State())

	calls := 0
	err := b.Execute(ctx, func(ctx context.Context) error {
		calls++
		return nil
	}, nil)

	assert.Zero(t, calls, "open breaker must not invoke the operation")
	var derr *domain.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, domain.ErrCircuitOpen, derr.Code)
	assert.Equal(t, "test-dep", derr.Service)
}

func TestBreakerHalfOpenProbeAfterCooldown(t *testing.T) {
	b, clock := newTestBreaker(Config{FailureThreshold: 1, SuccessThreshold: 2, ResetTimeout: time.Minute})
	ctx := context.Background()

	_ = b.Execute(ctx, failingOp, nil)
	require.Equal(t, StateOpen, b.State())

	clock.advance(time.Minute)

	require.NoError(t, b.Execute(ctx, succeedingOp, nil))
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Execute(ctx, succeedingOp, nil))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(Config{FailureThreshold: 1, SuccessThreshold: 2, ResetTimeout: time.Minute})
	ctx := context.Background()

	_ = b.Execute(ctx, failingOp, nil)
	clock.advance(time.Minute)

	_ = b.Execute(ctx, failingOp, nil)
	assert.Equal(t, StateOpen, b.State())

	// The cooldown restarts from the half-open failure.
	clock.advance(30 * time.Second)
	err := b.Execute(ctx, succeedingOp, nil)
	var derr *domain.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, domain.ErrCircuitOpen, derr.Code)
}

func TestBreakerFallbackCoversOpenAndFailure(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 1, SuccessThreshold: 1, ResetTimeout: time.Minute})
	ctx := context.Background()
	fallback := func(ctx context.Context) error { return nil }

	// Failure path: op fails but the fallback answers.
	require.NoError(t, b.Execute(ctx, failingOp, fallback))
	require.Equal(t, StateOpen, b.State())

	// Open path: op is skipped entirely.
	calls := 0
	err := b.Execute(ctx, func(ctx context.Context) error {
		calls++
		return nil
	}, fallback)
	require.NoError(t, err)
	assert.Zero(t, calls)
}

func TestBreakerSuccessResetsFailureStreak(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 3, SuccessThreshold: 1, ResetTimeout: time.Minute})
	ctx := context.Background()

	_ = b.Execute(ctx, failingOp, nil)
	_ = b.Execute(ctx, failingOp, nil)
	require.NoError(t, b.Execute(ctx, succeedingOp, nil))

	// Two more failures stay below the threshold after the reset.
	_ = b.Execute(ctx, failingOp, nil)
	_ = b.Execute(ctx, failingOp, nil)
	assert.Equal(t, StateClosed, b.State())

	_ = b.Execute(ctx, failingOp, nil)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerStateChangeCallback(t *testing.T) {
	type change struct{ from, to State }
	var changes []change

	b, clock := newTestBreaker(Config{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		ResetTimeout:     time.Minute,
		OnStateChange: func(name string, from, to State) {
			changes = append(changes, change{from, to})
		},
	})
	ctx := context.Background()

	_ = b.Execute(ctx, failingOp, nil)
	clock.advance(time.Minute)
	require.NoError(t, b.Execute(ctx, succeedingOp, nil))

	assert.Equal(t, []change{
		{StateClosed, StateOpen},
		{StateOpen, StateHalfOpen},
		{StateHalfOpen, StateClosed},
	}, changes)
}

func TestBreakerReset(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 1, SuccessThreshold: 1, ResetTimeout: time.Hour})
	_ = b.Execute(context.Background(), failingOp, nil)
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	require.NoError(t, b.Execute(context.Background(), succeedingOp, nil))
}

func TestRegistryReusesBreakersByName(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 1, SuccessThreshold: 1, ResetTimeout: time.Minute})

	a := r.Get("payments")
	b := r.Get("payments")
	c := r.Get("geocoder")

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)

	_ = a.Execute(context.Background(), failingOp, nil)
	snaps := r.Snapshots()
	require.Contains(t, snaps, "payments")
	assert.Equal(t, StateOpen.String(), snaps["payments"].State)
	assert.Equal(t, StateClosed.String(), snaps["geocoder"].State)
}
