package ratelimit

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waylink/platform-core/internal/domain"
)

// tightLimits keeps test loops short regardless of the real plan table.
func tightLimits(plan domain.PlanID) domain.PlanLimits {
	switch plan {
	case domain.PlanPlus:
		return domain.PlanLimits{Window: time.Minute, MaxRequests: 10, BurstLimit: 8}
	default:
		return domain.PlanLimits{Window: time.Minute, MaxRequests: 5, BurstLimit: 3}
	}
}

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter() (*Limiter, *testClock) {
	l := New(Config{Limits: tightLimits})
	clock := &testClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	l.now = clock.now
	return l, clock
}

func TestWindowLimitEnforced(t *testing.T) {
	l, clock := newTestLimiter()

	for i := 0; i < 5; i++ {
		d := l.Check("user:alice", domain.PlanFree)
		require.True(t, d.Allowed, "request %d should pass", i)
		assert.Equal(t, 5, d.Limit)
		assert.Equal(t, 4-i, d.Remaining)
		// Spread requests out so the burst check stays quiet.
		clock.advance(2 * time.Second)
	}

	d := l.Check("user:alice", domain.PlanFree)
	assert.False(t, d.Allowed)
	assert.Equal(t, domain.ErrRateLimitExceeded, d.Code)
	assert.Zero(t, d.Remaining)
	assert.Positive(t, d.RetryAfter)
}

func TestWindowResetsAfterExpiry(t *testing.T) {
	l, clock := newTestLimiter()

	for i := 0; i < 5; i++ {
		l.Check("user:bob", domain.PlanFree)
		clock.advance(2 * time.Second)
	}
	require.False(t, l.Check("user:bob", domain.PlanFree).Allowed)

	clock.advance(time.Minute)

	d := l.Check("user:bob", domain.PlanFree)
	assert.True(t, d.Allowed)
	assert.Equal(t, 4, d.Remaining)
}

func TestBurstRejectionTakesPriority(t *testing.T) {
	l, clock := newTestLimiter()

	// Three requests inside one second exhaust the free burst allowance
	// while the window counter still has room.
	for i := 0; i < 3; i++ {
		require.True(t, l.Check("user:carol", domain.PlanFree).Allowed)
		clock.advance(100 * time.Millisecond)
	}

	d := l.Check("user:carol", domain.PlanFree)
	assert.False(t, d.Allowed)
	assert.Equal(t, domain.ErrRateLimitBurst, d.Code)
	assert.Equal(t, time.Second, d.RetryAfter)
	assert.Positive(t, d.Remaining, "window capacity remains despite burst rejection")

	// Once the trailing second drains, requests pass again.
	clock.advance(time.Second)
	assert.True(t, l.Check("user:carol", domain.PlanFree).Allowed)
}

func TestKeysAreIndependent(t *testing.T) {
	l, clock := newTestLimiter()

	for i := 0; i < 5; i++ {
		l.Check("user:dave", domain.PlanFree)
		clock.advance(2 * time.Second)
	}
	require.False(t, l.Check("user:dave", domain.PlanFree).Allowed)

	assert.True(t, l.Check("user:erin", domain.PlanFree).Allowed)
}

func TestPlanTiersGetDifferentLimits(t *testing.T) {
	l, _ := newTestLimiter()

	free := l.Check("user:free", domain.PlanFree)
	plus := l.Check("user:plus", domain.PlanPlus)
	assert.Equal(t, 5, free.Limit)
	assert.Equal(t, 10, plus.Limit)
}

func TestDecisionErrMapping(t *testing.T) {
	l, clock := newTestLimiter()

	require.NoError(t, l.Check("user:frank", domain.PlanFree).Err())

	for i := 0; i < 3; i++ {
		l.Check("user:gary", domain.PlanFree)
	}
	err := l.Check("user:gary", domain.PlanFree).Err()
	assert.Equal(t, domain.ErrRateLimitBurst, domain.CodeOf(err))

	for i := 0; i < 5; i++ {
		l.Check("user:hana", domain.PlanFree)
		clock.advance(2 * time.Second)
	}
	err = l.Check("user:hana", domain.PlanFree).Err()
	assert.Equal(t, domain.ErrRateLimitExceeded, domain.CodeOf(err))
}

func TestSweepDropsExpiredRecords(t *testing.T) {
	l, clock := newTestLimiter()

	for i := 0; i < 10; i++ {
		l.Check(fmt.Sprintf("user:%d", i), domain.PlanFree)
	}
	require.Equal(t, 10, l.Stats().TotalKeys)

	clock.advance(2 * time.Minute)
	removed := l.Sweep()

	assert.Equal(t, 10, removed)
	assert.Zero(t, l.Stats().TotalKeys)
}

func TestResetForgetsOneKey(t *testing.T) {
	l, _ := newTestLimiter()

	for i := 0; i < 3; i++ {
		l.Check("user:ivy", domain.PlanFree)
	}
	require.False(t, l.Check("user:ivy", domain.PlanFree).Allowed)

	assert.True(t, l.Reset("user:ivy"))
	assert.False(t, l.Reset("user:ivy"))
	assert.True(t, l.Check("user:ivy", domain.PlanFree).Allowed)
}

func TestStatsAndRejectionCounters(t *testing.T) {
	l, clock := newTestLimiter()

	for i := 0; i < 5; i++ {
		l.Check("user:jo", domain.PlanFree)
		clock.advance(2 * time.Second)
	}
	l.Check("user:jo", domain.PlanFree)  // window rejection
	l.Check("user:kim", domain.PlanPlus) // accepted

	stats := l.Stats()
	assert.Equal(t, 2, stats.TotalKeys)
	assert.Equal(t, 5, stats.ByPlan[domain.PlanFree].Requests)
	assert.Equal(t, 1, stats.ByPlan[domain.PlanPlus].Keys)

	window, burst := l.Rejections()
	assert.EqualValues(t, 1, window)
	assert.EqualValues(t, 0, burst)
}
