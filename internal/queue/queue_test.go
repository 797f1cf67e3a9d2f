package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waylink/platform-core/internal/domain"
)

// waitFor polls until cond holds or the deadline hits.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestJobsComplete(t *testing.T) {
	var processed atomic.Int64
	m := NewManager(Config{MaxConcurrency: 2, RetryBaseDelay: time.Millisecond}, func(ctx context.Context, p Payload) error {
		processed.Add(1)
		return nil
	})
	defer m.Close()

	for i := 0; i < 10; i++ {
		m.Enqueue("work", Func{Name: "noop"}, JobOptions{})
	}

	waitFor(t, func() bool { return processed.Load() == 10 }, "jobs did not complete")

	completed, dropped := m.Totals()
	assert.EqualValues(t, 10, completed)
	assert.Zero(t, dropped)
}

func TestConcurrencyBound(t *testing.T) {
	const maxConc = 2

	var mu sync.Mutex
	running, peak := 0, 0
	release := make(chan struct{})

	m := NewManager(Config{MaxConcurrency: maxConc, RetryBaseDelay: time.Millisecond}, func(ctx context.Context, p Payload) error {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()

		<-release

		mu.Lock()
		running--
		mu.Unlock()
		return nil
	})
	defer m.Close()

	for i := 0; i < 10; i++ {
		m.Enqueue("work", Func{Name: "blocker"}, JobOptions{})
	}

	waitFor(t, func() bool {
		s, _ := m.QueueStats("work")
		return s.InFlight == maxConc && s.Pending == 10-maxConc
	}, "queue did not reach steady state")

	close(release)
	waitFor(t, func() bool {
		completed, _ := m.Totals()
		return completed == 10
	}, "jobs did not finish after release")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, maxConc, peak, "in-flight jobs exceeded the concurrency bound")
}

func TestPriorityOrdering(t *testing.T) {
	var mu sync.Mutex
	var order []string
	started := make(chan struct{})

	m := NewManager(Config{MaxConcurrency: 1, RetryBaseDelay: time.Millisecond}, func(ctx context.Context, p Payload) error {
		f := p.(Func)
		if f.Name == "gate" {
			<-started
			return nil
		}
		mu.Lock()
		order = append(order, f.Name)
		mu.Unlock()
		return nil
	})
	defer m.Close()

	// The gate job occupies the single slot so the rest queue up and sort.
	m.Enqueue("work", Func{Name: "gate"}, JobOptions{})
	m.Enqueue("work", Func{Name: "low-1"}, JobOptions{Priority: 1})
	m.Enqueue("work", Func{Name: "high"}, JobOptions{Priority: 10})
	m.Enqueue("work", Func{Name: "low-2"}, JobOptions{Priority: 1})
	m.Enqueue("work", Func{Name: "mid"}, JobOptions{Priority: 5})
	close(started)

	waitFor(t, func() bool {
		completed, _ := m.Totals()
		return completed == 5
	}, "jobs did not complete")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"high", "mid", "low-1", "low-2"}, order)
}

func TestFailedJobRequeuesUntilMaxAttempts(t *testing.T) {
	var attempts atomic.Int64
	var failedJob *Job
	var failedErr error
	done := make(chan struct{})

	m := NewManager(Config{MaxConcurrency: 1, RetryBaseDelay: time.Millisecond}, func(ctx context.Context, p Payload) error {
		attempts.Add(1)
		return errors.New("handler broken")
	})
	defer m.Close()

	m.CreateQueue("flaky", Options{OnError: func(err error, job *Job) {
		failedErr = err
		failedJob = job
		close(done)
	}})

	m.Enqueue("flaky", Func{Name: "doomed"}, JobOptions{MaxAttempts: 3})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job never failed permanently")
	}

	assert.EqualValues(t, 3, attempts.Load())
	require.NotNil(t, failedJob)
	assert.Equal(t, 3, failedJob.Attempts)
	assert.Equal(t, domain.ErrJobFailed, domain.CodeOf(failedErr))

	_, dropped := m.Totals()
	assert.EqualValues(t, 1, dropped)
}

func TestEventualSuccessAfterRequeue(t *testing.T) {
	var attempts atomic.Int64
	m := NewManager(Config{MaxConcurrency: 1, RetryBaseDelay: time.Millisecond}, func(ctx context.Context, p Payload) error {
		if attempts.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	})
	defer m.Close()

	m.Enqueue("work", Func{Name: "flaky"}, JobOptions{MaxAttempts: 5})

	waitFor(t, func() bool {
		completed, _ := m.Totals()
		return completed == 1
	}, "job never succeeded")

	assert.EqualValues(t, 3, attempts.Load())
	_, dropped := m.Totals()
	assert.Zero(t, dropped)
}

func TestQueuesAreIsolated(t *testing.T) {
	var processed atomic.Int64
	block := make(chan struct{})

	m := NewManager(Config{MaxConcurrency: 1, RetryBaseDelay: time.Millisecond}, func(ctx context.Context, p Payload) error {
		if p.(Func).Name == "stuck" {
			<-block
			return nil
		}
		processed.Add(1)
		return nil
	})
	defer m.Close()

	m.Enqueue("slow", Func{Name: "stuck"}, JobOptions{})
	m.Enqueue("fast", Func{Name: "quick"}, JobOptions{})

	waitFor(t, func() bool { return processed.Load() == 1 },
		"a stuck queue must not stall other queues")
	close(block)
}

func TestClearQueueDropsPending(t *testing.T) {
	block := make(chan struct{})
	m := NewManager(Config{MaxConcurrency: 1, RetryBaseDelay: time.Millisecond}, func(ctx context.Context, p Payload) error {
		<-block
		return nil
	})
	defer m.Close()

	for i := 0; i < 5; i++ {
		m.Enqueue("work", Func{Name: "n"}, JobOptions{})
	}
	waitFor(t, func() bool {
		s, _ := m.QueueStats("work")
		return s.InFlight == 1 && s.Pending == 4
	}, "queue did not fill")

	m.ClearQueue("work")
	s, ok := m.QueueStats("work")
	require.True(t, ok)
	assert.Zero(t, s.Pending)
	close(block)
}

func TestStatsShape(t *testing.T) {
	m := NewManager(Config{}, func(ctx context.Context, p Payload) error { return nil })
	defer m.Close()

	_, ok := m.QueueStats("nope")
	assert.False(t, ok)

	m.CreateQueue("a", Options{MaxConcurrency: 7})
	s, ok := m.QueueStats("a")
	require.True(t, ok)
	assert.Equal(t, "a", s.Name)
	assert.Equal(t, 7, s.MaxConcurrency)

	all := m.AllStats()
	assert.Contains(t, all, "a")
}

func TestOutcomeHooksObserveJobs(t *testing.T) {
	var completed, retried, dropped atomic.Int64

	m := NewManager(Config{
		MaxConcurrency: 1,
		RetryBaseDelay: time.Millisecond,
		OnCompleted:    func(string) { completed.Add(1) },
		OnRetry:        func(string) { retried.Add(1) },
		OnDropped:      func(string) { dropped.Add(1) },
	}, func(ctx context.Context, p Payload) error {
		if f, ok := p.(Func); ok {
			return f.Run(ctx)
		}
		return nil
	})
	defer m.Close()

	m.Enqueue("work", Func{Name: "ok", Run: func(context.Context) error { return nil }}, JobOptions{})
	m.Enqueue("work", Func{Name: "doomed", Run: func(context.Context) error {
		return errors.New("handler broken")
	}}, JobOptions{MaxAttempts: 3})

	waitFor(t, func() bool { return dropped.Load() == 1 }, "failing job never dropped")
	waitFor(t, func() bool { return completed.Load() == 1 }, "succeeding job never completed")

	// Two re-queues before the third attempt fails for good.
	assert.EqualValues(t, 2, retried.Load())
	assert.EqualValues(t, 1, dropped.Load())
	assert.EqualValues(t, 1, completed.Load())
}
