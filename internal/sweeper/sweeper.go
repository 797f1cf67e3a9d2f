// Package sweeper runs the periodic maintenance tasks that reclaim
// expired cache entries, stale rate limit records, and dead offline
// messages.
package sweeper

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Task is one named maintenance pass. It returns how many items it
// reclaimed.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) int
}

// Group runs a set of tasks on their own tickers until stopped.
type Group struct {
	tasks  []Task
	logger *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewGroup creates a group. Tasks with a non-positive interval are
// dropped with a warning.
func NewGroup(logger *slog.Logger, tasks ...Task) *Group {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	kept := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if t.Interval <= 0 || t.Run == nil {
			logger.Warn("dropping misconfigured sweep task", slog.String("task", t.Name))
			continue
		}
		kept = append(kept, t)
	}
	return &Group{tasks: kept, logger: logger}
}

// Start launches one goroutine per task. Calling Start twice is a no-op.
func (g *Group) Start() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started {
		return
	}
	g.started = true

	ctx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel
	for _, t := range g.tasks {
		g.wg.Add(1)
		go g.loop(ctx, t)
	}
}

func (g *Group) loop(ctx context.Context, t Task) {
	defer g.wg.Done()
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			reclaimed := t.Run(ctx)
			if reclaimed > 0 {
				g.logger.Debug("sweep pass finished",
					slog.String("task", t.Name),
					slog.Int("reclaimed", reclaimed),
					slog.Duration("took", time.Since(start)))
			}
		}
	}
}

// Stop cancels all tasks and waits for in-progress passes to finish.
func (g *Group) Stop() {
	g.mu.Lock()
	if !g.started {
		g.mu.Unlock()
		return
	}
	g.started = false
	cancel := g.cancel
	g.mu.Unlock()

	cancel()
	g.wg.Wait()
}
