package queue

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/waylink/platform-core/internal/domain"
	"github.com/waylink/platform-core/internal/retry"
)

// ExecFunc runs one job payload.
type ExecFunc func(ctx context.Context, p Payload) error

// Options configures a named queue at creation.
type Options struct {
	MaxConcurrency int
	Retry          bool
	OnError        func(err error, job *Job)
}

// JobOptions configures a single enqueue.
type JobOptions struct {
	Priority    int
	MaxAttempts int
}

// Stats describes one queue's load.
type Stats struct {
	Name           string `json:"name"`
	Pending        int    `json:"pending"`
	InFlight       int    `json:"inFlight"`
	MaxConcurrency int    `json:"maxConcurrency"`
}

// Config holds manager-wide defaults.
type Config struct {
	MaxConcurrency int
	MaxAttempts    int
	RetryBaseDelay time.Duration
	Logger         *slog.Logger

	// OnCompleted, OnRetry and OnDropped observe job outcomes per queue.
	// All are optional and called outside the manager's locks.
	OnCompleted func(queue string)
	OnRetry     func(queue string)
	OnDropped   func(queue string)
}

// Manager owns every named queue in the process.
type Manager struct {
	mu     sync.Mutex
	queues map[string]*workQueue

	exec      ExecFunc
	cfg       Config
	logger    *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	seq       uint64
	completed uint64
	dropped   uint64
}

type workQueue struct {
	name    string
	mu      sync.Mutex
	pending []*Job
	// slots bounds in-flight work; inFlight never exceeds its capacity.
	slots    chan struct{}
	inFlight int
	retry    bool
	onError  func(err error, job *Job)
	maxConc  int
}

// NewManager creates a manager. Close stops it.
func NewManager(cfg Config, exec ExecFunc) *Manager {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 5
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		queues: make(map[string]*workQueue),
		exec:   exec,
		cfg:    cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// CreateQueue registers a named queue; existing queues are returned
// unchanged, matching first-use semantics.
func (m *Manager) CreateQueue(name string, opts Options) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getOrCreate(name, opts)
}

// getOrCreate must be called with m.mu held.
func (m *Manager) getOrCreate(name string, opts Options) *workQueue {
	if q, ok := m.queues[name]; ok {
		return q
	}
	maxConc := opts.MaxConcurrency
	if maxConc <= 0 {
		maxConc = m.cfg.MaxConcurrency
	}
	q := &workQueue{
		name:    name,
		slots:   make(chan struct{}, maxConc),
		retry:   opts.Retry,
		onError: opts.OnError,
		maxConc: maxConc,
	}
	m.queues[name] = q
	return q
}

// Enqueue inserts a job in priority order (higher first, FIFO within a
// priority) and triggers processing. Returns the job ID.
func (m *Manager) Enqueue(name string, p Payload, opts JobOptions) string {
	m.mu.Lock()
	q := m.getOrCreate(name, Options{})
	m.seq++
	seq := m.seq
	m.mu.Unlock()

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = m.cfg.MaxAttempts
	}

	job := &Job{
		ID:          uuid.NewString(),
		Payload:     p,
		Priority:    opts.Priority,
		MaxAttempts: maxAttempts,
		CreatedAt:   time.Now(),
		seq:         seq,
	}

	q.push(job)
	m.dispatch(q)
	return job.ID
}

func (q *workQueue) push(job *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, job)
	sort.SliceStable(q.pending, func(i, j int) bool {
		if q.pending[i].Priority != q.pending[j].Priority {
			return q.pending[i].Priority > q.pending[j].Priority
		}
		return q.pending[i].seq < q.pending[j].seq
	})
}

// dispatch starts pending jobs while a concurrency slot is free. It never
// blocks: at capacity it simply returns, and the freeing worker re-triggers.
func (m *Manager) dispatch(q *workQueue) {
	for {
		select {
		case q.slots <- struct{}{}:
		default:
			return
		}

		q.mu.Lock()
		if len(q.pending) == 0 {
			q.mu.Unlock()
			<-q.slots
			// Re-check: a push may have landed between the empty check
			// and the slot release, with its own dispatch finding no
			// free slot.
			q.mu.Lock()
			again := len(q.pending) > 0
			q.mu.Unlock()
			if again {
				continue
			}
			return
		}
		job := q.pending[0]
		q.pending = q.pending[1:]
		q.inFlight++
		q.mu.Unlock()

		m.wg.Add(1)
		go m.run(q, job)
	}
}

func (m *Manager) run(q *workQueue, job *Job) {
	defer m.wg.Done()

	err := m.runOnce(q, job)
	if err != nil {
		job.Attempts++
		if job.Attempts < job.MaxAttempts {
			m.mu.Lock()
			m.seq++
			job.seq = m.seq
			m.mu.Unlock()
			q.push(job)
			if m.cfg.OnRetry != nil {
				m.cfg.OnRetry(q.name)
			}
			m.logger.Warn("job re-queued",
				slog.String("queue", q.name), slog.String("job_id", job.ID),
				slog.Int("attempts", job.Attempts), slog.Any("error", err))
		} else {
			m.mu.Lock()
			m.dropped++
			m.mu.Unlock()
			failed := domain.NewJobFailedError(q.name, job.ID, job.Attempts, err)
			if q.onError != nil {
				q.onError(failed, job)
			}
			if m.cfg.OnDropped != nil {
				m.cfg.OnDropped(q.name)
			}
			m.logger.Error("job failed permanently",
				slog.String("queue", q.name), slog.String("job_id", job.ID),
				slog.Int("attempts", job.Attempts), slog.Any("error", err))
		}
	} else {
		m.mu.Lock()
		m.completed++
		m.mu.Unlock()
		if m.cfg.OnCompleted != nil {
			m.cfg.OnCompleted(q.name)
		}
		m.logger.Debug("job completed",
			slog.String("queue", q.name), slog.String("job_id", job.ID))
	}

	q.mu.Lock()
	q.inFlight--
	q.mu.Unlock()
	<-q.slots

	// Cooperative re-trigger; never blocks the finishing worker's caller.
	m.dispatch(q)
}

func (m *Manager) runOnce(q *workQueue, job *Job) error {
	fn := func() error { return m.exec(m.ctx, job.Payload) }
	if !q.retry {
		return fn()
	}
	return retry.Execute(m.ctx, fn, retry.Options{
		MaxRetries: job.MaxAttempts - 1,
		Delay:      m.cfg.RetryBaseDelay,
		Backoff:    retry.BackoffExponential,
		OnRetry: func(err error, attempt int, wait time.Duration) {
			if m.cfg.OnRetry != nil {
				m.cfg.OnRetry(q.name)
			}
			m.logger.Warn("job retry",
				slog.String("queue", q.name), slog.String("job_id", job.ID),
				slog.Int("attempt", attempt), slog.Duration("wait", wait),
				slog.Any("error", err))
		},
	})
}

// QueueStats returns one queue's load, or false if the queue is unknown.
func (m *Manager) QueueStats(name string) (Stats, bool) {
	m.mu.Lock()
	q, ok := m.queues[name]
	m.mu.Unlock()
	if !ok {
		return Stats{}, false
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Name:           name,
		Pending:        len(q.pending),
		InFlight:       q.inFlight,
		MaxConcurrency: q.maxConc,
	}, true
}

// AllStats returns every queue's load.
func (m *Manager) AllStats() map[string]Stats {
	m.mu.Lock()
	names := make([]string, 0, len(m.queues))
	for name := range m.queues {
		names = append(names, name)
	}
	m.mu.Unlock()

	out := make(map[string]Stats, len(names))
	for _, name := range names {
		if s, ok := m.QueueStats(name); ok {
			out[name] = s
		}
	}
	return out
}

// Totals returns the completed and permanently dropped job counts.
func (m *Manager) Totals() (completed, dropped uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.completed, m.dropped
}

// ClearQueue drops all pending jobs in a named queue.
func (m *Manager) ClearQueue(name string) {
	m.mu.Lock()
	q, ok := m.queues[name]
	m.mu.Unlock()
	if !ok {
		return
	}
	q.mu.Lock()
	q.pending = nil
	q.mu.Unlock()
}

// Close cancels job contexts and waits for in-flight work to finish.
// Pending jobs are abandoned; the queue offers no durability.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}
