// Package ratelimit implements the plan-tiered fixed-window limiter with an
// independent short-window burst check.
package ratelimit

import (
	"log/slog"
	"sync"
	"time"

	"github.com/waylink/platform-core/internal/domain"
)

// burstWindow is the trailing window inspected by the burst check.
const burstWindow = time.Second

// Decision is the outcome of a single Check. Remaining and ResetAt are
// populated on success too, so callers can always emit quota headers.
type Decision struct {
	Allowed    bool
	Code       domain.ErrorCode
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Err converts a rejection into its typed error. Nil for allowed decisions.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	if d.Code == domain.ErrRateLimitBurst {
		return domain.NewRateLimitBurstError()
	}
	return domain.NewRateLimitError(d.RetryAfter)
}

// record tracks one identity's window counter and recent request times.
type record struct {
	count       int
	windowReset time.Time
	recent      []time.Time
	plan        domain.PlanID
}

// Stats summarizes tracked identities by plan.
type Stats struct {
	TotalKeys int                       `json:"totalKeys"`
	ByPlan    map[domain.PlanID]PlanUse `json:"byPlan"`
}

// PlanUse aggregates usage for one plan tier.
type PlanUse struct {
	Keys     int `json:"keys"`
	Requests int `json:"requests"`
}

// Config holds limiter creation options.
type Config struct {
	// Limits overrides the plan table lookup; nil uses domain.LimitsFor.
	Limits func(domain.PlanID) domain.PlanLimits
	Logger *slog.Logger
}

// Limiter applies per-identity fixed-window and burst limits.
type Limiter struct {
	mu      sync.Mutex
	records map[string]*record
	limits  func(domain.PlanID) domain.PlanLimits
	logger  *slog.Logger
	now     func() time.Time

	rejectedWindow uint64
	rejectedBurst  uint64
}

// New creates a limiter.
func New(cfg Config) *Limiter {
	limits := cfg.Limits
	if limits == nil {
		limits = domain.LimitsFor
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Limiter{
		records: make(map[string]*record),
		limits:  limits,
		logger:  logger,
		now:     time.Now,
	}
}

// Check applies the burst check first, then the fixed window, for the given
// identity key under its plan's limits. On acceptance the counter advances
// and the request timestamp is tracked.
func (l *Limiter) Check(key string, plan domain.PlanID) Decision {
	limits := l.limits(plan)

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	rec, ok := l.records[key]
	if !ok || now.After(rec.windowReset) {
		rec = &record{windowReset: now.Add(limits.Window), plan: plan}
		l.records[key] = rec
	}

	// Burst rejection takes priority over the window counter.
	recent := 0
	cutoff := now.Add(-burstWindow)
	for _, t := range rec.recent {
		if t.After(cutoff) {
			recent++
		}
	}
	if recent >= limits.BurstLimit {
		l.rejectedBurst++
		l.logger.Warn("rate limit burst exceeded",
			slog.String("key", key), slog.String("plan", string(plan)), slog.Int("burst", recent))
		return Decision{
			Allowed:    false,
			Code:       domain.ErrRateLimitBurst,
			Limit:      limits.MaxRequests,
			Remaining:  remaining(limits.MaxRequests, rec.count),
			ResetAt:    rec.windowReset,
			RetryAfter: time.Second,
		}
	}

	if rec.count >= limits.MaxRequests {
		retryAfter := ceilSeconds(rec.windowReset.Sub(now))
		l.rejectedWindow++
		l.logger.Warn("rate limit exceeded",
			slog.String("key", key), slog.String("plan", string(plan)), slog.Int("count", rec.count))
		return Decision{
			Allowed:    false,
			Code:       domain.ErrRateLimitExceeded,
			Limit:      limits.MaxRequests,
			Remaining:  0,
			ResetAt:    rec.windowReset,
			RetryAfter: retryAfter,
		}
	}

	rec.count++
	rec.recent = append(rec.recent, now)

	return Decision{
		Allowed:   true,
		Limit:     limits.MaxRequests,
		Remaining: remaining(limits.MaxRequests, rec.count),
		ResetAt:   rec.windowReset,
	}
}

// Sweep deletes records whose window has expired and trims timestamps that
// no longer matter to the burst check, bounding memory.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, rec := range l.records {
		if now.After(rec.windowReset) {
			delete(l.records, key)
			removed++
			continue
		}
		cutoff := now.Add(-l.limits(rec.plan).Window)
		kept := rec.recent[:0]
		for _, t := range rec.recent {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		rec.recent = kept
	}
	return removed
}

// Reset forgets a single identity.
func (l *Limiter) Reset(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.records[key]; !ok {
		return false
	}
	delete(l.records, key)
	return true
}

// Stats returns per-plan usage of the tracked identities.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Stats{TotalKeys: len(l.records), ByPlan: make(map[domain.PlanID]PlanUse)}
	for _, rec := range l.records {
		use := s.ByPlan[rec.plan]
		use.Keys++
		use.Requests += rec.count
		s.ByPlan[rec.plan] = use
	}
	return s
}

// Rejections returns the running window and burst rejection counts.
func (l *Limiter) Rejections() (window, burst uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rejectedWindow, l.rejectedBurst
}

func remaining(limit, count int) int {
	if r := limit - count; r > 0 {
		return r
	}
	return 0
}

func ceilSeconds(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Second
	}
	secs := (d + time.Second - 1) / time.Second
	return secs * time.Second
}
