package cache

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/waylink/platform-core/internal/domain"
)

// Tier indicates which level served a hit.
type Tier int

const (
	TierL1 Tier = iota
	TierL2
)

func (t Tier) String() string {
	if t == TierL1 {
		return "l1"
	}
	return "l2"
}

// Entry is the result of a cache hit.
type Entry struct {
	Value     any
	Source    Tier
	ExpiresAt time.Time
}

// TTLSeconds returns the remaining lifetime for response metadata, or 0 for
// entries without expiry.
func (e *Entry) TTLSeconds(now time.Time) int {
	if e.ExpiresAt.IsZero() {
		return 0
	}
	remaining := e.ExpiresAt.Sub(now)
	if remaining < 0 {
		return 0
	}
	return int(remaining / time.Second)
}

// Stats is a point-in-time snapshot of the running counters.
type Stats struct {
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Sets      uint64  `json:"sets"`
	Deletes   uint64  `json:"deletes"`
	Evictions uint64  `json:"evictions"`
	HitRate   float64 `json:"hitRate"`
	L1Size    int     `json:"l1Size"`
	L2Size    int     `json:"l2Size"`
}

// Config holds tiered cache creation options.
type Config struct {
	L1Size     int
	DefaultTTL time.Duration
	Plans      domain.PlanResolver
	Logger     *slog.Logger
}

// TieredCache is a process-local two-level cache with plan-aware TTLs.
// Operations never return errors: internal failures degrade to a miss or
// the default TTL and are logged.
type TieredCache struct {
	mu    sync.Mutex
	l1    *lruTier
	l2    map[string]*entry
	plans domain.PlanResolver

	defaultTTL time.Duration
	logger     *slog.Logger
	now        func() time.Time

	hits      uint64
	misses    uint64
	sets      uint64
	deletes   uint64
	evictions uint64
}

// New creates a tiered cache.
func New(cfg Config) *TieredCache {
	if cfg.L1Size <= 0 {
		cfg.L1Size = 5000
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = domain.DefaultCacheTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &TieredCache{
		l1:         newLRUTier(cfg.L1Size),
		l2:         make(map[string]*entry),
		plans:      cfg.Plans,
		defaultTTL: cfg.DefaultTTL,
		logger:     logger,
		now:        time.Now,
	}
}

// Key builds a namespaced cache key.
func Key(prefix string, parts ...string) string {
	if len(parts) == 0 {
		return prefix
	}
	return prefix + ":" + strings.Join(parts, ":")
}

// Get checks L1 first, then L2. An L2 hit is promoted into L1 with the same
// expiry. Expired entries are treated as absent and removed lazily.
func (c *TieredCache) Get(ctx context.Context, key string) *Entry {
	defer c.recovered("get")

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()

	if e, ok := c.l1.get(key, now); ok {
		c.hits++
		return &Entry{Value: e.value, Source: TierL1, ExpiresAt: e.expiresAt}
	}

	if e, ok := c.l2[key]; ok {
		if e.expired(now) {
			delete(c.l2, key)
		} else {
			c.evictions += uint64(c.l1.set(key, e.value, e.expiresAt))
			c.hits++
			return &Entry{Value: e.value, Source: TierL2, ExpiresAt: e.expiresAt}
		}
	}

	c.misses++
	return nil
}

// Set writes the value to both tiers. An explicit positive ttl is used
// verbatim; otherwise the TTL is resolved from the user's plan when a
// userID is supplied, and falls back to the default TTL.
func (c *TieredCache) Set(ctx context.Context, key string, value any, ttl time.Duration, userID string) {
	defer c.recovered("set")

	effective := ttl
	if effective <= 0 {
		effective = c.resolveTTL(ctx, userID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(effective)
	c.evictions += uint64(c.l1.set(key, value, expiresAt))
	c.l2[key] = &entry{key: key, value: value, expiresAt: expiresAt}
	c.sets++
}

func (c *TieredCache) resolveTTL(ctx context.Context, userID string) time.Duration {
	if userID == "" || c.plans == nil {
		return c.defaultTTL
	}
	plan, err := c.plans.Plan(ctx, userID)
	if err != nil {
		c.logger.Warn("plan lookup failed, using default cache ttl",
			slog.String("user_id", userID), slog.Any("error", err))
		return c.defaultTTL
	}
	return domain.CacheTTLFor(plan)
}

// Delete removes a key from both tiers.
func (c *TieredCache) Delete(key string) {
	defer c.recovered("delete")

	c.mu.Lock()
	defer c.mu.Unlock()

	c.l1.delete(key)
	delete(c.l2, key)
	c.deletes++
}

// Clear empties both tiers when pattern is empty; otherwise it removes only
// keys containing the pattern. Calling it twice is a no-op the second time.
func (c *TieredCache) Clear(pattern string) {
	defer c.recovered("clear")

	c.mu.Lock()
	defer c.mu.Unlock()

	if pattern == "" {
		c.l1.clear()
		c.l2 = make(map[string]*entry)
		return
	}

	c.l1.clearMatching(pattern)
	for key := range c.l2 {
		if strings.Contains(key, pattern) {
			delete(c.l2, key)
		}
	}
}

// InvalidateUser removes every entry scoped to a user.
func (c *TieredCache) InvalidateUser(userID string) {
	c.Clear(Key("user", userID))
}

// Warm preloads entries, all with the same ttl.
func (c *TieredCache) Warm(ctx context.Context, data map[string]any, ttl time.Duration) int {
	for key, value := range data {
		c.Set(ctx, key, value, ttl, "")
	}
	return len(data)
}

// Sweep removes expired entries from both tiers. This is the only space
// reclamation for L2; L1 additionally reclaims via LRU eviction.
func (c *TieredCache) Sweep() int {
	defer c.recovered("sweep")

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := c.l1.sweep(now)
	for key, e := range c.l2 {
		if e.expired(now) {
			delete(c.l2, key)
			removed++
		}
	}
	return removed
}

// Stats returns the running counters.
func (c *TieredCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Sets:      c.sets,
		Deletes:   c.deletes,
		Evictions: c.evictions,
		L1Size:    c.l1.len(),
		L2Size:    len(c.l2),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// recovered swallows panics so that cache failures degrade to the
// non-cached path instead of taking down the request.
func (c *TieredCache) recovered(op string) {
	if r := recover(); r != nil {
		c.logger.Error("cache operation panicked", slog.String("op", op), slog.Any("panic", r))
	}
}
