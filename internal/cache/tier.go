// Package cache implements the two-level tiered cache: a bounded LRU L1 in
// front of a larger TTL-only L2.
package cache

import (
	"container/list"
	"strings"
	"time"
)

// entry is a single cached value. L1 and L2 hold independent copies.
type entry struct {
	key       string
	value     any
	expiresAt time.Time
	element   *list.Element
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// lruTier is the capacity-bounded recency-ordered L1. Not safe for
// concurrent use on its own; TieredCache serializes access.
type lruTier struct {
	data     map[string]*entry
	order    *list.List
	capacity int
}

func newLRUTier(capacity int) *lruTier {
	return &lruTier{
		data:     make(map[string]*entry),
		order:    list.New(),
		capacity: capacity,
	}
}

// get returns the live entry and refreshes its recency. Expired entries are
// removed lazily and reported as absent.
func (t *lruTier) get(key string, now time.Time) (*entry, bool) {
	e, ok := t.data[key]
	if !ok {
		return nil, false
	}
	if e.expired(now) {
		t.remove(e)
		return nil, false
	}
	t.order.MoveToFront(e.element)
	return e, true
}

// set inserts or updates a key at most-recently-used position. Returns the
// number of evictions performed to stay within capacity.
func (t *lruTier) set(key string, value any, expiresAt time.Time) int {
	if e, ok := t.data[key]; ok {
		e.value = value
		e.expiresAt = expiresAt
		t.order.MoveToFront(e.element)
		return 0
	}

	evicted := 0
	for len(t.data) >= t.capacity {
		oldest := t.order.Back()
		if oldest == nil {
			break
		}
		t.remove(oldest.Value.(*entry))
		evicted++
	}

	e := &entry{key: key, value: value, expiresAt: expiresAt}
	e.element = t.order.PushFront(e)
	t.data[key] = e
	return evicted
}

func (t *lruTier) delete(key string) bool {
	e, ok := t.data[key]
	if !ok {
		return false
	}
	t.remove(e)
	return true
}

func (t *lruTier) remove(e *entry) {
	t.order.Remove(e.element)
	delete(t.data, e.key)
}

func (t *lruTier) clear() {
	t.data = make(map[string]*entry)
	t.order = list.New()
}

func (t *lruTier) clearMatching(pattern string) {
	for key, e := range t.data {
		if strings.Contains(key, pattern) {
			t.remove(e)
		}
	}
}

func (t *lruTier) sweep(now time.Time) int {
	removed := 0
	for _, e := range t.data {
		if e.expired(now) {
			t.remove(e)
			removed++
		}
	}
	return removed
}

func (t *lruTier) len() int { return len(t.data) }
