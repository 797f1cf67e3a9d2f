// Package store keeps the latest known position per user. The in-memory
// implementation stands in for the real location database; callers wrap
// it with a circuit breaker the same way they would a remote store.
package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/waylink/platform-core/internal/queue"
)

// ErrNotFound reports a user with no recorded position.
var ErrNotFound = errors.New("store: no location for user")

// Location is the newest accepted fix for a user.
type Location struct {
	UserID    string    `json:"userId"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	WrittenAt time.Time `json:"writtenAt"`
}

// Memory is a process-local location store.
type Memory struct {
	mu     sync.RWMutex
	latest map[string]Location
	writes uint64
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{latest: make(map[string]Location)}
}

// WriteLocations records a batch, keeping only the newest fix per user.
func (m *Memory) WriteLocations(ctx context.Context, userID string, fixes []queue.LocationFix) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(fixes) == 0 {
		return nil
	}

	newest := fixes[0]
	for _, f := range fixes[1:] {
		if f.Timestamp.After(newest.Timestamp) {
			newest = f
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.latest[userID]; !ok || newest.Timestamp.After(cur.Timestamp) {
		m.latest[userID] = Location{
			UserID:    userID,
			Latitude:  newest.Latitude,
			Longitude: newest.Longitude,
			Accuracy:  newest.Accuracy,
			Timestamp: newest.Timestamp,
			WrittenAt: time.Now(),
		}
	}
	m.writes += uint64(len(fixes))
	return nil
}

// Latest returns the newest position for a user.
func (m *Memory) Latest(ctx context.Context, userID string) (Location, error) {
	if err := ctx.Err(); err != nil {
		return Location{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	loc, ok := m.latest[userID]
	if !ok {
		return Location{}, ErrNotFound
	}
	return loc, nil
}

// RollupDay is a placeholder aggregation pass over the day's writes.
func (m *Memory) RollupDay(ctx context.Context, day string) error {
	return ctx.Err()
}

// Users returns how many users have a recorded position.
func (m *Memory) Users() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.latest)
}
