// Package domain defines the shared plan table, typed errors, and
// interfaces consumed by every platform-core component.
package domain

import (
	"context"
	"time"
)

// PlanID identifies a subscription tier.
type PlanID string

const (
	PlanFree     PlanID = "free"
	PlanPlus     PlanID = "plus"
	PlanBusiness PlanID = "business"
)

// Valid reports whether the plan is one of the known tiers.
func (p PlanID) Valid() bool {
	switch p {
	case PlanFree, PlanPlus, PlanBusiness:
		return true
	}
	return false
}

// PlanLimits parametrizes cache TTL and rate-limit generosity for a tier.
// All plan-dependent branching in the cache and limiter goes through this
// single table.
type PlanLimits struct {
	CacheTTL    time.Duration
	Window      time.Duration
	MaxRequests int
	BurstLimit  int
}

// DefaultCacheTTL is used when no plan can be resolved for a set.
const DefaultCacheTTL = 5 * time.Minute

var planTable = map[PlanID]PlanLimits{
	PlanFree:     {CacheTTL: time.Minute, Window: time.Minute, MaxRequests: 50, BurstLimit: 10},
	PlanPlus:     {CacheTTL: 5 * time.Minute, Window: time.Minute, MaxRequests: 200, BurstLimit: 50},
	PlanBusiness: {CacheTTL: 10 * time.Minute, Window: time.Minute, MaxRequests: 500, BurstLimit: 100},
}

// LimitsFor returns the limits for a plan. Unknown plans get free limits.
func LimitsFor(plan PlanID) PlanLimits {
	if l, ok := planTable[plan]; ok {
		return l
	}
	return planTable[PlanFree]
}

// CacheTTLFor returns the cache TTL for a plan. Unknown plans fall back to
// DefaultCacheTTL rather than the free tier's.
func CacheTTLFor(plan PlanID) time.Duration {
	if l, ok := planTable[plan]; ok {
		return l.CacheTTL
	}
	return DefaultCacheTTL
}

// PlanResolver is the external subscription lookup. Implementations must be
// cheap to call on the request path.
type PlanResolver interface {
	Plan(ctx context.Context, userID string) (PlanID, error)
}

// StaticPlanResolver resolves plans from a fixed map. Users absent from the
// map are treated as free tier. Useful for tests and the demo server.
type StaticPlanResolver map[string]PlanID

// Plan implements PlanResolver.
func (r StaticPlanResolver) Plan(_ context.Context, userID string) (PlanID, error) {
	if p, ok := r[userID]; ok {
		return p, nil
	}
	return PlanFree, nil
}
