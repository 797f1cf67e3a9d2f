package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/waylink/platform-core/internal/cache"
	"github.com/waylink/platform-core/internal/circuitbreaker"
	"github.com/waylink/platform-core/internal/realtime"
)

// Metrics holds all Prometheus metrics for the platform core.
type Metrics struct {
	namespace string

	RequestsTotal          *prometheus.CounterVec
	RequestDurationSeconds *prometheus.HistogramVec
	RateLimitRejectedTotal *prometheus.CounterVec
	CircuitBreakerState    *prometheus.GaugeVec
	JobsCompletedTotal     prometheus.Counter
	JobsDroppedTotal       prometheus.Counter
	JobRetriesTotal        prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		namespace: namespace,
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"method", "route"},
		),
		RateLimitRejectedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_rejected_total",
				Help:      "Total number of rate limited requests",
			},
			[]string{"reason"},
		),
		CircuitBreakerState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Current state of the circuit breaker (0=closed, 1=open, 2=half-open)",
			},
			[]string{"name"},
		),
		JobsCompletedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_completed_total",
				Help:      "Total number of jobs completed successfully",
			},
		),
		JobsDroppedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_dropped_total",
				Help:      "Total number of jobs dropped after exhausting attempts",
			},
		),
		JobRetriesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "job_retries_total",
				Help:      "Total number of job retry attempts",
			},
		),
	}
}

// RecordRequest records a completed HTTP request.
func (m *Metrics) RecordRequest(method, route, status string, seconds float64) {
	m.RequestsTotal.WithLabelValues(method, route, status).Inc()
	m.RequestDurationSeconds.WithLabelValues(method, route).Observe(seconds)
}

// RecordRateLimited records a rejected request by reason.
func (m *Metrics) RecordRateLimited(reason string) {
	m.RateLimitRejectedTotal.WithLabelValues(reason).Inc()
}

// SetCircuitBreakerState sets the breaker gauge for a dependency.
func (m *Metrics) SetCircuitBreakerState(name string, state circuitbreaker.State) {
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// WatchCache registers function collectors that read the cache's own
// counters at scrape time.
func (m *Metrics) WatchCache(stats func() cache.Stats) {
	promauto.NewCounterFunc(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "cache_hit_total",
		Help:      "Total number of cache hits",
	}, func() float64 { return float64(stats().Hits) })
	promauto.NewCounterFunc(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "cache_miss_total",
		Help:      "Total number of cache misses",
	}, func() float64 { return float64(stats().Misses) })
	promauto.NewCounterFunc(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "cache_eviction_total",
		Help:      "Total number of cache evictions",
	}, func() float64 { return float64(stats().Evictions) })
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "cache_entries",
		Help:      "Current number of cached entries across tiers",
	}, func() float64 {
		s := stats()
		return float64(s.L1Size + s.L2Size)
	})
}

// WatchHub registers function collectors over the realtime hub.
func (m *Metrics) WatchHub(stats func() realtime.Stats) {
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "realtime_connections",
		Help:      "Current number of live websocket connections",
	}, func() float64 { return float64(stats().ActiveConnections) })
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "realtime_rooms",
		Help:      "Current number of active rooms",
	}, func() float64 { return float64(stats().ActiveRooms) })
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "realtime_queued_messages",
		Help:      "Messages queued for offline users",
	}, func() float64 { return float64(stats().QueuedMessages) })
	promauto.NewCounterFunc(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "realtime_messages_sent_total",
		Help:      "Total number of messages delivered to clients",
	}, func() float64 { return float64(stats().MessagesSent) })
}

// WatchQueues registers a function collector over the work queue
// manager's backlog. Completions, drops and retries feed the plain
// counters through the manager's outcome hooks.
func (m *Metrics) WatchQueues(pending func() int) {
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "jobs_pending",
		Help:      "Current number of jobs waiting across all queues",
	}, func() float64 { return float64(pending()) })
}
