// Package httpapi exposes the platform core over HTTP: the location read
// and ingest paths, notification fan-out, the websocket endpoint, and the
// operator surface.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/waylink/platform-core/internal/auth"
	"github.com/waylink/platform-core/internal/observability"
)

// RouterConfig holds router configuration.
type RouterConfig struct {
	Verifier       auth.Verifier
	Metrics        *observability.Metrics
	MetricsEnabled bool
	MetricsPath    string
	RequestTimeout time.Duration
}

// NewRouter wires the middleware stack and routes.
func NewRouter(s *Server, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}
	if cfg.Metrics != nil {
		r.Use(Instrument(cfg.Metrics))
	}

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	if cfg.MetricsEnabled {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, promhttp.Handler())
	}

	// Websocket handshake carries its own token; auth happens inside.
	r.Get("/ws", s.Hub.ServeWS)

	// Operator surface, no auth: bind the listener privately in deployment.
	r.Route("/internal", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Post("/breakers/{name}/reset", s.handleBreakerReset)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Authenticate(cfg.Verifier, s.Logger))
		r.Use(RateLimit(s.Limiter, cfg.Metrics))

		r.Get("/users/{userID}/location", s.handleLatestLocation)
		r.Get("/presence/{userID}", s.handlePresence)
		r.Post("/locations", s.handleIngestLocations)
		r.Post("/notify", s.handleNotify)
	})

	return r
}
