package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/waylink/platform-core/internal/cache"
	"github.com/waylink/platform-core/internal/circuitbreaker"
	"github.com/waylink/platform-core/internal/domain"
	"github.com/waylink/platform-core/internal/queue"
	"github.com/waylink/platform-core/internal/ratelimit"
	"github.com/waylink/platform-core/internal/realtime"
	"github.com/waylink/platform-core/internal/store"
)

// Server holds the handler dependencies.
type Server struct {
	Cache    *cache.TieredCache
	Breakers *circuitbreaker.Registry
	Limiter  *ratelimit.Limiter
	Queues   *queue.Manager
	Hub      *realtime.Hub
	Store    *store.Memory
	Logger   *slog.Logger
}

const locationStoreBreaker = "location-store"

// handleLatestLocation serves the newest known position for a user. Reads
// go through the tiered cache; misses hit the store behind its breaker.
func (s *Server) handleLatestLocation(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		writeError(w, domain.NewInvalidPayloadError("latest-location", "userID is required"))
		return
	}

	key := cache.Key("user", userID, "location")
	if entry := s.Cache.Get(r.Context(), key); entry != nil {
		w.Header().Set("X-Cache", "HIT")
		w.Header().Set("X-Cache-Source", entry.Source.String())
		w.Header().Set("X-Cache-TTL", strconv.Itoa(entry.TTLSeconds(time.Now())))
		w.Header().Set("X-Cache-Key", sanitizeKey(key))
		writeJSON(w, http.StatusOK, entry.Value)
		return
	}
	w.Header().Set("X-Cache", "MISS")
	w.Header().Set("X-Cache-Key", sanitizeKey(key))

	var loc store.Location
	var notFound bool
	err := s.Breakers.Get(locationStoreBreaker).Execute(r.Context(), func(ctx context.Context) error {
		var opErr error
		loc, opErr = s.Store.Latest(ctx, userID)
		// An absent user is a valid answer, not a store failure.
		if errors.Is(opErr, store.ErrNotFound) {
			notFound = true
			return nil
		}
		return opErr
	}, nil)
	if notFound {
		writeJSON(w, http.StatusNotFound, ErrorBody{Error: ErrorDetail{
			Code:    "NOT_FOUND",
			Message: "no location recorded for user",
		}})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}

	s.Cache.Set(r.Context(), key, loc, 0, userID)
	writeJSON(w, http.StatusOK, loc)
}

type ingestRequest struct {
	Fixes []queue.LocationFix `json:"fixes"`
}

// handleIngestLocations accepts a batch of fixes and defers the store
// write to the work queue.
func (s *Server) handleIngestLocations(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		writeError(w, domain.NewAuthRejectedError("identity missing"))
		return
	}

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.NewInvalidPayloadError("ingest-locations", "malformed JSON body"))
		return
	}
	if len(req.Fixes) == 0 {
		writeError(w, domain.NewInvalidPayloadError("ingest-locations", "fixes must be non-empty"))
		return
	}
	for _, f := range req.Fixes {
		if f.Latitude < -90 || f.Latitude > 90 || f.Longitude < -180 || f.Longitude > 180 {
			writeError(w, domain.NewInvalidPayloadError("ingest-locations", "coordinates out of range"))
			return
		}
	}

	jobID := s.Queues.Enqueue("locations", queue.LocationBatch{
		UserID: identity.UserID,
		Fixes:  req.Fixes,
	}, queue.JobOptions{})

	// Readers must not see the old position once new fixes are accepted.
	s.Cache.InvalidateUser(identity.UserID)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"jobId":    jobID,
		"accepted": len(req.Fixes),
	})
}

type notifyRequest struct {
	UserID   string         `json:"userId"`
	Event    string         `json:"event"`
	Data     map[string]any `json:"data"`
	Priority int            `json:"priority"`
}

// handleNotify pushes an event toward a user through the notification
// queue; delivery falls back to the offline queue when they are away.
func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	var req notifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.NewInvalidPayloadError("notify", "malformed JSON body"))
		return
	}
	if req.UserID == "" || req.Event == "" {
		writeError(w, domain.NewInvalidPayloadError("notify", "userId and event are required"))
		return
	}

	jobID := s.Queues.Enqueue("notifications", queue.NotifyUser{
		UserID: req.UserID,
		Event:  req.Event,
		Data:   req.Data,
	}, queue.JobOptions{Priority: req.Priority})

	writeJSON(w, http.StatusAccepted, map[string]any{"jobId": jobID})
}

// handlePresence reports whether a user has a live connection.
func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	writeJSON(w, http.StatusOK, map[string]any{
		"userId":      userID,
		"online":      s.Hub.IsUserOnline(userID),
		"connections": s.Hub.UserConnections(userID),
	})
}

// handleStats aggregates every component's snapshot for operators.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	completed, dropped := s.Queues.Totals()
	windowRejected, burstRejected := s.Limiter.Rejections()

	writeJSON(w, http.StatusOK, map[string]any{
		"cache":    s.Cache.Stats(),
		"breakers": s.Breakers.Snapshots(),
		"rateLimit": map[string]any{
			"usage":          s.Limiter.Stats(),
			"windowRejected": windowRejected,
			"burstRejected":  burstRejected,
		},
		"queues": map[string]any{
			"byQueue":   s.Queues.AllStats(),
			"completed": completed,
			"dropped":   dropped,
		},
		"realtime": s.Hub.Stats(),
	})
}

// handleBreakerReset forces a breaker back to closed. Operator escape
// hatch for a dependency known to be healthy again.
func (s *Server) handleBreakerReset(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	s.Breakers.Reset(name)
	s.Logger.Info("circuit breaker reset via API", slog.String("breaker", name))
	writeJSON(w, http.StatusOK, map[string]any{"reset": name})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// sanitizeKey truncates long cache keys so headers stay bounded.
func sanitizeKey(key string) string {
	const max = 64
	if len(key) > max {
		return key[:max]
	}
	return key
}
