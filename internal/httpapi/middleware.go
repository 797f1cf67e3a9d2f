package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/waylink/platform-core/internal/auth"
	"github.com/waylink/platform-core/internal/domain"
	"github.com/waylink/platform-core/internal/observability"
	"github.com/waylink/platform-core/internal/ratelimit"
	"github.com/waylink/platform-core/internal/realip"
)

type ctxKey int

const identityKey ctxKey = iota

// IdentityFrom extracts the authenticated caller, if any.
func IdentityFrom(ctx context.Context) (*auth.Identity, bool) {
	id, ok := ctx.Value(identityKey).(*auth.Identity)
	return id, ok
}

// Authenticate verifies the bearer token and stashes the identity in the
// request context. Missing or bad credentials end the request here.
func Authenticate(verifier auth.Verifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token := strings.TrimPrefix(header, "Bearer ")
			if token == "" || token == header {
				writeError(w, domain.NewAuthRejectedError("missing bearer token"))
				return
			}

			identity, err := verifier.Verify(token)
			if err != nil {
				logger.Debug("token rejected",
					slog.String("path", r.URL.Path), slog.String("error", err.Error()))
				writeError(w, domain.NewAuthRejectedError("invalid token"))
				return
			}

			ctx := context.WithValue(r.Context(), identityKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RateLimit applies the per-plan sliding window. Every response carries the
// X-RateLimit headers; rejections add Retry-After.
func RateLimit(limiter *ratelimit.Limiter, metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, plan := limitKey(r)
			d := limiter.Check(key, plan)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

			if !d.Allowed {
				if metrics != nil {
					metrics.RecordRateLimited(string(d.Code))
				}
				writeError(w, d.Err())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// limitKey buckets authenticated callers by user and anonymous ones by
// peer address, so shared NATs cannot starve signed-in users.
func limitKey(r *http.Request) (string, domain.PlanID) {
	if id, ok := IdentityFrom(r.Context()); ok {
		return "user:" + id.UserID, id.Plan
	}
	return "ip:" + realip.FromRequest(r), domain.PlanFree
}

// Instrument records request count and latency per chi route pattern.
func Instrument(metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = "unmatched"
			}
			metrics.RecordRequest(r.Method, route, strconv.Itoa(ww.Status()), time.Since(start).Seconds())
		})
	}
}
