package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/waylink/platform-core/internal/auth"
	"github.com/waylink/platform-core/internal/cache"
	"github.com/waylink/platform-core/internal/circuitbreaker"
	"github.com/waylink/platform-core/internal/config"
	"github.com/waylink/platform-core/internal/domain"
	"github.com/waylink/platform-core/internal/httpapi"
	"github.com/waylink/platform-core/internal/observability"
	"github.com/waylink/platform-core/internal/queue"
	"github.com/waylink/platform-core/internal/ratelimit"
	"github.com/waylink/platform-core/internal/realtime"
	"github.com/waylink/platform-core/internal/store"
	"github.com/waylink/platform-core/internal/sweeper"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs := observability.New(ctx, observability.Config{
		ServiceName:     cfg.OTEL.ServiceName,
		ServiceVersion:  "1.0.0",
		Environment:     envName(),
		TracingEnabled:  cfg.OTEL.Enabled,
		TracingEndpoint: cfg.OTEL.Endpoint,
	}, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := obs.Shutdown(shutdownCtx); err != nil {
			logger.Warn("observability shutdown", slog.String("error", err.Error()))
		}
	}()

	// Plan lookups come from a static table until the billing service is
	// wired in. Unknown users resolve to the free tier.
	plans := domain.StaticPlanResolver{}

	tieredCache := cache.New(cache.Config{
		L1Size:     cfg.Cache.L1Size,
		DefaultTTL: cfg.Cache.DefaultTTL,
		Plans:      plans,
		Logger:     logger,
	})

	breakers := circuitbreaker.NewRegistry(circuitbreaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		ResetTimeout:     cfg.Breaker.ResetTimeout,
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			obs.Metrics.SetCircuitBreakerState(name, to)
			logger.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})

	limiter := ratelimit.New(ratelimit.Config{Logger: logger})

	verifier := auth.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)

	hub := realtime.NewHub(realtime.Config{
		OfflineQueueLimit: cfg.Realtime.OfflineQueueLimit,
		OfflineMessageTTL: cfg.Realtime.OfflineMessageTTL,
		ConnectRatePerMin: cfg.Realtime.ConnectRatePerMin,
		ConnectBurst:      cfg.Realtime.ConnectBurst,
		SendBuffer:        cfg.Realtime.SendBufferMessages,
		WriteTimeout:      cfg.Realtime.WriteTimeout,
		PingInterval:      cfg.Realtime.PingInterval,
		MaxMessageBytes:   cfg.Realtime.MaxMessageBytes,
		Verifier:          verifier,
		Logger:            logger,
	})

	locations := store.NewMemory()

	executor := &queue.Executor{
		Store:    guardedStore{store: locations, breakers: breakers},
		Notifier: hub,
		Rollups:  locations,
		Logger:   logger,
		Tracer:   obs.Tracer(),
	}
	queues := queue.NewManager(queue.Config{
		MaxConcurrency: cfg.Queue.MaxConcurrency,
		MaxAttempts:    cfg.Queue.MaxAttempts,
		RetryBaseDelay: cfg.Queue.RetryBaseDelay,
		Logger:         logger,
		OnCompleted:    func(string) { obs.Metrics.JobsCompletedTotal.Inc() },
		OnRetry:        func(string) { obs.Metrics.JobRetriesTotal.Inc() },
		OnDropped:      func(string) { obs.Metrics.JobsDroppedTotal.Inc() },
	}, executor.Execute)
	defer queues.Close()

	obs.Metrics.WatchCache(tieredCache.Stats)
	obs.Metrics.WatchHub(hub.Stats)
	obs.Metrics.WatchQueues(func() int {
		pending := 0
		for _, st := range queues.AllStats() {
			pending += st.Pending
		}
		return pending
	})

	sweeps := sweeper.NewGroup(logger,
		sweeper.Task{
			Name:     "cache-expiry",
			Interval: cfg.Cache.SweepInterval,
			Run:      func(context.Context) int { return tieredCache.Sweep() },
		},
		sweeper.Task{
			Name:     "ratelimit-gc",
			Interval: cfg.RateLimit.SweepInterval,
			Run:      func(context.Context) int { return limiter.Sweep() },
		},
		sweeper.Task{
			Name:     "offline-queue-gc",
			Interval: cfg.Realtime.OfflineSweep,
			Run:      func(context.Context) int { return hub.SweepOffline() },
		},
	)
	sweeps.Start()
	defer sweeps.Stop()

	api := &httpapi.Server{
		Cache:    tieredCache,
		Breakers: breakers,
		Limiter:  limiter,
		Queues:   queues,
		Hub:      hub,
		Store:    locations,
		Logger:   logger,
	}
	router := httpapi.NewRouter(api, httpapi.RouterConfig{
		Verifier:       verifier,
		Metrics:        obs.Metrics,
		MetricsEnabled: cfg.Metrics.Enabled,
		MetricsPath:    cfg.Metrics.Path,
		RequestTimeout: 30 * time.Second,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // websocket responses outlive any fixed deadline
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// guardedStore routes queue writes through the store's circuit breaker so
// a failing store trips the same breaker the read path uses.
type guardedStore struct {
	store    *store.Memory
	breakers *circuitbreaker.Registry
}

func (g guardedStore) WriteLocations(ctx context.Context, userID string, fixes []queue.LocationFix) error {
	return g.breakers.Get("location-store").Execute(ctx, func(ctx context.Context) error {
		return g.store.WriteLocations(ctx, userID, fixes)
	}, nil)
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func envName() string {
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		return v
	}
	return "development"
}
