package queue

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// StoreWriter persists location batches. The implementation is expected to
// be wrapped by a circuit breaker.
type StoreWriter interface {
	WriteLocations(ctx context.Context, userID string, fixes []LocationFix) error
}

// Notifier pushes an event toward a user; the realtime hub satisfies this.
type Notifier interface {
	SendToUser(userID, event string, data any) bool
}

// Rollup aggregates analytics for a day.
type Rollup interface {
	RollupDay(ctx context.Context, day string) error
}

// Executor dispatches jobs to their kind-specific handler.
type Executor struct {
	Store    StoreWriter
	Notifier Notifier
	Rollups  Rollup
	Logger   *slog.Logger
	Tracer   trace.Tracer
}

// Execute runs one job payload. Unknown or unwired kinds fail the job.
func (e *Executor) Execute(ctx context.Context, p Payload) error {
	tracer := e.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	ctx, span := tracer.Start(ctx, "queue.job",
		trace.WithAttributes(attribute.String("job.kind", p.Kind())))
	defer span.End()

	switch p := p.(type) {
	case LocationBatch:
		if e.Store == nil {
			return fmt.Errorf("no store writer wired for %s", p.Kind())
		}
		return e.Store.WriteLocations(ctx, p.UserID, p.Fixes)
	case NotifyUser:
		if e.Notifier == nil {
			return fmt.Errorf("no notifier wired for %s", p.Kind())
		}
		e.Notifier.SendToUser(p.UserID, p.Event, p.Data)
		return nil
	case AnalyticsRollup:
		if e.Rollups == nil {
			return fmt.Errorf("no rollup handler wired for %s", p.Kind())
		}
		return e.Rollups.RollupDay(ctx, p.Day)
	case Func:
		return p.Run(ctx)
	default:
		return fmt.Errorf("unknown job kind %q", p.Kind())
	}
}
