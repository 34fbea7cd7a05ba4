package machine

import (
	"context"
	"log/slog"
	"time"
)

// MetricsRecorder is an optional interface for recording backend calls.
type MetricsRecorder interface {
	RecordMachineCall(ctx context.Context, backend, op string, err error)
}

// Instrumented wraps a Provider, logging and counting every call.
type Instrumented struct {
	next    Provider
	backend string
	metrics MetricsRecorder
	logger  *slog.Logger
}

// NewInstrumented wraps p. metrics may be nil.
func NewInstrumented(p Provider, backend string, metrics MetricsRecorder) *Instrumented {
	return &Instrumented{
		next:    p,
		backend: backend,
		metrics: metrics,
		logger:  slog.With("component", "machine", "backend", backend),
	}
}

func (i *Instrumented) observe(ctx context.Context, op string, start time.Time, err error, args ...any) {
	if i.metrics != nil {
		i.metrics.RecordMachineCall(ctx, i.backend, op, err)
	}
	args = append(args, "op", op, "duration", time.Since(start))
	if err != nil {
		i.logger.WarnContext(ctx, "Machine call failed", append(args, "error", err)...)
		return
	}
	i.logger.DebugContext(ctx, "Machine call", args...)
}

func (i *Instrumented) Describe(ctx context.Context, filters []Filter) ([]Instance, error) {
	start := time.Now()
	instances, err := i.next.Describe(ctx, filters)
	i.observe(ctx, "describe", start, err, "filters", len(filters), "matched", len(instances))
	return instances, err
}

func (i *Instrumented) Start(ctx context.Context, ids []string) ([]StateChange, error) {
	start := time.Now()
	changes, err := i.next.Start(ctx, ids)
	i.observe(ctx, "start", start, err, "ids", ids)
	return changes, err
}

func (i *Instrumented) Stop(ctx context.Context, ids []string) ([]StateChange, error) {
	start := time.Now()
	changes, err := i.next.Stop(ctx, ids)
	i.observe(ctx, "stop", start, err, "ids", ids)
	return changes, err
}

func (i *Instrumented) Resize(ctx context.Context, id, size string) error {
	start := time.Now()
	err := i.next.Resize(ctx, id, size)
	i.observe(ctx, "resize", start, err, "id", id, "size", size)
	return err
}

func (i *Instrumented) Ready(ctx context.Context) error {
	return i.next.Ready(ctx)
}

func (i *Instrumented) Close() error {
	return i.next.Close()
}

var _ Provider = (*Instrumented)(nil)
