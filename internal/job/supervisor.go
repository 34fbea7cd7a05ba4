package job

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"opsbot/internal/observability"
	"opsbot/pkg/cloudevent"
)

// MetricsRecorder is an optional interface for recording job metrics.
type MetricsRecorder interface {
	RecordJobSubmitted(ctx context.Context)
	RecordJobCancelled(ctx context.Context)
	RecordJobReaped(ctx context.Context, outcome string, durationSeconds float64)
}

// Publisher receives job lifecycle events. Publish must not block.
type Publisher interface {
	Publish(ctx context.Context, event *cloudevent.CloudEvent)
}

// Config configures a Supervisor.
type Config struct {
	CompletionBuffer int             // completion channel capacity (default: 1024)
	Source           string          // CloudEvent source (default: "opsbot")
	Metrics          MetricsRecorder // optional
	Events           Publisher       // optional
}

// Supervisor spawns jobs and tracks them until their completion is reaped.
//
// Submit, Cancel, List, Reap and Shutdown must all be called from the same
// goroutine. Loop provides that goroutine for concurrent callers.
type Supervisor struct {
	registry *Registry
	next     ID
	done     chan ID

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics MetricsRecorder
	events  Publisher
	builder *EventBuilder
	logger  *slog.Logger
	now     func() time.Time
}

// NewSupervisor creates a Supervisor with an empty registry.
func NewSupervisor(cfg Config) *Supervisor {
	if cfg.CompletionBuffer <= 0 {
		cfg.CompletionBuffer = 1024
	}
	if cfg.Source == "" {
		cfg.Source = "opsbot"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		registry: NewRegistry(),
		next:     FirstID,
		done:     make(chan ID, cfg.CompletionBuffer),
		ctx:      ctx,
		cancel:   cancel,
		metrics:  cfg.Metrics,
		events:   cfg.Events,
		builder:  NewEventBuilder(cfg.Source),
		logger:   slog.With("component", "supervisor"),
		now:      time.Now,
	}
}

// Submit registers a job for text and starts work in its own goroutine.
// It returns the new id without waiting for work.
func (s *Supervisor) Submit(text string, work Work) ID {
	j := &job{id: s.next, text: text, submitted: s.now()}
	s.next++
	s.registry.add(j)

	ctx := observability.ContextAttrs(s.ctx, slog.String("jobId", j.id.String()))
	s.wg.Add(1)
	go s.run(ctx, j, work)

	if s.metrics != nil {
		s.metrics.RecordJobSubmitted(ctx)
	}
	s.publish(ctx, s.builder.BuildSubmitEvent(j.entry()))
	s.logger.Info("Job submitted", "jobId", j.id, "text", text)
	return j.id
}

// run executes work and always reports completion, including after a panic.
func (s *Supervisor) run(ctx context.Context, j *job, work Work) {
	defer s.wg.Done()
	defer func() { s.done <- j.id }()
	defer func() {
		if r := recover(); r != nil {
			j.panicked.Store(true)
			s.logger.ErrorContext(ctx, "Job panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	work(ctx, j)
}

// Cancel requests cancellation of id. It reports whether id is registered.
// The job stays registered until its completion is reaped.
func (s *Supervisor) Cancel(id ID) bool {
	j, ok := s.registry.get(id)
	if !ok {
		return false
	}
	if !j.cancelled.Swap(true) {
		if s.metrics != nil {
			s.metrics.RecordJobCancelled(s.ctx)
		}
		s.logger.Info("Job cancel requested", "jobId", id)
	}
	return true
}

// List returns a snapshot of the registry ordered by id.
func (s *Supervisor) List() []Entry {
	return s.registry.Snapshot()
}

// Active returns the number of registered jobs.
func (s *Supervisor) Active() int {
	return s.registry.Len()
}

// Reap removes every job whose completion is waiting on the channel.
// It never blocks and returns the number of jobs removed.
func (s *Supervisor) Reap() int {
	reaped := 0
	for {
		select {
		case id := <-s.done:
			if s.finish(id) {
				reaped++
			}
		default:
			return reaped
		}
	}
}

func (s *Supervisor) finish(id ID) bool {
	j, ok := s.registry.remove(id)
	if !ok {
		s.logger.Warn("Completion for unknown job", "jobId", id)
		return false
	}

	outcome := j.outcome()
	elapsed := s.now().Sub(j.submitted)
	if s.metrics != nil {
		s.metrics.RecordJobReaped(s.ctx, outcome, elapsed.Seconds())
	}
	s.publish(s.ctx, s.builder.BuildDoneEvent(j.entry(), outcome, elapsed))
	s.logger.Info("Job reaped", "jobId", id, "outcome", outcome, "duration", elapsed)
	return true
}

// Shutdown cancels every registered job and reaps them as they exit.
// It returns ctx.Err() if jobs are still registered when ctx ends.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	pending := s.registry.Len()
	s.logger.Info("Supervisor shutting down", "active", pending)

	for _, j := range s.registry.jobs {
		j.cancelled.Store(true)
	}
	s.cancel()

	for s.registry.Len() > 0 {
		select {
		case id := <-s.done:
			s.finish(id)
		case <-ctx.Done():
			s.logger.Warn("Supervisor shutdown timed out", "remaining", s.registry.Len())
			return ctx.Err()
		}
	}

	s.wg.Wait()
	s.logger.Info("Supervisor shutdown complete", "cancelled", pending)
	return nil
}

func (s *Supervisor) publish(ctx context.Context, event *cloudevent.CloudEvent) {
	if s.events != nil {
		s.events.Publish(ctx, event)
	}
}
