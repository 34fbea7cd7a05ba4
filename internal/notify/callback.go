package notify

import (
	"context"
	"errors"
	"log/slog"

	"opsbot/internal/dispatcher"
	"opsbot/internal/job"
	"opsbot/pkg/cloudevent"
)

// CallbackConfig configures a CallbackSink.
type CallbackConfig struct {
	URL        string   // endpoint receiving CloudEvents
	SigningKey string   // HMAC key, empty = unsigned
	Source     string   // CloudEvent source (default: "opsbot")
	MaxSize    int      // message size cap (default: DefaultMaxSize)
	Events     []string // lifecycle event types to forward, empty = all
}

// CallbackSink posts messages as CloudEvents through a Dispatcher. It also
// forwards job lifecycle events, so it can serve as the supervisor's
// publisher.
type CallbackSink struct {
	dispatcher dispatcher.Dispatcher
	builder    *job.EventBuilder
	cfg        CallbackConfig
	logger     *slog.Logger
}

// NewCallbackSink creates a CallbackSink delivering through d.
func NewCallbackSink(d dispatcher.Dispatcher, cfg CallbackConfig) *CallbackSink {
	if cfg.Source == "" {
		cfg.Source = "opsbot"
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	return &CallbackSink{
		dispatcher: d,
		builder:    job.NewEventBuilder(cfg.Source),
		cfg:        cfg,
		logger:     slog.With("component", "notify"),
	}
}

// Send queues m as a job.message event. Messages are never filtered.
func (s *CallbackSink) Send(ctx context.Context, m Message) {
	s.dispatch(ctx, s.builder.BuildMessageEvent(m.JobID, m.Channel, Format(m, s.cfg.MaxSize)))
}

// Publish queues a lifecycle event if its type passes the filter.
func (s *CallbackSink) Publish(ctx context.Context, event *cloudevent.CloudEvent) {
	if !job.FilteredEvents(event.Type, s.cfg.Events) {
		return
	}
	s.dispatch(ctx, event)
}

func (s *CallbackSink) dispatch(ctx context.Context, event *cloudevent.CloudEvent) {
	err := s.dispatcher.Dispatch(&dispatcher.Event{
		Payload:     event,
		Destination: s.cfg.URL,
		SigningKey:  s.cfg.SigningKey,
	})
	switch {
	case err == nil:
	case errors.Is(err, dispatcher.ErrClosed):
		s.logger.DebugContext(ctx, "Notification discarded after shutdown", "type", event.Type, "subject", event.Subject)
	default:
		s.logger.WarnContext(ctx, "Failed to queue notification", "type", event.Type, "subject", event.Subject, "error", err)
	}
}

var (
	_ Sink          = (*CallbackSink)(nil)
	_ job.Publisher = (*CallbackSink)(nil)
)
