// Package console routes inbound chat messages.
//
// A message is either a job control request (cancel, list) handled on the
// supervisor loop, a command answered straight away, or a command started
// as a job. Job progress is reported through the bot's notify.Sink; the
// Router only returns the first reply.
package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"opsbot/internal/command"
	"opsbot/internal/job"
	"opsbot/internal/observability"
)

var (
	cancelPattern = regexp.MustCompile(`(cancel|stop) (\d+)`)
	listPattern   = regexp.MustCompile(`\blist\b`)
	spacePattern  = regexp.MustCompile(`\s\s+`)
)

// Jobs is the supervisor as seen by the router. *job.Loop implements it.
type Jobs interface {
	Submit(ctx context.Context, text string, work job.Work) (job.ID, error)
	Cancel(ctx context.Context, id job.ID) (bool, error)
	List(ctx context.Context) ([]job.Entry, error)
}

// MetricsRecorder is an optional interface for recording routed commands.
type MetricsRecorder interface {
	RecordCommand(ctx context.Context, command string)
	RecordCommandRejected(ctx context.Context)
}

// Message is an inbound chat message.
type Message struct {
	Channel string `json:"channel"`
	Text    string `json:"text"`
}

// Reply is the router's answer to a message. JobID is set when a job was
// started. Ignored messages carry no text.
type Reply struct {
	Text    string `json:"reply,omitempty"`
	JobID   job.ID `json:"jobId,omitempty"`
	Ignored bool   `json:"ignored,omitempty"`
}

// Config configures a Router.
type Config struct {
	// Mention, when set, must prefix every message the bot acts on. It is
	// stripped before parsing.
	Mention string
}

// Router turns messages into replies and jobs.
type Router struct {
	mention string
	bot     *command.Bot
	jobs    Jobs
	metrics MetricsRecorder
	logger  *slog.Logger
}

// NewRouter creates a Router. metrics may be nil.
func NewRouter(cfg Config, bot *command.Bot, jobs Jobs, metrics MetricsRecorder) *Router {
	return &Router{
		mention: strings.TrimSpace(cfg.Mention),
		bot:     bot,
		jobs:    jobs,
		metrics: metrics,
		logger:  slog.With("component", "console"),
	}
}

// Clean replaces non-breaking spaces and collapses whitespace runs.
func Clean(text string) string {
	text = strings.ReplaceAll(text, "\u00a0", " ")
	return spacePattern.ReplaceAllString(text, " ")
}

// Handle routes one message. Errors are only returned when the job loop
// is unavailable; everything else is answered with a reply.
func (r *Router) Handle(ctx context.Context, m Message) (Reply, error) {
	text, ok := r.addressed(Clean(m.Text))
	if !ok {
		return Reply{Ignored: true}, nil
	}
	ctx = observability.ContextAttrs(ctx, slog.String("channel", m.Channel))

	if match := cancelPattern.FindStringSubmatch(text); match != nil {
		return r.cancel(ctx, match[2])
	}
	if listPattern.MatchString(text) {
		return r.list(ctx)
	}

	d, err := command.Parse(text)
	if err != nil {
		if r.metrics != nil {
			r.metrics.RecordCommandRejected(ctx)
		}
		r.logger.DebugContext(ctx, "Unparsed message", "text", text, "error", err)
		return Reply{Text: r.bot.Emoji()}, nil
	}
	if r.metrics != nil {
		r.metrics.RecordCommand(ctx, d.Command)
	}

	if reply, ok := r.bot.Immediate(ctx, d); ok {
		return Reply{Text: reply}, nil
	}

	channel := m.Channel
	id, err := r.jobs.Submit(ctx, text, func(ctx context.Context, h job.Handle) {
		r.bot.Execute(ctx, h, channel, d)
	})
	if err != nil {
		return Reply{}, fmt.Errorf("submit job: %w", err)
	}
	return Reply{Text: fmt.Sprintf("Started job %s", id), JobID: id}, nil
}

// addressed strips the mention, reporting false when it is required and
// missing.
func (r *Router) addressed(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if r.mention == "" {
		return text, text != ""
	}
	rest, ok := strings.CutPrefix(text, r.mention)
	if !ok {
		return "", false
	}
	rest = strings.TrimPrefix(rest, ":")
	return strings.TrimSpace(rest), true
}

func (r *Router) cancel(ctx context.Context, raw string) (Reply, error) {
	id, err := job.ParseID(raw)
	if err != nil {
		return Reply{Text: fmt.Sprintf("No active job %s found", raw)}, nil
	}
	found, err := r.jobs.Cancel(ctx, id)
	if err != nil {
		return Reply{}, fmt.Errorf("cancel job %s: %w", id, err)
	}
	if !found {
		return Reply{Text: fmt.Sprintf("No active job %s found", id)}, nil
	}
	r.logger.InfoContext(ctx, "Cancel requested", "jobId", id)
	return Reply{Text: fmt.Sprintf("Canceling %s", id)}, nil
}

func (r *Router) list(ctx context.Context) (Reply, error) {
	entries, err := r.jobs.List(ctx)
	if err != nil {
		return Reply{}, fmt.Errorf("list jobs: %w", err)
	}
	return Reply{Text: FormatJobs(entries)}, nil
}

// FormatJobs renders the active job list, one "id: text" line per job.
func FormatJobs(entries []job.Entry) string {
	if len(entries) == 0 {
		return "No active jobs"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Active jobs (%d):", len(entries))
	for _, e := range entries {
		fmt.Fprintf(&b, "\n%s: %s", e.ID, e.Text)
		if e.Cancelling {
			b.WriteString(" (cancelling)")
		}
	}
	return b.String()
}

// IsUnavailable reports whether err means the job loop has stopped.
func IsUnavailable(err error) bool {
	return errors.Is(err, job.ErrStopped)
}
