// Package command parses chat commands and carries them out.
//
// Help and status are answered straight away. Everything else runs as a
// job: the bot reports progress to the channel through a notify.Sink and
// checks the job's cancel flag between phases and on every poll.
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"opsbot/internal/apperrors"
	"opsbot/internal/indexer"
	"opsbot/internal/job"
	"opsbot/internal/machine"
	"opsbot/internal/notify"
	"opsbot/internal/poll"
	"opsbot/internal/reference"
)

// Emojis are the replies to text that does not parse.
var Emojis = []string{
	":hugging_face:",
	":lion_face:",
	":see_no_evil:",
	":duck:",
	":palm_tree:",
	":microscope:",
	":man-surfing:",
}

// Fixed replies.
const (
	BadInput      = "Bad input"
	BadResponse   = "Bad response, aborting"
	WaitingResize = "Waiting to resize"
	NoInstances   = "No instances found"
)

// sleepTick bounds how long a fixed delay goes without checking the
// cancel flag.
const sleepTick = time.Second

// Deps are the collaborators of a Bot.
type Deps struct {
	Status   indexer.Fetcher
	Machines machine.Provider
	Sink     notify.Sink
	Polls    poll.Recorder // optional
}

// Bot executes directives.
type Bot struct {
	cfg      Config
	status   indexer.Fetcher
	machines machine.Provider
	sink     notify.Sink
	engine   *poll.Engine
	logger   *slog.Logger
}

// New creates a Bot.
func New(cfg Config, deps Deps) *Bot {
	cfg = cfg.withDefaults()
	engine := poll.New(cfg.PollInterval, cfg.PollThreshold)
	engine.Metrics = deps.Polls
	return &Bot{
		cfg:      cfg,
		status:   deps.Status,
		machines: deps.Machines,
		sink:     deps.Sink,
		engine:   engine,
		logger:   slog.With("component", "bot"),
	}
}

// Emoji returns a random emoji reply.
func (b *Bot) Emoji() string {
	return Emojis[rand.IntN(len(Emojis))]
}

// Immediate answers help and status without a job. It reports false for
// directives that need a job.
func (b *Bot) Immediate(ctx context.Context, d Directive) (string, bool) {
	switch d.Command {
	case Help:
		return HelpText, true
	case Status:
		base, ok := reference.BaseURL(d.Target)
		if !ok {
			return BadInput, true
		}
		report, err := b.status.Fetch(ctx, base, indexer.Primary)
		if err != nil {
			b.logger.WarnContext(ctx, "Status check failed", "url", base, "error", err)
			return BadInput, true
		}
		return report.String(), true
	default:
		return "", false
	}
}

// run is the state of one executing directive.
type run struct {
	*Bot
	h       job.Handle
	channel string
	d       Directive
}

// Execute carries out d as job h, reporting to channel. It returns when
// the work is finished, has failed, or h is cancelled.
func (b *Bot) Execute(ctx context.Context, h job.Handle, channel string, d Directive) {
	r := &run{Bot: b, h: h, channel: channel, d: d}
	switch d.Command {
	case Monitor:
		r.monitor(ctx)
	case Vonitor:
		r.vonitor(ctx)
	case Konitor:
		r.konitor(ctx)
	case Kronitor:
		r.kronitor(ctx)
	case Info:
		r.info(ctx)
	case Start:
		r.start(ctx)
	case Stop:
		r.stop(ctx)
	case Resize:
		r.resize(ctx)
	case List:
		r.list(ctx)
	default:
		// Immediate commands submitted as jobs still get their reply.
		if reply, ok := b.Immediate(ctx, d); ok {
			r.say(ctx, reply)
			return
		}
		b.logger.ErrorContext(ctx, "Unknown command", "command", d.Command, "jobId", uint64(h.ID()))
		r.say(ctx, BadInput)
	}
}

func (r *run) say(ctx context.Context, text string) {
	r.sink.Send(ctx, notify.Message{Channel: r.channel, Text: text, JobID: r.h.ID()})
}

// stopped reports whether the job should unwind.
func (r *run) stopped(ctx context.Context) bool {
	if r.h.Cancelled() || ctx.Err() != nil {
		r.logger.InfoContext(ctx, "Cancelling", "jobId", uint64(r.h.ID()), "command", r.d.Command)
		return true
	}
	return false
}

func (r *run) baseURL(ctx context.Context) (string, bool) {
	base, ok := reference.BaseURL(r.d.Target)
	if !ok {
		r.say(ctx, BadInput)
	}
	return base, ok
}

// target resolves the url or id argument and the form shown to users.
func (r *run) target() (reference.Reference, string) {
	ref := reference.Resolve(r.d.Target)
	if base, ok := reference.BaseURL(r.d.Target); ok {
		return ref, base
	}
	return ref, ref.Value
}

// watch polls one indexer endpoint of base until it settles. It reports
// whether the indexer settled.
func (r *run) watch(ctx context.Context, base, endpoint, label string) bool {
	outcome := r.engine.Run(ctx, indexer.Query(r.status, base, endpoint), r.h.Cancelled)
	switch outcome.Kind {
	case poll.Done:
		r.say(ctx, fmt.Sprintf("DONE monitoring %s%s: %v", label, base, outcome.Payload))
		return true
	case poll.Aborted:
		r.logger.WarnContext(ctx, "Polling aborted", "url", base, "endpoint", endpoint, "polls", outcome.Polls, "error", outcome.Err)
		r.say(ctx, BadResponse)
		return false
	default:
		r.logger.InfoContext(ctx, "Cancelling", "jobId", uint64(r.h.ID()), "command", r.d.Command, "polls", outcome.Polls)
		return false
	}
}

func (r *run) pollIndexer(ctx context.Context, base string) bool {
	r.say(ctx, "START monitoring "+base)
	return r.watch(ctx, base, indexer.Primary, "")
}

func (r *run) pollVisIndexer(ctx context.Context, base string) bool {
	r.say(ctx, "START monitoring vis_indexer "+base)
	if !poll.Sleep(ctx, r.cfg.VisIndexDelay, sleepTick, r.h.Cancelled) {
		r.stopped(ctx)
		return false
	}
	return r.watch(ctx, base, indexer.Visual, "vis_indexer ")
}

func (r *run) monitor(ctx context.Context) {
	if base, ok := r.baseURL(ctx); ok {
		r.pollIndexer(ctx, base)
	}
}

func (r *run) vonitor(ctx context.Context) {
	if base, ok := r.baseURL(ctx); ok {
		r.pollVisIndexer(ctx, base)
	}
}

// settle runs both indexer watches and stops the machine, checking for
// cancellation between phases.
func (r *run) settle(ctx context.Context) bool {
	base, ok := r.baseURL(ctx)
	if !ok {
		return false
	}
	if !r.pollIndexer(ctx, base) || r.stopped(ctx) {
		return false
	}
	if !r.pollVisIndexer(ctx, base) || r.stopped(ctx) {
		return false
	}
	return r.stop(ctx)
}

func (r *run) konitor(ctx context.Context) {
	r.settle(ctx)
}

func (r *run) kronitor(ctx context.Context) {
	if !r.settle(ctx) || r.stopped(ctx) {
		return
	}
	r.say(ctx, WaitingResize)
	if !poll.Sleep(ctx, r.cfg.ResizeDelay, sleepTick, r.h.Cancelled) || r.stopped(ctx) {
		return
	}
	r.resize(ctx)
}

func (r *run) info(ctx context.Context) {
	ref, shown := r.target()
	instances, err := machine.Lookup(ctx, r.machines, ref)
	if err != nil || len(instances) == 0 {
		r.say(ctx, BadInput)
		return
	}
	r.say(ctx, "Getting instance info for "+shown)
	r.say(ctx, formatInstances(instances))
}

func (r *run) start(ctx context.Context) {
	ref, shown := r.target()
	changes, err := machine.Start(ctx, r.machines, ref)
	if err != nil {
		r.say(ctx, BadInput)
		return
	}
	r.say(ctx, "Starting instance "+shown)
	r.say(ctx, formatChanges(changes))
}

func (r *run) stop(ctx context.Context) bool {
	ref, shown := r.target()
	changes, err := machine.Stop(ctx, r.machines, ref)
	if err != nil {
		r.say(ctx, BadInput)
		return false
	}
	r.say(ctx, "Stopping instance "+shown)
	r.say(ctx, formatChanges(changes))
	return true
}

func (r *run) resize(ctx context.Context) {
	ref, shown := r.target()
	if ref.Kind == reference.None {
		r.say(ctx, BadInput)
		return
	}
	size := r.d.Size
	if size == "" {
		size = r.cfg.DefaultSize
	}

	err := machine.Resize(ctx, r.machines, ref, size)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		r.say(ctx, NoInstances)
		return
	case err != nil:
		r.say(ctx, err.Error())
		return
	}

	instances, err := machine.Lookup(ctx, r.machines, ref)
	if err != nil {
		r.logger.WarnContext(ctx, "Describe after resize failed", "target", shown, "error", err)
	}
	r.say(ctx, fmt.Sprintf("Resized instance %s to %s: %s", shown, size, formatInstances(instances)))
}

func (r *run) list(ctx context.Context) {
	instances, err := r.machines.Describe(ctx, machine.ParseFilters(r.d.Filters))
	if err != nil {
		r.say(ctx, BadInput)
		return
	}
	limit := min(r.d.LimitOr(r.cfg.ListLimit), len(instances))

	var b strings.Builder
	fmt.Fprintf(&b, "Showing %d out of %d:", limit, len(instances))
	for i, inst := range instances[:limit] {
		fmt.Fprintf(&b, "\n%d: %s", i, inst)
	}
	r.say(ctx, b.String())
}

func formatInstances(instances []machine.Instance) string {
	if len(instances) == 0 {
		return "[]"
	}
	lines := make([]string, len(instances))
	for i, inst := range instances {
		lines[i] = inst.String()
	}
	return strings.Join(lines, "\n")
}

func formatChanges(changes []machine.StateChange) string {
	lines := make([]string, len(changes))
	for i, c := range changes {
		lines[i] = c.String()
	}
	return strings.Join(lines, "\n")
}
