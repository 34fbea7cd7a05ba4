package job

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrStopped is returned for requests made after the loop has exited.
var ErrStopped = errors.New("job loop stopped")

// Loop is the single goroutine that owns a Supervisor. Other goroutines
// reach the supervisor only through the request methods on Loop.
type Loop struct {
	sup             *Supervisor
	requests        chan func(*Supervisor)
	stopped         chan struct{}
	reapInterval    time.Duration
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

// LoopConfig configures a Loop.
type LoopConfig struct {
	ReapInterval    time.Duration // reap without inbound requests (default: 5s)
	ShutdownTimeout time.Duration // wait for cancelled jobs on exit (default: 15s)
}

// NewLoop creates a loop around sup. Call Run to start it.
func NewLoop(sup *Supervisor, cfg LoopConfig) *Loop {
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = 5 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
	return &Loop{
		sup:             sup,
		requests:        make(chan func(*Supervisor)),
		stopped:         make(chan struct{}),
		reapInterval:    cfg.ReapInterval,
		shutdownTimeout: cfg.ShutdownTimeout,
		logger:          slog.With("component", "loop"),
	}
}

// Run serves requests until ctx is cancelled, then shuts the supervisor
// down. The registry is reaped before and after every request and on
// each reap tick.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.stopped)

	ticker := time.NewTicker(l.reapInterval)
	defer ticker.Stop()

	l.logger.Info("Job loop started", "reapInterval", l.reapInterval)
	for {
		select {
		case req := <-l.requests:
			l.sup.Reap()
			req(l.sup)
			l.sup.Reap()
		case <-ticker.C:
			if n := l.sup.Reap(); n > 0 {
				l.logger.Debug("Reaped jobs", "count", n, "active", l.sup.Active())
			}
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), l.shutdownTimeout)
			defer cancel()
			return l.sup.Shutdown(shutdownCtx)
		}
	}
}

// Submit starts work as a new job and returns its id.
func (l *Loop) Submit(ctx context.Context, text string, work Work) (ID, error) {
	var id ID
	err := l.call(ctx, func(s *Supervisor) {
		id = s.Submit(text, work)
	})
	return id, err
}

// Cancel requests cancellation of id and reports whether it was found.
func (l *Loop) Cancel(ctx context.Context, id ID) (bool, error) {
	var found bool
	err := l.call(ctx, func(s *Supervisor) {
		found = s.Cancel(id)
	})
	return found, err
}

// List returns the active jobs.
func (l *Loop) List(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	err := l.call(ctx, func(s *Supervisor) {
		entries = s.List()
	})
	return entries, err
}

// call runs fn on the loop goroutine and waits for it to finish.
func (l *Loop) call(ctx context.Context, fn func(*Supervisor)) error {
	done := make(chan struct{})
	req := func(s *Supervisor) {
		defer close(done)
		fn(s)
	}

	select {
	case l.requests <- req:
	case <-l.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
