// Package poll drives a status source until it has settled.
//
// A run counts consecutive settled readings and declares the source ready
// once the count reaches the threshold. Any busy reading resets the count,
// which filters out sources that briefly report settled between bursts of
// work. A failed query ends the run immediately.
package poll

import (
	"context"
	"fmt"
	"time"
)

// Defaults match an indexer that needs roughly a minute of quiet.
const (
	DefaultInterval  = 5 * time.Second
	DefaultThreshold = 13
)

// Phase is the busy/settled discriminant of a status reading.
type Phase int

const (
	// Unknown readings neither advance nor reset the settled count.
	Unknown Phase = iota
	Busy
	Settled
)

func (p Phase) String() string {
	switch p {
	case Busy:
		return "busy"
	case Settled:
		return "settled"
	default:
		return "unknown"
	}
}

// Status is one reading from a status source.
type Status struct {
	Phase   Phase
	Payload any
}

// Query reads the status source once.
type Query func(ctx context.Context) (Status, error)

// Kind is the terminal state of a run.
type Kind int

const (
	Done Kind = iota + 1
	Aborted
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case Done:
		return "done"
	case Aborted:
		return "aborted"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome reports how a run ended. Payload is the final settled reading
// for Done, Err the query failure for Aborted.
type Outcome struct {
	Kind    Kind
	Payload any
	Err     error
	Polls   int
}

// Recorder receives one call per query issued.
type Recorder interface {
	RecordPoll(ctx context.Context)
}

// Engine polls at a fixed interval until Threshold consecutive settled
// readings are observed.
type Engine struct {
	Interval  time.Duration
	Threshold int
	Metrics   Recorder // optional
}

// New returns an Engine. A negative interval or non-positive threshold
// falls back to the default.
func New(interval time.Duration, threshold int) *Engine {
	if interval < 0 {
		interval = DefaultInterval
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Engine{Interval: interval, Threshold: threshold}
}

// Run polls query until Done, Aborted or Cancelled. shouldStop is checked
// before every query and after every reading that keeps the run going.
// Cancelling ctx also ends the run as Cancelled, interrupting the sleep.
func (e *Engine) Run(ctx context.Context, query Query, shouldStop func() bool) Outcome {
	threshold := e.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	stopped := func() bool {
		return ctx.Err() != nil || (shouldStop != nil && shouldStop())
	}

	stable := 0
	polls := 0
	for {
		if stopped() {
			return Outcome{Kind: Cancelled, Polls: polls}
		}

		status, err := query(ctx)
		polls++
		if e.Metrics != nil {
			e.Metrics.RecordPoll(ctx)
		}
		if err != nil {
			return Outcome{Kind: Aborted, Err: err, Polls: polls}
		}

		switch status.Phase {
		case Busy:
			stable = 0
		case Settled:
			stable++
			if stable == threshold {
				return Outcome{Kind: Done, Payload: status.Payload, Polls: polls}
			}
		}

		if stopped() {
			return Outcome{Kind: Cancelled, Polls: polls}
		}

		if !sleep(ctx, e.Interval) {
			return Outcome{Kind: Cancelled, Polls: polls}
		}
	}
}

// sleep waits for d, returning false if ctx ends first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Sleep waits for d unless ctx ends or shouldStop reports true, checking
// shouldStop every tick. It returns false when interrupted. Multi-phase
// jobs use it for fixed delays between phases.
func Sleep(ctx context.Context, d, tick time.Duration, shouldStop func() bool) bool {
	if tick <= 0 {
		tick = time.Second
	}
	deadline := time.Now().Add(d)
	for {
		if ctx.Err() != nil || (shouldStop != nil && shouldStop()) {
			return false
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return true
		}
		if !sleep(ctx, min(tick, remaining)) {
			return false
		}
	}
}
