// Package job runs chat commands as cancellable background jobs.
//
// A Supervisor owns the registry of running jobs and is driven by a single
// goroutine (see Loop). Jobs share exactly two things with it: a cancel
// flag the supervisor sets and the job polls, and a completion channel the
// job writes its id to exactly once when it exits.
package job

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"
)

// FirstID is the id given to the first job of a process.
const FirstID ID = 1000

// ID identifies a job for the lifetime of the process. Ids are never reused.
type ID uint64

func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseID parses the decimal form typed by users ("cancel 1001").
func ParseID(s string) (ID, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return ID(n), nil
}

// Handle is the job's read-only view of its own control state.
type Handle interface {
	ID() ID
	// Cancelled reports whether cancellation was requested. Once true it
	// stays true.
	Cancelled() bool
}

// Work is the body of a job. It must return promptly once h.Cancelled
// reports true or ctx is done.
type Work func(ctx context.Context, h Handle)

// Entry describes a registered job.
type Entry struct {
	ID         ID        `json:"id"`
	Text       string    `json:"text"`
	Submitted  time.Time `json:"submittedAt"`
	Cancelling bool      `json:"cancelling"`
}

// Outcome labels used when a job leaves the registry.
const (
	OutcomeFinished  = "finished"
	OutcomeCancelled = "cancelled"
	OutcomePanicked  = "panicked"
)

type job struct {
	id        ID
	text      string
	submitted time.Time
	cancelled atomic.Bool
	panicked  atomic.Bool
}

func (j *job) ID() ID { return j.id }

func (j *job) Cancelled() bool { return j.cancelled.Load() }

func (j *job) entry() Entry {
	return Entry{
		ID:         j.id,
		Text:       j.text,
		Submitted:  j.submitted,
		Cancelling: j.cancelled.Load(),
	}
}

func (j *job) outcome() string {
	switch {
	case j.panicked.Load():
		return OutcomePanicked
	case j.cancelled.Load():
		return OutcomeCancelled
	default:
		return OutcomeFinished
	}
}
