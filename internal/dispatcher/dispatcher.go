// Package dispatcher delivers notification events to webhooks in the
// background. Delivery is retried with backoff and guarded by one circuit
// breaker per destination host.
package dispatcher

import (
	"context"
	"errors"

	"opsbot/pkg/cloudevent"
)

var (
	// ErrBufferFull means the queue had no room and the event was dropped.
	ErrBufferFull = errors.New("dispatcher buffer full, event dropped")
	// ErrClosed is returned by Dispatch after Close.
	ErrClosed = errors.New("dispatcher is closed")
)

// Dispatcher queues events for asynchronous delivery.
type Dispatcher interface {
	// Dispatch never blocks. It fails with ErrBufferFull or ErrClosed.
	Dispatch(event *Event) error
	Stats() Stats
	// Close delivers what is still queued until ctx ends.
	Close(ctx context.Context) error
}

// Event is one webhook delivery.
type Event struct {
	Payload     *cloudevent.CloudEvent
	Destination string // webhook URL
	SigningKey  string // empty sends the event unsigned

	// Requeues counts how often the event waited out an open circuit.
	Requeues int
}

// Stats is a point-in-time view of the dispatcher.
type Stats struct {
	QueueDepth int
	Queued     int64
	Delivered  int64
	Failed     int64 // gave up after retries
	Dropped    int64 // buffer full, too many requeues or parked at shutdown
	Requeued   int64

	RetriesTotal  int64
	BreakersTotal int
	BreakersOpen  int
}
