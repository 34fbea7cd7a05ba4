package dispatcher

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"opsbot/pkg/backoff"
	"opsbot/pkg/circuitbreaker"
	"opsbot/pkg/cloudevent"
)

// MetricsRecorder is an optional interface for recording dispatcher metrics.
type MetricsRecorder interface {
	RecordDispatcherDelivered(ctx context.Context, durationSeconds float64)
	RecordDispatcherFailed(ctx context.Context)
	RecordDispatcherDropped(ctx context.Context)
	RecordDispatcherRequeued(ctx context.Context)
	RecordDispatcherQueueSize(ctx context.Context, size int64)
}

// MemoryDispatcher delivers events from a bounded in-memory queue with a
// fixed pool of workers. Events whose destination host has an open circuit
// are parked for one breaker cooldown and then queued again.
type MemoryDispatcher struct {
	cfg      MemoryConfig
	queue    chan *Event
	sender   *cloudevent.Sender
	breakers *circuitbreaker.Registry
	metrics  MetricsRecorder
	logger   *slog.Logger
	counts   counters

	parkMu sync.Mutex
	parked map[*Event]*time.Timer

	wg       sync.WaitGroup
	closed   atomic.Bool
	shutdown chan struct{}
}

type counters struct {
	queued, delivered, failed, dropped, requeued, retries atomic.Int64
}

// NewMemory creates a dispatcher and starts its workers.
func NewMemory(cfg MemoryConfig, metrics MetricsRecorder) *MemoryDispatcher {
	cfg = cfg.withDefaults()
	d := &MemoryDispatcher{
		cfg:    cfg,
		queue:  make(chan *Event, cfg.BufferSize),
		sender: cloudevent.NewSender(cfg.HTTPTimeout),
		breakers: circuitbreaker.NewRegistry(circuitbreaker.Config{
			Threshold: cfg.BreakerThreshold,
			Cooldown:  cfg.BreakerCooldown,
		}),
		metrics:  metrics,
		logger:   slog.With("component", "dispatcher"),
		parked:   map[*Event]*time.Timer{},
		shutdown: make(chan struct{}),
	}

	d.wg.Add(cfg.Workers)
	for range cfg.Workers {
		go d.work()
	}
	d.logger.Info("Dispatcher started", "workers", cfg.Workers, "buffer", cfg.BufferSize)
	return d
}

// Dispatch queues event without blocking.
func (d *MemoryDispatcher) Dispatch(event *Event) error {
	if d.closed.Load() {
		return ErrClosed
	}
	if !d.enqueue(event) {
		d.drop(event, "Event dropped, buffer full")
		return ErrBufferFull
	}
	d.counts.queued.Add(1)
	return nil
}

func (d *MemoryDispatcher) enqueue(event *Event) bool {
	select {
	case d.queue <- event:
		d.observeQueue()
		return true
	default:
		return false
	}
}

func (d *MemoryDispatcher) observeQueue() {
	if d.metrics != nil {
		d.metrics.RecordDispatcherQueueSize(context.Background(), int64(len(d.queue)))
	}
}

// Stats returns current dispatcher statistics.
func (d *MemoryDispatcher) Stats() Stats {
	b := d.breakers.Stats()
	return Stats{
		QueueDepth:    len(d.queue),
		Queued:        d.counts.queued.Load(),
		Delivered:     d.counts.delivered.Load(),
		Failed:        d.counts.failed.Load(),
		Dropped:       d.counts.dropped.Load(),
		Requeued:      d.counts.requeued.Load(),
		RetriesTotal:  d.counts.retries.Load(),
		BreakersTotal: b.Total,
		BreakersOpen:  b.Open,
	}
}

// Close stops accepting events, drops parked ones and waits for the workers
// to drain the queue or for ctx to end.
func (d *MemoryDispatcher) Close(ctx context.Context) error {
	if d.closed.Swap(true) {
		return nil
	}
	d.logger.Info("Dispatcher shutting down", "queued", len(d.queue), "open_hosts", d.breakers.OpenKeys())

	d.parkMu.Lock()
	for event, timer := range d.parked {
		timer.Stop()
		d.drop(event, "Event dropped at shutdown, circuit open")
	}
	clear(d.parked)
	d.parkMu.Unlock()
	close(d.shutdown)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("Dispatcher stopped",
			"delivered", d.counts.delivered.Load(),
			"failed", d.counts.failed.Load(),
			"dropped", d.counts.dropped.Load(),
		)
		return nil
	case <-ctx.Done():
		d.logger.Warn("Dispatcher shutdown timed out", "remaining", len(d.queue))
		return ctx.Err()
	}
}

// work delivers queued events until shutdown, then empties the queue.
func (d *MemoryDispatcher) work() {
	defer d.wg.Done()
	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		case <-d.shutdown:
			for {
				select {
				case event := <-d.queue:
					d.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (d *MemoryDispatcher) deliver(event *Event) {
	d.observeQueue()
	host := extractHost(event.Destination)
	breaker := d.breakers.Get(host)
	if !breaker.Allow() {
		d.park(event)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.deliveryBudget())
	defer cancel()

	start := time.Now()
	err := d.send(ctx, event)
	if err != nil {
		breaker.RecordFailure()
		d.counts.failed.Add(1)
		if d.metrics != nil {
			d.metrics.RecordDispatcherFailed(ctx)
		}
		d.logger.Warn("Delivery failed", append(eventAttrs(event), "error", err)...)
		return
	}

	breaker.RecordSuccess()
	d.counts.delivered.Add(1)
	if d.metrics != nil {
		d.metrics.RecordDispatcherDelivered(ctx, time.Since(start).Seconds())
	}
}

func (d *MemoryDispatcher) send(ctx context.Context, event *Event) error {
	policy := backoff.Policy{
		Config: backoff.Config{
			Initial: d.cfg.InitialBackoff,
			Max:     d.cfg.MaxBackoff,
			Jitter:  0.2,
		},
		Attempts:  d.cfg.MaxRetries + 1,
		Permanent: cloudevent.IsClientError,
		OnRetry:   func(int, error) { d.counts.retries.Add(1) },
	}
	opts := cloudevent.SendOptions{SigningKey: event.SigningKey}
	return policy.Do(ctx, func(ctx context.Context) error {
		return d.sender.Send(ctx, event.Destination, event.Payload, opts)
	})
}

// park holds event for one breaker cooldown before queueing it again.
func (d *MemoryDispatcher) park(event *Event) {
	if event.Requeues >= d.cfg.MaxRequeues {
		d.drop(event, "Event dropped, max requeues reached")
		return
	}
	event.Requeues++
	d.counts.requeued.Add(1)
	if d.metrics != nil {
		d.metrics.RecordDispatcherRequeued(context.Background())
	}

	d.parkMu.Lock()
	defer d.parkMu.Unlock()
	if d.closed.Load() {
		d.drop(event, "Event dropped at shutdown, circuit open")
		return
	}
	d.parked[event] = time.AfterFunc(d.cfg.BreakerCooldown, func() { d.unpark(event) })
}

func (d *MemoryDispatcher) unpark(event *Event) {
	d.parkMu.Lock()
	defer d.parkMu.Unlock()
	if _, ok := d.parked[event]; !ok {
		return
	}
	delete(d.parked, event)
	attrs := eventAttrs(event)
	if !d.enqueue(event) {
		d.drop(event, "Event dropped on requeue, buffer full")
		return
	}
	d.logger.Debug("Event requeued", attrs...)
}

func (d *MemoryDispatcher) drop(event *Event, reason string) {
	d.counts.dropped.Add(1)
	if d.metrics != nil {
		d.metrics.RecordDispatcherDropped(context.Background())
	}
	d.logger.Warn(reason, eventAttrs(event)...)
}

// eventAttrs identifies an event in logs. The subject is the job id.
func eventAttrs(event *Event) []any {
	return []any{
		"destination", extractHost(event.Destination),
		"type", event.Payload.Type,
		"subject", event.Payload.Subject,
		"requeues", event.Requeues,
	}
}

// extractHost keys circuit breakers by destination host.
func extractHost(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		return u.Host
	}
	return rawURL
}

var _ Dispatcher = (*MemoryDispatcher)(nil)
