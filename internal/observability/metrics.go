package observability

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics implements every recorder interface the bot's packages declare.
type Metrics struct {
	httpDuration metric.Float64Histogram
	httpRequests metric.Int64Counter
	httpErrors   metric.Int64Counter

	commands         metric.Int64Counter
	commandsRejected metric.Int64Counter
	machineCalls     metric.Int64Counter

	jobDuration   metric.Float64Histogram
	jobsSubmitted metric.Int64Counter
	jobsReaped    metric.Int64Counter
	jobsCancelled metric.Int64Counter
	jobsActive    metric.Int64UpDownCounter
	polls         metric.Int64Counter

	deliveryDuration metric.Float64Histogram
	delivered        metric.Int64Counter
	deliveryFailed   metric.Int64Counter
	dropped          metric.Int64Counter
	requeued         metric.Int64Counter
	queueSize        metric.Int64Gauge
}

// instruments creates instruments on one meter and keeps the errors.
type instruments struct {
	meter metric.Meter
	errs  []error
}

func (in *instruments) counter(name, desc string) metric.Int64Counter {
	c, err := in.meter.Int64Counter(name, metric.WithDescription(desc))
	in.errs = append(in.errs, err)
	return c
}

func (in *instruments) seconds(name, desc string, buckets ...float64) metric.Float64Histogram {
	h, err := in.meter.Float64Histogram(name,
		metric.WithDescription(desc),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(buckets...),
	)
	in.errs = append(in.errs, err)
	return h
}

// NewMetrics creates the bot's instruments and returns them together with
// the handler serving them in Prometheus format. Go runtime and process
// collectors are served alongside.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, nil, err
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	in := &instruments{meter: provider.Meter("opsbot")}
	m := &Metrics{
		httpDuration: in.seconds("http_request_duration_seconds", "HTTP request latency",
			0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
		httpRequests: in.counter("http_requests_total", "HTTP requests served"),
		httpErrors:   in.counter("http_errors_total", "HTTP responses with a 4xx or 5xx status"),

		commands:         in.counter("commands_total", "Chat commands accepted, by command"),
		commandsRejected: in.counter("commands_rejected_total", "Chat messages that failed to parse"),
		machineCalls:     in.counter("machine_calls_total", "Machine backend calls, by outcome"),

		jobDuration: in.seconds("job_duration_seconds", "Job run time",
			1, 5, 10, 30, 60, 120, 300, 600, 900, 1800, 3600),
		jobsSubmitted: in.counter("jobs_submitted_total", "Jobs submitted"),
		jobsReaped:    in.counter("jobs_completed_total", "Jobs reaped, by outcome"),
		jobsCancelled: in.counter("jobs_cancel_requests_total", "Cancel requests that matched a registered job"),
		polls:         in.counter("polls_total", "Status queries issued by polling loops"),

		deliveryDuration: in.seconds("dispatcher_duration_seconds", "Notification delivery latency",
			0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
		delivered:      in.counter("dispatcher_delivered_total", "Notifications delivered"),
		deliveryFailed: in.counter("dispatcher_failed_total", "Notifications that failed after retries"),
		dropped:        in.counter("dispatcher_dropped_total", "Notifications dropped"),
		requeued:       in.counter("dispatcher_requeued_total", "Notifications parked behind an open circuit"),
	}

	m.jobsActive, err = in.meter.Int64UpDownCounter("jobs_active", metric.WithDescription("Registered jobs"))
	in.errs = append(in.errs, err)
	m.queueSize, err = in.meter.Int64Gauge("dispatcher_queue_size", metric.WithDescription("Notifications waiting in the dispatcher queue"))
	in.errs = append(in.errs, err)

	if err := errors.Join(in.errs...); err != nil {
		return nil, nil, err
	}
	return m, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}

// RecordHTTPRequest records one served request. Job ids in the path are
// collapsed to keep cardinality bounded.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	attrs := metric.WithAttributes(methodAttr(method), pathAttr(path), statusAttr(statusCode))
	m.httpDuration.Record(ctx, durationSeconds, attrs)
	m.httpRequests.Add(ctx, 1, attrs)
	if statusCode >= 400 {
		m.httpErrors.Add(ctx, 1, attrs)
	}
}

func (m *Metrics) RecordCommand(ctx context.Context, command string) {
	m.commands.Add(ctx, 1, WithCommand(command))
}

func (m *Metrics) RecordCommandRejected(ctx context.Context) {
	m.commandsRejected.Add(ctx, 1)
}

// RecordMachineCall counts a backend call as ok or error.
func (m *Metrics) RecordMachineCall(ctx context.Context, backend, op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.machineCalls.Add(ctx, 1, metric.WithAttributes(backendAttr(backend), commandAttr(op), outcomeAttr(outcome)))
}

func (m *Metrics) RecordJobSubmitted(ctx context.Context) {
	m.jobsSubmitted.Add(ctx, 1)
	m.jobsActive.Add(ctx, 1)
}

func (m *Metrics) RecordJobCancelled(ctx context.Context) {
	m.jobsCancelled.Add(ctx, 1)
}

// RecordJobReaped records a job leaving the registry.
func (m *Metrics) RecordJobReaped(ctx context.Context, outcome string, durationSeconds float64) {
	attrs := WithOutcome(outcome)
	m.jobDuration.Record(ctx, durationSeconds, attrs)
	m.jobsReaped.Add(ctx, 1, attrs)
	m.jobsActive.Add(ctx, -1)
}

func (m *Metrics) RecordPoll(ctx context.Context) {
	m.polls.Add(ctx, 1)
}

func (m *Metrics) RecordDispatcherDelivered(ctx context.Context, durationSeconds float64) {
	m.delivered.Add(ctx, 1)
	m.deliveryDuration.Record(ctx, durationSeconds)
}

func (m *Metrics) RecordDispatcherFailed(ctx context.Context) {
	m.deliveryFailed.Add(ctx, 1)
}

func (m *Metrics) RecordDispatcherDropped(ctx context.Context) {
	m.dropped.Add(ctx, 1)
}

func (m *Metrics) RecordDispatcherRequeued(ctx context.Context) {
	m.requeued.Add(ctx, 1)
}

func (m *Metrics) RecordDispatcherQueueSize(ctx context.Context, size int64) {
	m.queueSize.Record(ctx, size)
}
