package dispatcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"opsbot/internal/testutil"
	"opsbot/pkg/cloudevent"
)

// fastConfig keeps retry and breaker delays short enough for tests.
func fastConfig() MemoryConfig {
	return MemoryConfig{
		BufferSize:      100,
		Workers:         1,
		HTTPTimeout:     5 * time.Second,
		InitialBackoff:  time.Millisecond,
		MaxBackoff:      5 * time.Millisecond,
		BreakerCooldown: 50 * time.Millisecond,
	}
}

func message(text string) *cloudevent.CloudEvent {
	return cloudevent.New("opsbot.job.message", "opsbot", "1000", map[string]any{
		"channel": "C123",
		"text":    text,
	})
}

func closeDispatcher(t *testing.T, d *MemoryDispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestMemoryDispatcher_Dispatch(t *testing.T) {
	var received atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := NewMemory(fastConfig(), nil)
	defer closeDispatcher(t, d)

	if err := d.Dispatch(&Event{Payload: message("Started job 1000"), Destination: server.URL}); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	testutil.MustWaitForCount(t, &received, 1, testutil.WithTimeout(5*time.Second))

	testutil.MustWaitFor(t, func() bool { return d.Stats().Delivered == 1 }, testutil.WithTimeout(5*time.Second))
}

func TestMemoryDispatcher_BufferFull(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := fastConfig()
	cfg.BufferSize = 2
	d := NewMemory(cfg, nil)

	var full int
	for range 5 {
		if errors.Is(d.Dispatch(&Event{Payload: message("x"), Destination: server.URL}), ErrBufferFull) {
			full++
		}
	}
	if full == 0 {
		t.Error("expected some events to be dropped")
	}
	if d.Stats().Dropped != int64(full) {
		t.Errorf("expected %d dropped, got %d", full, d.Stats().Dropped)
	}

	close(release)
	closeDispatcher(t, d)
}

func TestMemoryDispatcher_Retry(t *testing.T) {
	var attempts atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := NewMemory(fastConfig(), nil)
	defer closeDispatcher(t, d)

	d.Dispatch(&Event{Payload: message("DONE monitoring"), Destination: server.URL})

	testutil.MustWaitFor(t, func() bool {
		return d.Stats().Delivered >= 1
	}, testutil.WithTimeout(5*time.Second))

	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
	if d.Stats().RetriesTotal != 2 {
		t.Errorf("expected 2 retries, got %d", d.Stats().RetriesTotal)
	}
}

func TestMemoryDispatcher_NoRetryOn4xx(t *testing.T) {
	var attempts atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	d := NewMemory(fastConfig(), nil)
	defer closeDispatcher(t, d)

	d.Dispatch(&Event{Payload: message("Bad input"), Destination: server.URL})

	testutil.MustWaitFor(t, func() bool {
		return d.Stats().Failed >= 1
	}, testutil.WithTimeout(5*time.Second))

	if attempts.Load() != 1 {
		t.Errorf("expected 1 attempt (no retry on 4xx), got %d", attempts.Load())
	}
}

func TestMemoryDispatcher_CircuitBreakerRequeues(t *testing.T) {
	var healthy atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := fastConfig()
	cfg.MaxRetries = 1
	cfg.BreakerThreshold = 2
	d := NewMemory(cfg, nil)
	defer closeDispatcher(t, d)

	for range 5 {
		d.Dispatch(&Event{Payload: message("x"), Destination: server.URL})
	}

	testutil.MustWaitFor(t, func() bool {
		return d.Stats().Requeued > 0
	}, testutil.WithTimeout(5*time.Second))

	healthy.Store(true)

	testutil.MustWaitFor(t, func() bool {
		return d.Stats().Delivered > 0
	}, testutil.WithTimeout(5*time.Second))

	if d.Stats().BreakersTotal != 1 {
		t.Errorf("expected one breaker, got %d", d.Stats().BreakersTotal)
	}
}

func TestMemoryDispatcher_Headers(t *testing.T) {
	var mu sync.Mutex
	var headers http.Header
	var body []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		headers = r.Header.Clone()
		body = b
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := NewMemory(fastConfig(), nil)
	defer closeDispatcher(t, d)

	d.Dispatch(&Event{Payload: message("Canceling 1000"), Destination: server.URL, SigningKey: "hook-key"})

	testutil.MustWaitFor(t, func() bool {
		return d.Stats().Delivered >= 1
	}, testutil.WithTimeout(5*time.Second))

	mu.Lock()
	defer mu.Unlock()
	if got := headers.Get("Content-Type"); got != "application/cloudevents+json" {
		t.Errorf("expected cloudevents content type, got %s", got)
	}
	if got := headers.Get("Ce-Type"); got != "opsbot.job.message" {
		t.Errorf("expected Ce-Type header, got %s", got)
	}
	if !cloudevent.Verify(body, "hook-key", headers.Get("X-Signature-256")) {
		t.Error("expected signature to verify")
	}
}

func TestMemoryDispatcher_GracefulShutdown(t *testing.T) {
	var received atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := fastConfig()
	cfg.Workers = 2
	d := NewMemory(cfg, nil)

	for range 10 {
		d.Dispatch(&Event{Payload: message("x"), Destination: server.URL})
	}

	closeDispatcher(t, d)

	if received.Load() != 10 {
		t.Errorf("expected 10 deliveries, got %d", received.Load())
	}
	if err := d.Dispatch(&Event{Payload: message("late"), Destination: server.URL}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after Close, got %v", err)
	}
}

func TestMemoryDispatcher_CloseDropsParkedEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := fastConfig()
	cfg.MaxRetries = 1
	cfg.BreakerThreshold = 1
	cfg.BreakerCooldown = time.Hour
	d := NewMemory(cfg, nil)

	d.Dispatch(&Event{Payload: message("START monitoring"), Destination: server.URL})
	d.Dispatch(&Event{Payload: message("DONE monitoring"), Destination: server.URL})

	testutil.MustWaitFor(t, func() bool {
		return d.Stats().Requeued == 1
	}, testutil.WithTimeout(5*time.Second))

	closeDispatcher(t, d)

	stats := d.Stats()
	if stats.Failed != 1 || stats.Dropped != 1 {
		t.Errorf("expected 1 failed and 1 dropped, got %+v", stats)
	}
}
