package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewMetrics(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	metrics, handler, err := NewMetrics(ctx)
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}

	if metrics == nil {
		t.Fatal("Expected metrics to be non-nil")
	}

	if handler == nil {
		t.Fatal("Expected handler to be non-nil")
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	metrics, _, err := NewMetrics(ctx)
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}

	// Should not panic
	metrics.RecordHTTPRequest(ctx, "GET", "/livez", 200, 0.001)
	metrics.RecordHTTPRequest(ctx, "POST", "/v1/messages", 200, 0.050)
	metrics.RecordHTTPRequest(ctx, "GET", "/v1/jobs", 200, 0.010)
	metrics.RecordHTTPRequest(ctx, "DELETE", "/v1/jobs/1001", 404, 0.005)
	metrics.RecordHTTPRequest(ctx, "DELETE", "/v1/jobs/1000", 204, 0.100)
}

func TestMetricsHandler_Scrape(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	metrics, handler, err := NewMetrics(ctx)
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}
	metrics.RecordHTTPRequest(ctx, "DELETE", "/v1/jobs/1000", 204, 0.1)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := w.Body.String()
	for _, want := range []string{"http_requests_total", `path="/v1/jobs/{jobId}"`, "go_goroutines"} {
		if !strings.Contains(body, want) {
			t.Errorf("Expected scrape to contain %s", want)
		}
	}
}

func TestRecordJobMetrics(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	metrics, _, err := NewMetrics(ctx)
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}

	// Should not panic
	metrics.RecordCommand(ctx, "monitor")
	metrics.RecordCommandRejected(ctx)
	metrics.RecordJobSubmitted(ctx)
	metrics.RecordPoll(ctx)
	metrics.RecordJobCancelled(ctx)
	metrics.RecordJobReaped(ctx, "cancelled", 12.5)
	metrics.RecordMachineCall(ctx, "ec2", "describe", nil)
	metrics.RecordMachineCall(ctx, "docker", "start", errors.New("daemon gone"))
}

func TestNormalizePath(t *testing.T) {
	t.Parallel()
	tests := []struct {
		input    string
		expected string
	}{
		{"/livez", "/livez"},
		{"/v1/jobs", "/v1/jobs"},
		{"/v1/jobs/", "/v1/jobs/"},
		{"/v1/jobs/1000", "/v1/jobs/{jobId}"},
		{"/v1/messages", "/v1/messages"},
	}

	for _, tt := range tests {
		result := normalizePath(tt.input)
		if result != tt.expected {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestContextAttrs(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo)

	ctx := ContextAttrs(context.Background(), slog.Uint64("job", 1000))
	ctx = ContextAttrs(ctx, slog.String("command", "monitor"))
	logger.InfoContext(ctx, "Poll settled")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("Failed to decode log line: %v", err)
	}
	if rec["job"] != float64(1000) {
		t.Errorf("Expected job=1000, got %v", rec["job"])
	}
	if rec["command"] != "monitor" {
		t.Errorf("Expected command=monitor, got %v", rec["command"])
	}
}

func TestContextAttrs_DoesNotLeakToParent(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo)

	parent := ContextAttrs(context.Background(), slog.String("a", "1"))
	_ = ContextAttrs(parent, slog.String("b", "2"))
	logger.InfoContext(parent, "parent")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("Failed to decode log line: %v", err)
	}
	if _, ok := rec["b"]; ok {
		t.Error("Child attribute leaked into parent context")
	}
}

func TestNewLogger_Level(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelWarn)
	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("Expected info to be filtered at warn level, got %q", buf.String())
	}
	logger.With("component", "console").Warn("kept")
	if !bytes.Contains(buf.Bytes(), []byte(`"component":"console"`)) {
		t.Errorf("Expected component attribute, got %q", buf.String())
	}
}
