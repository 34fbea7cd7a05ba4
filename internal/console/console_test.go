package console

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"opsbot/internal/command"
	"opsbot/internal/indexer"
	"opsbot/internal/job"
	"opsbot/internal/machine"
	"opsbot/internal/machine/machinetest"
	"opsbot/internal/notify"
	"opsbot/internal/testutil"
)

// fakeStatus reports the same status for every endpoint.
type fakeStatus struct {
	mu     sync.Mutex
	status string
}

func (f *fakeStatus) set(status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
}

func (f *fakeStatus) Fetch(ctx context.Context, baseURL, endpoint string) (*indexer.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &indexer.Report{Status: f.status}, nil
}

type fakeMetrics struct {
	mu       sync.Mutex
	commands []string
	rejected int
}

func (m *fakeMetrics) RecordCommand(ctx context.Context, command string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = append(m.commands, command)
}

func (m *fakeMetrics) RecordCommandRejected(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected++
}

type harness struct {
	router  *Router
	loop    *job.Loop
	status  *fakeStatus
	sink    *notify.Recorder
	metrics *fakeMetrics
	stop    func()
}

func newHarness(t *testing.T, mention string) *harness {
	t.Helper()
	h := &harness{
		status:  &fakeStatus{status: indexer.StatusIndexing},
		sink:    notify.NewRecorder(0),
		metrics: &fakeMetrics{},
	}
	machines := machinetest.New(machine.Instance{
		ID: "i-1", Size: "t2.medium", State: "running",
		Tags: []machine.Tag{{Key: "Name", Value: "demo"}},
	})
	bot := command.New(command.Config{PollInterval: 5 * time.Millisecond, PollThreshold: 2}, command.Deps{
		Status:   h.status,
		Machines: machines,
		Sink:     h.sink,
	})

	h.loop = job.NewLoop(job.NewSupervisor(job.Config{}), job.LoopConfig{ReapInterval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.loop.Run(ctx) }()
	var once sync.Once
	h.stop = func() {
		once.Do(func() {
			cancel()
			if err := testutil.MustReceive(t, (<-chan error)(errCh)); err != nil {
				t.Errorf("Loop returned error: %v", err)
			}
		})
	}
	t.Cleanup(h.stop)

	h.router = NewRouter(Config{Mention: mention}, bot, h.loop, h.metrics)
	return h
}

func (h *harness) handle(t *testing.T, text string) Reply {
	t.Helper()
	reply, err := h.router.Handle(context.Background(), Message{Channel: "ops", Text: text})
	if err != nil {
		t.Fatalf("Handle(%q) error = %v", text, err)
	}
	return reply
}

func TestClean(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
	}{
		{"monitor https://demo.example.org", "monitor https://demo.example.org"},
		{"monitor\u00a0https://demo.example.org", "monitor https://demo.example.org"},
		{"monitor   https://demo.example.org", "monitor https://demo.example.org"},
		{"ec2   ls\t\t-l 5", "ec2 ls -l 5"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Clean(tt.in); got != tt.want {
			t.Errorf("Clean(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestHandle_Immediate(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "")

	reply := h.handle(t, "help")
	if reply.Text != command.HelpText || reply.JobID != 0 {
		t.Errorf("Expected help reply, got %+v", reply)
	}
	if entries, _ := h.loop.List(context.Background()); len(entries) != 0 {
		t.Errorf("Expected no job for help, got %+v", entries)
	}
}

func TestHandle_Unparsed(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "")

	reply := h.handle(t, "dance for me")
	if !slices.Contains(command.Emojis, reply.Text) {
		t.Errorf("Expected an emoji, got %q", reply.Text)
	}
	if h.metrics.rejected != 1 {
		t.Errorf("Expected 1 rejected command, got %d", h.metrics.rejected)
	}
}

func TestHandle_Mention(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "<@U0BOT>")

	if reply := h.handle(t, "help"); !reply.Ignored {
		t.Errorf("Expected unaddressed message ignored, got %+v", reply)
	}
	if reply := h.handle(t, "<@U0BOT>: help"); reply.Text != command.HelpText {
		t.Errorf("Expected help reply, got %+v", reply)
	}
	if reply := h.handle(t, "<@U0BOT>  help"); reply.Text != command.HelpText {
		t.Errorf("Expected help reply after cleaning, got %+v", reply)
	}
}

func TestHandle_JobLifecycle(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "")
	ctx := context.Background()

	reply := h.handle(t, "monitor https://demo.example.org")
	if reply.Text != "Started job 1000" || reply.JobID != job.FirstID {
		t.Fatalf("Unexpected reply %+v", reply)
	}
	if !slices.Equal(h.metrics.commands, []string{command.Monitor}) {
		t.Errorf("Expected monitor recorded, got %v", h.metrics.commands)
	}

	reply = h.handle(t, "list")
	if want := "Active jobs (1):\n1000: monitor https://demo.example.org"; reply.Text != want {
		t.Errorf("Expected %q, got %q", want, reply.Text)
	}

	reply = h.handle(t, "cancel 1000")
	if reply.Text != "Canceling 1000" {
		t.Errorf("Expected cancel reply, got %q", reply.Text)
	}

	testutil.MustWaitFor(t, func() bool {
		entries, err := h.loop.List(ctx)
		return err == nil && len(entries) == 0
	})

	if reply := h.handle(t, "list"); reply.Text != "No active jobs" {
		t.Errorf("Expected empty list, got %q", reply.Text)
	}
	if reply := h.handle(t, "stop 1000"); reply.Text != "No active job 1000 found" {
		t.Errorf("Expected not found, got %q", reply.Text)
	}

	texts := h.sink.Texts()
	if len(texts) != 1 || texts[0] != "START monitoring https://demo.example.org [JOB 1000]" {
		t.Errorf("Expected only the start message, got %q", texts)
	}
}

func TestHandle_JobCompletes(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "")
	h.status.set(indexer.StatusWaiting)

	reply := h.handle(t, "monitor https://demo.example.org")
	if reply.JobID != job.FirstID {
		t.Fatalf("Unexpected reply %+v", reply)
	}

	testutil.MustWaitFor(t, func() bool { return h.sink.Len() == 2 })
	if got := h.sink.Texts()[1]; !strings.HasPrefix(got, "DONE monitoring https://demo.example.org") {
		t.Errorf("Unexpected final message %q", got)
	}
}

func TestHandle_CancelUnknown(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "")

	tests := []struct {
		text string
		want string
	}{
		{"cancel 1234", "No active job 1234 found"},
		{"please stop 77 now", "No active job 77 found"},
		{"cancel 99999999999999999999999", "No active job 99999999999999999999999 found"},
	}
	for _, tt := range tests {
		if reply := h.handle(t, tt.text); reply.Text != tt.want {
			t.Errorf("Handle(%q) = %q, want %q", tt.text, reply.Text, tt.want)
		}
	}
}

func TestHandle_LoopStopped(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "")
	h.stop()

	_, err := h.router.Handle(context.Background(), Message{Channel: "ops", Text: "monitor https://demo.example.org"})
	if !IsUnavailable(err) {
		t.Errorf("Expected loop stopped error, got %v", err)
	}
	if _, err := h.router.Handle(context.Background(), Message{Text: "list"}); !errors.Is(err, job.ErrStopped) {
		t.Errorf("Expected ErrStopped from list, got %v", err)
	}
}

func TestFormatJobs(t *testing.T) {
	t.Parallel()
	got := FormatJobs([]job.Entry{
		{ID: 1000, Text: "monitor https://a.example.org"},
		{ID: 1001, Text: "konitor https://b.example.org", Cancelling: true},
	})
	want := "Active jobs (2):\n1000: monitor https://a.example.org\n1001: konitor https://b.example.org (cancelling)"
	if got != want {
		t.Errorf("FormatJobs = %q, want %q", got, want)
	}
}
