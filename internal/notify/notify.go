// Package notify delivers bot replies and job progress to chat channels.
//
// Sends are fire-and-forget: a failed delivery is logged and counted but
// never reported back to the job that produced the message.
package notify

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"opsbot/internal/job"
)

// DefaultMaxSize caps message text, in characters, before the job suffix.
const DefaultMaxSize = 3000

// Message is one chat message. JobID is zero for replies that belong to no
// job, such as help text.
type Message struct {
	Channel string `json:"channel"`
	Text    string `json:"text"`
	JobID   job.ID `json:"jobId,omitempty"`
}

// Sink sends messages. Send must not block on delivery.
type Sink interface {
	Send(ctx context.Context, m Message)
}

// Truncate returns at most max characters of text. A non-positive max
// leaves text unchanged.
func Truncate(text string, max int) string {
	if max <= 0 {
		return text
	}
	n := 0
	for i := range text {
		if n == max {
			return text[:i]
		}
		n++
	}
	return text
}

// Format renders the text that reaches the channel: the truncated text,
// tagged with the job id when there is one.
func Format(m Message, max int) string {
	text := Truncate(m.Text, max)
	if m.JobID != 0 {
		text += " [JOB " + m.JobID.String() + "]"
	}
	return text
}

// LogSink writes messages to the structured log. It is used when no
// notification endpoint is configured.
type LogSink struct {
	logger  *slog.Logger
	maxSize int
}

// NewLogSink creates a LogSink.
func NewLogSink(maxSize int) *LogSink {
	return &LogSink{
		logger:  slog.With("component", "notify"),
		maxSize: maxSize,
	}
}

func (s *LogSink) Send(ctx context.Context, m Message) {
	s.logger.InfoContext(ctx, "Message", "channel", m.Channel, "jobId", uint64(m.JobID), "text", Format(m, s.maxSize))
}

// Recorder keeps every message in memory.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
	maxSize  int
}

// NewRecorder creates a Recorder that formats with maxSize.
func NewRecorder(maxSize int) *Recorder {
	return &Recorder{maxSize: maxSize}
}

func (r *Recorder) Send(ctx context.Context, m Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, m)
}

// Messages returns the messages sent so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.messages)
}

// Texts returns the formatted text of each message sent so far.
func (r *Recorder) Texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	texts := make([]string, len(r.messages))
	for i, m := range r.messages {
		texts[i] = Format(m, r.maxSize)
	}
	return texts
}

// Len returns the number of messages sent so far.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

var (
	_ Sink = (*LogSink)(nil)
	_ Sink = (*Recorder)(nil)
)
