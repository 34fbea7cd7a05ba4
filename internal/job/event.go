package job

import (
	"slices"
	"time"

	"opsbot/pkg/cloudevent"
)

// Event types for job lifecycle notifications
const (
	EventTypeSubmit  = "opsbot.job.submit"
	EventTypeMessage = "opsbot.job.message"
	EventTypeDone    = "opsbot.job.done"
)

// FilteredEvents returns true if the event type should be sent based on the filter.
// If the filter is empty, all events are allowed.
func FilteredEvents(eventType string, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	return slices.Contains(filter, eventType)
}

// EventBuilder builds CloudEvents for job lifecycle events.
type EventBuilder struct {
	source string
}

// NewEventBuilder creates a new EventBuilder.
func NewEventBuilder(source string) *EventBuilder {
	return &EventBuilder{source: source}
}

// Build creates a new CloudEvent for the job id. A zero id leaves the
// subject empty, as for replies that belong to no job.
func (b *EventBuilder) Build(eventType string, id ID, data map[string]any) *cloudevent.CloudEvent {
	subject := ""
	if id != 0 {
		subject = id.String()
	}
	return cloudevent.New(eventType, b.source, subject, data)
}

// BuildSubmitEvent creates a job submit event.
func (b *EventBuilder) BuildSubmitEvent(e Entry) *cloudevent.CloudEvent {
	data := map[string]any{
		"jobId": e.ID.String(),
		"text":  e.Text,
	}
	return b.Build(EventTypeSubmit, e.ID, data)
}

// BuildMessageEvent creates an event carrying text for a chat channel.
func (b *EventBuilder) BuildMessageEvent(id ID, channel, text string) *cloudevent.CloudEvent {
	data := map[string]any{
		"channel": channel,
		"text":    text,
	}
	if id != 0 {
		data["jobId"] = id.String()
	}
	return b.Build(EventTypeMessage, id, data)
}

// BuildDoneEvent creates a job done event.
func (b *EventBuilder) BuildDoneEvent(e Entry, outcome string, elapsed time.Duration) *cloudevent.CloudEvent {
	data := map[string]any{
		"jobId":           e.ID.String(),
		"text":            e.Text,
		"outcome":         outcome,
		"durationSeconds": elapsed.Seconds(),
	}
	return b.Build(EventTypeDone, e.ID, data)
}
