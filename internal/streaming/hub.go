package streaming

import "context"

// Event types published for progress messages. Phase events keep the
// event log's type names (step_started, step_failed, ...).
const (
	EventProgress = "progress"
)

// StreamEvent is a real-time notification about a process instance.
type StreamEvent struct {
	ProcessID string `json:"process_id"`
	Step      string `json:"step,omitempty"`
	EventType string `json:"event_type"`
	Payload   any    `json:"payload,omitempty"`
}

// EventFilter selects the events a subscriber receives. Empty fields match
// everything.
type EventFilter struct {
	ProcessID  string   `json:"process_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for process events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
