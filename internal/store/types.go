package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/mtaflow/pkg/schema"
)

// Process is the persisted record of one deployment process instance.
type Process struct {
	ID           string                 `json:"id"`
	Flow         string                 `json:"flow"`
	DescriptorID string                 `json:"descriptor_id,omitempty"`
	Status       schema.ProcessStatus   `json:"status"`
	CurrentStep  string                 `json:"current_step,omitempty"`
	LastStatus   schema.ExecutionStatus `json:"last_status,omitempty"`
	Error        string                 `json:"error,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
}

// Event is an immutable entry in a process's phase event log.
type Event struct {
	ID        int64           `json:"id"`
	ProcessID string          `json:"process_id"`
	Step      string          `json:"step,omitempty"`
	Type      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// StepSummary is the state of one step reconstructed from the event log.
type StepSummary struct {
	Step        string           `json:"step"`
	Phase       schema.StepPhase `json:"phase"`
	Retries     int              `json:"retries"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	DurationMs  int64            `json:"duration_ms,omitempty"`
	Error       json.RawMessage  `json:"error,omitempty"`
}

// --- Filter and update types ---

// ProcessFilter specifies criteria for listing processes.
type ProcessFilter struct {
	Status *schema.ProcessStatus `json:"status,omitempty"`
	Flow   string                `json:"flow,omitempty"`
	Since  *time.Time            `json:"since,omitempty"`
	Limit  int                   `json:"limit,omitempty"`
	Offset int                   `json:"offset,omitempty"`
}

// ProcessUpdate specifies mutable fields of a process.
type ProcessUpdate struct {
	Status      *schema.ProcessStatus   `json:"status,omitempty"`
	CurrentStep *string                 `json:"current_step,omitempty"`
	LastStatus  *schema.ExecutionStatus `json:"last_status,omitempty"`
	Error       *string                 `json:"error,omitempty"`
	CompletedAt *time.Time              `json:"completed_at,omitempty"`
}

// EventFilter specifies criteria for listing events.
type EventFilter struct {
	ProcessID string     `json:"process_id,omitempty"`
	Step      string     `json:"step,omitempty"`
	Since     *time.Time `json:"since,omitempty"`
	Limit     int        `json:"limit,omitempty"`
}
