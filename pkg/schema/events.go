package schema

// Event type constants for the per-process event log.
const (
	EventProcessStarted   = "process_started"
	EventProcessCompleted = "process_completed"
	EventProcessFailed    = "process_failed"
	EventProcessResumed   = "process_resumed"

	EventStepStarted   = "step_started"
	EventStepPolling   = "step_polling"
	EventStepCompleted = "step_completed"
	EventStepRetrying  = "step_retrying"
	EventStepFailed    = "step_failed"
	EventStepTimedOut  = "step_timed_out"

	EventHookExecuted = "hook_executed"
	EventHookSkipped  = "hook_skipped"

	EventErrorRecorded = "error_recorded"
)

// ProgressMessageType classifies user-facing progress messages.
type ProgressMessageType string

const (
	ProgressInfo    ProgressMessageType = "info"
	ProgressWarning ProgressMessageType = "warning"
	ProgressError   ProgressMessageType = "error"
)
