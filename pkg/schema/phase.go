package schema

// StepPhase is a step's position in its lifecycle. The phase a step returns
// is stored in the execution context so the host engine can branch on it.
type StepPhase string

const (
	StepPhaseInit    StepPhase = "init"
	StepPhaseExecute StepPhase = "execute"
	StepPhasePoll    StepPhase = "poll"
	StepPhaseRetry   StepPhase = "retry"
	StepPhaseDone    StepPhase = "done"
	StepPhaseError   StepPhase = "error"
)

// Valid reports whether p is one of the declared phases.
func (p StepPhase) Valid() bool {
	switch p {
	case StepPhaseInit, StepPhaseExecute, StepPhasePoll, StepPhaseRetry, StepPhaseDone, StepPhaseError:
		return true
	}
	return false
}

// Terminal reports whether no further invocation of the step is expected.
func (p StepPhase) Terminal() bool {
	return p == StepPhaseDone || p == StepPhaseError
}

// AsyncExecutionState is the outcome of a single polling attempt.
type AsyncExecutionState string

const (
	AsyncRunning  AsyncExecutionState = "running"
	AsyncFinished AsyncExecutionState = "finished"
	AsyncError    AsyncExecutionState = "error"
)

// ExecutionStatus is the marker the host engine reads after each invocation
// to decide whether to advance, poll again, retry or halt.
type ExecutionStatus string

const (
	ExecutionStatusSuccess      ExecutionStatus = "success"
	ExecutionStatusRunning      ExecutionStatus = "running"
	ExecutionStatusLogicalRetry ExecutionStatus = "logical_retry"
	ExecutionStatusFailed       ExecutionStatus = "failed"
)

// StatusForPhase maps a returned phase onto the host marker.
func StatusForPhase(p StepPhase) ExecutionStatus {
	switch p {
	case StepPhaseDone:
		return ExecutionStatusSuccess
	case StepPhaseExecute, StepPhasePoll:
		return ExecutionStatusRunning
	case StepPhaseRetry:
		return ExecutionStatusLogicalRetry
	default:
		return ExecutionStatusFailed
	}
}

// ProcessStatus is the lifecycle state of a process instance as tracked by
// the driver.
type ProcessStatus string

const (
	ProcessStatusPending   ProcessStatus = "pending"
	ProcessStatusRunning   ProcessStatus = "running"
	ProcessStatusCompleted ProcessStatus = "completed"
	ProcessStatusFailed    ProcessStatus = "failed"
)
