package engine

import (
	"context"
	"encoding/json"
	"slices"
	"sync"

	"github.com/rendis/mtaflow/internal/store"
	"github.com/rendis/mtaflow/pkg/schema"
)

// TransitionHook is called before or after a phase transition.
type TransitionHook func(from, to schema.StepPhase) error

// EventAppender is satisfied by the Store and EventLog; used by the FSM to
// emit events on transitions.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *store.Event) error
}

type phaseHookKey struct {
	from, to schema.StepPhase
}

// PhaseFSM validates step phase transitions and records them in the event log.
type PhaseFSM struct {
	mu       sync.Mutex
	appender EventAppender
	before   map[phaseHookKey][]TransitionHook
	after    map[phaseHookKey][]TransitionHook
}

// NewPhaseFSM creates a PhaseFSM that emits events via the given appender.
// A nil appender disables event emission.
func NewPhaseFSM(appender EventAppender) *PhaseFSM {
	return &PhaseFSM{
		appender: appender,
		before:   make(map[phaseHookKey][]TransitionHook),
		after:    make(map[phaseHookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before a transition.
func (f *PhaseFSM) OnBefore(from, to schema.StepPhase, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := phaseHookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a transition.
func (f *PhaseFSM) OnAfter(from, to schema.StepPhase, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := phaseHookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition validates from -> to for step and emits the matching event.
// payload is attached to the event when non-nil.
func (f *PhaseFSM) Transition(ctx context.Context, processID, step string, from, to schema.StepPhase, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !IsValidTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid phase transition: %q -> %q", from, to).
			WithStep(step).
			WithDetails(map[string]any{"process_id": processID, "from": string(from), "to": string(to)})
	}

	key := phaseHookKey{from, to}
	for _, hook := range f.before[key] {
		if err := hook(from, to); err != nil {
			return err
		}
	}

	if eventType := phaseEventType(from, to); eventType != "" && f.appender != nil {
		event := &store.Event{ProcessID: processID, Step: step, Type: eventType}
		if payload != nil {
			raw, err := json.Marshal(payload)
			if err == nil {
				event.Payload = raw
			}
		}
		if err := f.appender.AppendEvent(ctx, event); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "emit phase event: %s", err.Error()).
				WithStep(step).WithCause(err)
		}
	}

	for _, hook := range f.after[key] {
		if err := hook(from, to); err != nil {
			return err
		}
	}
	return nil
}

// IsValidTransition reports whether the table allows from -> to.
func IsValidTransition(from, to schema.StepPhase) bool {
	return slices.Contains(ValidPhaseTransitions[from], to)
}

// phaseEventType maps a transition onto an event. Steady polling emits nothing.
func phaseEventType(from, to schema.StepPhase) string {
	switch to {
	case schema.StepPhaseExecute:
		if from == schema.StepPhaseExecute {
			return schema.EventStepPolling
		}
		return schema.EventStepStarted
	case schema.StepPhaseDone:
		return schema.EventStepCompleted
	case schema.StepPhaseRetry:
		return schema.EventStepRetrying
	case schema.StepPhaseError:
		return schema.EventStepFailed
	default:
		return ""
	}
}

// ValidPhaseTransitions defines the allowed step phase transitions.
// EXECUTE -> EXECUTE means async work was started and awaits polling.
var ValidPhaseTransitions = map[schema.StepPhase][]schema.StepPhase{
	schema.StepPhaseInit:    {schema.StepPhaseExecute, schema.StepPhaseError},
	schema.StepPhaseExecute: {schema.StepPhaseExecute, schema.StepPhaseDone, schema.StepPhaseRetry, schema.StepPhaseError},
	schema.StepPhasePoll:    {schema.StepPhasePoll, schema.StepPhaseDone, schema.StepPhaseRetry, schema.StepPhaseError},
	schema.StepPhaseRetry:   {schema.StepPhaseExecute, schema.StepPhaseError},
	schema.StepPhaseDone:    {},
	schema.StepPhaseError:   {},
}
