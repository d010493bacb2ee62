package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/rendis/mtaflow/internal/logging"
	"github.com/rendis/mtaflow/internal/process"
	"github.com/rendis/mtaflow/internal/variables"
	"github.com/rendis/mtaflow/pkg/schema"
)

// ExecutorConfig holds the collaborators of an Executor. Every field is
// optional.
type ExecutorConfig struct {
	Events      EventAppender          // phase event log
	Diagnostics DiagnosticsStore       // error classification records
	Logger      *slog.Logger           // operator log
	Progress    []process.ProgressSink // user-facing progress messages
}

// Executor runs single step invocations on behalf of the host engine. It
// reads the step's entry phase, validates and records every phase
// transition, writes the stepPhase/stepExecutionStatus markers and
// persists the per-step state the next invocation needs.
type Executor struct {
	fsm      *PhaseFSM
	recorder *ErrorRecorder
	logger   *process.StepLogger
}

// NewExecutor creates an Executor.
func NewExecutor(cfg ExecutorConfig) *Executor {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Executor{
		fsm:      NewPhaseFSM(cfg.Events),
		recorder: NewErrorRecorder(cfg.Diagnostics, cfg.Events, logger),
		logger:   process.NewStepLogger(logger, cfg.Progress...),
	}
}

// FSM returns the executor's phase FSM so callers can register transition hooks.
func (e *Executor) FSM() *PhaseFSM { return e.fsm }

// Execute runs one invocation of step against exec and returns the phase the
// step reached. It never returns an empty phase. On failure the error is
// classified and recorded before it is returned together with
// StepPhaseError.
func (e *Executor) Execute(ctx context.Context, step Step, exec variables.ExecutionContext) (schema.StepPhase, error) {
	name := step.Name()
	processID := exec.ProcessID()
	ctx = logging.WithIDs(ctx, processID, name)

	pc, err := process.New(ctx, exec, name, e.logger)
	if err != nil {
		return e.fail(ctx, process.NewWithPhase(exec, name, schema.StepPhaseInit, e.logger), schema.StepPhaseInit, err)
	}
	entry := pc.EntryPhase()

	active, err := activePhase(name, entry)
	if err != nil {
		return e.fail(ctx, pc, entry, err)
	}
	if active != entry {
		if err := e.fsm.Transition(ctx, processID, name, entry, active, nil); err != nil {
			return e.fail(ctx, pc, entry, err)
		}
	}
	pc.Logger().Debug(ctx, "step invoked", "entry_phase", string(entry))

	returned, err := invoke(ctx, step, pc)
	if err != nil {
		return e.fail(ctx, pc, active, err)
	}
	if returned == "" {
		return e.fail(ctx, pc, active, schema.NewError(schema.ErrCodeInvalidTransition, "step returned no phase").WithStep(name))
	}
	if err := e.fsm.Transition(ctx, processID, name, active, returned, nil); err != nil {
		return e.fail(ctx, pc, active, err)
	}
	if err := e.persist(ctx, pc, returned); err != nil {
		return e.fail(ctx, pc, returned, err)
	}

	pc.Logger().Debug(ctx, "step returned", "phase", string(returned),
		"status", string(schema.StatusForPhase(returned)))
	return returned, nil
}

// activePhase is the phase a step runs in for a given entry phase.
func activePhase(step string, entry schema.StepPhase) (schema.StepPhase, error) {
	switch entry {
	case schema.StepPhaseInit, schema.StepPhaseRetry:
		return schema.StepPhaseExecute, nil
	case schema.StepPhasePoll:
		return schema.StepPhasePoll, nil
	default:
		return "", schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"step cannot be entered in phase %q", entry).WithStep(step)
	}
}

// invoke calls step.Execute, converting a panic into an EXECUTION_ERROR.
func invoke(ctx context.Context, step Step, pc *process.Context) (phase schema.StepPhase, err error) {
	defer func() {
		if r := recover(); r != nil {
			pc.Logger().Slog().ErrorContext(ctx, "step panicked", "panic", r, "stack", string(debug.Stack()))
			phase = ""
			err = schema.NewErrorf(schema.ErrCodeExecution, "panic: %v", r).WithStep(step.Name())
		}
	}()
	return step.Execute(ctx, pc)
}

// persist writes the host markers and the state the next invocation of the
// step enters with.
func (e *Executor) persist(ctx context.Context, pc *process.Context, phase schema.StepPhase) error {
	if err := writeMarkers(ctx, pc, phase); err != nil {
		return err
	}
	step := pc.StepName()
	switch phase {
	case schema.StepPhaseExecute, schema.StepPhasePoll:
		return process.Set(ctx, pc, process.StepPhaseVar(step), schema.StepPhasePoll)
	case schema.StepPhaseRetry:
		if err := process.Set(ctx, pc, process.StepPhaseVar(step), schema.StepPhaseRetry); err != nil {
			return err
		}
		retries, err := process.Get(ctx, pc, process.RetryCountVar(step))
		if err != nil {
			return err
		}
		if err := process.Set(ctx, pc, process.RetryCountVar(step), retries+1); err != nil {
			return err
		}
		return process.Remove(ctx, pc, process.StartTimeVar(step))
	default:
		return clearStepState(ctx, pc)
	}
}

func writeMarkers(ctx context.Context, pc *process.Context, phase schema.StepPhase) error {
	if err := process.Set(ctx, pc, process.VarStepPhase, phase); err != nil {
		return err
	}
	return process.Set(ctx, pc, process.VarStepExecutionStatus, schema.StatusForPhase(phase))
}

// clearStepState removes the per-step state so the next iteration of the
// step starts at INIT.
func clearStepState(ctx context.Context, pc *process.Context) error {
	step := pc.StepName()
	if err := process.Remove(ctx, pc, process.StepPhaseVar(step)); err != nil {
		return err
	}
	if err := process.Remove(ctx, pc, process.StartTimeVar(step)); err != nil {
		return err
	}
	return process.Remove(ctx, pc, process.RetryCountVar(step))
}

// fail records err, writes the failure markers and returns StepPhaseError.
func (e *Executor) fail(ctx context.Context, pc *process.Context, from schema.StepPhase, err error) (schema.StepPhase, error) {
	step := pc.StepName()
	err = attachStep(step, err)

	if _, recErr := e.recorder.Record(ctx, pc.ProcessID(), step, err); recErr != nil {
		pc.Logger().Slog().ErrorContext(ctx, "error record not persisted", "error", recErr)
	}
	if IsValidTransition(from, schema.StepPhaseError) {
		payload := map[string]any{"error": err.Error(), "error_type": string(ClassifyError(err))}
		if terr := e.fsm.Transition(ctx, pc.ProcessID(), step, from, schema.StepPhaseError, payload); terr != nil {
			pc.Logger().Slog().WarnContext(ctx, "failure event not recorded", "error", terr)
		}
	}
	if merr := writeMarkers(ctx, pc, schema.StepPhaseError); merr != nil {
		pc.Logger().Slog().ErrorContext(ctx, "failure markers not written", "error", merr)
	}
	if cerr := clearStepState(ctx, pc); cerr != nil {
		pc.Logger().Slog().WarnContext(ctx, "step state not cleared", "error", cerr)
	}

	pc.Logger().Error(ctx, err, "step %s failed", step)
	return schema.StepPhaseError, err
}

// attachStep makes sure the returned error names the failing step. A
// StepError without a step is copied, never modified in place.
func attachStep(step string, err error) error {
	if se, ok := err.(*schema.StepError); ok {
		if se.Step == "" {
			return se.Clone().WithStep(step)
		}
		return se
	}
	return schema.NewError(schema.ErrCodeExecution, fmt.Sprint(err)).WithStep(step).WithCause(err)
}
