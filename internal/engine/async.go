package engine

import (
	"context"

	"github.com/rendis/mtaflow/internal/process"
	"github.com/rendis/mtaflow/pkg/schema"
)

// AsyncOperation is one named check of a long-running operation. Poll is
// called once per engine tick and must return promptly.
type AsyncOperation interface {
	Name() string
	Poll(ctx context.Context, pc *process.Context) (schema.AsyncExecutionState, error)
}

// AsyncStep splits a long-running operation into a start action and a list
// of polling operations. Everything it needs between ticks must live in the
// execution context.
type AsyncStep interface {
	Name() string
	// Start runs the primary action. It returns StepPhaseExecute when the
	// operations should be polled, or StepPhaseDone when there is nothing
	// to wait for.
	Start(ctx context.Context, pc *process.Context) (schema.StepPhase, error)
	Operations() []AsyncOperation
}

// OperationFunc adapts a function to AsyncOperation.
type OperationFunc struct {
	OpName string
	Fn     func(ctx context.Context, pc *process.Context) (schema.AsyncExecutionState, error)
}

func (o OperationFunc) Name() string { return o.OpName }

func (o OperationFunc) Poll(ctx context.Context, pc *process.Context) (schema.AsyncExecutionState, error) {
	return o.Fn(ctx, pc)
}

type asyncAdapter struct {
	inner AsyncStep
}

// Async adapts an AsyncStep to the Step interface. Entering from INIT or
// RETRY calls Start; entering from POLL polls every operation in order:
// the first ERROR yields RETRY and stops polling, all FINISHED yields DONE,
// anything else keeps the step in POLL.
func Async(step AsyncStep) Step {
	return &asyncAdapter{inner: step}
}

func (a *asyncAdapter) Name() string { return a.inner.Name() }

func (a *asyncAdapter) Execute(ctx context.Context, pc *process.Context) (schema.StepPhase, error) {
	if pc.Starting() {
		return a.inner.Start(ctx, pc)
	}
	return a.poll(ctx, pc)
}

func (a *asyncAdapter) poll(ctx context.Context, pc *process.Context) (schema.StepPhase, error) {
	finished := true
	for _, op := range a.inner.Operations() {
		state, err := op.Poll(ctx, pc)
		if err != nil {
			if !IsRetryableError(err) {
				return "", err
			}
			pc.Logger().Warn(ctx, "operation %s failed transiently: %s", op.Name(), err.Error())
			state = schema.AsyncError
		}

		switch state {
		case schema.AsyncError:
			pc.Logger().Debug(ctx, "operation reported error", "operation", op.Name())
			return schema.StepPhaseRetry, nil
		case schema.AsyncFinished:
		case schema.AsyncRunning:
			finished = false
		default:
			return "", schema.NewErrorf(schema.ErrCodeExecution,
				"operation %s returned unknown state %q", op.Name(), state).WithStep(pc.StepName())
		}
	}
	if finished {
		return schema.StepPhaseDone, nil
	}
	return schema.StepPhasePoll, nil
}
