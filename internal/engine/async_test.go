package engine

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/mtaflow/internal/process"
	"github.com/rendis/mtaflow/internal/variables"
	"github.com/rendis/mtaflow/pkg/schema"
)

func pollCtx(t *testing.T) *process.Context {
	t.Helper()
	return process.NewWithPhase(variables.NewMapContext("proc-1"), "execute-task", schema.StepPhasePoll, nil)
}

func states(s ...schema.AsyncExecutionState) []schema.AsyncExecutionState { return s }

func TestAsync_StartRunsOnlyWhenStarting(t *testing.T) {
	for _, entry := range []schema.StepPhase{schema.StepPhaseInit, schema.StepPhaseRetry} {
		as := &scriptedAsync{name: "s", startOut: schema.StepPhaseExecute}
		pc := process.NewWithPhase(variables.NewMapContext("p"), "s", entry, nil)

		phase, err := Async(as).Execute(context.Background(), pc)
		require.NoError(t, err)
		assert.Equal(t, schema.StepPhaseExecute, phase)
		assert.Equal(t, 1, as.starts)
	}
}

func TestAsync_StartErrorPropagates(t *testing.T) {
	as := &scriptedAsync{name: "s", startErr: schema.ContentError("no app")}
	pc := process.NewWithPhase(variables.NewMapContext("p"), "s", schema.StepPhaseInit, nil)

	_, err := Async(as).Execute(context.Background(), pc)
	require.Error(t, err)
	assert.Equal(t, schema.ErrorTypeContent, ClassifyError(err))
}

func TestAsync_AllFinishedIsDone(t *testing.T) {
	a := &scriptedOp{name: "a", states: states(schema.AsyncFinished)}
	b := &scriptedOp{name: "b", states: states(schema.AsyncFinished)}
	step := Async(&scriptedAsync{name: "s", ops: []AsyncOperation{a, b}})

	phase, err := step.Execute(context.Background(), pollCtx(t))
	require.NoError(t, err)
	assert.Equal(t, schema.StepPhaseDone, phase)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
}

func TestAsync_RunningKeepsPolling(t *testing.T) {
	a := &scriptedOp{name: "a", states: states(schema.AsyncFinished)}
	b := &scriptedOp{name: "b", states: states(schema.AsyncRunning)}
	step := Async(&scriptedAsync{name: "s", ops: []AsyncOperation{a, b}})

	for range 3 {
		phase, err := step.Execute(context.Background(), pollCtx(t))
		require.NoError(t, err)
		assert.Equal(t, schema.StepPhasePoll, phase)
	}
	assert.Equal(t, 3, b.calls)
}

func TestAsync_FirstErrorWins(t *testing.T) {
	a := &scriptedOp{name: "a", states: states(schema.AsyncRunning)}
	b := &scriptedOp{name: "b", states: states(schema.AsyncError)}
	c := &scriptedOp{name: "c", states: states(schema.AsyncFinished)}
	step := Async(&scriptedAsync{name: "s", ops: []AsyncOperation{a, b, c}})

	phase, err := step.Execute(context.Background(), pollCtx(t))
	require.NoError(t, err)
	assert.Equal(t, schema.StepPhaseRetry, phase)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
	assert.Equal(t, 0, c.calls, "operations after the first error are not polled")
}

func TestAsync_TransientErrorIsRetry(t *testing.T) {
	op := &scriptedOp{
		name:   "task",
		states: states(""),
		errs:   []error{&net.OpError{Op: "dial", Err: errors.New("connection refused")}},
	}
	step := Async(&scriptedAsync{name: "s", ops: []AsyncOperation{op}})

	phase, err := step.Execute(context.Background(), pollCtx(t))
	require.NoError(t, err)
	assert.Equal(t, schema.StepPhaseRetry, phase)
}

func TestAsync_UpstreamErrorIsRetry(t *testing.T) {
	op := &scriptedOp{
		name:   "task",
		states: states(""),
		errs:   []error{schema.NewError(schema.ErrCodeUpstream, "503 service unavailable")},
	}
	step := Async(&scriptedAsync{name: "s", ops: []AsyncOperation{op}})

	phase, err := step.Execute(context.Background(), pollCtx(t))
	require.NoError(t, err)
	assert.Equal(t, schema.StepPhaseRetry, phase)
}

func TestAsync_PermanentErrorPropagates(t *testing.T) {
	op := &scriptedOp{
		name:   "task",
		states: states(""),
		errs:   []error{schema.ContentError("task not found for app")},
	}
	step := Async(&scriptedAsync{name: "s", ops: []AsyncOperation{op}})

	phase, err := step.Execute(context.Background(), pollCtx(t))
	require.Error(t, err)
	assert.Empty(t, phase)
	assert.Equal(t, schema.ErrorTypeContent, ClassifyError(err))
}

func TestAsync_UnknownStateFails(t *testing.T) {
	op := &scriptedOp{name: "task", states: states("paused")}
	step := Async(&scriptedAsync{name: "s", ops: []AsyncOperation{op}})

	_, err := step.Execute(context.Background(), pollCtx(t))
	require.Error(t, err)
	stepErr, ok := schema.AsStepError(err)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeExecution, stepErr.Code)
}

func TestAsync_NoOperationsIsDone(t *testing.T) {
	step := Async(&scriptedAsync{name: "s"})
	phase, err := step.Execute(context.Background(), pollCtx(t))
	require.NoError(t, err)
	assert.Equal(t, schema.StepPhaseDone, phase)
}

func TestOperationFunc(t *testing.T) {
	op := OperationFunc{OpName: "check", Fn: func(context.Context, *process.Context) (schema.AsyncExecutionState, error) {
		return schema.AsyncFinished, nil
	}}
	assert.Equal(t, "check", op.Name())
	state, err := op.Poll(context.Background(), pollCtx(t))
	require.NoError(t, err)
	assert.Equal(t, schema.AsyncFinished, state)
}
