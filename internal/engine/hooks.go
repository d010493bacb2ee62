package engine

import (
	"context"

	"github.com/rendis/mtaflow/internal/process"
	"github.com/rendis/mtaflow/pkg/schema"
)

// HooksCalculator selects the hooks that apply to the current module for a
// hook phase such as "execute-task.before".
type HooksCalculator interface {
	Calculate(ctx context.Context, pc *process.Context, phase string) ([]schema.Hook, error)
}

// HooksExecutor starts hooks and reports on the hooks it started.
type HooksExecutor interface {
	// Start launches hooks in declaration order and returns one handle per
	// started hook. Any failure aborts the rest.
	Start(ctx context.Context, pc *process.Context, hooks []schema.Hook) ([]string, error)
	// Poll reports the state of a started hook. AsyncError means the hook
	// ran and failed.
	Poll(ctx context.Context, pc *process.Context, handle string) (schema.AsyncExecutionState, error)
}

type hooksStep struct {
	inner  Step
	calc   HooksCalculator
	exec   HooksExecutor
	anchor string
}

// WithHooks runs "<anchor>.before" hooks ahead of inner's primary action and
// "<anchor>.after" hooks once inner returns DONE. Hooks are asynchronous:
// the handles of started hooks are kept under "<step>.hooks.before" and
// "<step>.hooks.after" and polled on the following ticks. inner starts only
// after every before hook finished, and the step reports DONE only after
// every after hook finished. A failed hook fails the step with HOOK_FAILED.
func WithHooks(inner Step, calc HooksCalculator, exec HooksExecutor, anchor string) Step {
	if anchor == "" {
		anchor = inner.Name()
	}
	return &hooksStep{inner: inner, calc: calc, exec: exec, anchor: anchor}
}

func (h *hooksStep) Name() string { return h.inner.Name() }

type hooksState int

const (
	hooksNone hooksState = iota
	hooksRunning
	hooksFinished
)

func (h *hooksStep) Execute(ctx context.Context, pc *process.Context) (schema.StepPhase, error) {
	if pc.Starting() {
		if err := h.reset(ctx, pc); err != nil {
			return "", err
		}
		started, err := h.start(ctx, pc, schema.HookBefore)
		if err != nil {
			return "", err
		}
		if started {
			return schema.StepPhaseExecute, nil
		}
		return h.proceed(ctx, pc, pc)
	}

	state, err := h.await(ctx, pc, schema.HookBefore)
	if err != nil {
		return "", err
	}
	switch state {
	case hooksRunning:
		return schema.StepPhasePoll, nil
	case hooksFinished:
		return h.proceed(ctx, pc, pc.WithEntry(schema.StepPhaseInit))
	}

	state, err = h.await(ctx, pc, schema.HookAfter)
	if err != nil {
		return "", err
	}
	switch state {
	case hooksRunning:
		return schema.StepPhasePoll, nil
	case hooksFinished:
		return schema.StepPhaseDone, nil
	}
	return h.proceed(ctx, pc, pc)
}

// proceed runs inner with innerPC and starts the after hooks once it is
// DONE. Phases are reported relative to pc, the tick actually running.
func (h *hooksStep) proceed(ctx context.Context, pc, innerPC *process.Context) (schema.StepPhase, error) {
	phase, err := h.inner.Execute(ctx, innerPC)
	if err != nil {
		return "", err
	}
	if phase != schema.StepPhaseDone {
		if phase == schema.StepPhaseExecute && !pc.Starting() {
			phase = schema.StepPhasePoll
		}
		return phase, nil
	}

	started, err := h.start(ctx, pc, schema.HookAfter)
	if err != nil {
		return "", err
	}
	if !started {
		return schema.StepPhaseDone, nil
	}
	if pc.Starting() {
		return schema.StepPhaseExecute, nil
	}
	return schema.StepPhasePoll, nil
}

// start launches the hooks for when and records their handles. It reports
// whether there is anything to wait for.
func (h *hooksStep) start(ctx context.Context, pc *process.Context, when schema.HookWhen) (bool, error) {
	phase := schema.HookPhase(h.anchor, when)
	hooks, err := h.calc.Calculate(ctx, pc, phase)
	if err != nil {
		return false, err
	}
	if len(hooks) == 0 {
		return false, nil
	}
	pc.Logger().Debug(ctx, "starting hooks", "hook_phase", phase, "count", len(hooks))
	handles, err := h.exec.Start(ctx, pc, hooks)
	if err != nil {
		return false, hookFailed(pc, phase, err)
	}
	if len(handles) == 0 {
		return false, nil
	}
	return true, process.Set(ctx, pc, process.HookTasksVar(pc.StepName(), when), handles)
}

// await polls every recorded hook for when. The handles are dropped once
// all of them finished.
func (h *hooksStep) await(ctx context.Context, pc *process.Context, when schema.HookWhen) (hooksState, error) {
	v := process.HookTasksVar(pc.StepName(), when)
	handles, ok, err := process.Lookup(ctx, pc, v)
	if err != nil || !ok {
		return hooksNone, err
	}

	phase := schema.HookPhase(h.anchor, when)
	finished := true
	for _, handle := range handles {
		state, err := h.exec.Poll(ctx, pc, handle)
		if err != nil {
			if !IsRetryableError(err) {
				return hooksNone, hookFailed(pc, phase, err)
			}
			pc.Logger().Warn(ctx, "hook %s could not be checked: %s", handle, err.Error())
			state = schema.AsyncRunning
		}

		switch state {
		case schema.AsyncFinished:
		case schema.AsyncRunning:
			finished = false
		case schema.AsyncError:
			return hooksNone, schema.NewErrorf(schema.ErrCodeHookFailed, "%s hook %s failed", phase, handle).
				WithStep(pc.StepName())
		default:
			return hooksNone, schema.NewErrorf(schema.ErrCodeExecution,
				"%s hook %s returned unknown state %q", phase, handle, state).WithStep(pc.StepName())
		}
	}
	if !finished {
		return hooksRunning, nil
	}
	if err := process.Remove(ctx, pc, v); err != nil {
		return hooksNone, err
	}
	pc.Logger().Debug(ctx, "hooks finished", "hook_phase", phase, "count", len(handles))
	return hooksFinished, nil
}

// reset drops hook handles left behind by an earlier attempt.
func (h *hooksStep) reset(ctx context.Context, pc *process.Context) error {
	for _, when := range []schema.HookWhen{schema.HookBefore, schema.HookAfter} {
		if err := process.Remove(ctx, pc, process.HookTasksVar(pc.StepName(), when)); err != nil {
			return err
		}
	}
	return nil
}

func hookFailed(pc *process.Context, phase string, err error) error {
	return schema.NewErrorf(schema.ErrCodeHookFailed, "%s hooks failed: %s", phase, err.Error()).
		WithStep(pc.StepName()).WithCause(err)
}
