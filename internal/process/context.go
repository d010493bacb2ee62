package process

import (
	"context"

	"github.com/rendis/mtaflow/internal/variables"
	"github.com/rendis/mtaflow/pkg/schema"
)

// Context is the per-invocation view a step gets of its process instance.
// It is created once per step invocation and never persisted.
type Context struct {
	exec   variables.ExecutionContext
	step   string
	entry  schema.StepPhase
	logger *StepLogger
}

// New builds a Context for one invocation of step. The entry phase is read
// from the step's persisted state; an unset phase means INIT.
func New(ctx context.Context, exec variables.ExecutionContext, step string, logger *StepLogger) (*Context, error) {
	entry, err := variables.Get(ctx, exec, StepPhaseVar(step))
	if err != nil {
		return nil, stepErr(step, err)
	}
	if logger == nil {
		logger = NewStepLogger(nil)
	}
	return &Context{
		exec:   exec,
		step:   step,
		entry:  entry,
		logger: logger.forStep(exec.ProcessID(), step),
	}, nil
}

// NewWithPhase builds a Context with an explicit entry phase. Decorators and
// tests use it; the executor uses New.
func NewWithPhase(exec variables.ExecutionContext, step string, entry schema.StepPhase, logger *StepLogger) *Context {
	if logger == nil {
		logger = NewStepLogger(nil)
	}
	return &Context{exec: exec, step: step, entry: entry, logger: logger.forStep(exec.ProcessID(), step)}
}

// Exec returns the underlying execution context.
func (c *Context) Exec() variables.ExecutionContext { return c.exec }

// ProcessID returns the process instance ID.
func (c *Context) ProcessID() string { return c.exec.ProcessID() }

// StepName returns the name of the step being invoked.
func (c *Context) StepName() string { return c.step }

// EntryPhase returns the phase the step was in when this invocation began.
func (c *Context) EntryPhase() schema.StepPhase { return c.entry }

// Starting reports whether this invocation runs the step's primary action,
// i.e. it entered from INIT or RETRY.
func (c *Context) Starting() bool {
	return c.entry == schema.StepPhaseInit || c.entry == schema.StepPhaseRetry
}

// WithEntry returns a copy of c entered in phase entry. Decorators use it to
// run the wrapped step's primary action on a later tick.
func (c *Context) WithEntry(entry schema.StepPhase) *Context {
	cp := *c
	cp.entry = entry
	return &cp
}

// Logger returns the step-scoped logger.
func (c *Context) Logger() *StepLogger { return c.logger }

// Get reads a typed variable. Failures carry the step name.
func Get[T any](ctx context.Context, c *Context, v variables.Variable[T]) (T, error) {
	out, err := variables.Get(ctx, c.exec, v)
	if err != nil {
		return out, stepErr(c.step, err)
	}
	return out, nil
}

// Lookup reads a typed variable without applying its default.
func Lookup[T any](ctx context.Context, c *Context, v variables.Variable[T]) (T, bool, error) {
	out, ok, err := variables.Lookup(ctx, c.exec, v)
	if err != nil {
		return out, false, stepErr(c.step, err)
	}
	return out, ok, nil
}

// Set writes a typed variable.
func Set[T any](ctx context.Context, c *Context, v variables.Variable[T], value T) error {
	if err := variables.Set(ctx, c.exec, v, value); err != nil {
		return stepErr(c.step, err)
	}
	c.logger.Debug(ctx, "variable set", "variable", v.Name)
	return nil
}

// Remove unsets a typed variable.
func Remove[T any](ctx context.Context, c *Context, v variables.Variable[T]) error {
	if err := variables.Remove(ctx, c.exec, v); err != nil {
		return stepErr(c.step, err)
	}
	return nil
}

func stepErr(step string, err error) error {
	if se, ok := schema.AsStepError(err); ok {
		if se.Step == "" {
			return se.Clone().WithStep(step)
		}
		return se
	}
	return schema.NewError(schema.ErrCodeExecution, err.Error()).WithStep(step).WithCause(err)
}
