package engine

import (
	"context"

	"github.com/rendis/mtaflow/internal/process"
	"github.com/rendis/mtaflow/pkg/schema"
)

// Step is one unit of deployment work. Execute runs the logic for the
// invocation's entry phase (see process.Context.EntryPhase) and returns the
// phase the step reached. Errors are reserved for unrecoverable failures;
// recoverable ones are signalled by returning StepPhaseRetry.
type Step interface {
	Name() string
	Execute(ctx context.Context, pc *process.Context) (schema.StepPhase, error)
}

// StepFunc is the primary action of a synchronous step.
type StepFunc func(ctx context.Context, pc *process.Context) error

type syncStep struct {
	name string
	fn   StepFunc
}

// Sync wraps fn as a Step that goes INIT -> EXECUTE -> DONE in a single
// invocation, or fails.
func Sync(name string, fn StepFunc) Step {
	return &syncStep{name: name, fn: fn}
}

func (s *syncStep) Name() string { return s.name }

func (s *syncStep) Execute(ctx context.Context, pc *process.Context) (schema.StepPhase, error) {
	if err := s.fn(ctx, pc); err != nil {
		return "", err
	}
	return schema.StepPhaseDone, nil
}
