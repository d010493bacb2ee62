package hooks

import (
	"context"
	"encoding/json"

	"github.com/rendis/mtaflow/internal/engine"
	"github.com/rendis/mtaflow/internal/expressions"
	"github.com/rendis/mtaflow/internal/process"
	"github.com/rendis/mtaflow/internal/store"
	"github.com/rendis/mtaflow/pkg/schema"
)

// SelectionQuery is the default jq query picking the current module's hooks
// bound to the hook phase in .hook.phase.
const SelectionQuery = `.hook.phase as $p | .module.hooks[]? | select(any(.phases[]?; . == $p))`

var defaultSelector = expressions.MustSelector(SelectionQuery)

// Calculator selects the hooks of the current module for a hook phase and
// filters them by their conditions.
type Calculator struct {
	resolver DescriptorResolver
	engines  *expressions.Engines
	selector *expressions.Selector
	events   engine.EventAppender
}

// CalculatorOption configures a Calculator.
type CalculatorOption func(*Calculator)

// WithSelector replaces the SelectionQuery selector.
func WithSelector(sel *expressions.Selector) CalculatorOption {
	return func(c *Calculator) { c.selector = sel }
}

// WithResolver replaces the default ContextResolver.
func WithResolver(r DescriptorResolver) CalculatorOption {
	return func(c *Calculator) { c.resolver = r }
}

// WithSkipEvents records a hook_skipped event for every hook whose
// condition evaluates to false.
func WithSkipEvents(a engine.EventAppender) CalculatorOption {
	return func(c *Calculator) { c.events = a }
}

// NewCalculator creates a Calculator.
func NewCalculator(engines *expressions.Engines, opts ...CalculatorOption) *Calculator {
	c := &Calculator{resolver: ContextResolver{}, engines: engines, selector: defaultSelector}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Calculate implements engine.HooksCalculator.
func (c *Calculator) Calculate(ctx context.Context, pc *process.Context, phase string) ([]schema.Hook, error) {
	desc, module, err := currentModule(ctx, pc, c.resolver)
	if err != nil || module == nil {
		return nil, err
	}

	scope, err := expressions.NewScope(pc.ProcessID(), desc, module)
	if err != nil {
		return nil, err
	}
	selected, err := c.selector.Select(ctx, scope, phase)
	if err != nil {
		return nil, err
	}

	var hooks []schema.Hook
	for _, hook := range selected {
		ok, err := c.applies(ctx, pc, scope, hook, phase)
		if err != nil {
			return nil, err
		}
		if ok {
			hooks = append(hooks, hook)
		}
	}
	return hooks, nil
}

func (c *Calculator) applies(ctx context.Context, pc *process.Context, scope *expressions.Scope, hook schema.Hook, phase string) (bool, error) {
	if hook.Condition == "" {
		return true, nil
	}
	cond, err := c.engines.Condition(hook.ConditionEngine)
	if err != nil {
		return false, err
	}
	hs, err := scope.WithHook(hook, phase)
	if err != nil {
		return false, err
	}
	ok, err := cond.Eval(ctx, hook.Condition, hs)
	if err != nil {
		if se, isStep := schema.AsStepError(err); isStep && se.Step == "" {
			return false, se.Clone().WithStep(pc.StepName())
		}
		return false, err
	}
	if !ok {
		pc.Logger().Debug(ctx, "hook condition false", "hook", hook.Name, "hook_phase", phase)
		c.record(ctx, pc, hook, phase)
	}
	return ok, nil
}

func (c *Calculator) record(ctx context.Context, pc *process.Context, hook schema.Hook, phase string) {
	if c.events == nil {
		return
	}
	payload, _ := json.Marshal(map[string]string{"hook": hook.Name, "hook_phase": phase})
	err := c.events.AppendEvent(ctx, &store.Event{
		ProcessID: pc.ProcessID(),
		Step:      pc.StepName(),
		Type:      schema.EventHookSkipped,
		Payload:   payload,
	})
	if err != nil {
		pc.Logger().Debug(ctx, "hook_skipped event dropped", "error", err)
	}
}

var _ engine.HooksCalculator = (*Calculator)(nil)
