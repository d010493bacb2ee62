package expressions

import (
	"context"
	"fmt"

	"github.com/rendis/mtaflow/pkg/schema"
)

// Condition is a hook condition language. Compile is used by descriptor
// validation, Eval by hook calculation.
type Condition interface {
	Language() string
	Compile(expression string) error
	Eval(ctx context.Context, expression string, scope *Scope) (bool, error)
}

// Engines holds the condition languages a descriptor may name.
type Engines struct {
	CEL  *CELCondition
	Expr *ExprCondition
}

// NewEngines creates both condition languages.
func NewEngines() (*Engines, error) {
	c, err := NewCELCondition()
	if err != nil {
		return nil, err
	}
	return &Engines{CEL: c, Expr: NewExprCondition()}, nil
}

// Condition returns the language for a hook's condition_engine value.
// An empty name selects CEL.
func (e *Engines) Condition(name string) (Condition, error) {
	switch name {
	case "", "cel":
		return e.CEL, nil
	case "expr":
		return e.Expr, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"unknown condition engine %q; available: cel, expr", name)
	}
}

func compileError(lang, expression string, err error) *schema.StepError {
	return schema.NewErrorf(schema.ErrCodeValidation, "%s condition %q does not compile: %s", lang, expression, err.Error()).
		WithCause(err).
		WithDetails(map[string]any{"expression": expression})
}

func evalError(lang, expression string, err error) *schema.StepError {
	return schema.NewErrorf(schema.ErrCodeExecution, "%s condition %q failed: %s", lang, expression, err.Error()).
		WithCause(err).
		WithDetails(map[string]any{"expression": expression})
}

// asBool requires a boolean condition result.
func asBool(lang, expression string, out any) (bool, error) {
	b, ok := out.(bool)
	if !ok {
		got := "null"
		if out != nil {
			got = fmt.Sprintf("%T", out)
		}
		return false, schema.NewErrorf(schema.ErrCodeValidation,
			"%s condition %q must evaluate to a boolean, got %s", lang, expression, got).
			WithDetails(map[string]any{"expression": expression})
	}
	return b, nil
}
