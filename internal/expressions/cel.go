package expressions

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/rendis/mtaflow/pkg/schema"
)

// CELCondition evaluates hook conditions written in CEL, the default
// condition language. Each namespace of Scope is a map(string, dyn) variable,
// so only module, params, process and hook can be referenced.
type CELCondition struct {
	env      *cel.Env
	programs sync.Map // expression -> cel.Program
}

// NewCELCondition builds the CEL environment.
func NewCELCondition() (*CELCondition, error) {
	mapType := cel.MapType(cel.StringType, cel.DynType)
	opts := make([]cel.EnvOption, 0, len(Namespaces))
	for _, ns := range Namespaces {
		opts = append(opts, cel.Variable(ns, mapType))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &CELCondition{env: env}, nil
}

func (c *CELCondition) Language() string { return "cel" }

// Compile type checks expression. A result that is statically known not to be
// a boolean is rejected here; dyn results are checked when evaluated.
func (c *CELCondition) Compile(expression string) error {
	_, err := c.program(expression)
	return err
}

// Eval runs expression against scope.
func (c *CELCondition) Eval(ctx context.Context, expression string, scope *Scope) (bool, error) {
	prg, err := c.program(expression)
	if err != nil {
		return false, err
	}
	out, _, err := prg.ContextEval(ctx, scope.Data())
	if err != nil {
		return false, evalError(c.Language(), expression, err)
	}
	return asBool(c.Language(), expression, out.Value())
}

func (c *CELCondition) program(expression string) (cel.Program, error) {
	if cached, ok := c.programs.Load(expression); ok {
		return cached.(cel.Program), nil
	}
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty cel condition")
	}
	ast, issues := c.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, compileError(c.Language(), expression, issues.Err())
	}
	if t := ast.OutputType(); !t.IsExactType(cel.BoolType) && !t.IsExactType(cel.DynType) {
		return nil, compileError(c.Language(), expression,
			errors.New("result type is "+t.String()+", not bool"))
	}
	prg, err := c.env.Program(ast, cel.InterruptCheckFrequency(100))
	if err != nil {
		return nil, compileError(c.Language(), expression, err)
	}
	actual, _ := c.programs.LoadOrStore(expression, prg)
	return actual.(cel.Program), nil
}

var _ Condition = (*CELCondition)(nil)
