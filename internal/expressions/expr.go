package expressions

import (
	"context"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/rendis/mtaflow/pkg/schema"
)

// ExprCondition evaluates conditions written for expr-lang/expr. Hooks opt
// into it with condition_engine: expr when a condition needs nil coalescing
// (??), optional chaining (?.) or array builtins such as any and all.
type ExprCondition struct {
	programs sync.Map // expression -> *vm.Program
}

// NewExprCondition creates an ExprCondition.
func NewExprCondition() *ExprCondition {
	return &ExprCondition{}
}

func (c *ExprCondition) Language() string { return "expr" }

// Compile checks the syntax of expression. Unknown names compile to nil.
func (c *ExprCondition) Compile(expression string) error {
	_, err := c.program(expression)
	return err
}

// Eval runs expression against scope.
func (c *ExprCondition) Eval(ctx context.Context, expression string, scope *Scope) (bool, error) {
	prg, err := c.program(expression)
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	out, err := vm.Run(prg, scope.Data())
	if err != nil {
		return false, evalError(c.Language(), expression, err)
	}
	return asBool(c.Language(), expression, out)
}

func (c *ExprCondition) program(expression string) (*vm.Program, error) {
	if cached, ok := c.programs.Load(expression); ok {
		return cached.(*vm.Program), nil
	}
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty expr condition")
	}
	empty := &Scope{}
	prg, err := expr.Compile(expression, expr.Env(empty.Data()), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, compileError(c.Language(), expression, err)
	}
	actual, _ := c.programs.LoadOrStore(expression, prg)
	return actual.(*vm.Program), nil
}

var _ Condition = (*ExprCondition)(nil)
