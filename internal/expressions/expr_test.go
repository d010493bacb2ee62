package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/mtaflow/pkg/schema"
)

func TestExprCondition_Operators(t *testing.T) {
	c := NewExprCondition()
	scope := &Scope{
		Module: map[string]any{
			"name": "backend",
			"parameters": map[string]any{
				"services": []any{"db", "cache"},
				"region":   "eu10",
			},
		},
		Params: map[string]any{"environment": "prod"},
	}

	tests := []struct {
		name       string
		expression string
	}{
		{"membership", `"db" in module.parameters.services`},
		{"any builtin", `any(module.parameters.services, # == "cache")`},
		{"nil coalescing", `(module.parameters.zone ?? "none") == "none"`},
		{"optional chaining", `module?.missing?.value == nil`},
		{"string ops", `module.parameters.region startsWith "eu"`},
		{"empty namespace", `len(hook) == 0`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Eval(context.Background(), tt.expression, scope)
			require.NoError(t, err)
			assert.True(t, got)
		})
	}
}

func TestExprCondition_CompileError(t *testing.T) {
	err := NewExprCondition().Compile(`module.name ==`)
	require.Error(t, err)

	stepErr, ok := schema.AsStepError(err)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeValidation, stepErr.Code)
	assert.Contains(t, stepErr.Details, "expression")
}

func TestExprCondition_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewExprCondition().Eval(ctx, `true`, &Scope{})
	assert.ErrorIs(t, err, context.Canceled)
}
