package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/mtaflow/pkg/schema"
)

// backendScope is the scope of the backend module of testDescriptor.
func backendScope(t *testing.T) *Scope {
	t.Helper()
	desc := testDescriptor()
	scope, err := NewScope("proc-1", desc, desc.Module("backend"))
	require.NoError(t, err)
	return scope
}

func TestEngines_Condition(t *testing.T) {
	engines, err := NewEngines()
	require.NoError(t, err)

	for name, want := range map[string]string{"": "cel", "cel": "cel", "expr": "expr"} {
		c, err := engines.Condition(name)
		require.NoError(t, err)
		assert.Equal(t, want, c.Language())
	}

	_, err = engines.Condition("jq")
	require.Error(t, err)
	stepErr, ok := schema.AsStepError(err)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeValidation, stepErr.Code)
}

func TestConditions_SameVerdictInBothLanguages(t *testing.T) {
	engines, err := NewEngines()
	require.NoError(t, err)
	scope := backendScope(t)

	tests := []struct {
		expression string
		want       bool
	}{
		{`module.name == "backend"`, true},
		{`params.environment == "dev"`, false},
		{`process.descriptor == "shop" && module.parameters.region == "eu10"`, true},
	}
	for _, c := range []Condition{engines.CEL, engines.Expr} {
		for _, tt := range tests {
			t.Run(c.Language()+" "+tt.expression, func(t *testing.T) {
				got, err := c.Eval(context.Background(), tt.expression, scope)
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			})
		}
	}
}

func TestConditions_NonBooleanResult(t *testing.T) {
	engines, err := NewEngines()
	require.NoError(t, err)

	for _, c := range []Condition{engines.CEL, engines.Expr} {
		_, err := c.Eval(context.Background(), `module.name`, backendScope(t))
		require.Error(t, err, c.Language())
		assert.Contains(t, err.Error(), "must evaluate to a boolean")
		stepErr, ok := schema.AsStepError(err)
		require.True(t, ok)
		assert.True(t, stepErr.IsContent())
	}
}

func TestConditions_EmptyExpression(t *testing.T) {
	engines, err := NewEngines()
	require.NoError(t, err)

	for _, c := range []Condition{engines.CEL, engines.Expr} {
		err := c.Compile("")
		require.Error(t, err, c.Language())
		assert.Contains(t, err.Error(), "empty")
	}
}
