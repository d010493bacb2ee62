package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/mtaflow/pkg/schema"
)

const byPhase = `.hook.phase as $p | .module.hooks[]? | select(any(.phases[]?; . == $p))`

func phasedScope(t *testing.T) *Scope {
	t.Helper()
	desc := testDescriptor()
	desc.Modules[0].Hooks = []schema.Hook{
		{Name: "a", Phases: []string{"execute-task.before"}},
		{Name: "b", Phases: []string{"execute-task.after"}},
		{Name: "c", Phases: []string{"execute-task.before", "execute-task.after"}},
	}
	scope, err := NewScope("proc-1", desc, desc.Module("backend"))
	require.NoError(t, err)
	return scope
}

func hookNames(hooks []schema.Hook) []string {
	var out []string
	for _, h := range hooks {
		out = append(out, h.Name)
	}
	return out
}

func TestSelector_PicksHooksForPhase(t *testing.T) {
	sel := MustSelector(byPhase)
	scope := phasedScope(t)

	got, err := sel.Select(context.Background(), scope, "execute-task.before")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, hookNames(got))

	got, err = sel.Select(context.Background(), scope, "execute-task.after")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, hookNames(got))

	got, err = sel.Select(context.Background(), scope, "undeploy.before")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSelector_NoModule(t *testing.T) {
	got, err := MustSelector(byPhase).Select(context.Background(), &Scope{}, "execute-task.before")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSelector_EnvironmentHidden(t *testing.T) {
	t.Setenv("MTAFLOW_SECRET", "s3cr3t")

	got, err := MustSelector(`.module.hooks[] | select(($ENV | length) == 0 and env.MTAFLOW_SECRET == null)`).
		Select(context.Background(), phasedScope(t), "x")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, hookNames(got))
}

func TestSelector_NumericParamsComparable(t *testing.T) {
	desc := testDescriptor()
	desc.Parameters["replicas"] = 2
	scope, err := NewScope("proc-1", desc, desc.Module("backend"))
	require.NoError(t, err)

	got, err := MustSelector(`if .params.replicas > 1 then .module.hooks[] else empty end`).
		Select(context.Background(), scope, "x")
	require.NoError(t, err)
	assert.Equal(t, []string{"migrate"}, hookNames(got))
}

func TestSelector_OutputsMustBeHooks(t *testing.T) {
	scope := phasedScope(t)
	for _, query := range []string{`.module.hooks[].phases`, `.module.name`, `{}`} {
		_, err := MustSelector(query).Select(context.Background(), scope, "execute-task.before")
		require.Error(t, err, query)
		assert.Contains(t, err.Error(), "hook objects")
	}
}

func TestSelector_Errors(t *testing.T) {
	_, err := NewSelector(".[[[")
	require.Error(t, err)
	stepErr, ok := schema.AsStepError(err)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeValidation, stepErr.Code)

	_, err = MustSelector(`error("boom")`).Select(context.Background(), &Scope{}, "x")
	require.Error(t, err)
	stepErr, ok = schema.AsStepError(err)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeExecution, stepErr.Code)

	assert.Panics(t, func() { MustSelector("{") })
}
