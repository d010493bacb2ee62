package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/mtaflow/pkg/schema"
)

func TestReport_EmptyIsOK(t *testing.T) {
	r := &Report{}
	assert.True(t, r.OK())
	assert.NoError(t, r.Err())
}

func TestReport_NotesAloneAreOK(t *testing.T) {
	r := &Report{}
	r.note(root.issue(schema.ErrCodeValidation, "hook phase listed twice"))
	assert.True(t, r.OK())
	assert.NoError(t, r.Err())
}

func TestIssue_String(t *testing.T) {
	m := &schema.Module{Name: "backend"}
	h := &schema.Hook{Name: "warmup"}

	assert.Equal(t, "descriptor is nil", root.issue(schema.ErrCodeValidation, "descriptor is nil").String())
	assert.Equal(t, `module "backend": runs tasks but has no app`,
		moduleAt(1, m).field("app").issue(schema.ErrCodeMissingParameter, "runs tasks but has no app").String())

	issue := moduleAt(1, m).hookAt(0, h).field("condition").issue(schema.ErrCodeValidation, "bad %s", "syntax")
	assert.Equal(t, `module "backend" hook "warmup": bad syntax`, issue.String())
	assert.Equal(t, "modules[1].hooks[0].condition", issue.Path)
}

func TestReport_ErrCarriesNotes(t *testing.T) {
	r := &Report{}
	r.reject(root.issue(schema.ErrCodeValidation, "first"))
	r.note(root.issue(schema.ErrCodeValidation, "heads up"))

	other := &Report{}
	other.reject(root.issue(ErrCodeCycle, "second"))
	r.include(other)

	err := r.Err()
	require.Error(t, err)
	stepErr, ok := schema.AsStepError(err)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeValidation, stepErr.Code)
	assert.Equal(t, "invalid deployment descriptor: first (and 1 more)", stepErr.Message)
	assert.Len(t, stepErr.Details["problems"], 2)
	assert.Len(t, stepErr.Details["notes"], 1)
}
