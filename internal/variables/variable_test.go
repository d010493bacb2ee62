package variables

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/mtaflow/pkg/schema"
)

// failingContext fails every call.
type failingContext struct{}

func (failingContext) ProcessID() string { return "proc-fail" }
func (failingContext) Variable(context.Context, string) ([]byte, error) {
	return nil, errors.New("store unavailable")
}
func (failingContext) SetVariable(context.Context, string, []byte) error {
	return errors.New("store unavailable")
}
func (failingContext) RemoveVariable(context.Context, string) error {
	return errors.New("store unavailable")
}

func TestGet_UnsetReturnsDefault(t *testing.T) {
	ec := NewMapContext("proc-1")
	ctx := context.Background()

	got, err := Get(ctx, ec, String("indexVariableName", "index"))
	require.NoError(t, err)
	assert.Equal(t, "index", got)

	n, err := Get(ctx, ec, Int("modulesCount", 0))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestGet_RequiredMissing(t *testing.T) {
	ec := NewMapContext("proc-1")
	v := Variable[string]{Name: "appGuid", Serializer: Scalar[string](), Required: true}

	_, err := Get(context.Background(), ec, v)
	require.Error(t, err)

	stepErr, ok := schema.AsStepError(err)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeMissingParameter, stepErr.Code)
	assert.True(t, stepErr.IsContent())
}

func TestSetGet_Scalars(t *testing.T) {
	ec := NewMapContext("proc-1")
	ctx := context.Background()

	require.NoError(t, Set(ctx, ec, Int("modulesIndex", 0), 4))
	n, err := Get(ctx, ec, Int("modulesIndex", 0))
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	require.NoError(t, Set(ctx, ec, Bool("keepFiles", false), true))
	b, err := Get(ctx, ec, Bool("keepFiles", false))
	require.NoError(t, err)
	assert.True(t, b)

	started := time.Date(2026, 3, 1, 12, 0, 0, 500, time.UTC)
	require.NoError(t, Set(ctx, ec, Time("task.startTime"), started))
	ts, err := Get(ctx, ec, Time("task.startTime"))
	require.NoError(t, err)
	assert.True(t, started.Equal(ts))

	d := Variable[time.Duration]{Name: "timeout", Serializer: Scalar[time.Duration]()}
	require.NoError(t, Set(ctx, ec, d, 90*time.Second))
	gotD, err := Get(ctx, ec, d)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, gotD)

	f := Variable[float64]{Name: "ratio", Serializer: Scalar[float64]()}
	require.NoError(t, Set(ctx, ec, f, 0.25))
	gotF, err := Get(ctx, ec, f)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, gotF, 1e-9)
}

func TestSetGet_Enum(t *testing.T) {
	ec := NewMapContext("proc-1")
	ctx := context.Background()
	v := Enum("stepPhase", schema.StepPhaseInit)

	got, err := Get(ctx, ec, v)
	require.NoError(t, err)
	assert.Equal(t, schema.StepPhaseInit, got)

	require.NoError(t, Set(ctx, ec, v, schema.StepPhasePoll))
	got, err = Get(ctx, ec, v)
	require.NoError(t, err)
	assert.Equal(t, schema.StepPhasePoll, got)
}

func TestSetGet_Object(t *testing.T) {
	ec := NewMapContext("proc-1")
	ctx := context.Background()
	v := Object[schema.TaskDefinition]("taskToExecute")

	task := schema.TaskDefinition{Name: "migrate", Command: "bin/migrate", MemoryMB: 256}
	require.NoError(t, Set(ctx, ec, v, task))

	got, err := Get(ctx, ec, v)
	require.NoError(t, err)
	assert.Equal(t, task, got)
}

func TestSetGet_Collection(t *testing.T) {
	ec := NewMapContext("proc-1")
	ctx := context.Background()
	v := Collection[string]("modulesToDeploy")

	modules := make([]string, 0, 200)
	for i := 0; i < 200; i++ {
		modules = append(modules, strings.Repeat("module", 4))
	}
	require.NoError(t, Set(ctx, ec, v, modules))

	raw, err := ec.Variable(ctx, "modulesToDeploy")
	require.NoError(t, err)
	assert.Equal(t, CurrentVersion, raw[0])
	assert.Equal(t, byte(EncodingBinary), raw[1])
	assert.Less(t, len(raw), 200*len("module")*4, "repetitive collections should compress")

	got, err := Get(ctx, ec, v)
	require.NoError(t, err)
	assert.Equal(t, modules, got)
}

func TestLookup(t *testing.T) {
	ec := NewMapContext("proc-1")
	ctx := context.Background()
	v := Int("timeout", 30)

	_, ok, err := Lookup(ctx, ec, v)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, Set(ctx, ec, v, 120))
	got, ok, err := Lookup(ctx, ec, v)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 120, got)
}

func TestRemove(t *testing.T) {
	ec := NewMapContext("proc-1")
	ctx := context.Background()
	v := Int("retryCount", 0)

	require.NoError(t, Set(ctx, ec, v, 2))
	require.NoError(t, Remove(ctx, ec, v))
	got, err := Get(ctx, ec, v)
	require.NoError(t, err)
	assert.Equal(t, 0, got)

	// Removing again is a no-op.
	require.NoError(t, Remove(ctx, ec, v))
}

func TestDeserialize_VersionMismatch(t *testing.T) {
	ec := NewMapContext("proc-1")
	ctx := context.Background()
	require.NoError(t, ec.SetVariable(ctx, "index", []byte{9, byte(EncodingScalar), '1'}))

	_, err := Get(ctx, ec, Int("index", 0))
	require.Error(t, err)
	stepErr, ok := schema.AsStepError(err)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeSerialization, stepErr.Code)
	assert.Equal(t, "index", stepErr.Details["variable"])
	assert.False(t, stepErr.IsContent())
}

func TestDeserialize_EncodingMismatch(t *testing.T) {
	ec := NewMapContext("proc-1")
	ctx := context.Background()
	require.NoError(t, Set(ctx, ec, String("name", ""), "web"))

	_, err := Get(ctx, ec, Object[map[string]any]("name"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected json")
}

func TestDeserialize_ShortPayload(t *testing.T) {
	_, err := Scalar[int]().Deserialize([]byte{1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too short")
}

func TestDeserialize_BadScalar(t *testing.T) {
	_, err := Scalar[int]().Deserialize(seal(EncodingScalar, []byte("four")))
	require.Error(t, err)
	stepErr, ok := schema.AsStepError(err)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeSerialization, stepErr.Code)
}

func TestStoreFailuresAreWrapped(t *testing.T) {
	ctx := context.Background()

	_, err := Get(ctx, failingContext{}, Int("index", 0))
	requireCode(t, err, schema.ErrCodeStore)

	err = Set(ctx, failingContext{}, Int("index", 0), 1)
	requireCode(t, err, schema.ErrCodeStore)

	err = Remove(ctx, failingContext{}, Int("index", 0))
	requireCode(t, err, schema.ErrCodeStore)
}

func TestMapContext_CopiesValues(t *testing.T) {
	ec := NewMapContext("proc-1")
	ctx := context.Background()

	in := []byte("abc")
	require.NoError(t, ec.SetVariable(ctx, "k", in))
	in[0] = 'x'

	out, err := ec.Variable(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(out))
	assert.Equal(t, []string{"k"}, ec.Names())
	assert.Equal(t, "proc-1", ec.ProcessID())
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	stepErr, ok := schema.AsStepError(err)
	require.True(t, ok)
	assert.Equal(t, code, stepErr.Code)
}
