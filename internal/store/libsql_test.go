package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/mtaflow/internal/process"
	"github.com/rendis/mtaflow/internal/variables"
	"github.com/rendis/mtaflow/pkg/schema"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	s, err := NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() {
		_ = s.Close()
		_ = os.RemoveAll(dir)
	})
	return s
}

func seedProcess(t *testing.T, s *LibSQLStore) *Process {
	t.Helper()
	p := &Process{
		ID:   uuid.New().String(),
		Flow: "deploy",
	}
	require.NoError(t, s.CreateProcess(context.Background(), p))
	return p
}

// --- Migrations ---

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))

	var version int
	require.NoError(t, s.DB().QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&version))
	assert.Equal(t, 2, version)
}

func TestLoadMigrations_Ordered(t *testing.T) {
	ms, err := loadMigrations()
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.Equal(t, 1, ms[0].Version)
	assert.Equal(t, "initial_schema", ms[0].Name)
	assert.Equal(t, 2, ms[1].Version)
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements("-- header\nCREATE TABLE a (x INT);\n-- only a comment\n;\nCREATE TABLE b (y INT)")
	assert.Equal(t, []string{"-- header\nCREATE TABLE a (x INT)", "CREATE TABLE b (y INT)"}, stmts)
}

// --- Processes ---

func TestCreateAndGetProcess(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &Process{ID: uuid.New().String(), Flow: "deploy", DescriptorID: "my-mta"}
	require.NoError(t, s.CreateProcess(ctx, p))

	got, err := s.GetProcess(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "deploy", got.Flow)
	assert.Equal(t, "my-mta", got.DescriptorID)
	assert.Equal(t, schema.ProcessStatusPending, got.Status)
	assert.Nil(t, got.CompletedAt)
}

func TestCreateProcess_Duplicate(t *testing.T) {
	s := newTestStore(t)
	p := seedProcess(t, s)

	err := s.CreateProcess(context.Background(), &Process{ID: p.ID, Flow: "deploy"})
	require.Error(t, err)
	stepErr, ok := schema.AsStepError(err)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeConflict, stepErr.Code)
}

func TestGetProcess_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetProcess(context.Background(), "nonexistent")
	require.Error(t, err)
	stepErr, ok := schema.AsStepError(err)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeNotFound, stepErr.Code)
}

func TestUpdateProcess(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedProcess(t, s)

	status := schema.ProcessStatusCompleted
	step := "increment-index"
	last := schema.ExecutionStatusSuccess
	now := time.Now().UTC()
	require.NoError(t, s.UpdateProcess(ctx, p.ID, ProcessUpdate{
		Status:      &status,
		CurrentStep: &step,
		LastStatus:  &last,
		CompletedAt: &now,
	}))

	got, err := s.GetProcess(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.ProcessStatusCompleted, got.Status)
	assert.Equal(t, "increment-index", got.CurrentStep)
	assert.Equal(t, schema.ExecutionStatusSuccess, got.LastStatus)
	require.NotNil(t, got.CompletedAt)
}

func TestUpdateProcess_NotFound(t *testing.T) {
	s := newTestStore(t)
	status := schema.ProcessStatusRunning
	err := s.UpdateProcess(context.Background(), "missing", ProcessUpdate{Status: &status})
	require.Error(t, err)
}

func TestUpdateProcess_NoFields(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.UpdateProcess(context.Background(), "missing", ProcessUpdate{}))
}

func TestListProcesses_Filter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p1 := seedProcess(t, s)
	seedProcess(t, s)
	running := schema.ProcessStatusRunning
	require.NoError(t, s.UpdateProcess(ctx, p1.ID, ProcessUpdate{Status: &running}))

	all, err := s.ListProcesses(ctx, ProcessFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	filtered, err := s.ListProcesses(ctx, ProcessFilter{Status: &running})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, p1.ID, filtered[0].ID)

	limited, err := s.ListProcesses(ctx, ProcessFilter{Flow: "deploy", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

// --- Variables ---

func TestVariables_CRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedProcess(t, s)

	v, err := s.GetVariable(ctx, p.ID, "index")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, s.SetVariable(ctx, p.ID, "index", []byte{1, 1, '4'}))
	require.NoError(t, s.SetVariable(ctx, p.ID, "index", []byte{1, 1, '5'}))
	v, err = s.GetVariable(ctx, p.ID, "index")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 1, '5'}, v)

	require.NoError(t, s.SetVariable(ctx, p.ID, "appGuid", []byte{1, 1}))
	names, err := s.ListVariableNames(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"appGuid", "index"}, names)

	require.NoError(t, s.DeleteVariable(ctx, p.ID, "index"))
	v, err = s.GetVariable(ctx, p.ID, "index")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestVariables_ScopedByProcess(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p1 := seedProcess(t, s)
	p2 := seedProcess(t, s)

	require.NoError(t, s.SetVariable(ctx, p1.ID, "moduleToDeploy", []byte("a")))
	v, err := s.GetVariable(ctx, p2.ID, "moduleToDeploy")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestProcessVariables_TypedRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedProcess(t, s)
	exec := NewProcessVariables(s, p.ID)

	assert.Equal(t, p.ID, exec.ProcessID())

	modules := variables.Collection[string]("modulesToDeploy")
	require.NoError(t, variables.Set(ctx, exec, modules, []string{"db", "web", "worker"}))
	got, err := variables.Get(ctx, exec, modules)
	require.NoError(t, err)
	assert.Equal(t, []string{"db", "web", "worker"}, got)

	idx := variables.Int("modulesIndex", 0)
	require.NoError(t, variables.Set(ctx, exec, idx, 4))
	require.NoError(t, variables.Remove(ctx, exec, idx))
	n, err := variables.Get(ctx, exec, idx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

// --- Diagnostics ---

func TestDiagnostics_AddOrUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddOrUpdate(ctx, "proc-1", "errorType", "UNKNOWN_ERROR"))
	require.NoError(t, s.AddOrUpdate(ctx, "proc-1", "errorType", "CONTENT_ERROR"))
	require.NoError(t, s.AddOrUpdate(ctx, "proc-1", "errorMessage", "bad input"))
	require.NoError(t, s.AddOrUpdate(ctx, "proc-2", "errorType", "UNKNOWN_ERROR"))

	diag, err := s.GetDiagnostics(ctx, "proc-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"errorType": "CONTENT_ERROR", "errorMessage": "bad input"}, diag)
}

// --- Progress messages ---

func TestProgressMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three"} {
		require.NoError(t, s.AddProgressMessage(ctx, process.ProgressMessage{
			ProcessID: "proc-1", Step: "execute-task", Type: schema.ProgressInfo, Text: text,
		}))
	}
	require.NoError(t, s.AddProgressMessage(ctx, process.ProgressMessage{
		ProcessID: "proc-2", Type: schema.ProgressError, Text: "other",
	}))

	msgs, err := s.ListProgressMessages(ctx, "proc-1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "one", msgs[0].Text)
	assert.Equal(t, "execute-task", msgs[0].Step)
	assert.Equal(t, schema.ProgressInfo, msgs[0].Type)

	tail, err := s.ListProgressMessages(ctx, "proc-1", msgs[1].ID)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, "three", tail[0].Text)
}

func TestVacuum(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Vacuum(context.Background()))
}
