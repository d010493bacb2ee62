package steps

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rendis/mtaflow/internal/cloud"
	"github.com/rendis/mtaflow/internal/engine"
	"github.com/rendis/mtaflow/internal/process"
	"github.com/rendis/mtaflow/internal/variables"
	"github.com/rendis/mtaflow/pkg/schema"
)

// harness runs steps against an in-memory process the way the host engine
// does: one Execute per tick, reading the markers afterwards.
type harness struct {
	t      *testing.T
	ctx    context.Context
	exec   *variables.MapContext
	diag   *memDiagnostics
	client *scriptedClient
	clock  *manualClock
	runner *engine.Executor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	diag := &memDiagnostics{values: map[string]string{}}
	return &harness{
		t:      t,
		ctx:    context.Background(),
		exec:   variables.NewMapContext("process-1"),
		diag:   diag,
		client: &scriptedClient{},
		clock:  &manualClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		runner: engine.NewExecutor(engine.ExecutorConfig{Diagnostics: diag}),
	}
}

func set[T any](h *harness, v variables.Variable[T], value T) {
	h.t.Helper()
	require.NoError(h.t, variables.Set(h.ctx, h.exec, v, value))
}

func get[T any](h *harness, v variables.Variable[T]) T {
	h.t.Helper()
	out, err := variables.Get(h.ctx, h.exec, v)
	require.NoError(h.t, err)
	return out
}

// tick runs one invocation and returns the host marker.
func (h *harness) tick(step engine.Step) (schema.ExecutionStatus, error) {
	h.t.Helper()
	_, err := h.runner.Execute(h.ctx, step, h.exec)
	return get(h, process.VarStepExecutionStatus), err
}

func (h *harness) taskStep(timeout time.Duration) engine.Step {
	return ExecuteTask(TaskConfig{Client: h.client, Timeout: timeout, Clock: h.clock})
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type memDiagnostics struct {
	mu     sync.Mutex
	values map[string]string
}

func (m *memDiagnostics) AddOrUpdate(_ context.Context, processID, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[processID+"/"+key] = value
	return nil
}

func (m *memDiagnostics) get(processID, key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[processID+"/"+key]
}

// scriptedClient returns task states in order; the last one repeats.
type scriptedClient struct {
	states  []cloud.TaskState
	runs    []cloud.TaskRequest
	polls   int
	runErr  error
	pollErr error
}

func (c *scriptedClient) RunTask(_ context.Context, appGUID string, req cloud.TaskRequest) (*cloud.Task, error) {
	if c.runErr != nil {
		return nil, c.runErr
	}
	c.runs = append(c.runs, req)
	return &cloud.Task{GUID: "task-guid", Name: req.Name, Command: req.Command, State: cloud.TaskPending}, nil
}

func (c *scriptedClient) GetTask(_ context.Context, guid string) (*cloud.Task, error) {
	if c.pollErr != nil {
		return nil, c.pollErr
	}
	state := cloud.TaskRunning
	if len(c.states) > 0 {
		state = c.states[min(c.polls, len(c.states)-1)]
	}
	c.polls++
	task := &cloud.Task{GUID: guid, Name: "migrate", State: state}
	if state == cloud.TaskFailed {
		task.Result.FailureReason = "exit status 1"
	}
	return task, nil
}
