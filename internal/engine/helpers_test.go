package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rendis/mtaflow/internal/process"
	"github.com/rendis/mtaflow/internal/store"
	"github.com/rendis/mtaflow/internal/variables"
	"github.com/rendis/mtaflow/pkg/schema"
)

// mockAppender records appended events for assertions.
type mockAppender struct {
	mu     sync.Mutex
	events []*store.Event
}

func (m *mockAppender) AppendEvent(_ context.Context, event *store.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockAppender) Events() []*store.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]*store.Event, len(m.events))
	copy(cp, m.events)
	return cp
}

func (m *mockAppender) Types() []string {
	var out []string
	for _, e := range m.Events() {
		out = append(out, e.Type)
	}
	return out
}

// failAppender always returns an error.
type failAppender struct{}

func (f *failAppender) AppendEvent(_ context.Context, _ *store.Event) error {
	return errors.New("store unavailable")
}

// mockDiagnostics is an in-memory DiagnosticsStore.
type mockDiagnostics struct {
	mu   sync.Mutex
	data map[string]map[string]string
	err  error
}

func newMockDiagnostics() *mockDiagnostics {
	return &mockDiagnostics{data: make(map[string]map[string]string)}
}

func (m *mockDiagnostics) AddOrUpdate(_ context.Context, processID, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.data[processID] == nil {
		m.data[processID] = make(map[string]string)
	}
	m.data[processID][key] = value
	return nil
}

func (m *mockDiagnostics) Get(processID, key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[processID][key]
}

// fakeClock is a settable Clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// harness runs a step against an in-memory execution context, one host
// tick per Tick call.
type harness struct {
	t        *testing.T
	exec     *variables.MapContext
	events   *mockAppender
	diag     *mockDiagnostics
	executor *Executor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		exec:   variables.NewMapContext("proc-" + t.Name()),
		events: &mockAppender{},
		diag:   newMockDiagnostics(),
	}
	h.executor = NewExecutor(ExecutorConfig{Events: h.events, Diagnostics: h.diag})
	return h
}

func (h *harness) Tick(step Step) (schema.StepPhase, error) {
	return h.executor.Execute(context.Background(), step, h.exec)
}

func (h *harness) Status() schema.ExecutionStatus {
	h.t.Helper()
	s, err := variables.Get(context.Background(), h.exec, process.VarStepExecutionStatus)
	require.NoError(h.t, err)
	return s
}

func (h *harness) Marker() schema.StepPhase {
	h.t.Helper()
	p, err := variables.Get(context.Background(), h.exec, process.VarStepPhase)
	require.NoError(h.t, err)
	return p
}

func (h *harness) NextEntry(step string) schema.StepPhase {
	h.t.Helper()
	p, err := variables.Get(context.Background(), h.exec, process.StepPhaseVar(step))
	require.NoError(h.t, err)
	return p
}

func (h *harness) RetryCount(step string) int {
	h.t.Helper()
	n, err := variables.Get(context.Background(), h.exec, process.RetryCountVar(step))
	require.NoError(h.t, err)
	return n
}

func (h *harness) SetInt(name string, v int) {
	h.t.Helper()
	require.NoError(h.t, variables.Set(context.Background(), h.exec, variables.Int(name, 0), v))
}

// scriptedOp returns the scripted states in order, repeating the last one.
type scriptedOp struct {
	name   string
	states []schema.AsyncExecutionState
	errs   []error
	calls  int
}

func (o *scriptedOp) Name() string { return o.name }

func (o *scriptedOp) Poll(context.Context, *process.Context) (schema.AsyncExecutionState, error) {
	i := min(o.calls, len(o.states)-1)
	o.calls++
	var err error
	if i < len(o.errs) {
		err = o.errs[i]
	}
	return o.states[i], err
}

// scriptedAsync is an AsyncStep with fixed operations.
type scriptedAsync struct {
	name     string
	startOut schema.StepPhase
	startErr error
	starts   int
	ops      []AsyncOperation
}

func (s *scriptedAsync) Name() string { return s.name }

func (s *scriptedAsync) Start(context.Context, *process.Context) (schema.StepPhase, error) {
	s.starts++
	return s.startOut, s.startErr
}

func (s *scriptedAsync) Operations() []AsyncOperation { return s.ops }
