package store

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/mtaflow/pkg/schema"
)

func newTestEventLog(t *testing.T) (*EventLog, *LibSQLStore) {
	t.Helper()
	s := newTestStore(t)
	return NewEventLog(s), s
}

func TestEventLog_AppendEvent_MonotonicSequence(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()
	p := seedProcess(t, s)

	for i := 0; i < 5; i++ {
		e := &Event{ProcessID: p.ID, Step: "execute-task", Type: schema.EventStepPolling}
		require.NoError(t, el.AppendEvent(ctx, e))
		assert.Equal(t, int64(i+1), e.Sequence, "sequence should be monotonic")
		assert.False(t, e.Timestamp.IsZero())
	}
}

func TestEventLog_SequencePerProcess(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()
	p1 := seedProcess(t, s)
	p2 := seedProcess(t, s)

	e1 := &Event{ProcessID: p1.ID, Type: schema.EventProcessStarted}
	e2 := &Event{ProcessID: p2.ID, Type: schema.EventProcessStarted}
	require.NoError(t, el.AppendEvent(ctx, e1))
	require.NoError(t, el.AppendEvent(ctx, e2))
	assert.Equal(t, int64(1), e1.Sequence)
	assert.Equal(t, int64(1), e2.Sequence)
}

func TestEventLog_ConcurrentAppend(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()
	p := seedProcess(t, s)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, el.AppendEvent(ctx, &Event{ProcessID: p.ID, Step: "s", Type: schema.EventStepPolling}))
		}()
	}
	wg.Wait()

	events, err := el.GetEvents(ctx, p.ID, 0)
	require.NoError(t, err)
	require.Len(t, events, 10)
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Sequence)
	}
}

func TestEventLog_GetEvents(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()
	p := seedProcess(t, s)

	for _, et := range []string{schema.EventStepStarted, schema.EventStepCompleted, schema.EventStepFailed} {
		require.NoError(t, el.AppendEvent(ctx, &Event{ProcessID: p.ID, Step: "s1", Type: et}))
	}

	events, err := el.GetEvents(ctx, p.ID, 0)
	require.NoError(t, err)
	assert.Len(t, events, 3)

	events, err = el.GetEvents(ctx, p.ID, 1)
	require.NoError(t, err)
	assert.Len(t, events, 2)
	assert.Equal(t, int64(2), events[0].Sequence)
}

func TestStore_GetEventsByType(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()
	p := seedProcess(t, s)

	require.NoError(t, el.AppendEvent(ctx, &Event{ProcessID: p.ID, Step: "s1", Type: schema.EventStepStarted}))
	require.NoError(t, el.AppendEvent(ctx, &Event{ProcessID: p.ID, Step: "s1", Type: schema.EventStepCompleted}))
	require.NoError(t, el.AppendEvent(ctx, &Event{ProcessID: p.ID, Step: "s2", Type: schema.EventStepStarted}))

	events, err := s.GetEventsByType(ctx, schema.EventStepStarted, EventFilter{ProcessID: p.ID})
	require.NoError(t, err)
	assert.Len(t, events, 2)

	events, err = s.GetEventsByType(ctx, schema.EventStepStarted, EventFilter{ProcessID: p.ID, Step: "s2", Limit: 5})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "s2", events[0].Step)
}

func TestEventLog_ReplayEvents(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()
	p := seedProcess(t, s)
	now := time.Now().UTC()

	appendAt := func(step, typ string, at time.Time, payload string) {
		e := &Event{ProcessID: p.ID, Step: step, Type: typ, Timestamp: at}
		if payload != "" {
			e.Payload = json.RawMessage(payload)
		}
		require.NoError(t, el.AppendEvent(ctx, e))
	}

	appendAt("", schema.EventProcessStarted, now, "")
	// execute-task: started, polling, retried, started again, completed.
	appendAt("execute-task", schema.EventStepStarted, now, "")
	appendAt("execute-task", schema.EventStepPolling, now.Add(time.Second), "")
	appendAt("execute-task", schema.EventStepRetrying, now.Add(2*time.Second), "")
	appendAt("execute-task", schema.EventStepStarted, now.Add(3*time.Second), "")
	appendAt("execute-task", schema.EventStepCompleted, now.Add(4*time.Second), "")
	// check-app: started, failed.
	appendAt("check-app", schema.EventStepStarted, now, "")
	appendAt("check-app", schema.EventStepFailed, now.Add(time.Second), `{"code":"CONTENT_ERROR"}`)

	steps, err := el.ReplayEvents(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)

	task := steps["execute-task"]
	assert.Equal(t, schema.StepPhaseDone, task.Phase)
	assert.Equal(t, 1, task.Retries)
	require.NotNil(t, task.CompletedAt)
	assert.InDelta(t, 4000, task.DurationMs, 1)

	check := steps["check-app"]
	assert.Equal(t, schema.StepPhaseError, check.Phase)
	assert.JSONEq(t, `{"code":"CONTENT_ERROR"}`, string(check.Error))
}

func TestEventLog_ReplayEvents_Empty(t *testing.T) {
	el, s := newTestEventLog(t)
	p := seedProcess(t, s)

	steps, err := el.ReplayEvents(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Empty(t, steps)
}

func TestEventLog_ReplayEvents_SequenceGap(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()
	p := seedProcess(t, s)

	require.NoError(t, el.AppendEvent(ctx, &Event{ProcessID: p.ID, Step: "s1", Type: schema.EventStepStarted}))
	_, err := s.DB().ExecContext(ctx,
		`INSERT INTO events (process_id, step, event_type, timestamp, sequence) VALUES (?, 's1', ?, ?, 3)`,
		p.ID, schema.EventStepCompleted, time.Now().UTC())
	require.NoError(t, err)

	_, err = el.ReplayEvents(ctx, p.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sequence gap")
}
