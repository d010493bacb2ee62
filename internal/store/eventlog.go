package store

import (
	"context"
	"fmt"

	"github.com/rendis/mtaflow/pkg/schema"
)

// EventLog provides the append-only phase log on top of a LibSQLStore.
type EventLog struct {
	store *LibSQLStore
}

// NewEventLog wraps a LibSQLStore to provide event log operations.
func NewEventLog(s *LibSQLStore) *EventLog {
	return &EventLog{store: s}
}

// AppendEvent appends an event with a monotonically increasing per-process
// sequence. The write lock is taken before the sequence is read.
func (el *EventLog) AppendEvent(ctx context.Context, event *Event) error {
	tx, err := el.store.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin immediate tx: %w", err)
	}
	defer tx.Rollback()

	// In WAL mode BeginTx may start a deferred transaction; a write-intent
	// statement forces lock acquisition.
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_version (version, name) VALUES (-1, '_lock_noop')`); err != nil {
		return fmt.Errorf("acquire write lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM schema_version WHERE version = -1`); err != nil {
		return fmt.Errorf("cleanup write lock: %w", err)
	}

	if err := insertEvent(ctx, tx, event); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

// GetEvents returns events for a process with sequence > since, ordered by sequence ASC.
func (el *EventLog) GetEvents(ctx context.Context, processID string, since int64) ([]*Event, error) {
	return el.store.GetEvents(ctx, processID, since)
}

// ReplayEvents folds a process's events into per-step summaries.
// Returns an error if sequence gaps are detected.
func (el *EventLog) ReplayEvents(ctx context.Context, processID string) (map[string]*StepSummary, error) {
	events, err := el.store.GetEvents(ctx, processID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}

	steps := make(map[string]*StepSummary)
	for i, e := range events {
		if expected := int64(i + 1); e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in process %s: expected %d, got %d", processID, expected, e.Sequence)
		}
		if e.Step == "" {
			continue
		}

		ss, ok := steps[e.Step]
		if !ok {
			ss = &StepSummary{Step: e.Step, Phase: schema.StepPhaseInit}
			steps[e.Step] = ss
		}

		ts := e.Timestamp
		switch e.Type {
		case schema.EventStepStarted:
			ss.Phase = schema.StepPhaseExecute
			if ss.StartedAt == nil {
				ss.StartedAt = &ts
			}
		case schema.EventStepPolling:
			ss.Phase = schema.StepPhasePoll
		case schema.EventStepRetrying:
			ss.Phase = schema.StepPhaseRetry
			ss.Retries++
		case schema.EventStepCompleted:
			ss.Phase = schema.StepPhaseDone
			ss.CompletedAt = &ts
			if ss.StartedAt != nil {
				ss.DurationMs = ts.Sub(*ss.StartedAt).Milliseconds()
			}
		case schema.EventStepFailed:
			ss.Phase = schema.StepPhaseError
			ss.Error = e.Payload
		}
	}
	return steps, nil
}
