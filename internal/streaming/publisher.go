package streaming

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/rendis/mtaflow/internal/logging"
	"github.com/rendis/mtaflow/internal/process"
	"github.com/rendis/mtaflow/internal/store"
)

// Appender is the event log write path the Publisher sits in front of.
type Appender interface {
	AppendEvent(ctx context.Context, event *store.Event) error
}

// Publisher forwards progress messages and phase events to a hub. It
// implements process.ProgressSink and, when built over an Appender, the
// engine's event appender. Hub failures are logged and never fail a step.
type Publisher struct {
	hub    EventHub
	next   Appender
	logger *slog.Logger
}

// NewPublisher creates a Publisher. next may be nil, in which case phase
// events are only published.
func NewPublisher(hub EventHub, next Appender, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Publisher{hub: hub, next: next, logger: logger}
}

// AddProgressMessage publishes msg as a progress event.
func (p *Publisher) AddProgressMessage(ctx context.Context, msg process.ProgressMessage) error {
	p.publish(ctx, StreamEvent{
		ProcessID: msg.ProcessID,
		Step:      msg.Step,
		EventType: EventProgress,
		Payload:   msg,
	})
	return nil
}

// AppendEvent writes event to the wrapped appender, then publishes it.
// Events the appender rejects are not published.
func (p *Publisher) AppendEvent(ctx context.Context, event *store.Event) error {
	if p.next != nil {
		if err := p.next.AppendEvent(ctx, event); err != nil {
			return err
		}
	}
	var payload any
	if len(event.Payload) > 0 {
		payload = json.RawMessage(event.Payload)
	}
	p.publish(ctx, StreamEvent{
		ProcessID: event.ProcessID,
		Step:      event.Step,
		EventType: event.Type,
		Payload:   payload,
	})
	return nil
}

func (p *Publisher) publish(ctx context.Context, event StreamEvent) {
	if err := p.hub.Publish(ctx, event); err != nil {
		p.logger.WarnContext(ctx, "stream publish failed", "event_type", event.EventType, "error", err)
	}
}

var _ process.ProgressSink = (*Publisher)(nil)
