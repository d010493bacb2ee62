package process

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rendis/mtaflow/internal/logging"
	"github.com/rendis/mtaflow/pkg/schema"
)

// ProgressMessage is a user-facing message about a process instance.
type ProgressMessage struct {
	ProcessID string                     `json:"process_id"`
	Step      string                     `json:"step,omitempty"`
	Type      schema.ProgressMessageType `json:"type"`
	Text      string                     `json:"text"`
	Timestamp time.Time                  `json:"timestamp"`
}

// ProgressSink persists or forwards progress messages.
type ProgressSink interface {
	AddProgressMessage(ctx context.Context, msg ProgressMessage) error
}

// StepLogger writes operator logs to slog and user-facing messages to the
// configured progress sinks. Sink failures are logged, never returned.
type StepLogger struct {
	logger    *slog.Logger
	sinks     []ProgressSink
	processID string
	step      string
	now       func() time.Time
}

// NewStepLogger creates a StepLogger. A nil logger discards operator logs.
func NewStepLogger(logger *slog.Logger, sinks ...ProgressSink) *StepLogger {
	if logger == nil {
		logger = logging.Discard()
	}
	return &StepLogger{logger: logger, sinks: sinks, now: time.Now}
}

func (l *StepLogger) forStep(processID, step string) *StepLogger {
	cp := *l
	cp.processID = processID
	cp.step = step
	return &cp
}

// Slog returns the underlying structured logger.
func (l *StepLogger) Slog() *slog.Logger { return l.logger }

// Debug logs an operator-only message.
func (l *StepLogger) Debug(ctx context.Context, msg string, args ...any) {
	l.logger.DebugContext(ctx, msg, args...)
}

// Info logs msg and reports it to the user.
func (l *StepLogger) Info(ctx context.Context, format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	l.logger.InfoContext(ctx, text)
	l.progress(ctx, schema.ProgressInfo, text)
}

// Warn logs msg at warning level and reports it to the user.
func (l *StepLogger) Warn(ctx context.Context, format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	l.logger.WarnContext(ctx, text)
	l.progress(ctx, schema.ProgressWarning, text)
}

// Error logs err with a message and reports both to the user.
func (l *StepLogger) Error(ctx context.Context, err error, format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	if err != nil {
		l.logger.ErrorContext(ctx, text, "error", err)
		text = text + ": " + err.Error()
	} else {
		l.logger.ErrorContext(ctx, text)
	}
	l.progress(ctx, schema.ProgressError, text)
}

func (l *StepLogger) progress(ctx context.Context, typ schema.ProgressMessageType, text string) {
	if len(l.sinks) == 0 {
		return
	}
	processID := l.processID
	if processID == "" {
		processID = logging.ProcessID(ctx)
	}
	msg := ProgressMessage{
		ProcessID: processID,
		Step:      l.step,
		Type:      typ,
		Text:      text,
		Timestamp: l.now().UTC(),
	}
	for _, sink := range l.sinks {
		if err := sink.AddProgressMessage(ctx, msg); err != nil {
			l.logger.WarnContext(ctx, "progress message dropped", "error", err)
		}
	}
}
