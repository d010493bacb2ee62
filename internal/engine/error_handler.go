package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/rendis/mtaflow/internal/logging"
	"github.com/rendis/mtaflow/internal/store"
	"github.com/rendis/mtaflow/pkg/schema"
)

// Diagnostics keys written for a failed process.
const (
	DiagnosticErrorType    = "errorType"
	DiagnosticErrorMessage = "errorMessage"
)

// DiagnosticsStore persists per-process diagnostic entries for operator tooling.
type DiagnosticsStore interface {
	AddOrUpdate(ctx context.Context, processID, key, value string) error
}

// ClassifyError maps err to CONTENT_ERROR when any *schema.StepError in its
// chain carries a content code, UNKNOWN_ERROR otherwise. nil classifies as
// UNKNOWN_ERROR.
func ClassifyError(err error) schema.ErrorType {
	found := false
	walkErrors(err, func(e error) bool {
		if se, ok := e.(*schema.StepError); ok && se.IsContent() {
			found = true
			return false
		}
		return true
	})
	if found {
		return schema.ErrorTypeContent
	}
	return schema.ErrorTypeUnknown
}

// walkErrors visits err and everything it wraps, depth first, until visit
// returns false.
func walkErrors(err error, visit func(error) bool) bool {
	if err == nil {
		return true
	}
	if !visit(err) {
		return false
	}
	switch u := err.(type) {
	case interface{ Unwrap() error }:
		return walkErrors(u.Unwrap(), visit)
	case interface{ Unwrap() []error }:
		for _, e := range u.Unwrap() {
			if !walkErrors(e, visit) {
				return false
			}
		}
	}
	return true
}

// ErrorRecorder classifies step failures and writes them to the diagnostics
// store, keyed by process instance.
type ErrorRecorder struct {
	store    DiagnosticsStore
	appender EventAppender
	logger   *slog.Logger
}

// NewErrorRecorder creates an ErrorRecorder. appender and logger may be nil.
func NewErrorRecorder(ds DiagnosticsStore, appender EventAppender, logger *slog.Logger) *ErrorRecorder {
	if logger == nil {
		logger = logging.Discard()
	}
	return &ErrorRecorder{store: ds, appender: appender, logger: logger}
}

// Record persists the classification and message of err for processID.
func (r *ErrorRecorder) Record(ctx context.Context, processID, step string, err error) (schema.ErrorType, error) {
	errType := ClassifyError(err)
	msg := err.Error()

	if r.store != nil {
		if werr := r.store.AddOrUpdate(ctx, processID, DiagnosticErrorType, string(errType)); werr != nil {
			return errType, fmt.Errorf("record error type: %w", werr)
		}
		if werr := r.store.AddOrUpdate(ctx, processID, DiagnosticErrorMessage, msg); werr != nil {
			return errType, fmt.Errorf("record error message: %w", werr)
		}
	}

	if r.appender != nil {
		payload, _ := json.Marshal(map[string]any{
			"error_type": string(errType),
			"message":    msg,
		})
		if aerr := r.appender.AppendEvent(ctx, &store.Event{
			ProcessID: processID,
			Step:      step,
			Type:      schema.EventErrorRecorded,
			Payload:   payload,
		}); aerr != nil {
			r.logger.WarnContext(ctx, "error_recorded event dropped", "error", aerr)
		}
	}

	r.logger.ErrorContext(ctx, "step failed", "error_type", string(errType), "error", msg)
	return errType, nil
}
