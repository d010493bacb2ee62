package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeContent           = "CONTENT_ERROR"
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeMissingParameter  = "MISSING_PARAMETER"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeExecution         = "EXECUTION_ERROR"
	ErrCodeTimeout           = "TIMEOUT_ERROR"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeSerialization     = "SERIALIZATION_ERROR"
	ErrCodeUpstream          = "UPSTREAM_ERROR"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeHookFailed        = "HOOK_FAILED"
	ErrCodeRetryExhausted    = "RETRY_EXHAUSTED"
	ErrCodeCancelled         = "CANCELLED"
	ErrCodeStore             = "STORE_ERROR"
)

// contentCodes are the codes that describe bad user input or state. Errors
// carrying them are reported as CONTENT_ERROR and never retried automatically.
var contentCodes = map[string]bool{
	ErrCodeContent:          true,
	ErrCodeValidation:       true,
	ErrCodeMissingParameter: true,
	ErrCodeConflict:         true,
}

// nonRetryableCodes are failures that re-invoking the step cannot fix.
var nonRetryableCodes = map[string]bool{
	ErrCodeContent:           true,
	ErrCodeValidation:        true,
	ErrCodeMissingParameter:  true,
	ErrCodeConflict:          true,
	ErrCodeNotFound:          true,
	ErrCodeUnauthorized:      true,
	ErrCodeInvalidTransition: true,
	ErrCodeSerialization:     true,
	ErrCodeRetryExhausted:    true,
	ErrCodeCancelled:         true,
}

// ErrorType is the coarse classification recorded for a failed process.
type ErrorType string

const (
	ErrorTypeContent ErrorType = "CONTENT_ERROR"
	ErrorTypeUnknown ErrorType = "UNKNOWN_ERROR"
)

// StepError is the structured error type for all step operations.
type StepError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Step    string         `json:"step,omitempty"`
	Cause   error          `json:"-"`
}

func (e *StepError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.Step, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *StepError) Unwrap() error {
	return e.Cause
}

// NewError creates a new StepError.
func NewError(code, message string) *StepError {
	return &StepError{Code: code, Message: message}
}

// NewErrorf creates a new StepError with a formatted message.
func NewErrorf(code, format string, args ...any) *StepError {
	return &StepError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ContentError reports a failure the user has to fix in the deployment input.
func ContentError(message string) *StepError {
	return NewError(ErrCodeContent, message)
}

// ContentErrorf is ContentError with a formatted message.
func ContentErrorf(format string, args ...any) *StepError {
	return NewErrorf(ErrCodeContent, format, args...)
}

// WithStep attaches a step name to the error.
func (e *StepError) WithStep(step string) *StepError {
	e.Step = step
	return e
}

// WithCause attaches an underlying cause.
func (e *StepError) WithCause(err error) *StepError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *StepError) WithDetails(details map[string]any) *StepError {
	e.Details = details
	return e
}

// Clone returns a shallow copy of e. Details are shared.
func (e *StepError) Clone() *StepError {
	c := *e
	return &c
}

// IsContent reports whether the error describes bad input or state.
func (e *StepError) IsContent() bool {
	return contentCodes[e.Code]
}

// IsRetryable reports whether re-invoking the failed step may succeed.
func (e *StepError) IsRetryable() bool {
	return !nonRetryableCodes[e.Code]
}

// AsStepError returns the first *StepError in err's chain.
func AsStepError(err error) (*StepError, bool) {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr, true
	}
	return nil, false
}
