package lightart

import (
	"context"
	"errors"
	"fmt"
)

// Wire error codes.
const (
	CodeInvalidRequest = "invalid_request"
	CodeValidation     = "validation_error"
	CodeRequestFailed  = "request_failed"
	CodeTimeout        = "timeout"
	CodeNotConfigured  = "not_configured"
	CodeConfigError    = "config_error"
	CodeUnknownAction  = "unknown_action"
	CodeSuperseded     = "superseded"
)

// ValidationError reports input rejected before anything is sent to a model.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// RequestFailed reports an external call that errored or timed out.
// It is never retried automatically.
type RequestFailed struct {
	Kind      string
	SessionID string
	RequestID uint64
	Cause     error
}

func (e *RequestFailed) Error() string {
	return fmt.Sprintf("%s request %d for session %s failed: %v", e.Kind, e.RequestID, e.SessionID, e.Cause)
}

func (e *RequestFailed) Unwrap() error { return e.Cause }

// ToWireError converts an error into the wire representation. A failed
// external call is reported as request_failed or timeout even when the model's
// answer was rejected by validation.
func ToWireError(err error) *Error {
	if err == nil {
		return nil
	}
	var rf *RequestFailed
	if errors.As(err, &rf) {
		if errors.Is(rf.Cause, context.DeadlineExceeded) {
			return &Error{Code: CodeTimeout, Message: rf.Error()}
		}
		return &Error{Code: CodeRequestFailed, Message: rf.Error()}
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		return &Error{Code: CodeValidation, Message: verr.Error()}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Code: CodeTimeout, Message: err.Error()}
	}
	return &Error{Code: CodeRequestFailed, Message: err.Error()}
}
