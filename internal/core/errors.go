// internal/core/errors.go
package core

import "fmt"

// Error represents a structured error with code and optional cause.
type Error struct {
	Code    string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is matching by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WrapError creates a new error with the same code but with a cause.
func WrapError(base *Error, cause error) *Error {
	return &Error{
		Code:    base.Code,
		Message: base.Message,
		Cause:   cause,
	}
}

// Predefined errors
var (
	// Input errors
	ErrMalformedRecord = &Error{Code: "MALFORMED_RECORD", Message: "malformed record"}

	// Store errors
	ErrRateLimited = &Error{Code: "RATE_LIMITED", Message: "remote store rate limit exceeded"}
	ErrNetwork     = &Error{Code: "NETWORK_ERROR", Message: "network error talking to remote store"}
	ErrRejected    = &Error{Code: "REJECTED", Message: "remote store rejected the request"}
	ErrNotFound    = &Error{Code: "NOT_FOUND", Message: "record not found"}
	ErrStoreFailed = &Error{Code: "STORE_FAILED", Message: "remote store request failed"}

	// Reconciliation errors
	ErrSchedulerClosed = &Error{Code: "SCHEDULER_CLOSED", Message: "reconciliation scheduler is shut down"}

	// Decision errors
	ErrOptOutFailed  = &Error{Code: "OPT_OUT_FAILED", Message: "bulk opt-out failed"}
	ErrOptOutPartial = &Error{Code: "OPT_OUT_PARTIAL", Message: "bulk opt-out partially failed"}

	// API errors
	ErrUnauthorized = &Error{Code: "UNAUTHORIZED", Message: "missing or invalid API key"}
	ErrNotReady     = &Error{Code: "NOT_READY", Message: "no refresh has completed yet"}

	// Config errors
	ErrConfigInvalid = &Error{Code: "CONFIG_INVALID", Message: "configuration invalid"}
	ErrConfigMissing = &Error{Code: "CONFIG_MISSING", Message: "required configuration missing"}
)
