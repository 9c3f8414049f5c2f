package jobs

import (
	"errors"
	"fmt"
)

// Code is a stable machine-readable failure identifier. API responses carry
// the code so callers can branch on it; messages are display-only.
type Code string

const (
	CodeConflict        Code = "conflict"
	CodeAdmissionDenied Code = "admission_denied"
	CodePrecondition    Code = "precondition"
	CodeValidation      Code = "validation_error"
	CodeSpawn           Code = "spawn_error"
	CodeRuntime         Code = "runtime_failure"
	CodeNotFound        Code = "not_found"
	CodeNotRunning      Code = "not_running"
	CodeTimeout         Code = "timeout"
)

// Error is a typed domain error with a stable code.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Errf creates a typed error with a formatted message.
func Errf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the code from err, or "" for untyped errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
