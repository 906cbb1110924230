// Package apperr implements the engine's closed error taxonomy: a typed
// error carrying one of the integer codes from the REST envelope's `code`
// field, mirroring the teacher's EngagementError{Err,Retryable} constructor-pair
// pattern (NewRetryableError/NewFatalError) rather than ad hoc errors.New.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Code int

const (
	OK                Code = 0
	Validation        Code = 1001
	NotFound          Code = 1002
	Conflict          Code = 1003
	InheritanceCycle  Code = 1004
	InvalidSchema     Code = 1005
	Internal          Code = 9000
)

func (c Code) String() string {
	switch c {
	case OK:
		return "OK"
	case Validation:
		return "VALIDATION"
	case NotFound:
		return "NOT_FOUND"
	case Conflict:
		return "CONFLICT"
	case InheritanceCycle:
		return "INHERITANCE_CYCLE"
	case InvalidSchema:
		return "INVALID_SCHEMA"
	case Internal:
		return "INTERNAL"
	default:
		return "UNKNOWN"
	}
}

// HTTPStatus maps a code to the HTTP status spec.md §7 assigns it.
func (c Code) HTTPStatus() int {
	switch c {
	case OK:
		return http.StatusOK
	case Validation, InheritanceCycle, InvalidSchema:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Error is the engine's single error type. Every node and service function
// that can fail returns one (or wraps a lower-level error with one) rather
// than a bare error, so the HTTP layer always has a code to map.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New constructs an Error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf constructs an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error carrying a lower-level cause, visible via Unwrap
// and %w-style wrapping.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Validationf is shorthand for Newf(Validation, ...).
func Validationf(format string, args ...any) *Error {
	return Newf(Validation, format, args...)
}

// NotFoundf is shorthand for Newf(NotFound, ...).
func NotFoundf(format string, args ...any) *Error {
	return Newf(NotFound, format, args...)
}

// Internalf wraps an unexpected failure as INTERNAL, the code LLM failures
// and other unexpected node errors surface as (spec.md §7).
func Internalf(cause error, format string, args ...any) *Error {
	return Wrap(Internal, fmt.Sprintf(format, args...), cause)
}

// As extracts an *Error from err, if any wraps one.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the Code carried by err, defaulting to Internal if err does
// not wrap an *Error — any unexpected failure surfaces as INTERNAL per
// spec.md §7's propagation policy.
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return Internal
}
