// Package apperror defines the stable, machine-readable error codes shared
// across the control plane, the job worker, and the REST surface.
package apperror

import "fmt"

// Code is a stable machine-readable error classification.
type Code string

const (
	InvalidInput       Code = "INVALID_INPUT"
	NotFound           Code = "NOT_FOUND"
	AlreadyExists      Code = "ALREADY_EXISTS"
	InvalidState       Code = "INVALID_STATE"
	InvalidKind        Code = "INVALID_KIND"
	ResourceExhausted  Code = "RESOURCE_EXHAUSTED"
	SourceUnavailable  Code = "SOURCE_UNAVAILABLE"
	DetectorError      Code = "DETECTOR_ERROR"
	StoreError         Code = "STORE_ERROR"
	Fatal              Code = "FATAL"
)

// Error is an application error carrying a stable Code plus a human message.
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

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an *Error with the given code, message, and underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// HTTPStatus maps a Code to the REST status code this module returns for it.
func HTTPStatus(code Code) int {
	switch code {
	case InvalidInput, InvalidKind:
		return 400
	case NotFound:
		return 404
	case AlreadyExists:
		return 409
	case InvalidState:
		return 409
	case ResourceExhausted:
		return 429
	case SourceUnavailable, DetectorError, StoreError, Fatal:
		return 503
	default:
		return 500
	}
}

// CodeOf extracts the Code from err if it is an *Error; otherwise returns
// Fatal as a conservative default.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return Fatal
}
