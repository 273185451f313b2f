// Package errors provides standardized domain errors with codes for the bibliofed server and client.
//
// Usage:
//
//	// In the catalogue - return typed errors
//	if !domain.CheckFormat(query) {
//	    return errors.BadFormat("query does not match the field:value; grammar")
//	}
//
//	// In workers - check with errors.Is
//	if errors.Is(err, errors.ErrBadFormat) {
//	    reply(protocol.TypeError, protocol.MsgBadRequest)
//	}
package errors

import (
	"errors"
	"fmt"
)

// Re-export standard library functions for convenience.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	Join   = errors.Join
)

// Code represents a machine-readable error code.
type Code string

// Error codes used throughout the application.
const (
	// CodeSystem marks a failed system call. Fatal during startup,
	// tolerated per-request at runtime.
	CodeSystem Code = "SYSTEM"
	// CodeBadFormat marks a query that does not match the field:value; grammar.
	CodeBadFormat Code = "BAD_FORMAT"
	// CodeBadDate marks a syntactically invalid persisted loan timestamp.
	CodeBadDate Code = "BAD_DATE"
	// CodeBadFormatRecord marks a malformed record-file line.
	CodeBadFormatRecord Code = "BAD_FORMAT_RECORD"
	// CodeComm marks a peer that closed mid-frame or wrote outside the
	// protocol contract.
	CodeComm Code = "COMM"
	// CodePathOverflow marks a constructed path exceeding the transport limit.
	CodePathOverflow Code = "PATH_OVERFLOW"
	// CodeWriteShort marks a partial write during persistence.
	CodeWriteShort Code = "WRITE_SHORT"
	// CodeInternal marks a semaphore or queue invariant violation.
	CodeInternal Code = "INTERNAL"
	// CodeNotFound marks a missing registry entry.
	CodeNotFound Code = "NOT_FOUND"
)

// Fatal reports whether an error with this code must bring the process down
// when it occurs outside of request handling.
func (c Code) Fatal() bool {
	switch c {
	case CodeInternal, CodeBadDate, CodeBadFormatRecord:
		return true
	default:
		return false
	}
}

// Error is a domain error with a code, message, and optional cause.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	cause   error  // unexported, for wrapping
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target matches this error.
// Matches if target is an *Error with the same Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// WithCause wraps an underlying error.
func (e *Error) WithCause(err error) *Error {
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		cause:   err,
	}
}

// Sentinel errors for use with errors.Is().
var (
	ErrSystem          = &Error{Code: CodeSystem, Message: "system call failed"}
	ErrBadFormat       = &Error{Code: CodeBadFormat, Message: "bad request format"}
	ErrBadDate         = &Error{Code: CodeBadDate, Message: "bad loan date"}
	ErrBadFormatRecord = &Error{Code: CodeBadFormatRecord, Message: "bad record format"}
	ErrComm            = &Error{Code: CodeComm, Message: "communication error"}
	ErrPathOverflow    = &Error{Code: CodePathOverflow, Message: "path too long"}
	ErrWriteShort      = &Error{Code: CodeWriteShort, Message: "short write"}
	ErrInternal        = &Error{Code: CodeInternal, Message: "internal error"}
	ErrNotFound        = &Error{Code: CodeNotFound, Message: "not found"}
)

// Constructor functions for creating errors with custom messages.

// System creates a system-call error.
func System(msg string) *Error {
	return &Error{Code: CodeSystem, Message: msg}
}

// Systemf creates a system-call error with formatted message.
func Systemf(format string, args ...any) *Error {
	return &Error{Code: CodeSystem, Message: fmt.Sprintf(format, args...)}
}

// BadFormat creates a bad request format error.
func BadFormat(msg string) *Error {
	return &Error{Code: CodeBadFormat, Message: msg}
}

// BadDate creates a bad loan date error.
func BadDate(msg string) *Error {
	return &Error{Code: CodeBadDate, Message: msg}
}

// BadDatef creates a bad loan date error with formatted message.
func BadDatef(format string, args ...any) *Error {
	return &Error{Code: CodeBadDate, Message: fmt.Sprintf(format, args...)}
}

// BadFormatRecord creates a malformed record line error.
func BadFormatRecord(msg string) *Error {
	return &Error{Code: CodeBadFormatRecord, Message: msg}
}

// BadFormatRecordf creates a malformed record line error with formatted message.
func BadFormatRecordf(format string, args ...any) *Error {
	return &Error{Code: CodeBadFormatRecord, Message: fmt.Sprintf(format, args...)}
}

// Comm creates a communication error.
func Comm(msg string) *Error {
	return &Error{Code: CodeComm, Message: msg}
}

// PathOverflow creates a path overflow error.
func PathOverflow(msg string) *Error {
	return &Error{Code: CodePathOverflow, Message: msg}
}

// WriteShort creates a short write error.
func WriteShort(msg string) *Error {
	return &Error{Code: CodeWriteShort, Message: msg}
}

// Internal creates an internal invariant violation error.
func Internal(msg string) *Error {
	return &Error{Code: CodeInternal, Message: msg}
}

// Internalf creates an internal error with formatted message.
func Internalf(format string, args ...any) *Error {
	return &Error{Code: CodeInternal, Message: fmt.Sprintf(format, args...)}
}

// NotFound creates a not found error.
func NotFound(msg string) *Error {
	return &Error{Code: CodeNotFound, Message: msg}
}

// Wrap wraps an error with a code and message.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, cause: err}
}

// Wrapf wraps an error with a code and formatted message.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: err}
}
