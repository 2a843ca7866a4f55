// Package errors provides the structured error taxonomy shared by the
// archive, the restore engine and the device transport.
//
// Expected failure kinds (TRANSPORT, NOT_FOUND, EMPTY_CONFIG, DEVICE_REJECTED)
// are reported to callers as results. STORE_FAULT marks a violated archive
// invariant and aborts the operation that observed it.
//
//	err := errors.WrapWithContext(
//	    errors.ErrCodeTransport,
//	    "capture failed",
//	    cause,
//	    map[string]any{"hostname": "R1"},
//	)
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a structured error classification.
type ErrorCode string

const (
	// ErrCodeTransport indicates a connectivity, authentication or timeout
	// problem talking to a device. Recoverable by retrying later.
	ErrCodeTransport ErrorCode = "TRANSPORT"
	// ErrCodeNotFound indicates a requested historical version is absent.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeEmptyConfig indicates a capture normalized to nothing.
	ErrCodeEmptyConfig ErrorCode = "EMPTY_CONFIG"
	// ErrCodeDeviceRejected indicates the device reported that it discarded
	// or auto-reverted an applied configuration.
	ErrCodeDeviceRejected ErrorCode = "DEVICE_REJECTED"
	// ErrCodeStoreFault indicates an archive invariant was violated.
	ErrCodeStoreFault ErrorCode = "STORE_FAULT"
	// ErrCodeInvalidRequest indicates malformed or invalid caller input.
	ErrCodeInvalidRequest ErrorCode = "INVALID_REQUEST"
)

// StructuredError carries an error code for programmatic handling, a
// human-readable message, the underlying cause, and optional context.
type StructuredError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]any
}

// Error implements the error interface.
func (e *StructuredError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is and errors.As support.
func (e *StructuredError) Unwrap() error {
	return e.Cause
}

// New creates a new StructuredError with the given code and message.
func New(code ErrorCode, message string) *StructuredError {
	return &StructuredError{
		Code:    code,
		Message: message,
	}
}

// NewWithContext creates a new StructuredError with context information.
func NewWithContext(code ErrorCode, message string, context map[string]any) *StructuredError {
	return &StructuredError{
		Code:    code,
		Message: message,
		Context: context,
	}
}

// Wrap wraps an existing error with a code and message.
func Wrap(code ErrorCode, message string, cause error) *StructuredError {
	return &StructuredError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WrapWithContext wraps an error with a code, message and context.
func WrapWithContext(code ErrorCode, message string, cause error, context map[string]any) *StructuredError {
	return &StructuredError{
		Code:    code,
		Message: message,
		Cause:   cause,
		Context: context,
	}
}

// CodeOf returns the code of the outermost StructuredError in err's chain,
// or "" if there is none.
func CodeOf(err error) ErrorCode {
	var se *StructuredError
	if stderrors.As(err, &se) {
		return se.Code
	}
	return ""
}

// Is reports whether err's chain contains a StructuredError with the given code.
func Is(err error, code ErrorCode) bool {
	for err != nil {
		var se *StructuredError
		if !stderrors.As(err, &se) {
			return false
		}
		if se.Code == code {
			return true
		}
		err = se.Cause
	}
	return false
}
