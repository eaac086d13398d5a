package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Definition-time error codes
const (
	ErrValidation    ErrorCode = "VALIDATION"
	ErrDuplicateNode ErrorCode = "DUPLICATE_NODE"
	ErrUnknownNode   ErrorCode = "UNKNOWN_NODE"
	ErrCycleDetected ErrorCode = "CYCLE_DETECTED"
)

// Run-time error codes
const (
	ErrStepExecution    ErrorCode = "STEP_EXECUTION"
	ErrStepTimeout      ErrorCode = "STEP_TIMEOUT"
	ErrStepFailed       ErrorCode = "STEP_FAILED"
	ErrSchemaValidation ErrorCode = "SCHEMA_VALIDATION"
	ErrAborted          ErrorCode = "ABORTED"
	ErrCircuitOpen      ErrorCode = "CIRCUIT_OPEN"
	ErrInternalError    ErrorCode = "INTERNAL_ERROR"
)

// Resume error codes
const (
	ErrRunNotFound     ErrorCode = "RUN_NOT_FOUND"
	ErrInvalidResponse ErrorCode = "INVALID_RESPONSE"
)

// Coded is implemented by every error that carries an ErrorCode.
type Coded interface {
	ErrorCode() ErrorCode
}

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Step      string    `json:"step,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// ErrorCode implements Coded.
func (e *Error) ErrorCode() ErrorCode {
	return e.Code
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithStep sets the step name the error belongs to.
func (e *Error) WithStep(step string) *Error {
	e.Step = step
	return e
}

// IsRetryable checks if an error is retryable.
// Only *Error values carry an explicit retry flag.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the outermost error code from an error chain.
func GetErrorCode(err error) ErrorCode {
	var c Coded
	if errors.As(err, &c) {
		return c.ErrorCode()
	}
	return ""
}

// IsErrorCode reports whether any error in the chain carries the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	for err != nil {
		if c, ok := err.(Coded); ok && c.ErrorCode() == code {
			return true
		}
		switch x := err.(type) {
		case interface{ Unwrap() error }:
			err = x.Unwrap()
		case interface{ Unwrap() []error }:
			for _, inner := range x.Unwrap() {
				if IsErrorCode(inner, code) {
					return true
				}
			}
			return false
		default:
			return false
		}
	}
	return false
}
