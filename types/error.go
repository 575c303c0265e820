package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Lookup and validation error codes
const (
	ErrNotFound          ErrorCode = "NOT_FOUND"
	ErrValidation        ErrorCode = "VALIDATION"
	ErrInvalidTransition ErrorCode = "INVALID_TRANSITION"
)

// Storage error codes
const (
	ErrStorageConnection    ErrorCode = "STORAGE_CONNECTION"
	ErrStorageTimeout       ErrorCode = "STORAGE_TIMEOUT"
	ErrStorageCapacity      ErrorCode = "STORAGE_CAPACITY"
	ErrStorageSerialization ErrorCode = "STORAGE_SERIALIZATION"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Op        string    `json:"op,omitempty"`
	ThreadID  string    `json:"thread_id,omitempty"`
	Retryable bool      `json:"retryable"`
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

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewNotFoundError creates a NOT_FOUND error for the named entity.
func NewNotFoundError(entity, id string) *Error {
	return &Error{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found: %s", entity, id),
	}
}

// NewValidationError creates a VALIDATION error.
func NewValidationError(message string) *Error {
	return &Error{Code: ErrValidation, Message: message}
}

// NewInvalidTransitionError creates an INVALID_TRANSITION error.
func NewInvalidTransitionError(from, to string) *Error {
	return &Error{
		Code:    ErrInvalidTransition,
		Message: fmt.Sprintf("invalid status transition: %s -> %s", from, to),
	}
}

// NewStorageError wraps a backend failure under a storage error code.
func NewStorageError(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithOp records the operation that produced the error.
func (e *Error) WithOp(op string) *Error {
	e.Op = op
	return e
}

// WithThreadID records the thread the operation was acting on.
func (e *Error) WithThreadID(threadID string) *Error {
	e.ThreadID = threadID
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// AsError extracts a *Error from err's chain, or nil.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e := AsError(err); e != nil {
		return e.Code
	}
	return ""
}

// IsNotFound checks whether err carries the NOT_FOUND code.
func IsNotFound(err error) bool {
	return GetErrorCode(err) == ErrNotFound
}

// IsValidation checks whether err carries a validation-class code.
func IsValidation(err error) bool {
	code := GetErrorCode(err)
	return code == ErrValidation || code == ErrInvalidTransition
}

// IsStorage checks whether err carries a storage-class code.
func IsStorage(err error) bool {
	switch GetErrorCode(err) {
	case ErrStorageConnection, ErrStorageTimeout, ErrStorageCapacity, ErrStorageSerialization:
		return true
	}
	return false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e := AsError(err); e != nil {
		return e.Retryable
	}
	return false
}
