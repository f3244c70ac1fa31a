package dockerapi

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes a runtime error for recovery decisions.
type ErrorKind int

const (
	ErrKindTimeout ErrorKind = iota
	ErrKindUnavailable
	ErrKindNotFound
	ErrKindInternal
)

// RuntimeError is a typed error for container runtime operations.
type RuntimeError struct {
	Kind       ErrorKind
	Operation  string
	WorkloadID string
	Message    string
	Cause      error
}

func (e *RuntimeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *RuntimeError) Unwrap() error {
	return e.Cause
}

// UserMessage returns a chat-safe description of the failure.
func (e *RuntimeError) UserMessage() string {
	switch e.Kind {
	case ErrKindTimeout:
		return "operation timed out, check status later"
	case ErrKindUnavailable:
		return "container runtime is unreachable, try again later"
	case ErrKindNotFound:
		return fmt.Sprintf("container %q not found, check the watchdog configuration", e.WorkloadID)
	default:
		return "container runtime error"
	}
}

// NewTimeoutError creates a timeout error for a runtime operation.
func NewTimeoutError(operation, workloadID string, cause error) *RuntimeError {
	return &RuntimeError{
		Kind:       ErrKindTimeout,
		Operation:  operation,
		WorkloadID: workloadID,
		Message:    fmt.Sprintf("%s %s: runtime call exceeded deadline", operation, workloadID),
		Cause:      cause,
	}
}

// NewUnavailableError creates an unavailable error for a runtime operation.
func NewUnavailableError(operation, workloadID string, cause error) *RuntimeError {
	return &RuntimeError{
		Kind:       ErrKindUnavailable,
		Operation:  operation,
		WorkloadID: workloadID,
		Message:    fmt.Sprintf("%s %s: runtime unreachable", operation, workloadID),
		Cause:      cause,
	}
}

// NewNotFoundError creates a not-found error. This indicates operator
// misconfiguration: the configured container name does not exist.
func NewNotFoundError(operation, workloadID string) *RuntimeError {
	return &RuntimeError{
		Kind:       ErrKindNotFound,
		Operation:  operation,
		WorkloadID: workloadID,
		Message:    fmt.Sprintf("%s %s: no such container", operation, workloadID),
	}
}

// NewInternalError creates an error for an unexpected runtime response.
func NewInternalError(operation, workloadID string, status int, body string) *RuntimeError {
	return &RuntimeError{
		Kind:       ErrKindInternal,
		Operation:  operation,
		WorkloadID: workloadID,
		Message:    fmt.Sprintf("%s %s: unexpected runtime response %d: %s", operation, workloadID, status, body),
	}
}

// AsRuntimeError attempts to convert an error to a RuntimeError.
// Returns nil if not possible.
func AsRuntimeError(err error) *RuntimeError {
	var rtErr *RuntimeError
	if errors.As(err, &rtErr) {
		return rtErr
	}
	return nil
}

// IsTimeout checks if the error is a timeout error.
func IsTimeout(err error) bool {
	rtErr := AsRuntimeError(err)
	return rtErr != nil && rtErr.Kind == ErrKindTimeout
}

// IsUnavailable checks if the error is an unavailable error.
func IsUnavailable(err error) bool {
	rtErr := AsRuntimeError(err)
	return rtErr != nil && rtErr.Kind == ErrKindUnavailable
}

// IsNotFound checks if the error is a not-found error.
func IsNotFound(err error) bool {
	rtErr := AsRuntimeError(err)
	return rtErr != nil && rtErr.Kind == ErrKindNotFound
}
