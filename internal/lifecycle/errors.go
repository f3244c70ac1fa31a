package lifecycle

import (
	"errors"
	"fmt"
)

// CoordinatorError is a typed error for lifecycle coordination failures.
type CoordinatorError struct {
	Kind    ErrorKind
	From    RunState
	To      RunState
	Message string
	Cause   error
}

// ErrorKind categorizes the error.
type ErrorKind int

const (
	ErrKindInvalidTransition ErrorKind = iota
	ErrKindOperationInFlight
	ErrKindInternal
)

func (e *CoordinatorError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *CoordinatorError) Unwrap() error {
	return e.Cause
}

// NewInvalidTransitionError creates an invalid-transition error. This indicates
// a logic bug in the coordinator, not an operator mistake.
func NewInvalidTransitionError(from, to RunState) *CoordinatorError {
	return &CoordinatorError{
		Kind:    ErrKindInvalidTransition,
		From:    from,
		To:      to,
		Message: fmt.Sprintf("invalid state transition from %s to %s", from, to),
	}
}

// NewOperationInFlightError creates an error for a command that arrived while
// a runtime operation was still outstanding.
func NewOperationInFlightError(op string) *CoordinatorError {
	return &CoordinatorError{
		Kind:    ErrKindOperationInFlight,
		Message: fmt.Sprintf("cannot %s: another operation is in flight", op),
	}
}

// NewInternalError wraps an internal error.
func NewInternalError(cause error) *CoordinatorError {
	return &CoordinatorError{
		Kind:    ErrKindInternal,
		Message: cause.Error(),
		Cause:   cause,
	}
}

// AsCoordinatorError attempts to convert an error to a CoordinatorError.
// Returns nil if not possible.
func AsCoordinatorError(err error) *CoordinatorError {
	var cErr *CoordinatorError
	if errors.As(err, &cErr) {
		return cErr
	}
	return nil
}

// IsInvalidTransition checks if the error is an invalid-transition error.
func IsInvalidTransition(err error) bool {
	cErr := AsCoordinatorError(err)
	return cErr != nil && cErr.Kind == ErrKindInvalidTransition
}

// IsOperationInFlight checks if the error is an operation-in-flight error.
func IsOperationInFlight(err error) bool {
	cErr := AsCoordinatorError(err)
	return cErr != nil && cErr.Kind == ErrKindOperationInFlight
}
