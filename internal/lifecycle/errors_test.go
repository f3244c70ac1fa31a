package lifecycle

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNewInvalidTransitionError(t *testing.T) {
	err := NewInvalidTransitionError(RunStateStopping, RunStateOnline)

	if err.Kind != ErrKindInvalidTransition {
		t.Errorf("Expected kind %d, got %d", ErrKindInvalidTransition, err.Kind)
	}
	if err.From != RunStateStopping || err.To != RunStateOnline {
		t.Errorf("Expected from/to stopping/online, got %s/%s", err.From, err.To)
	}
	if !strings.Contains(err.Error(), "stopping") || !strings.Contains(err.Error(), "online") {
		t.Errorf("Error message should name both states, got %q", err.Error())
	}
}

func TestNewInternalErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("socket closed")
	err := NewInternalError(cause)

	if !errors.Is(err, cause) {
		t.Error("Internal error should unwrap to its cause")
	}
	if err.Kind != ErrKindInternal {
		t.Errorf("Expected kind %d, got %d", ErrKindInternal, err.Kind)
	}
}

func TestAsCoordinatorError(t *testing.T) {
	base := NewOperationInFlightError("start")
	wrapped := fmt.Errorf("handling command: %w", base)

	cErr := AsCoordinatorError(wrapped)
	if cErr == nil {
		t.Fatal("Expected AsCoordinatorError to unwrap")
	}
	if cErr.Kind != ErrKindOperationInFlight {
		t.Errorf("Expected kind %d, got %d", ErrKindOperationInFlight, cErr.Kind)
	}

	if AsCoordinatorError(fmt.Errorf("plain error")) != nil {
		t.Error("Expected nil for non-coordinator error")
	}
}

func TestErrorKindPredicates(t *testing.T) {
	if !IsInvalidTransition(NewInvalidTransitionError(RunStateOffline, RunStateStopping)) {
		t.Error("IsInvalidTransition should match")
	}
	if IsInvalidTransition(NewOperationInFlightError("stop")) {
		t.Error("IsInvalidTransition should not match an in-flight error")
	}
	if !IsOperationInFlight(NewOperationInFlightError("stop")) {
		t.Error("IsOperationInFlight should match")
	}
	if IsOperationInFlight(nil) {
		t.Error("IsOperationInFlight should not match nil")
	}
}
