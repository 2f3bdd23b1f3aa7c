package purchase

import (
	"errors"
	"testing"
)

func TestWrapErrorPreservesSentinel(test *testing.T) {
	test.Parallel()
	wrapped := WrapError("buy", "enroll", "insufficient_funds", ErrInsufficientFunds)
	if !errors.Is(wrapped, ErrInsufficientFunds) {
		test.Fatalf("expected wrapped error to match sentinel, got %v", wrapped)
	}
	var operationError OperationError
	if !errors.As(wrapped, &operationError) {
		test.Fatalf("expected OperationError, got %T", wrapped)
	}
	if operationError.Operation() != "buy" || operationError.Subject() != "enroll" || operationError.Code() != "insufficient_funds" {
		test.Fatalf("unexpected segments: %v", operationError)
	}
}

func TestWrapErrorNilPassthrough(test *testing.T) {
	test.Parallel()
	if WrapError("buy", "enroll", "unknown", nil) != nil {
		test.Fatalf("wrapping nil must return nil")
	}
}
