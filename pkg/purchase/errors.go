package purchase

import (
	"errors"
	"fmt"
)

// Domain-level error values surfaced by the purchase saga.
var (
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrAlreadyEnrolled         = errors.New("already enrolled")
	ErrCourseValidation        = errors.New("course validation failed")
	ErrWalletUnavailable       = errors.New("wallet unavailable")
	ErrGatewayInitiate         = errors.New("gateway initiation failed")
	ErrVerificationFailed      = errors.New("deposit verification failed")
	ErrDuplicateVerify         = errors.New("deposit already verified")
	ErrPurchaseInFlight        = errors.New("purchase already in flight")
	ErrNotAuthenticated        = errors.New("not authenticated")
	ErrInvalidCourseID         = errors.New("invalid course id")
	ErrInvalidAmount           = errors.New("invalid amount")
	ErrInvalidCorrelationToken = errors.New("invalid correlation token")
	ErrInvalidCallbackStatus   = errors.New("invalid callback status")
	ErrInvalidOrchestrator     = errors.New("invalid orchestrator config")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
