package scarab

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the scarab service.
var (
	ErrInvalidAddress           = errors.New("invalid address")
	ErrInvalidPurpose           = errors.New("invalid spend purpose")
	ErrInvalidTier              = errors.New("invalid purchase tier")
	ErrInvalidTxHash            = errors.New("invalid tx hash")
	ErrInvalidPurchaseID        = errors.New("invalid purchase id")
	ErrInvalidAmount            = errors.New("invalid amount")
	ErrInvalidEntryKind         = errors.New("invalid entry kind")
	ErrInvalidPurchaseStatus    = errors.New("invalid purchase status")
	ErrInvalidMetadataJSON      = errors.New("invalid metadata json")
	ErrAlreadyClaimedToday      = errors.New("already claimed today")
	ErrInsufficientBalance      = errors.New("insufficient balance")
	ErrPurchaseNotFound         = errors.New("purchase not found")
	ErrPurchaseAlreadyConfirmed = errors.New("purchase already confirmed")
	ErrPurchaseClosed           = errors.New("purchase closed")
	ErrTxHashReused             = errors.New("tx hash reused")
	ErrStoreUnavailable         = errors.New("store unavailable")
	ErrInvalidServiceConfig     = errors.New("invalid service config")
	ErrInvalidBalance           = errors.New("invalid balance")
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
