package domain

import (
	"errors"
	"fmt"
)

var (
	// Persistence errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidExecContext = errors.New("invalid exec context")
	ErrOperationFailed    = errors.New("operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")

	// Gateway errors
	ErrCapabilityNotSupported = errors.New("gateway capability not supported")
	ErrGatewayUnavailable     = errors.New("gateway unavailable")
	ErrTokenInvalid           = errors.New("recurrent token is no longer valid")

	// Recurrent payment lifecycle errors
	ErrUnresolvableCharge = errors.New("charge amount or subscription type cannot be resolved")
	ErrNotChargeable      = errors.New("recurrent payment is not chargeable")
	ErrChargeInProgress   = errors.New("charge already in progress for chain")
	ErrInvalidTransition  = errors.New("invalid state transition")
	ErrNotStoppable       = errors.New("recurrent payment cannot be stopped")
	ErrNotReactivable     = errors.New("recurrent payment cannot be reactivated")
	ErrDuplicateChain     = errors.New("duplicate recurrent payment chain")

	// Payment / refund errors
	ErrPaymentNotRefundable = errors.New("payment is not refundable")
	ErrRefundExceedsAmount  = errors.New("refund exceeds refundable amount")
	ErrRefundFailed         = errors.New("refund did not complete")
	ErrPaymentNotPaid       = errors.New("payment is not paid")
)

// CapabilityError is returned when a caller invokes an optional gateway
// capability the driver does not declare. errors.Is(err, ErrCapabilityNotSupported) holds.
type CapabilityError struct {
	Gateway    string
	Capability string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("gateway %q does not support %s", e.Gateway, e.Capability)
}

func (e *CapabilityError) Is(target error) bool {
	return target == ErrCapabilityNotSupported
}
