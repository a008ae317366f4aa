package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrInvalidAmount        = errors.New("amount must be positive")
	ErrUserNotFound         = errors.New("user not found")
	ErrUserExists           = errors.New("user already exists")
	ErrNoActiveSubscription = errors.New("no active subscription")
	ErrInvalidTransition    = errors.New("invalid subscription transition")
	ErrTransitionNotDue     = errors.New("subscription transition not due yet")
	ErrChargeInFlight       = errors.New("a renewal charge is in flight")
	ErrChargeNotPending     = errors.New("charge is not the one in flight")
	ErrUnknownPlan          = errors.New("unknown plan")
	ErrUnknownPack          = errors.New("unknown energy pack")
	ErrGatewayUnavailable   = errors.New("payment gateway unavailable")
	ErrGatewayTimeout       = errors.New("payment gateway timeout")
	ErrTransactionConflict  = errors.New("transaction conflict")
	ErrDuplicateCharge      = errors.New("charge already applied")
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrPaymentExists        = errors.New("payment already exists")
	ErrChargeDeclined       = errors.New("charge declined")
	ErrInvalidPaymentState  = errors.New("invalid payment state")
)

// Event names used in TransitionError.
const (
	EventStart         = "start"
	EventChargeSuccess = "charge_succeeded"
	EventChargeFailure = "charge_failed"
	EventRetryFailure  = "retry_failed"
	EventRetryPending  = "retry_pending"
	EventSuspend       = "suspend"
	EventExpire        = "expire"
	EventCancel        = "cancel"
)

// TransitionError reports an event that has no edge from the current state.
type TransitionError struct {
	From  Status
	Event string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid subscription transition: %s from %s", e.Event, e.From)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
