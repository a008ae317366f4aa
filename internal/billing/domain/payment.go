package domain

import (
	"fmt"
	"time"

	"go.jetify.com/typeid/v2"
)

const paymentIDPrefix = "pay"

// PaymentID is a TypeID with the "pay" prefix, e.g. pay_01h455vb4pex5vsknk084sn02q.
type PaymentID string

// NewPaymentID generates a K-sortable payment id.
func NewPaymentID() PaymentID {
	tid, err := typeid.Generate(paymentIDPrefix)
	if err != nil {
		panic(fmt.Sprintf("payment id: %v", err))
	}
	return PaymentID(tid.String())
}

// ParsePaymentID validates s as a payment id.
func ParsePaymentID(s string) (PaymentID, error) {
	tid, err := typeid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrPaymentNotFound, s, err)
	}
	if tid.Prefix() != paymentIDPrefix {
		return "", fmt.Errorf("%w: %q has prefix %q", ErrPaymentNotFound, s, tid.Prefix())
	}
	return PaymentID(s), nil
}

// PaymentType classifies a charge.
type PaymentType string

const (
	PaymentOneTime      PaymentType = "one_time"
	PaymentSubscription PaymentType = "subscription"
	PaymentRenewal      PaymentType = "renewal"
)

// PaymentStatus is the outcome of a charge.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

// Payment is the append-only record of one charge attempt. It is created
// before the gateway is called and updated with the result.
type Payment struct {
	ID                    PaymentID
	UserID                UserID
	Type                  PaymentType
	Product               string
	Amount                Money
	IdempotencyKey        string
	Status                PaymentStatus
	ExternalTransactionID string
	FailureReason         string
	CreatedAt             time.Time
	CompletedAt           *time.Time
	Version               int64
}

// NewPayment creates a pending payment. An empty idempotency key defaults to the id.
func NewPayment(userID UserID, typ PaymentType, product string, amount Money, idempotencyKey string, now time.Time) *Payment {
	id := NewPaymentID()
	if idempotencyKey == "" {
		idempotencyKey = string(id)
	}
	return &Payment{
		ID:             id,
		UserID:         userID,
		Type:           typ,
		Product:        product,
		Amount:         amount,
		IdempotencyKey: idempotencyKey,
		Status:         PaymentStatusPending,
		CreatedAt:      now.UTC(),
	}
}

// Complete records a successful charge. Completing again with the same
// transaction id reports ErrDuplicateCharge.
func (p *Payment) Complete(transactionID string, now time.Time) error {
	switch p.Status {
	case PaymentStatusPending, PaymentStatusFailed:
	case PaymentStatusCompleted:
		if p.ExternalTransactionID == transactionID {
			return ErrDuplicateCharge
		}
		return fmt.Errorf("%w: payment %s already completed by %s", ErrInvalidPaymentState, p.ID, p.ExternalTransactionID)
	default:
		return fmt.Errorf("%w: cannot complete %s payment", ErrInvalidPaymentState, p.Status)
	}
	t := now.UTC()
	p.Status = PaymentStatusCompleted
	p.ExternalTransactionID = transactionID
	p.FailureReason = ""
	p.CompletedAt = &t
	return nil
}

// Fail records a declined or errored charge.
func (p *Payment) Fail(reason string, now time.Time) error {
	if p.Status != PaymentStatusPending {
		return fmt.Errorf("%w: cannot fail %s payment", ErrInvalidPaymentState, p.Status)
	}
	t := now.UTC()
	p.Status = PaymentStatusFailed
	p.FailureReason = reason
	p.CompletedAt = &t
	return nil
}

// Refund marks a completed payment as refunded.
func (p *Payment) Refund() error {
	if p.Status != PaymentStatusCompleted {
		return fmt.Errorf("%w: cannot refund %s payment", ErrInvalidPaymentState, p.Status)
	}
	p.Status = PaymentStatusRefunded
	return nil
}
