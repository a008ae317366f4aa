package domain

import (
	"context"
	"time"
)

// MutateFunc changes an account inside a transaction. Returning an error
// aborts the transaction without writing.
type MutateFunc func(acct *Account) error

// AccountQuery selects sweep candidates. Nil and zero fields do not filter.
type AccountQuery struct {
	Plan    *PlanID
	Balance *int64
	Status  Status
	// RetriesBelow keeps accounts in grace whose retry count is lower.
	RetriesBelow int
	// GraceEndsBy keeps accounts whose grace ended (or ends) at or before the time.
	GraceEndsBy *time.Time
	Limit       int
}

// PaymentQuery selects payments. Nil and zero fields do not filter.
type PaymentQuery struct {
	UserID *UserID
	Type   PaymentType
	Status PaymentStatus
	// CreatedBefore keeps payments created strictly before the time.
	CreatedBefore *time.Time
	Limit         int
}

// AccountRepository stores one document per user.
type AccountRepository interface {
	// Create inserts a new account or returns ErrUserExists.
	Create(ctx context.Context, acct *Account) error
	// Get returns ErrUserNotFound for unknown users.
	Get(ctx context.Context, id UserID) (*Account, error)
	// Save overwrites the document unconditionally.
	Save(ctx context.Context, acct *Account) error
	// Transact reads the account, applies fn to a fresh copy and writes it back
	// only if nobody else wrote in between. Conflicts are retried a bounded
	// number of times before ErrTransactionConflict.
	Transact(ctx context.Context, id UserID, fn MutateFunc) (*Account, error)
	// Find returns the ids of accounts matching q.
	Find(ctx context.Context, q AccountQuery) ([]UserID, error)
}

// PaymentRepository stores payment records. Payments are never deleted.
type PaymentRepository interface {
	// Create inserts a payment or returns ErrPaymentExists when the
	// idempotency key is taken.
	Create(ctx context.Context, p *Payment) error
	Get(ctx context.Context, id PaymentID) (*Payment, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*Payment, error)
	FindByTransactionID(ctx context.Context, transactionID string) (*Payment, error)
	ListByUser(ctx context.Context, userID UserID, limit int) ([]*Payment, error)
	// Find returns payments matching q, oldest first.
	Find(ctx context.Context, q PaymentQuery) ([]*Payment, error)
	// Update applies fn to the stored payment with a version check.
	Update(ctx context.Context, id PaymentID, fn func(p *Payment) error) (*Payment, error)
}

// MaxTransactRetries bounds optimistic concurrency retries in Transact.
const MaxTransactRetries = 5
