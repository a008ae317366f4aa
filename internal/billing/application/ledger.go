package application

import (
	"context"
	"errors"

	"github.com/felixgeelhaar/voltage/internal/billing/domain"
)

// errNoChange aborts a transaction that has nothing to write.
var errNoChange = errors.New("no change")

// Ledger applies balance mutations through the account store's transaction.
// It has no side effects beyond the write.
type Ledger struct {
	accounts domain.AccountRepository
	clock    Clock
}

// NewLedger creates a ledger over the account store.
func NewLedger(accounts domain.AccountRepository, clock Clock) *Ledger {
	return &Ledger{accounts: accounts, clock: clock}
}

// Credit adds amount and returns the new balance.
func (l *Ledger) Credit(ctx context.Context, id domain.UserID, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, domain.ErrInvalidAmount
	}
	acct, err := l.accounts.Transact(ctx, id, func(a *domain.Account) error {
		return a.Credit(amount, l.clock())
	})
	if err != nil {
		return 0, err
	}
	return acct.Balance, nil
}

// Debit removes amount and returns the new balance. When the balance is too
// low it returns the unchanged balance with ErrInsufficientBalance.
func (l *Ledger) Debit(ctx context.Context, id domain.UserID, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, domain.ErrInvalidAmount
	}
	var current int64
	acct, err := l.accounts.Transact(ctx, id, func(a *domain.Account) error {
		current = a.Balance
		return a.Debit(amount, l.clock())
	})
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientBalance) {
			return current, err
		}
		return 0, err
	}
	return acct.Balance, nil
}

// GrantDailyFree tops a free, empty account up to 1.
func (l *Ledger) GrantDailyFree(ctx context.Context, id domain.UserID) (balance int64, granted bool, err error) {
	acct, err := l.accounts.Transact(ctx, id, func(a *domain.Account) error {
		balance = a.Balance
		if !a.GrantDailyFree(l.clock()) {
			return errNoChange
		}
		return nil
	})
	if errors.Is(err, errNoChange) {
		return balance, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return acct.Balance, true, nil
}

// Reclaim removes up to amount, never going below zero.
func (l *Ledger) Reclaim(ctx context.Context, id domain.UserID, amount int64) (reclaimed, balance int64, err error) {
	acct, err := l.accounts.Transact(ctx, id, func(a *domain.Account) error {
		reclaimed = a.Reclaim(amount, l.clock())
		if reclaimed == 0 {
			return errNoChange
		}
		return nil
	})
	if errors.Is(err, errNoChange) {
		acct, err = l.accounts.Get(ctx, id)
		if err != nil {
			return 0, 0, err
		}
		return 0, acct.Balance, nil
	}
	if err != nil {
		return 0, 0, err
	}
	return reclaimed, acct.Balance, nil
}
