package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/felixgeelhaar/voltage/internal/billing/domain"
	"github.com/felixgeelhaar/voltage/pkg/observability"
)

// RegisterUser creates a free account with the starter balance. Registering
// an existing user returns the stored account with created set to false.
func (s *Service) RegisterUser(ctx context.Context, id domain.UserID) (acct *domain.Account, created bool, err error) {
	acct = domain.NewAccount(id, s.initialBalance, s.now())
	err = s.accounts.Create(ctx, acct)
	if errors.Is(err, domain.ErrUserExists) {
		acct, err = s.accounts.Get(ctx, id)
		if err != nil {
			return nil, false, err
		}
		return acct, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("register user %s: %w", id, err)
	}
	s.logger.InfoContext(ctx, "user registered", "user_id", id, "balance", acct.Balance)
	return acct, true, nil
}

// GetAccount returns the account or ErrUserNotFound.
func (s *Service) GetAccount(ctx context.Context, id domain.UserID) (*domain.Account, error) {
	return s.accounts.Get(ctx, id)
}

// Credit adds energy to a balance.
func (s *Service) Credit(ctx context.Context, id domain.UserID, amount int64) (int64, error) {
	balance, err := s.ledger.Credit(ctx, id, amount)
	if err != nil {
		return 0, err
	}
	s.metrics.Counter(observability.MetricEnergyCredited, amount)
	return balance, nil
}

// Debit spends energy. A rejected debit returns the current balance with
// ErrInsufficientBalance and notifies the user.
func (s *Service) Debit(ctx context.Context, id domain.UserID, amount int64) (int64, error) {
	balance, err := s.ledger.Debit(ctx, id, amount)
	if errors.Is(err, domain.ErrInsufficientBalance) {
		s.metrics.Counter(observability.MetricDebitsRejected, 1)
		s.publish(ctx, domain.NewEnergyInsufficient(id, balance, amount, s.now()))
		return balance, err
	}
	if err != nil {
		return 0, err
	}
	s.metrics.Counter(observability.MetricEnergyDebited, amount)
	return balance, nil
}

// GrantDailyFree applies the free-tier daily top-up.
func (s *Service) GrantDailyFree(ctx context.Context, id domain.UserID) (int64, bool, error) {
	balance, granted, err := s.ledger.GrantDailyFree(ctx, id)
	if err != nil {
		return 0, false, err
	}
	if granted {
		s.metrics.Counter(observability.MetricDailyGrants, 1)
	}
	return balance, granted, nil
}
