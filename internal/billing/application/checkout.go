package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/felixgeelhaar/voltage/internal/billing/domain"
)

// Checkout creates a pending payment (an invoice) for an energy pack or a
// subscription plan. Subscription checkouts are discounted when the user
// left a paid plan.
func (s *Service) Checkout(ctx context.Context, id domain.UserID, product string) (*domain.Payment, error) {
	acct, err := s.accounts.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var (
		typ    domain.PaymentType
		amount domain.Money
	)
	if pack, err := s.catalog.Pack(domain.PackID(product)); err == nil {
		typ, amount = domain.PaymentOneTime, pack.Price
	} else {
		plan, err := s.catalog.PaidPlan(domain.PlanID(product))
		if err != nil {
			return nil, fmt.Errorf("%w: %q is neither a pack nor a paid plan", domain.ErrUnknownPack, product)
		}
		if st := acct.SubscriptionStatus(); st.IsLive() {
			return nil, &domain.TransitionError{From: st, Event: domain.EventStart}
		}
		typ, amount = domain.PaymentSubscription, domain.ChargeAmount(plan, acct.Subscription)
	}

	p := domain.NewPayment(id, typ, product, amount, "", s.now())
	if err := s.payments.Create(ctx, p); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "checkout created", "user_id", id, "payment_id", p.ID, "product", product, "amount", amount.String())
	return p, nil
}

// HandlePaymentSucceeded completes a checkout payment and delivers what was
// bought. Callbacks repeated with the same transaction id are absorbed.
func (s *Service) HandlePaymentSucceeded(ctx context.Context, id domain.PaymentID, transactionID, credentialRef string) (*domain.Payment, error) {
	p, err := s.payments.Update(ctx, id, func(p *domain.Payment) error {
		return p.Complete(transactionID, s.now())
	})
	if errors.Is(err, domain.ErrDuplicateCharge) {
		// Delivery below is idempotent, so finish it in case the first
		// callback died half way.
		p, err = s.payments.Get(ctx, id)
	}
	if err != nil {
		return nil, err
	}

	switch p.Type {
	case domain.PaymentOneTime:
		if err := s.creditPack(ctx, p); err != nil {
			return nil, err
		}
	case domain.PaymentSubscription:
		_, err := s.CreateSubscription(ctx, p.UserID, domain.PlanID(p.Product), credentialRef, transactionID)
		if errors.Is(err, domain.ErrInvalidTransition) {
			// Paid while another subscription went live.
			return p, s.undeliverable(ctx, p, "subscription already live when the checkout was paid")
		}
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %s payments are not checked out", domain.ErrInvalidPaymentState, p.Type)
	}
	return p, nil
}

// undeliverable marks the payment's charge as handled on the account and
// asks for a refund. Redelivered callbacks find the charge applied and stay
// quiet.
func (s *Service) undeliverable(ctx context.Context, p *domain.Payment, reason string) error {
	chargeID := p.ExternalTransactionID
	if chargeID == "" {
		chargeID = string(p.ID)
	}
	_, err := s.accounts.Transact(ctx, p.UserID, func(a *domain.Account) error {
		if !a.ApplyCharge(chargeID) {
			return domain.ErrDuplicateCharge
		}
		a.Touch(s.now())
		return nil
	})
	if errors.Is(err, domain.ErrDuplicateCharge) {
		return nil
	}
	if err != nil {
		return err
	}
	s.requestRefund(ctx, p, reason)
	return nil
}

func (s *Service) creditPack(ctx context.Context, p *domain.Payment) error {
	pack, err := s.catalog.Pack(domain.PackID(p.Product))
	if err != nil {
		return err
	}
	acct, err := s.accounts.Transact(ctx, p.UserID, func(a *domain.Account) error {
		if !a.ApplyCharge(p.ExternalTransactionID) {
			return domain.ErrDuplicateCharge
		}
		if err := a.Credit(pack.Energy, s.now()); err != nil {
			return err
		}
		a.Record(domain.NewPackPurchased(a, pack, p.ID))
		return nil
	})
	if errors.Is(err, domain.ErrDuplicateCharge) {
		return nil
	}
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "energy pack credited", "user_id", p.UserID, "pack", pack.ID, "balance", acct.Balance)
	s.publishAccount(ctx, acct)
	return nil
}

// HandlePaymentFailed marks a checkout payment declined.
func (s *Service) HandlePaymentFailed(ctx context.Context, id domain.PaymentID, reason string) (*domain.Payment, error) {
	p, err := s.payments.Update(ctx, id, func(p *domain.Payment) error {
		if p.Status == domain.PaymentStatusFailed {
			return errNoChange
		}
		return p.Fail(reason, s.now())
	})
	if errors.Is(err, errNoChange) {
		return s.payments.Get(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "payment failed", "payment_id", id, "user_id", p.UserID, "reason", reason)
	s.publish(ctx, domain.NewPaymentFailed(p, s.now()))
	return p, nil
}

// HandleRefund marks a completed payment refunded. Pack energy is taken back
// as far as the balance allows.
func (s *Service) HandleRefund(ctx context.Context, id domain.PaymentID) (*domain.Payment, error) {
	p, err := s.payments.Update(ctx, id, func(p *domain.Payment) error {
		if p.Status == domain.PaymentStatusRefunded {
			return errNoChange
		}
		return p.Refund()
	})
	if errors.Is(err, errNoChange) {
		return s.payments.Get(ctx, id)
	}
	if err != nil {
		return nil, err
	}

	var reclaimed int64
	if p.Type == domain.PaymentOneTime {
		if pack, perr := s.catalog.Pack(domain.PackID(p.Product)); perr == nil {
			reclaimed, _, err = s.ledger.Reclaim(ctx, p.UserID, pack.Energy)
			if err != nil {
				return nil, fmt.Errorf("reclaim refunded energy: %w", err)
			}
		}
	}
	s.logger.InfoContext(ctx, "payment refunded", "payment_id", id, "user_id", p.UserID, "reclaimed", reclaimed)
	s.publish(ctx, domain.NewPaymentRefunded(p, reclaimed, s.now()))
	return p, nil
}

// ListPayments returns the user's most recent payments, newest first.
func (s *Service) ListPayments(ctx context.Context, id domain.UserID, limit int) ([]*domain.Payment, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.payments.ListByUser(ctx, id, limit)
}
