package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/felixgeelhaar/voltage/internal/billing/domain"
)

type itemOutcome int

const (
	itemProcessed itemOutcome = iota
	itemSkipped
)

// RetryRenewal runs one retry step for a subscription in grace: it settles
// an in-flight charge or, when the next attempt is due, charges again.
func (s *Service) RetryRenewal(ctx context.Context, id domain.UserID) (*domain.Account, error) {
	if _, err := s.retryOne(ctx, id); err != nil {
		return nil, err
	}
	return s.accounts.Get(ctx, id)
}

func (s *Service) retryOne(ctx context.Context, id domain.UserID) (itemOutcome, error) {
	acct, err := s.accounts.Get(ctx, id)
	if err != nil {
		return itemSkipped, err
	}
	g, ok := acct.Subscription.Grace()
	if !ok {
		return itemSkipped, nil
	}
	sub := acct.Subscription

	if g.Pending != nil {
		p, err := s.payments.Get(ctx, g.Pending.PaymentID)
		if err != nil {
			return itemSkipped, fmt.Errorf("load pending payment: %w", err)
		}
		outcome, err := s.settlePending(ctx, p, sub.Token)
		if err != nil {
			return itemSkipped, leavePending(err)
		}
		return s.applyRetryOutcome(ctx, p, outcome)
	}

	now := s.now()
	if !s.policy.IsDue(g, now) {
		return itemSkipped, nil
	}

	plan, err := s.catalog.Plan(sub.Plan)
	if err != nil {
		return itemSkipped, err
	}
	attempt := g.RetryCount + 1
	key := s.policy.IdempotencyKey(id, g, attempt)
	p := domain.NewPayment(id, domain.PaymentRenewal, string(plan.ID), domain.ChargeAmount(plan, sub), key, now)
	fresh := true
	if err := s.payments.Create(ctx, p); err != nil {
		if !errors.Is(err, domain.ErrPaymentExists) {
			return itemSkipped, err
		}
		if p, err = s.payments.FindByIdempotencyKey(ctx, key); err != nil {
			return itemSkipped, err
		}
		fresh = false
	}

	_, err = s.accounts.Transact(ctx, id, func(a *domain.Account) error {
		return a.MarkRetryPending(domain.PendingCharge{
			IdempotencyKey: key,
			PaymentID:      p.ID,
			Attempt:        attempt,
			StartedAt:      now,
		}, now)
	})
	switch {
	case errors.Is(err, domain.ErrChargeInFlight), errors.Is(err, domain.ErrNoActiveSubscription), errors.Is(err, domain.ErrInvalidTransition):
		// Another worker or a callback got there first.
		return itemSkipped, nil
	case err != nil:
		return itemSkipped, err
	}

	s.logger.InfoContext(ctx, "retrying renewal charge", "user_id", id, "attempt", attempt, "payment_id", p.ID)
	var outcome domain.ChargeOutcome
	if fresh {
		outcome, err = s.chargeStored(ctx, p, sub.Token)
	} else {
		outcome, err = s.settlePending(ctx, p, sub.Token)
	}
	if err != nil {
		return itemSkipped, leavePending(err)
	}
	return s.applyRetryOutcome(ctx, p, outcome)
}

// settlePending returns the outcome for a payment that may or may not have
// reached the gateway.
func (s *Service) settlePending(ctx context.Context, p *domain.Payment, credentialRef string) (domain.ChargeOutcome, error) {
	switch p.Status {
	case domain.PaymentStatusCompleted:
		return domain.ChargeOutcome{Success: true, TransactionID: p.ExternalTransactionID}, nil
	case domain.PaymentStatusFailed:
		return domain.ChargeOutcome{Reason: p.FailureReason}, nil
	case domain.PaymentStatusPending:
		return s.resolveCharge(ctx, p, credentialRef)
	default:
		return domain.ChargeOutcome{}, fmt.Errorf("%w: payment %s is %s", domain.ErrInvalidPaymentState, p.ID, p.Status)
	}
}

// leavePending turns an unknown gateway outcome into a skip; the next sweep
// settles it. Other errors are reported.
func leavePending(err error) error {
	if errors.Is(err, domain.ErrGatewayTimeout) || errors.Is(err, domain.ErrGatewayUnavailable) {
		return nil
	}
	return err
}

// applyRetryOutcome feeds a renewal charge result into the account. A
// decline only counts while the subscription still waits on that charge. A
// success is always applied once: it renews a live subscription, and on an
// ended one the money is flagged for refund.
func (s *Service) applyRetryOutcome(ctx context.Context, p *domain.Payment, outcome domain.ChargeOutcome) (itemOutcome, error) {
	chargeID := outcome.TransactionID
	if chargeID == "" {
		chargeID = string(p.ID)
	}
	refund := false
	acct, err := s.accounts.Transact(ctx, p.UserID, func(a *domain.Account) error {
		refund = false
		now := s.now()
		if !outcome.Success {
			g, ok := a.Subscription.Grace()
			if !ok || !g.Awaits(p.IdempotencyKey) {
				return errNoChange
			}
			return a.SettleRetryFailure(p.IdempotencyKey, now)
		}
		if !a.ApplyCharge(chargeID) {
			return domain.ErrDuplicateCharge
		}
		if !a.Subscription.Status().IsLive() {
			refund = true
			return nil
		}
		plan, err := s.catalog.Plan(a.Subscription.Plan)
		if err != nil {
			return err
		}
		return a.Renew(plan, now)
	})
	if errors.Is(err, errNoChange) || errors.Is(err, domain.ErrDuplicateCharge) {
		return itemSkipped, nil
	}
	if err != nil {
		return itemSkipped, err
	}

	if refund {
		p.ExternalTransactionID = outcome.TransactionID
		s.requestRefund(ctx, p, "subscription ended before the renewal charge settled")
		return itemProcessed, nil
	}
	s.logger.InfoContext(ctx, "renewal retry settled",
		"user_id", p.UserID,
		"payment_id", p.ID,
		"success", outcome.Success,
		"status", acct.SubscriptionStatus(),
		"reason", outcome.Reason,
	)
	s.publishAccount(ctx, acct)
	return itemProcessed, nil
}

// requestRefund reports a completed payment that delivered nothing.
func (s *Service) requestRefund(ctx context.Context, p *domain.Payment, reason string) {
	s.logger.ErrorContext(ctx, "completed payment needs a refund",
		"user_id", p.UserID,
		"payment_id", p.ID,
		"product", p.Product,
		"transaction_id", p.ExternalTransactionID,
		"reason", reason,
	)
	s.publish(ctx, domain.NewRefundRequired(p, reason, s.now()))
}

// staleChargeAge is how old a pending renewal payment must be, in charge
// timeouts, before it is settled from the payment store.
const staleChargeAge = 2

// usersWithStaleCharges lists users owning pending renewal payments that
// are older than any charge still being sent.
func (s *Service) usersWithStaleCharges(ctx context.Context) ([]domain.UserID, error) {
	payments, err := s.payments.Find(ctx, s.staleChargeQuery(nil))
	if err != nil {
		return nil, err
	}
	seen := make(map[domain.UserID]bool, len(payments))
	var ids []domain.UserID
	for _, p := range payments {
		if !seen[p.UserID] {
			seen[p.UserID] = true
			ids = append(ids, p.UserID)
		}
	}
	return ids, nil
}

func (s *Service) staleChargeQuery(id *domain.UserID) domain.PaymentQuery {
	cutoff := s.now().Add(-staleChargeAge * s.chargeTimeout)
	return domain.PaymentQuery{
		UserID:        id,
		Type:          domain.PaymentRenewal,
		Status:        domain.PaymentStatusPending,
		CreatedBefore: &cutoff,
	}
}

// settleStaleCharges resolves pending renewal payments the account no
// longer tracks: the subscription was renewed by a callback or suspended
// while the outcome was unknown. They are looked up, never re-sent.
func (s *Service) settleStaleCharges(ctx context.Context, id domain.UserID) (itemOutcome, error) {
	acct, err := s.accounts.Get(ctx, id)
	if err != nil {
		return itemSkipped, err
	}
	payments, err := s.payments.Find(ctx, s.staleChargeQuery(&id))
	if err != nil {
		return itemSkipped, err
	}

	result := itemSkipped
	for _, p := range payments {
		if g, ok := acct.Subscription.Grace(); ok && g.Pending != nil && g.Pending.PaymentID == p.ID {
			continue
		}
		out, err := s.settleStaleCharge(ctx, p)
		if err != nil {
			return result, err
		}
		if out == itemProcessed {
			result = itemProcessed
		}
	}
	return result, nil
}

func (s *Service) settleStaleCharge(ctx context.Context, p *domain.Payment) (itemOutcome, error) {
	cctx, cancel := context.WithTimeout(ctx, s.chargeTimeout)
	outcome, found, err := s.gateway.LookupCharge(cctx, p.IdempotencyKey)
	timedOut := cctx.Err() == context.DeadlineExceeded
	cancel()
	if err != nil {
		return itemSkipped, leavePending(s.unknownOutcome(ctx, p, timedOut, err))
	}
	if !found {
		outcome = domain.ChargeOutcome{Reason: "charge never reached the gateway"}
	}
	s.recordOutcome(ctx, p.ID, outcome)
	if !outcome.Success {
		return itemProcessed, nil
	}
	return s.applyRetryOutcome(ctx, p, outcome)
}
