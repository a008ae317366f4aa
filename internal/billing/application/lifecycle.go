package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/felixgeelhaar/voltage/internal/billing/domain"
)

// ChargeResult is the outcome of a recurring charge reported by the gateway.
type ChargeResult struct {
	UserID        domain.UserID
	Success       bool
	TransactionID string
	Reason        string
}

// CreateSubscription starts (or resumes) a subscription after its first
// charge succeeded. Replaying the same transaction id is a no-op.
func (s *Service) CreateSubscription(ctx context.Context, id domain.UserID, planID domain.PlanID, credentialRef, transactionID string) (*domain.Account, error) {
	plan, err := s.catalog.PaidPlan(planID)
	if err != nil {
		return nil, err
	}

	acct, err := s.accounts.Transact(ctx, id, func(a *domain.Account) error {
		if !a.ApplyCharge(transactionID) {
			return domain.ErrDuplicateCharge
		}
		return a.StartSubscription(plan, credentialRef, s.now())
	})
	if errors.Is(err, domain.ErrDuplicateCharge) {
		s.logger.InfoContext(ctx, "duplicate subscription charge ignored", "user_id", id, "transaction_id", transactionID)
		return s.accounts.Get(ctx, id)
	}
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "subscription created",
		"user_id", id,
		"plan", plan.ID,
		"balance", acct.Balance,
		"applied_discount", acct.Subscription.AppliedDiscount,
	)
	s.publishAccount(ctx, acct)
	return acct, nil
}

// HandleChargeResult applies a recurring charge outcome: success renews,
// failure enters grace or counts a retry.
func (s *Service) HandleChargeResult(ctx context.Context, r ChargeResult) (*domain.Account, error) {
	acct, err := s.applyChargeResult(ctx, r)
	if err != nil {
		return nil, err
	}
	s.recordRecurringPayment(ctx, acct, r)
	return acct, nil
}

func (s *Service) applyChargeResult(ctx context.Context, r ChargeResult) (*domain.Account, error) {
	before := domain.Status("")
	acct, err := s.accounts.Transact(ctx, r.UserID, func(a *domain.Account) error {
		sub := a.Subscription
		if sub == nil {
			return domain.ErrNoActiveSubscription
		}
		before = sub.Status()
		if !a.ApplyCharge(r.TransactionID) {
			return domain.ErrDuplicateCharge
		}
		now := s.now()
		if r.Success {
			plan, err := s.catalog.Plan(sub.Plan)
			if err != nil {
				return err
			}
			return a.Renew(plan, now)
		}
		if sub.Status() == domain.StatusGrace {
			return a.RecordRetryFailure(now)
		}
		return a.EnterGrace(now)
	})
	if errors.Is(err, domain.ErrDuplicateCharge) {
		s.logger.InfoContext(ctx, "duplicate charge result ignored", "user_id", r.UserID, "transaction_id", r.TransactionID)
		return s.accounts.Get(ctx, r.UserID)
	}
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "charge result applied",
		"user_id", r.UserID,
		"success", r.Success,
		"from", before,
		"to", acct.SubscriptionStatus(),
		"reason", r.Reason,
	)
	s.publishAccount(ctx, acct)
	return acct, nil
}

// recordRecurringPayment appends a payment record for a charge the gateway
// made on its own schedule.
func (s *Service) recordRecurringPayment(ctx context.Context, acct *domain.Account, r ChargeResult) {
	if r.TransactionID == "" || acct.Subscription == nil {
		return
	}
	plan, err := s.catalog.Plan(acct.Subscription.Plan)
	if err != nil {
		return
	}
	now := s.now()
	p := domain.NewPayment(r.UserID, domain.PaymentRenewal, string(plan.ID), plan.Price, "recurrent_"+r.TransactionID, now)
	if r.Success {
		err = p.Complete(r.TransactionID, now)
	} else {
		err = p.Fail(r.Reason, now)
	}
	if err == nil {
		err = s.payments.Create(ctx, p)
	}
	if err != nil && !errors.Is(err, domain.ErrPaymentExists) {
		s.logger.WarnContext(ctx, "failed to record recurring payment", "user_id", r.UserID, "error", err)
	}
}

// Cancel ends a live subscription. Unspent energy is kept.
func (s *Service) Cancel(ctx context.Context, id domain.UserID) (*domain.Account, error) {
	acct, err := s.accounts.Transact(ctx, id, func(a *domain.Account) error {
		return a.Cancel(s.now())
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "subscription canceled", "user_id", id, "balance", acct.Balance)
	s.publishAccount(ctx, acct)
	return acct, nil
}

// QuoteResume returns what resuming on plan would charge.
func (s *Service) QuoteResume(ctx context.Context, id domain.UserID, planID domain.PlanID) (domain.Money, error) {
	plan, err := s.catalog.PaidPlan(planID)
	if err != nil {
		return domain.Money{}, err
	}
	acct, err := s.accounts.Get(ctx, id)
	if err != nil {
		return domain.Money{}, err
	}
	if st := acct.SubscriptionStatus(); st.IsLive() {
		return domain.Money{}, &domain.TransitionError{From: st, Event: domain.EventStart}
	}
	return domain.ChargeAmount(plan, acct.Subscription), nil
}

// Resume charges the stored credential of a terminal subscription at the
// discounted price and starts a new subscription on success.
func (s *Service) Resume(ctx context.Context, id domain.UserID, planID domain.PlanID) (*domain.Account, error) {
	plan, err := s.catalog.PaidPlan(planID)
	if err != nil {
		return nil, err
	}
	acct, err := s.accounts.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	sub := acct.Subscription
	if sub == nil {
		return nil, fmt.Errorf("%w: no stored payment credential", domain.ErrNoActiveSubscription)
	}
	if st := sub.Status(); !st.IsTerminal() {
		return nil, &domain.TransitionError{From: st, Event: domain.EventStart}
	}

	p, outcome, err := s.chargeResume(ctx, acct, plan)
	if err != nil {
		return nil, err
	}
	if !outcome.Success {
		p.FailureReason = outcome.Reason
		s.publish(ctx, domain.NewPaymentFailed(p, s.now()))
		return nil, fmt.Errorf("%w: %s", domain.ErrChargeDeclined, outcome.Reason)
	}
	return s.CreateSubscription(ctx, id, plan.ID, sub.Token, outcome.TransactionID)
}

// maxResumeAttempts bounds declined resume charges per terminal subscription.
const maxResumeAttempts = 10

// chargeResume charges the stored credential under a key derived from the
// terminal subscription and attempt number. A pending attempt is settled
// before a new one is made, so a lost response is never charged twice.
func (s *Service) chargeResume(ctx context.Context, acct *domain.Account, plan domain.Plan) (*domain.Payment, domain.ChargeOutcome, error) {
	sub := acct.Subscription
	amount := domain.ChargeAmount(plan, sub)
	for attempt := 1; attempt <= maxResumeAttempts; attempt++ {
		key := fmt.Sprintf("resume_%d_%d_%s_%d", acct.ID, terminatedAt(sub).Unix(), plan.ID, attempt)
		p := domain.NewPayment(acct.ID, domain.PaymentSubscription, string(plan.ID), amount, key, s.now())

		err := s.payments.Create(ctx, p)
		if err == nil {
			outcome, err := s.chargeStored(ctx, p, sub.Token)
			return p, outcome, err
		}
		if !errors.Is(err, domain.ErrPaymentExists) {
			return nil, domain.ChargeOutcome{}, err
		}

		p, err = s.payments.FindByIdempotencyKey(ctx, key)
		if err != nil {
			return nil, domain.ChargeOutcome{}, err
		}
		switch p.Status {
		case domain.PaymentStatusCompleted:
			return p, domain.ChargeOutcome{Success: true, TransactionID: p.ExternalTransactionID}, nil
		case domain.PaymentStatusPending:
			outcome, err := s.resolveCharge(ctx, p, sub.Token)
			return p, outcome, err
		}
		// Declined or refunded: try a fresh key.
	}
	return nil, domain.ChargeOutcome{}, fmt.Errorf("%w: too many declined resume attempts", domain.ErrChargeDeclined)
}

func terminatedAt(sub *domain.Subscription) time.Time {
	switch st := sub.State.(type) {
	case domain.Suspended:
		return st.Since
	case domain.Expired:
		return st.At
	case domain.Canceled:
		return st.At
	default:
		return sub.StartedAt
	}
}
