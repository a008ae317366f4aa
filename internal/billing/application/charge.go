package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/felixgeelhaar/voltage/internal/billing/domain"
	"github.com/felixgeelhaar/voltage/pkg/observability"
)

// chargeStored charges a stored credential for a pending payment and records
// the outcome on it. A timed out or unreachable gateway leaves the payment
// pending and returns ErrGatewayTimeout or ErrGatewayUnavailable.
func (s *Service) chargeStored(ctx context.Context, p *domain.Payment, credentialRef string) (domain.ChargeOutcome, error) {
	cctx, cancel := context.WithTimeout(ctx, s.chargeTimeout)
	defer cancel()

	s.metrics.Counter(observability.MetricChargesAttempted, 1, observability.T("type", string(p.Type)))
	outcome, err := s.gateway.ChargeStoredCredential(cctx, domain.ChargeRequest{
		UserID:         p.UserID,
		Amount:         p.Amount,
		CredentialRef:  credentialRef,
		IdempotencyKey: p.IdempotencyKey,
		Description:    p.Product,
	})
	if err != nil {
		return domain.ChargeOutcome{}, s.unknownOutcome(ctx, p, cctx.Err() != nil, err)
	}
	s.recordOutcome(ctx, p.ID, outcome)
	return outcome, nil
}

// resolveCharge settles a payment whose earlier charge has an unknown
// outcome. The gateway is asked first; if it never saw the key the same
// charge is sent again.
func (s *Service) resolveCharge(ctx context.Context, p *domain.Payment, credentialRef string) (domain.ChargeOutcome, error) {
	cctx, cancel := context.WithTimeout(ctx, s.chargeTimeout)
	outcome, found, err := s.gateway.LookupCharge(cctx, p.IdempotencyKey)
	timedOut := cctx.Err() == context.DeadlineExceeded
	cancel()
	if err != nil {
		return domain.ChargeOutcome{}, s.unknownOutcome(ctx, p, timedOut, err)
	}
	if !found {
		s.logger.InfoContext(ctx, "pending charge unknown to gateway, resending",
			"payment_id", p.ID,
			"idempotency_key", p.IdempotencyKey,
		)
		return s.chargeStored(ctx, p, credentialRef)
	}
	s.recordOutcome(ctx, p.ID, outcome)
	return outcome, nil
}

func (s *Service) unknownOutcome(ctx context.Context, p *domain.Payment, timedOut bool, err error) error {
	if !errors.Is(err, domain.ErrGatewayTimeout) && !errors.Is(err, domain.ErrGatewayUnavailable) {
		if timedOut {
			err = fmt.Errorf("%w: %v", domain.ErrGatewayTimeout, err)
		} else {
			err = fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
		}
	}
	s.metrics.Counter(observability.MetricChargesUnknown, 1)
	s.logger.WarnContext(ctx, "charge outcome unknown, leaving payment pending",
		"payment_id", p.ID,
		"user_id", p.UserID,
		"error", err,
	)
	return err
}

// recordOutcome writes a gateway answer to the payment record. The account
// transition does not depend on it, so failures are only logged.
func (s *Service) recordOutcome(ctx context.Context, id domain.PaymentID, outcome domain.ChargeOutcome) {
	if !outcome.Success {
		s.metrics.Counter(observability.MetricChargesDeclined, 1)
	}
	_, err := s.payments.Update(ctx, id, func(p *domain.Payment) error {
		if outcome.Success {
			return p.Complete(outcome.TransactionID, s.now())
		}
		if p.Status == domain.PaymentStatusFailed {
			return errNoChange
		}
		return p.Fail(outcome.Reason, s.now())
	})
	if err != nil && !errors.Is(err, domain.ErrDuplicateCharge) && !errors.Is(err, errNoChange) {
		s.logger.ErrorContext(ctx, "failed to record charge outcome", "payment_id", id, "error", err)
	}
}
