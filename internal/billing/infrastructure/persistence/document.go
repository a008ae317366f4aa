package persistence

import (
	"fmt"
	"time"

	"github.com/felixgeelhaar/voltage/internal/billing/domain"
	"github.com/felixgeelhaar/voltage/internal/shared/infrastructure/crypto"
)

// accountDocument is the stored form of an account. The same shape is
// written as JSON by the SQL stores and as BSON by the Mongo store.
type accountDocument struct {
	ID               int64                 `json:"id" bson:"_id"`
	Balance          int64                 `json:"balance" bson:"balance"`
	Plan             string                `json:"plan" bson:"plan"`
	Subscription     *subscriptionDocument `json:"subscription,omitempty" bson:"subscription,omitempty"`
	LastDailyGrantAt *time.Time            `json:"last_daily_grant_at,omitempty" bson:"last_daily_grant_at,omitempty"`
	AppliedCharges   []string              `json:"applied_charges,omitempty" bson:"applied_charges,omitempty"`
	CreatedAt        time.Time             `json:"created_at" bson:"created_at"`
	UpdatedAt        time.Time             `json:"updated_at" bson:"updated_at"`
	Version          int64                 `json:"version" bson:"version"`
}

// subscriptionDocument flattens the status-specific state. Only the fields
// of the current status are set.
type subscriptionDocument struct {
	Status          string           `json:"status" bson:"status"`
	Plan            string           `json:"plan" bson:"plan"`
	Token           string           `json:"token" bson:"token"`
	StartedAt       time.Time        `json:"started_at" bson:"started_at"`
	NextBillingAt   time.Time        `json:"next_billing_at" bson:"next_billing_at"`
	DiscountPercent int              `json:"discount_percent" bson:"discount_percent"`
	AppliedDiscount int              `json:"applied_discount,omitempty" bson:"applied_discount,omitempty"`
	RetryCount      int              `json:"retry_count" bson:"retry_count"`
	GraceEndsAt     *time.Time       `json:"grace_ends_at,omitempty" bson:"grace_ends_at,omitempty"`
	LastRetryAt     *time.Time       `json:"last_retry_at,omitempty" bson:"last_retry_at,omitempty"`
	PendingCharge   *pendingDocument `json:"pending_charge,omitempty" bson:"pending_charge,omitempty"`
	SuspendedSince  *time.Time       `json:"suspended_since,omitempty" bson:"suspended_since,omitempty"`
	GraceEndedAt    *time.Time       `json:"grace_ended_at,omitempty" bson:"grace_ended_at,omitempty"`
	ExpiredAt       *time.Time       `json:"expired_at,omitempty" bson:"expired_at,omitempty"`
	CanceledAt      *time.Time       `json:"canceled_at,omitempty" bson:"canceled_at,omitempty"`
}

type pendingDocument struct {
	IdempotencyKey string    `json:"idempotency_key" bson:"idempotency_key"`
	PaymentID      string    `json:"payment_id" bson:"payment_id"`
	Attempt        int       `json:"attempt" bson:"attempt"`
	StartedAt      time.Time `json:"started_at" bson:"started_at"`
}

// codec converts accounts to documents, sealing the payment token.
type codec struct {
	sealer crypto.Sealer
}

func newCodec(sealer crypto.Sealer) codec {
	if sealer == nil {
		sealer = crypto.PlainSealer{}
	}
	return codec{sealer: sealer}
}

func (c codec) encode(a *domain.Account) (accountDocument, error) {
	doc := accountDocument{
		ID:               int64(a.ID),
		Balance:          a.Balance,
		Plan:             string(a.Plan),
		LastDailyGrantAt: utcPtr(a.LastDailyGrantAt),
		AppliedCharges:   a.AppliedCharges,
		CreatedAt:        a.CreatedAt.UTC(),
		UpdatedAt:        a.UpdatedAt.UTC(),
		Version:          a.Version,
	}
	if sub := a.Subscription; sub != nil {
		token, err := c.sealer.Seal(sub.Token)
		if err != nil {
			return accountDocument{}, fmt.Errorf("seal payment token: %w", err)
		}
		sd := &subscriptionDocument{
			Status:          string(sub.Status()),
			Plan:            string(sub.Plan),
			Token:           token,
			StartedAt:       sub.StartedAt.UTC(),
			NextBillingAt:   sub.NextBillingAt.UTC(),
			DiscountPercent: sub.DiscountPercent,
			AppliedDiscount: sub.AppliedDiscount,
		}
		switch st := sub.State.(type) {
		case domain.Grace:
			sd.GraceEndsAt = utcPtr(&st.EndsAt)
			sd.RetryCount = st.RetryCount
			sd.LastRetryAt = utcPtr(st.LastRetryAt)
			if p := st.Pending; p != nil {
				sd.PendingCharge = &pendingDocument{
					IdempotencyKey: p.IdempotencyKey,
					PaymentID:      string(p.PaymentID),
					Attempt:        p.Attempt,
					StartedAt:      p.StartedAt.UTC(),
				}
			}
		case domain.Suspended:
			sd.SuspendedSince = utcPtr(&st.Since)
			sd.GraceEndedAt = utcPtr(&st.GraceEndedAt)
			sd.RetryCount = st.RetryCount
		case domain.Expired:
			sd.ExpiredAt = utcPtr(&st.At)
		case domain.Canceled:
			sd.CanceledAt = utcPtr(&st.At)
		}
		doc.Subscription = sd
	}
	return doc, nil
}

func (c codec) decode(doc accountDocument) (*domain.Account, error) {
	a := &domain.Account{
		ID:               domain.UserID(doc.ID),
		Balance:          doc.Balance,
		Plan:             domain.PlanID(doc.Plan),
		LastDailyGrantAt: utcPtr(doc.LastDailyGrantAt),
		AppliedCharges:   doc.AppliedCharges,
		CreatedAt:        doc.CreatedAt.UTC(),
		UpdatedAt:        doc.UpdatedAt.UTC(),
		Version:          doc.Version,
	}
	sd := doc.Subscription
	if sd == nil {
		return a, nil
	}

	token, err := c.sealer.Open(sd.Token)
	if err != nil {
		return nil, fmt.Errorf("open payment token for user %d: %w", doc.ID, err)
	}
	sub := &domain.Subscription{
		Plan:            domain.PlanID(sd.Plan),
		Token:           token,
		StartedAt:       sd.StartedAt.UTC(),
		NextBillingAt:   sd.NextBillingAt.UTC(),
		DiscountPercent: sd.DiscountPercent,
		AppliedDiscount: sd.AppliedDiscount,
	}
	switch domain.Status(sd.Status) {
	case domain.StatusActive:
		sub.State = domain.Active{}
	case domain.StatusGrace:
		g := domain.Grace{
			EndsAt:      deref(sd.GraceEndsAt),
			RetryCount:  sd.RetryCount,
			LastRetryAt: utcPtr(sd.LastRetryAt),
		}
		if p := sd.PendingCharge; p != nil {
			g.Pending = &domain.PendingCharge{
				IdempotencyKey: p.IdempotencyKey,
				PaymentID:      domain.PaymentID(p.PaymentID),
				Attempt:        p.Attempt,
				StartedAt:      p.StartedAt.UTC(),
			}
		}
		sub.State = g
	case domain.StatusSuspended:
		sub.State = domain.Suspended{
			Since:        deref(sd.SuspendedSince),
			GraceEndedAt: deref(sd.GraceEndedAt),
			RetryCount:   sd.RetryCount,
		}
	case domain.StatusExpired:
		sub.State = domain.Expired{At: deref(sd.ExpiredAt)}
	case domain.StatusCanceled:
		sub.State = domain.Canceled{At: deref(sd.CanceledAt)}
	default:
		return nil, fmt.Errorf("user %d: unknown subscription status %q", doc.ID, sd.Status)
	}
	a.Subscription = sub
	return a, nil
}

// indexFields are the denormalized columns sweeps query on.
type indexFields struct {
	status      string
	retryCount  int
	graceEndsAt *time.Time
}

// index returns the sweep columns. For suspended subscriptions graceEndsAt
// holds the moment grace ended, which is what expiry is measured from.
func index(a *domain.Account) indexFields {
	var f indexFields
	if a.Subscription == nil {
		return f
	}
	f.status = string(a.Subscription.Status())
	switch st := a.Subscription.State.(type) {
	case domain.Grace:
		f.retryCount = st.RetryCount
		f.graceEndsAt = utcPtr(&st.EndsAt)
	case domain.Suspended:
		f.retryCount = st.RetryCount
		f.graceEndsAt = utcPtr(&st.GraceEndedAt)
	}
	return f
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func deref(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}
