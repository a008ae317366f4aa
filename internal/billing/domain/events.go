package domain

import (
	"time"

	sharedDomain "github.com/felixgeelhaar/voltage/internal/shared/domain"
)

const aggregateType = "Account"

// Routing keys for billing events.
const (
	RoutingSubscriptionCreated   = "billing.subscription.created"
	RoutingSubscriptionRenewed   = "billing.subscription.renewed"
	RoutingSubscriptionGrace     = "billing.subscription.grace"
	RoutingSubscriptionSuspended = "billing.subscription.suspended"
	RoutingSubscriptionExpired   = "billing.subscription.expired"
	RoutingSubscriptionCanceled  = "billing.subscription.canceled"
	RoutingEnergyInsufficient    = "billing.energy.insufficient"
	RoutingPackPurchased         = "billing.pack.purchased"
	RoutingPaymentFailed         = "billing.payment.failed"
	RoutingPaymentRefunded       = "billing.payment.refunded"
	RoutingRefundRequired        = "billing.payment.refund_required"
)

func newBaseEvent(id UserID, routingKey string, at time.Time) sharedDomain.BaseEvent {
	return sharedDomain.NewBaseEvent(id.String(), aggregateType, routingKey, at)
}

// SubscriptionCreated is emitted when a subscription starts or resumes.
type SubscriptionCreated struct {
	sharedDomain.BaseEvent
	UserID          UserID    `json:"user_id"`
	Plan            PlanID    `json:"plan"`
	Energy          int64     `json:"energy"`
	Balance         int64     `json:"balance"`
	NextBillingAt   time.Time `json:"next_billing_at"`
	AppliedDiscount int       `json:"applied_discount"`
	Resumed         bool      `json:"resumed"`
}

// NewSubscriptionCreated creates a SubscriptionCreated event.
func NewSubscriptionCreated(a *Account, energy int64, resumed bool) *SubscriptionCreated {
	return &SubscriptionCreated{
		BaseEvent:       newBaseEvent(a.ID, RoutingSubscriptionCreated, a.UpdatedAt),
		UserID:          a.ID,
		Plan:            a.Subscription.Plan,
		Energy:          energy,
		Balance:         a.Balance,
		NextBillingAt:   a.Subscription.NextBillingAt,
		AppliedDiscount: a.Subscription.AppliedDiscount,
		Resumed:         resumed,
	}
}

// SubscriptionRenewed is emitted when a recurring or retry charge succeeds.
type SubscriptionRenewed struct {
	sharedDomain.BaseEvent
	UserID        UserID    `json:"user_id"`
	Plan          PlanID    `json:"plan"`
	Energy        int64     `json:"energy"`
	Balance       int64     `json:"balance"`
	NextBillingAt time.Time `json:"next_billing_at"`
}

// NewSubscriptionRenewed creates a SubscriptionRenewed event.
func NewSubscriptionRenewed(a *Account, energy int64) *SubscriptionRenewed {
	return &SubscriptionRenewed{
		BaseEvent:     newBaseEvent(a.ID, RoutingSubscriptionRenewed, a.UpdatedAt),
		UserID:        a.ID,
		Plan:          a.Subscription.Plan,
		Energy:        energy,
		Balance:       a.Balance,
		NextBillingAt: a.Subscription.NextBillingAt,
	}
}

// SubscriptionGraceStarted is emitted when a recurring charge fails.
type SubscriptionGraceStarted struct {
	sharedDomain.BaseEvent
	UserID      UserID    `json:"user_id"`
	Plan        PlanID    `json:"plan"`
	GraceEndsAt time.Time `json:"grace_ends_at"`
}

// NewSubscriptionGraceStarted creates a SubscriptionGraceStarted event.
func NewSubscriptionGraceStarted(a *Account) *SubscriptionGraceStarted {
	g, _ := a.Subscription.Grace()
	return &SubscriptionGraceStarted{
		BaseEvent:   newBaseEvent(a.ID, RoutingSubscriptionGrace, a.UpdatedAt),
		UserID:      a.ID,
		Plan:        a.Subscription.Plan,
		GraceEndsAt: g.EndsAt,
	}
}

// SubscriptionSuspended is emitted when grace ends without payment.
type SubscriptionSuspended struct {
	sharedDomain.BaseEvent
	UserID     UserID `json:"user_id"`
	Plan       PlanID `json:"plan"`
	RetryCount int    `json:"retry_count"`
	Forfeited  int64  `json:"forfeited"`
	Balance    int64  `json:"balance"`
}

// NewSubscriptionSuspended creates a SubscriptionSuspended event.
func NewSubscriptionSuspended(a *Account, forfeited int64) *SubscriptionSuspended {
	s, _ := a.Subscription.State.(Suspended)
	return &SubscriptionSuspended{
		BaseEvent:  newBaseEvent(a.ID, RoutingSubscriptionSuspended, a.UpdatedAt),
		UserID:     a.ID,
		Plan:       a.Subscription.Plan,
		RetryCount: s.RetryCount,
		Forfeited:  forfeited,
		Balance:    a.Balance,
	}
}

// SubscriptionExpired is emitted a week after suspension.
type SubscriptionExpired struct {
	sharedDomain.BaseEvent
	UserID          UserID `json:"user_id"`
	Plan            PlanID `json:"plan"`
	DiscountPercent int    `json:"discount_percent"`
}

// NewSubscriptionExpired creates a SubscriptionExpired event.
func NewSubscriptionExpired(a *Account) *SubscriptionExpired {
	return &SubscriptionExpired{
		BaseEvent:       newBaseEvent(a.ID, RoutingSubscriptionExpired, a.UpdatedAt),
		UserID:          a.ID,
		Plan:            a.Subscription.Plan,
		DiscountPercent: a.Subscription.DiscountPercent,
	}
}

// SubscriptionCanceled is emitted when the user cancels.
type SubscriptionCanceled struct {
	sharedDomain.BaseEvent
	UserID          UserID `json:"user_id"`
	Plan            PlanID `json:"plan"`
	Balance         int64  `json:"balance"`
	DiscountPercent int    `json:"discount_percent"`
}

// NewSubscriptionCanceled creates a SubscriptionCanceled event.
func NewSubscriptionCanceled(a *Account) *SubscriptionCanceled {
	return &SubscriptionCanceled{
		BaseEvent:       newBaseEvent(a.ID, RoutingSubscriptionCanceled, a.UpdatedAt),
		UserID:          a.ID,
		Plan:            a.Subscription.Plan,
		Balance:         a.Balance,
		DiscountPercent: a.Subscription.DiscountPercent,
	}
}

// EnergyInsufficient is emitted when a debit is rejected.
type EnergyInsufficient struct {
	sharedDomain.BaseEvent
	UserID    UserID `json:"user_id"`
	Balance   int64  `json:"balance"`
	Requested int64  `json:"requested"`
}

// NewEnergyInsufficient creates an EnergyInsufficient event.
func NewEnergyInsufficient(id UserID, balance, requested int64, at time.Time) *EnergyInsufficient {
	return &EnergyInsufficient{
		BaseEvent: newBaseEvent(id, RoutingEnergyInsufficient, at),
		UserID:    id,
		Balance:   balance,
		Requested: requested,
	}
}

// PackPurchased is emitted when a paid energy pack is credited.
type PackPurchased struct {
	sharedDomain.BaseEvent
	UserID    UserID    `json:"user_id"`
	Pack      PackID    `json:"pack"`
	PaymentID PaymentID `json:"payment_id"`
	Energy    int64     `json:"energy"`
	Balance   int64     `json:"balance"`
}

// NewPackPurchased creates a PackPurchased event.
func NewPackPurchased(a *Account, pack Pack, paymentID PaymentID) *PackPurchased {
	return &PackPurchased{
		BaseEvent: newBaseEvent(a.ID, RoutingPackPurchased, a.UpdatedAt),
		UserID:    a.ID,
		Pack:      pack.ID,
		PaymentID: paymentID,
		Energy:    pack.Energy,
		Balance:   a.Balance,
	}
}

// PaymentFailed is emitted when a checkout payment is declined.
type PaymentFailed struct {
	sharedDomain.BaseEvent
	UserID    UserID    `json:"user_id"`
	PaymentID PaymentID `json:"payment_id"`
	Product   string    `json:"product"`
	Reason    string    `json:"reason"`
}

// NewPaymentFailed creates a PaymentFailed event.
func NewPaymentFailed(p *Payment, at time.Time) *PaymentFailed {
	return &PaymentFailed{
		BaseEvent: newBaseEvent(p.UserID, RoutingPaymentFailed, at),
		UserID:    p.UserID,
		PaymentID: p.ID,
		Product:   p.Product,
		Reason:    p.FailureReason,
	}
}

// PaymentRefunded is emitted when a completed payment is refunded.
type PaymentRefunded struct {
	sharedDomain.BaseEvent
	UserID    UserID    `json:"user_id"`
	PaymentID PaymentID `json:"payment_id"`
	Amount    Money     `json:"amount"`
	Reclaimed int64     `json:"reclaimed"`
}

// NewPaymentRefunded creates a PaymentRefunded event.
func NewPaymentRefunded(p *Payment, reclaimed int64, at time.Time) *PaymentRefunded {
	return &PaymentRefunded{
		BaseEvent: newBaseEvent(p.UserID, RoutingPaymentRefunded, at),
		UserID:    p.UserID,
		PaymentID: p.ID,
		Amount:    p.Amount,
		Reclaimed: reclaimed,
	}
}

// RefundRequired is emitted when a completed charge could not be delivered
// and the money has to go back to the customer.
type RefundRequired struct {
	sharedDomain.BaseEvent
	UserID        UserID    `json:"user_id"`
	PaymentID     PaymentID `json:"payment_id"`
	Product       string    `json:"product"`
	Amount        Money     `json:"amount"`
	TransactionID string    `json:"transaction_id"`
	Reason        string    `json:"reason"`
}

// NewRefundRequired creates a RefundRequired event.
func NewRefundRequired(p *Payment, reason string, at time.Time) *RefundRequired {
	return &RefundRequired{
		BaseEvent:     newBaseEvent(p.UserID, RoutingRefundRequired, at),
		UserID:        p.UserID,
		PaymentID:     p.ID,
		Product:       p.Product,
		Amount:        p.Amount,
		TransactionID: p.ExternalTransactionID,
		Reason:        reason,
	}
}
