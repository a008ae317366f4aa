package domain

import (
	"strconv"
	"time"

	sharedDomain "github.com/felixgeelhaar/voltage/internal/shared/domain"
)

const (
	// GracePeriod is how long service continues after a failed renewal.
	GracePeriod = 72 * time.Hour
	// SuspensionPeriod is how long a suspended subscription waits before expiring.
	SuspensionPeriod = 7 * 24 * time.Hour
	// MaxRetries bounds the renewal attempts made during grace.
	MaxRetries = 3
	// WinBackDiscount is offered on the next subscribe after leaving a paid plan.
	WinBackDiscount = 25
	// SuspendedBalanceCap is the most energy a suspended account keeps.
	SuspendedBalanceCap = 1
	// PendingSettleWindow is how long past the end of grace an unknown retry
	// charge may hold off suspension.
	PendingSettleWindow = 24 * time.Hour

	maxAppliedCharges = 32
)

// UserID is the messaging-platform account id.
type UserID int64

func (id UserID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// Account is the per-user ledger document: balance, plan and subscription.
type Account struct {
	sharedDomain.EventRecorder

	ID               UserID
	Balance          int64
	Plan             PlanID
	Subscription     *Subscription
	LastDailyGrantAt *time.Time
	// AppliedCharges holds the most recent gateway transaction ids already credited.
	AppliedCharges []string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	// Version is maintained by the store for optimistic concurrency.
	Version int64
}

// NewAccount creates a free account with a starter balance.
func NewAccount(id UserID, balance int64, now time.Time) *Account {
	if balance < 0 {
		balance = 0
	}
	now = now.UTC()
	return &Account{
		ID:        id,
		Balance:   balance,
		Plan:      PlanFree,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy without recorded events.
func (a *Account) Clone() *Account {
	c := &Account{
		ID:           a.ID,
		Balance:      a.Balance,
		Plan:         a.Plan,
		Subscription: a.Subscription.clone(),
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
		Version:      a.Version,
	}
	if a.LastDailyGrantAt != nil {
		t := *a.LastDailyGrantAt
		c.LastDailyGrantAt = &t
	}
	if len(a.AppliedCharges) > 0 {
		c.AppliedCharges = append([]string(nil), a.AppliedCharges...)
	}
	return c
}

// SubscriptionStatus returns the status or "" when the account never subscribed.
func (a *Account) SubscriptionStatus() Status {
	return a.Subscription.Status()
}

func (a *Account) touch(now time.Time) {
	a.UpdatedAt = now.UTC()
}

// Touch stamps the account as changed without any other effect.
func (a *Account) Touch(now time.Time) {
	a.touch(now)
}

// Credit adds energy.
func (a *Account) Credit(amount int64, now time.Time) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	a.Balance += amount
	a.touch(now)
	return nil
}

// Debit removes energy, rejecting debits that would make the balance negative.
func (a *Account) Debit(amount int64, now time.Time) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if a.Balance < amount {
		return ErrInsufficientBalance
	}
	a.Balance -= amount
	a.touch(now)
	return nil
}

// Reclaim removes up to amount energy and returns how much was removed.
func (a *Account) Reclaim(amount int64, now time.Time) int64 {
	if amount <= 0 {
		return 0
	}
	taken := min(amount, a.Balance)
	a.Balance -= taken
	a.touch(now)
	return taken
}

// GrantDailyFree tops a free account with zero balance up to exactly 1.
func (a *Account) GrantDailyFree(now time.Time) bool {
	if a.Plan != PlanFree || a.Balance != 0 {
		return false
	}
	a.Balance = 1
	t := now.UTC()
	a.LastDailyGrantAt = &t
	a.touch(now)
	return true
}

// ApplyCharge remembers a gateway transaction id and reports false if it was
// already applied. Empty ids cannot be deduplicated and are always accepted.
func (a *Account) ApplyCharge(transactionID string) bool {
	if transactionID == "" {
		return true
	}
	for _, id := range a.AppliedCharges {
		if id == transactionID {
			return false
		}
	}
	a.AppliedCharges = append(a.AppliedCharges, transactionID)
	if n := len(a.AppliedCharges); n > maxAppliedCharges {
		a.AppliedCharges = append([]string(nil), a.AppliedCharges[n-maxAppliedCharges:]...)
	}
	return true
}

// requireLive returns the subscription if it is active or in grace.
func (a *Account) requireLive() (*Subscription, error) {
	if a.Subscription == nil || !a.Subscription.Status().IsLive() {
		return nil, ErrNoActiveSubscription
	}
	return a.Subscription, nil
}

// requireStatus returns the subscription if it is in the given status.
func (a *Account) requireStatus(event string, want Status) (*Subscription, error) {
	if a.Subscription == nil {
		return nil, ErrNoActiveSubscription
	}
	if got := a.Subscription.Status(); got != want {
		return nil, &TransitionError{From: got, Event: event}
	}
	return a.Subscription, nil
}

// StartSubscription creates an active subscription after a successful first
// charge, replacing a terminal one. The win-back discount owed by the
// previous subscription is recorded as AppliedDiscount.
func (a *Account) StartSubscription(plan Plan, token string, now time.Time) error {
	if !plan.IsPaid() {
		return ErrUnknownPlan
	}
	if st := a.Subscription.Status(); st.IsLive() {
		return &TransitionError{From: st, Event: EventStart}
	}

	now = now.UTC()
	resumed := a.Subscription != nil
	discount := 0
	if resumed {
		discount = a.Subscription.DiscountPercent
	}

	a.Subscription = &Subscription{
		Plan:            plan.ID,
		Token:           token,
		StartedAt:       now,
		NextBillingAt:   now.Add(plan.Period),
		AppliedDiscount: discount,
		State:           Active{},
	}
	a.Plan = plan.ID
	a.Balance += plan.Energy
	a.touch(now)

	a.Record(NewSubscriptionCreated(a, plan.Energy, resumed))
	return nil
}

// Renew applies a successful recurring or retry charge.
func (a *Account) Renew(plan Plan, now time.Time) error {
	sub, err := a.requireLive()
	if err != nil {
		return err
	}
	if plan.ID != sub.Plan {
		return ErrUnknownPlan
	}

	now = now.UTC()
	next := sub.NextBillingAt.Add(plan.Period)
	if !next.After(now) {
		next = now.Add(plan.Period)
	}
	sub.NextBillingAt = next
	sub.State = Active{}
	a.Plan = sub.Plan
	a.Balance += plan.Energy
	a.touch(now)

	a.Record(NewSubscriptionRenewed(a, plan.Energy))
	return nil
}

// EnterGrace applies a failed recurring charge on an active subscription.
func (a *Account) EnterGrace(now time.Time) error {
	if _, err := a.requireLive(); err != nil {
		return err
	}
	sub, err := a.requireStatus(EventChargeFailure, StatusActive)
	if err != nil {
		return err
	}

	now = now.UTC()
	sub.State = Grace{EndsAt: now.Add(GracePeriod)}
	a.touch(now)

	a.Record(NewSubscriptionGraceStarted(a))
	return nil
}

// RecordRetryFailure counts a failed recurring charge reported while in
// grace. A retry charge still in flight is kept for settlement. A miss after
// every retry has been used suspends at once, with expiry still measured from
// the end of grace.
func (a *Account) RecordRetryFailure(now time.Time) error {
	if _, err := a.requireLive(); err != nil {
		return err
	}
	sub, err := a.requireStatus(EventRetryFailure, StatusGrace)
	if err != nil {
		return err
	}
	g := sub.State.(Grace)

	now = now.UTC()
	if g.RetryCount >= MaxRetries {
		if g.Pending != nil {
			// The in-flight charge decides.
			a.touch(now)
			return nil
		}
		a.suspend(sub, g.RetryCount, g.EndsAt, now)
		return nil
	}
	g.RetryCount++
	g.LastRetryAt = &now
	sub.State = g
	a.touch(now)
	return nil
}

// SettleRetryFailure records the declined outcome of the in-flight retry
// charge with the given key. The subscription stays in grace; suspension
// waits for grace to end.
func (a *Account) SettleRetryFailure(key string, now time.Time) error {
	sub, err := a.requireStatus(EventRetryFailure, StatusGrace)
	if err != nil {
		return err
	}
	g := sub.State.(Grace)
	if !g.Awaits(key) {
		return ErrChargeNotPending
	}

	now = now.UTC()
	g.RetryCount = min(max(g.RetryCount, g.Pending.Attempt), MaxRetries)
	g.LastRetryAt = &now
	g.Pending = nil
	sub.State = g
	a.touch(now)
	return nil
}

// MarkRetryPending records a retry charge that is about to be sent.
// Re-marking with the same idempotency key is allowed.
func (a *Account) MarkRetryPending(p PendingCharge, now time.Time) error {
	sub, err := a.requireStatus(EventRetryPending, StatusGrace)
	if err != nil {
		return err
	}
	g := sub.State.(Grace)
	if g.Pending != nil && g.Pending.IdempotencyKey != p.IdempotencyKey {
		return ErrChargeInFlight
	}
	g.Pending = &p
	sub.State = g
	a.touch(now)
	return nil
}

// Suspend downgrades a subscription whose grace has ended.
func (a *Account) Suspend(now time.Time) error {
	sub, err := a.requireStatus(EventSuspend, StatusGrace)
	if err != nil {
		return err
	}
	g := sub.State.(Grace)
	if now.Before(g.EndsAt) {
		return ErrTransitionNotDue
	}
	// An unknown charge holds grace open for a bounded time only. Once
	// suspended, the payment is settled from the payment store.
	if g.Pending != nil && now.Before(g.EndsAt.Add(PendingSettleWindow)) {
		return ErrChargeInFlight
	}

	a.suspend(sub, g.RetryCount, g.EndsAt, now.UTC())
	return nil
}

func (a *Account) suspend(sub *Subscription, retries int, graceEndedAt, now time.Time) {
	forfeited := max(a.Balance-SuspendedBalanceCap, 0)
	a.Balance -= forfeited
	sub.State = Suspended{Since: now, GraceEndedAt: graceEndedAt, RetryCount: retries}
	sub.DiscountPercent = WinBackDiscount
	a.Plan = PlanFree
	a.touch(now)

	a.Record(NewSubscriptionSuspended(a, forfeited))
}

// Expire moves a suspended subscription to expired once the suspension
// period, counted from the end of grace, has elapsed.
func (a *Account) Expire(now time.Time) error {
	sub, err := a.requireStatus(EventExpire, StatusSuspended)
	if err != nil {
		return err
	}
	s := sub.State.(Suspended)
	if now.Sub(s.GraceEndedAt) < SuspensionPeriod {
		return ErrTransitionNotDue
	}

	now = now.UTC()
	sub.State = Expired{At: now}
	sub.DiscountPercent = WinBackDiscount
	a.touch(now)

	a.Record(NewSubscriptionExpired(a))
	return nil
}

// Cancel ends a live subscription at the user's request. Energy is kept.
func (a *Account) Cancel(now time.Time) error {
	sub, err := a.requireLive()
	if err != nil {
		return err
	}

	now = now.UTC()
	sub.State = Canceled{At: now}
	sub.DiscountPercent = WinBackDiscount
	a.Plan = PlanFree
	a.touch(now)

	a.Record(NewSubscriptionCanceled(a))
	return nil
}
