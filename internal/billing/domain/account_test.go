package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func basicPlan(t *testing.T) Plan {
	t.Helper()
	p, err := DefaultCatalog().PaidPlan(PlanBasic)
	require.NoError(t, err)
	return p
}

// accountIn builds an account whose subscription is in the given status at t0.
// Grace and suspension are already due for their next transition.
func accountIn(t *testing.T, status Status) *Account {
	t.Helper()
	a := NewAccount(1, 5, t0.Add(-60*24*time.Hour))
	if status == "" {
		return a
	}
	start := t0.Add(-40 * 24 * time.Hour)
	require.NoError(t, a.StartSubscription(basicPlan(t), "tok", start))
	switch status {
	case StatusActive:
	case StatusGrace:
		require.NoError(t, a.EnterGrace(t0.Add(-GracePeriod)))
	case StatusSuspended:
		require.NoError(t, a.EnterGrace(t0.Add(-GracePeriod-SuspensionPeriod)))
		require.NoError(t, a.Suspend(t0.Add(-SuspensionPeriod)))
	case StatusExpired:
		require.NoError(t, a.EnterGrace(start.Add(time.Hour)))
		require.NoError(t, a.Suspend(start.Add(GracePeriod+time.Hour)))
		require.NoError(t, a.Expire(start.Add(GracePeriod+SuspensionPeriod+time.Hour)))
	case StatusCanceled:
		require.NoError(t, a.Cancel(start.Add(time.Hour)))
	default:
		t.Fatalf("unknown status %q", status)
	}
	require.Equal(t, status, a.SubscriptionStatus())
	a.ClearEvents()
	return a
}

func TestAccount_Ledger(t *testing.T) {
	a := NewAccount(1, 5, t0)

	require.NoError(t, a.Credit(3, t0))
	assert.Equal(t, int64(8), a.Balance)

	require.NoError(t, a.Debit(8, t0))
	assert.Equal(t, int64(0), a.Balance)

	assert.ErrorIs(t, a.Debit(1, t0), ErrInsufficientBalance)
	assert.Equal(t, int64(0), a.Balance)

	assert.ErrorIs(t, a.Credit(0, t0), ErrInvalidAmount)
	assert.ErrorIs(t, a.Debit(-2, t0), ErrInvalidAmount)

	require.NoError(t, a.Credit(4, t0))
	assert.Equal(t, int64(4), a.Reclaim(10, t0))
	assert.Equal(t, int64(0), a.Balance)
}

func TestNewAccount_ClampsNegativeBalance(t *testing.T) {
	a := NewAccount(2, -3, t0)
	assert.Equal(t, int64(0), a.Balance)
	assert.Equal(t, PlanFree, a.Plan)
	assert.Nil(t, a.Subscription)
}

func TestAccount_GrantDailyFree(t *testing.T) {
	a := NewAccount(1, 0, t0)

	assert.True(t, a.GrantDailyFree(t0))
	assert.Equal(t, int64(1), a.Balance)
	require.NotNil(t, a.LastDailyGrantAt)

	// Already at 1: nothing to top up.
	assert.False(t, a.GrantDailyFree(t0.Add(24*time.Hour)))
	assert.Equal(t, int64(1), a.Balance)

	paid := accountIn(t, StatusActive)
	paid.Balance = 0
	assert.False(t, paid.GrantDailyFree(t0))
	assert.Equal(t, int64(0), paid.Balance)
}

func TestAccount_ApplyCharge(t *testing.T) {
	a := NewAccount(1, 0, t0)

	assert.True(t, a.ApplyCharge("txn-1"))
	assert.False(t, a.ApplyCharge("txn-1"))
	assert.True(t, a.ApplyCharge(""))
	assert.True(t, a.ApplyCharge(""))

	for i := 0; i < maxAppliedCharges+5; i++ {
		a.ApplyCharge(time.Duration(i).String())
	}
	assert.Len(t, a.AppliedCharges, maxAppliedCharges)
	assert.NotContains(t, a.AppliedCharges, "txn-1")
}

type transitionResult int

const (
	allowed transitionResult = iota
	noActive
	invalid
)

func TestAccount_TransitionTable(t *testing.T) {
	plan := basicPlan(t)
	ops := map[string]func(a *Account) error{
		EventStart:         func(a *Account) error { return a.StartSubscription(plan, "tok2", t0) },
		EventChargeSuccess: func(a *Account) error { return a.Renew(plan, t0) },
		EventChargeFailure: func(a *Account) error { return a.EnterGrace(t0) },
		EventRetryFailure:  func(a *Account) error { return a.RecordRetryFailure(t0) },
		EventSuspend:       func(a *Account) error { return a.Suspend(t0) },
		EventExpire:        func(a *Account) error { return a.Expire(t0) },
		EventCancel:        func(a *Account) error { return a.Cancel(t0) },
	}

	table := map[Status]map[string]transitionResult{
		"": {
			EventStart: allowed, EventChargeSuccess: noActive, EventChargeFailure: noActive,
			EventRetryFailure: noActive, EventSuspend: noActive, EventExpire: noActive, EventCancel: noActive,
		},
		StatusActive: {
			EventStart: invalid, EventChargeSuccess: allowed, EventChargeFailure: allowed,
			EventRetryFailure: invalid, EventSuspend: invalid, EventExpire: invalid, EventCancel: allowed,
		},
		StatusGrace: {
			EventStart: invalid, EventChargeSuccess: allowed, EventChargeFailure: invalid,
			EventRetryFailure: allowed, EventSuspend: allowed, EventExpire: invalid, EventCancel: allowed,
		},
		StatusSuspended: {
			EventStart: allowed, EventChargeSuccess: noActive, EventChargeFailure: noActive,
			EventRetryFailure: noActive, EventSuspend: invalid, EventExpire: allowed, EventCancel: noActive,
		},
		StatusExpired: {
			EventStart: allowed, EventChargeSuccess: noActive, EventChargeFailure: noActive,
			EventRetryFailure: noActive, EventSuspend: invalid, EventExpire: invalid, EventCancel: noActive,
		},
		StatusCanceled: {
			EventStart: allowed, EventChargeSuccess: noActive, EventChargeFailure: noActive,
			EventRetryFailure: noActive, EventSuspend: invalid, EventExpire: invalid, EventCancel: noActive,
		},
	}

	for status, row := range table {
		require.Len(t, row, len(ops), "row %q must cover every event", status)
		for event, want := range row {
			name := string(status)
			if name == "" {
				name = "none"
			}
			t.Run(name+"/"+event, func(t *testing.T) {
				a := accountIn(t, status)
				before := a.Clone()
				err := ops[event](a)

				switch want {
				case allowed:
					require.NoError(t, err)
				case noActive:
					assert.ErrorIs(t, err, ErrNoActiveSubscription)
				case invalid:
					var te *TransitionError
					require.True(t, errors.As(err, &te), "got %v", err)
					assert.Equal(t, status, te.From)
					assert.ErrorIs(t, err, ErrInvalidTransition)
				}
				if want != allowed {
					assert.Equal(t, before, a.Clone(), "rejected transition must not mutate")
					assert.Empty(t, a.Events())
				}
			})
		}
	}
}

func TestAccount_Lifecycle(t *testing.T) {
	plan := basicPlan(t)
	a := NewAccount(1, 5, t0)

	require.NoError(t, a.StartSubscription(plan, "tok", t0))
	assert.Equal(t, int64(35), a.Balance)
	assert.Equal(t, PlanBasic, a.Plan)
	assert.Equal(t, t0.Add(plan.Period), a.Subscription.NextBillingAt)
	assert.Equal(t, 0, a.Subscription.AppliedDiscount)

	due := a.Subscription.NextBillingAt
	require.NoError(t, a.EnterGrace(due))
	g, inGrace := a.Subscription.Grace()
	require.True(t, inGrace)
	assert.Equal(t, due.Add(GracePeriod), g.EndsAt)
	assert.Equal(t, due, g.GraceStartedAt())

	assert.ErrorIs(t, a.Suspend(due.Add(GracePeriod-time.Minute)), ErrTransitionNotDue)

	require.NoError(t, a.RecordRetryFailure(due.Add(12*time.Hour)))
	require.NoError(t, a.Suspend(due.Add(GracePeriod)))
	assert.Equal(t, int64(1), a.Balance)
	assert.Equal(t, PlanFree, a.Plan)
	assert.Equal(t, WinBackDiscount, a.Subscription.DiscountPercent)
	s := a.Subscription.State.(Suspended)
	assert.Equal(t, 1, s.RetryCount)
	assert.Equal(t, due.Add(GracePeriod), s.GraceEndedAt)

	assert.ErrorIs(t, a.Expire(s.GraceEndedAt.Add(SuspensionPeriod-time.Second)), ErrTransitionNotDue)
	require.NoError(t, a.Expire(s.GraceEndedAt.Add(SuspensionPeriod)))
	assert.Equal(t, StatusExpired, a.SubscriptionStatus())

	// Resubscribing carries the win-back discount into the new instance.
	require.NoError(t, a.StartSubscription(plan, "tok2", t0.Add(60*24*time.Hour)))
	assert.Equal(t, WinBackDiscount, a.Subscription.AppliedDiscount)
	assert.Equal(t, 0, a.Subscription.DiscountPercent)
	assert.Equal(t, int64(31), a.Balance)

	var keys []string
	for _, e := range a.Events() {
		keys = append(keys, e.RoutingKey())
	}
	assert.Equal(t, []string{
		RoutingSubscriptionCreated,
		RoutingSubscriptionGrace,
		RoutingSubscriptionSuspended,
		RoutingSubscriptionExpired,
		RoutingSubscriptionCreated,
	}, keys)

	suspended := a.Events()[2].(*SubscriptionSuspended)
	assert.Equal(t, int64(34), suspended.Forfeited)
}

func TestAccount_CancelKeepsEnergy(t *testing.T) {
	a := accountIn(t, StatusActive)
	balance := a.Balance

	require.NoError(t, a.Cancel(t0))
	assert.Equal(t, balance, a.Balance)
	assert.Equal(t, PlanFree, a.Plan)
	assert.Equal(t, WinBackDiscount, a.Subscription.DiscountPercent)
	assert.Equal(t, StatusCanceled, a.SubscriptionStatus())
}

func TestAccount_RenewSchedulesNextPeriod(t *testing.T) {
	plan := basicPlan(t)
	a := NewAccount(1, 0, t0)
	require.NoError(t, a.StartSubscription(plan, "tok", t0))
	first := a.Subscription.NextBillingAt

	require.NoError(t, a.Renew(plan, first))
	assert.Equal(t, first.Add(plan.Period), a.Subscription.NextBillingAt)
	assert.Equal(t, int64(60), a.Balance)

	// Long overdue renewals are scheduled from now.
	late := first.Add(3 * plan.Period)
	require.NoError(t, a.Renew(plan, late))
	assert.Equal(t, late.Add(plan.Period), a.Subscription.NextBillingAt)

	pro, _ := DefaultCatalog().Plan(PlanPro)
	assert.ErrorIs(t, a.Renew(pro, late), ErrUnknownPlan)
}

func TestAccount_RenewFromGraceRestoresActive(t *testing.T) {
	a := accountIn(t, StatusGrace)
	require.NoError(t, a.RecordRetryFailure(t0))

	require.NoError(t, a.Renew(basicPlan(t), t0.Add(time.Hour)))
	assert.Equal(t, StatusActive, a.SubscriptionStatus())
	_, inGrace := a.Subscription.Grace()
	assert.False(t, inGrace)
}

func TestAccount_RetryBound(t *testing.T) {
	a := accountIn(t, StatusGrace)
	g, _ := a.Subscription.Grace()
	early := g.GraceStartedAt().Add(time.Hour)

	for i := 0; i < MaxRetries; i++ {
		require.NoError(t, a.RecordRetryFailure(early))
	}
	// Every retry used, grace still runs to its end.
	assert.Equal(t, StatusGrace, a.SubscriptionStatus())
	g, _ = a.Subscription.Grace()
	assert.Equal(t, MaxRetries, g.RetryCount)
	assert.ErrorIs(t, a.Suspend(early), ErrTransitionNotDue)

	// A further miss suspends at once, expiry still counts from grace end.
	require.NoError(t, a.RecordRetryFailure(early))
	assert.Equal(t, StatusSuspended, a.SubscriptionStatus())
	s := a.Subscription.State.(Suspended)
	assert.Equal(t, MaxRetries, s.RetryCount)
	assert.Equal(t, g.EndsAt, s.GraceEndedAt)
	assert.Equal(t, early, s.Since)
	assert.Equal(t, int64(1), a.Balance)

	assert.ErrorIs(t, a.Expire(early.Add(SuspensionPeriod)), ErrTransitionNotDue)
	require.NoError(t, a.Expire(g.EndsAt.Add(SuspensionPeriod)))

	assert.ErrorIs(t, a.RecordRetryFailure(early), ErrNoActiveSubscription)
}

func TestAccount_RetryFailureKeepsPendingCharge(t *testing.T) {
	a := accountIn(t, StatusGrace)
	p := PendingCharge{IdempotencyKey: "renewal_1_x_1", PaymentID: NewPaymentID(), Attempt: 1, StartedAt: t0}
	require.NoError(t, a.MarkRetryPending(p, t0))

	require.NoError(t, a.RecordRetryFailure(t0))
	g, _ := a.Subscription.Grace()
	require.NotNil(t, g.Pending)
	assert.Equal(t, p.IdempotencyKey, g.Pending.IdempotencyKey)
	assert.Equal(t, 1, g.RetryCount)

	// With the retries used up, the in-flight charge decides instead.
	require.NoError(t, a.RecordRetryFailure(t0))
	require.NoError(t, a.RecordRetryFailure(t0))
	require.NoError(t, a.RecordRetryFailure(t0))
	assert.Equal(t, StatusGrace, a.SubscriptionStatus())
	g, _ = a.Subscription.Grace()
	assert.Equal(t, MaxRetries, g.RetryCount)
	assert.NotNil(t, g.Pending)
}

func TestAccount_SettleRetryFailure(t *testing.T) {
	a := accountIn(t, StatusGrace)
	p := PendingCharge{IdempotencyKey: "renewal_1_x_2", PaymentID: NewPaymentID(), Attempt: 2, StartedAt: t0}
	require.NoError(t, a.MarkRetryPending(p, t0))

	assert.ErrorIs(t, a.SettleRetryFailure("renewal_1_x_1", t0), ErrChargeNotPending)

	later := t0.Add(time.Minute)
	require.NoError(t, a.SettleRetryFailure(p.IdempotencyKey, later))
	g, _ := a.Subscription.Grace()
	assert.Nil(t, g.Pending)
	assert.Equal(t, 2, g.RetryCount, "count catches up with the attempt")
	require.NotNil(t, g.LastRetryAt)
	assert.Equal(t, later, *g.LastRetryAt)

	assert.ErrorIs(t, a.SettleRetryFailure(p.IdempotencyKey, later), ErrChargeNotPending)
}

func TestAccount_PendingBlocksSuspend(t *testing.T) {
	a := accountIn(t, StatusGrace)
	p := PendingCharge{IdempotencyKey: "renewal_1_x_1", PaymentID: NewPaymentID(), Attempt: 1, StartedAt: t0}

	require.NoError(t, a.MarkRetryPending(p, t0))
	require.NoError(t, a.MarkRetryPending(p, t0), "same key is idempotent")

	other := p
	other.IdempotencyKey = "renewal_1_x_2"
	assert.ErrorIs(t, a.MarkRetryPending(other, t0), ErrChargeInFlight)
	assert.ErrorIs(t, a.Suspend(t0), ErrChargeInFlight)

	require.NoError(t, a.SettleRetryFailure(p.IdempotencyKey, t0))
	g, _ := a.Subscription.Grace()
	assert.Nil(t, g.Pending)
	require.NoError(t, a.Suspend(t0))
}

func TestAccount_PendingHoldsGraceForSettleWindowOnly(t *testing.T) {
	a := accountIn(t, StatusGrace)
	g, _ := a.Subscription.Grace()
	p := PendingCharge{IdempotencyKey: "renewal_1_x_1", PaymentID: NewPaymentID(), Attempt: 1, StartedAt: t0}
	require.NoError(t, a.MarkRetryPending(p, t0))

	deadline := g.EndsAt.Add(PendingSettleWindow)
	assert.ErrorIs(t, a.Suspend(deadline.Add(-time.Second)), ErrChargeInFlight)

	require.NoError(t, a.Suspend(deadline))
	s := a.Subscription.State.(Suspended)
	assert.Equal(t, g.EndsAt, s.GraceEndedAt)
	assert.Equal(t, deadline, s.Since)
}

func TestAccount_CloneIsDeep(t *testing.T) {
	a := accountIn(t, StatusGrace)
	last := t0
	require.NoError(t, a.MarkRetryPending(PendingCharge{IdempotencyKey: "k"}, t0))
	a.ApplyCharge("txn")
	g, _ := a.Subscription.Grace()
	g.LastRetryAt = &last
	a.Subscription.State = g

	c := a.Clone()
	assert.Empty(t, c.Events())

	cg, _ := c.Subscription.Grace()
	cg.Pending.IdempotencyKey = "changed"
	*cg.LastRetryAt = t0.Add(time.Hour)
	c.AppliedCharges[0] = "changed"
	c.Subscription.Token = "changed"

	g, _ = a.Subscription.Grace()
	assert.Equal(t, "k", g.Pending.IdempotencyKey)
	assert.Equal(t, t0, *g.LastRetryAt)
	assert.Equal(t, "txn", a.AppliedCharges[0])
	assert.Equal(t, "tok", a.Subscription.Token)
}

func TestStartSubscription_RejectsFreePlan(t *testing.T) {
	free, _ := DefaultCatalog().Plan(PlanFree)
	a := NewAccount(1, 0, t0)
	assert.ErrorIs(t, a.StartSubscription(free, "tok", t0), ErrUnknownPlan)
	assert.Nil(t, a.Subscription)
}
