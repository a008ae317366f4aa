package domain

import (
	"fmt"
	"time"
)

// RetryPolicy decides when a subscription in grace is charged again.
type RetryPolicy struct {
	// Delays[i] separates attempt i+1 from the previous attempt
	// (or from the start of grace for the first one).
	Delays      []time.Duration
	MaxAttempts int
	GracePeriod time.Duration
}

// DefaultRetryPolicy retries after 12h, then 24h, then 48h.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Delays:      []time.Duration{12 * time.Hour, 24 * time.Hour, 48 * time.Hour},
		MaxAttempts: MaxRetries,
		GracePeriod: GracePeriod,
	}
}

// NextAttemptAt returns when the next retry is due. ok is false when no
// retries remain.
func (p RetryPolicy) NextAttemptAt(g Grace) (at time.Time, ok bool) {
	if g.RetryCount >= p.MaxAttempts || g.RetryCount >= len(p.Delays) {
		return time.Time{}, false
	}
	base := g.EndsAt.Add(-p.GracePeriod)
	if g.LastRetryAt != nil {
		base = *g.LastRetryAt
	}
	return base.Add(p.Delays[g.RetryCount]), true
}

// IsDue reports whether a retry should be attempted now. Retries stop when
// grace ends; the expiry sweep takes over from there.
func (p RetryPolicy) IsDue(g Grace, now time.Time) bool {
	at, ok := p.NextAttemptAt(g)
	if !ok {
		return false
	}
	return !now.Before(at) && now.Before(g.EndsAt)
}

// IdempotencyKey is stable for one attempt within one grace period, so a
// re-sent charge is deduplicated by the gateway.
func (p RetryPolicy) IdempotencyKey(userID UserID, g Grace, attempt int) string {
	return fmt.Sprintf("renewal_%d_%d_%d", userID, g.EndsAt.Add(-p.GracePeriod).Unix(), attempt)
}

// ChargeAmount is the plan price less the subscription's owed discount.
func ChargeAmount(plan Plan, sub *Subscription) Money {
	if sub == nil {
		return plan.Price
	}
	return plan.Price.Discounted(sub.DiscountPercent)
}
