package domain

import "time"

// Status is the subscription lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusGrace     Status = "grace"
	StatusSuspended Status = "suspended"
	StatusExpired   Status = "expired"
	StatusCanceled  Status = "canceled"
)

// IsLive reports whether the subscription still grants paid service.
func (s Status) IsLive() bool {
	return s == StatusActive || s == StatusGrace
}

// IsTerminal reports whether a new subscription may replace this one.
func (s Status) IsTerminal() bool {
	return s == StatusSuspended || s == StatusExpired || s == StatusCanceled
}

// State carries the fields that only make sense for one status.
// It is implemented by Active, Grace, Suspended, Expired and Canceled.
type State interface {
	Status() Status
	isState()
}

// Active has no status-specific fields.
type Active struct{}

// Grace is entered when a recurring charge fails.
type Grace struct {
	EndsAt      time.Time
	RetryCount  int
	LastRetryAt *time.Time
	// Pending is set while a retry charge has an unknown outcome.
	Pending *PendingCharge
}

// PendingCharge identifies a charge whose result has not been recorded yet.
type PendingCharge struct {
	IdempotencyKey string
	PaymentID      PaymentID
	Attempt        int
	StartedAt      time.Time
}

// Suspended is entered when grace ends without a successful charge.
type Suspended struct {
	Since        time.Time
	GraceEndedAt time.Time
	RetryCount   int
}

// Expired is entered a week after suspension.
type Expired struct {
	At time.Time
}

// Canceled is entered when the user cancels.
type Canceled struct {
	At time.Time
}

func (Active) Status() Status    { return StatusActive }
func (Grace) Status() Status     { return StatusGrace }
func (Suspended) Status() Status { return StatusSuspended }
func (Expired) Status() Status   { return StatusExpired }
func (Canceled) Status() Status  { return StatusCanceled }

func (Active) isState()    {}
func (Grace) isState()     {}
func (Suspended) isState() {}
func (Expired) isState()   {}
func (Canceled) isState()  {}

// Awaits reports whether the in-flight retry charge has the given key.
func (g Grace) Awaits(key string) bool {
	return g.Pending != nil && g.Pending.IdempotencyKey == key
}

// GraceStartedAt derives the moment grace was entered.
func (g Grace) GraceStartedAt() time.Time {
	return g.EndsAt.Add(-GracePeriod)
}

// Subscription is embedded in Account and replaced wholesale on resume.
type Subscription struct {
	Plan          PlanID
	Token         string
	StartedAt     time.Time
	NextBillingAt time.Time
	// DiscountPercent is the win-back discount owed on the next subscribe.
	DiscountPercent int
	// AppliedDiscount is the discount this instance was bought with.
	AppliedDiscount int
	State           State
}

// Status returns the current lifecycle state.
func (s *Subscription) Status() Status {
	if s == nil || s.State == nil {
		return ""
	}
	return s.State.Status()
}

// Grace returns the grace state when the subscription is in grace.
func (s *Subscription) Grace() (Grace, bool) {
	if s == nil {
		return Grace{}, false
	}
	g, ok := s.State.(Grace)
	return g, ok
}

func (s *Subscription) clone() *Subscription {
	if s == nil {
		return nil
	}
	c := *s
	if g, ok := s.State.(Grace); ok {
		if g.LastRetryAt != nil {
			t := *g.LastRetryAt
			g.LastRetryAt = &t
		}
		if g.Pending != nil {
			p := *g.Pending
			g.Pending = &p
		}
		c.State = g
	}
	return &c
}
