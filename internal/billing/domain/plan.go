package domain

import (
	"fmt"
	"sort"
	"time"
)

// PlanID identifies a tariff.
type PlanID string

const (
	PlanFree  PlanID = "free"
	PlanBasic PlanID = "basic"
	PlanPro   PlanID = "pro"
)

// IsValid checks if the plan id is one of the known tariffs.
func (p PlanID) IsValid() bool {
	switch p {
	case PlanFree, PlanBasic, PlanPro:
		return true
	default:
		return false
	}
}

// Currency is an ISO 4217 code.
type Currency string

const CurrencyRUB Currency = "RUB"

// Money is an amount in minor units (kopecks for RUB).
type Money struct {
	Amount   int64    `json:"amount"`
	Currency Currency `json:"currency"`
}

// RUB returns kopecks as Money.
func RUB(kopecks int64) Money {
	return Money{Amount: kopecks, Currency: CurrencyRUB}
}

// Discounted applies a percentage discount, rounding down to a whole minor unit.
func (m Money) Discounted(percent int) Money {
	if percent <= 0 {
		return m
	}
	if percent >= 100 {
		return Money{Currency: m.Currency}
	}
	return Money{Amount: m.Amount * int64(100-percent) / 100, Currency: m.Currency}
}

func (m Money) String() string {
	return fmt.Sprintf("%d.%02d %s", m.Amount/100, m.Amount%100, m.Currency)
}

// Plan is a catalog entry for a tariff.
type Plan struct {
	ID     PlanID
	Name   string
	Energy int64
	Price  Money
	Period time.Duration
}

// IsPaid reports whether the plan can be subscribed to.
func (p Plan) IsPaid() bool {
	return p.Price.Amount > 0
}

// PackID identifies a one-time energy pack.
type PackID string

// Pack is a one-time energy purchase.
type Pack struct {
	ID     PackID
	Energy int64
	Price  Money
}

// Catalog holds plans and packs. It is immutable after construction.
type Catalog struct {
	plans map[PlanID]Plan
	packs map[PackID]Pack
}

// NewCatalog builds a catalog from the given entries.
func NewCatalog(plans []Plan, packs []Pack) *Catalog {
	c := &Catalog{
		plans: make(map[PlanID]Plan, len(plans)),
		packs: make(map[PackID]Pack, len(packs)),
	}
	for _, p := range plans {
		c.plans[p.ID] = p
	}
	for _, p := range packs {
		c.packs[p.ID] = p
	}
	return c
}

const billingPeriod = 30 * 24 * time.Hour

// DefaultCatalog returns the production tariffs.
func DefaultCatalog() *Catalog {
	return NewCatalog(
		[]Plan{
			{ID: PlanFree, Name: "Free", Energy: 1, Price: RUB(0), Period: 24 * time.Hour},
			{ID: PlanBasic, Name: "Basic", Energy: 30, Price: RUB(49900), Period: billingPeriod},
			{ID: PlanPro, Name: "PRO", Energy: 150, Price: RUB(129900), Period: billingPeriod},
		},
		[]Pack{
			{ID: "pack_10", Energy: 10, Price: RUB(24900)},
			{ID: "pack_50", Energy: 50, Price: RUB(79000)},
			{ID: "pack_120", Energy: 120, Price: RUB(129000)},
			{ID: "pack_300", Energy: 300, Price: RUB(249000)},
		},
	)
}

// Plan looks up a plan.
func (c *Catalog) Plan(id PlanID) (Plan, error) {
	p, ok := c.plans[id]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %s", ErrUnknownPlan, id)
	}
	return p, nil
}

// PaidPlan looks up a plan that can be subscribed to.
func (c *Catalog) PaidPlan(id PlanID) (Plan, error) {
	p, err := c.Plan(id)
	if err != nil {
		return Plan{}, err
	}
	if !p.IsPaid() {
		return Plan{}, fmt.Errorf("%w: %s is not purchasable", ErrUnknownPlan, id)
	}
	return p, nil
}

// Pack looks up an energy pack.
func (c *Catalog) Pack(id PackID) (Pack, error) {
	p, ok := c.packs[id]
	if !ok {
		return Pack{}, fmt.Errorf("%w: %s", ErrUnknownPack, id)
	}
	return p, nil
}

// Plans returns all plans ordered by price.
func (c *Catalog) Plans() []Plan {
	out := make([]Plan, 0, len(c.plans))
	for _, p := range c.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price.Amount < out[j].Price.Amount })
	return out
}

// Packs returns all packs ordered by energy.
func (c *Catalog) Packs() []Pack {
	out := make([]Pack, 0, len(c.packs))
	for _, p := range c.packs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Energy < out[j].Energy })
	return out
}
