package persistence

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/felixgeelhaar/voltage/internal/billing/domain"
)

// MemoryAccountRepository keeps accounts in process. Transact uses the same
// optimistic version check as the durable stores, so it is safe for
// concurrent use and suitable for tests and local experiments.
type MemoryAccountRepository struct {
	mu       sync.RWMutex
	accounts map[domain.UserID]*domain.Account
}

// NewMemoryAccountRepository creates an empty repository.
func NewMemoryAccountRepository() *MemoryAccountRepository {
	return &MemoryAccountRepository{accounts: make(map[domain.UserID]*domain.Account)}
}

func (r *MemoryAccountRepository) Create(ctx context.Context, acct *domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[acct.ID]; ok {
		return fmt.Errorf("%w: %s", domain.ErrUserExists, acct.ID)
	}
	acct.Version = 1
	r.accounts[acct.ID] = acct.Clone()
	return nil
}

func (r *MemoryAccountRepository) Get(ctx context.Context, id domain.UserID) (*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	acct, ok := r.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUserNotFound, id)
	}
	return acct.Clone(), nil
}

func (r *MemoryAccountRepository) Save(ctx context.Context, acct *domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.accounts[acct.ID]; ok {
		acct.Version = cur.Version + 1
	} else {
		acct.Version = 1
	}
	r.accounts[acct.ID] = acct.Clone()
	return nil
}

func (r *MemoryAccountRepository) Transact(ctx context.Context, id domain.UserID, fn domain.MutateFunc) (*domain.Account, error) {
	for attempt := 0; attempt < domain.MaxTransactRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		working, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := fn(working); err != nil {
			return nil, err
		}

		r.mu.Lock()
		if r.accounts[id].Version != working.Version {
			r.mu.Unlock()
			continue
		}
		working.Version++
		r.accounts[id] = working.Clone()
		r.mu.Unlock()
		return working, nil
	}
	return nil, fmt.Errorf("%w: user %s", domain.ErrTransactionConflict, id)
}

func (r *MemoryAccountRepository) Find(ctx context.Context, q domain.AccountQuery) ([]domain.UserID, error) {
	r.mu.RLock()
	var ids []domain.UserID
	for id, acct := range r.accounts {
		if matches(q, acct) {
			ids = append(ids, id)
		}
	}
	r.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if q.Limit > 0 && len(ids) > q.Limit {
		ids = ids[:q.Limit]
	}
	return ids, nil
}

// matches evaluates an AccountQuery the way the SQL and Mongo stores do.
func matches(q domain.AccountQuery, a *domain.Account) bool {
	idx := index(a)
	if q.Plan != nil && a.Plan != *q.Plan {
		return false
	}
	if q.Balance != nil && a.Balance != *q.Balance {
		return false
	}
	if q.Status != "" && idx.status != string(q.Status) {
		return false
	}
	if q.RetriesBelow > 0 && idx.retryCount >= q.RetriesBelow {
		return false
	}
	if q.GraceEndsBy != nil && (idx.graceEndsAt == nil || idx.graceEndsAt.After(*q.GraceEndsBy)) {
		return false
	}
	return true
}

// MemoryPaymentRepository keeps payments in process.
type MemoryPaymentRepository struct {
	mu       sync.RWMutex
	payments map[domain.PaymentID]*domain.Payment
	byKey    map[string]domain.PaymentID
}

// NewMemoryPaymentRepository creates an empty repository.
func NewMemoryPaymentRepository() *MemoryPaymentRepository {
	return &MemoryPaymentRepository{
		payments: make(map[domain.PaymentID]*domain.Payment),
		byKey:    make(map[string]domain.PaymentID),
	}
}

func copyPayment(p *domain.Payment) *domain.Payment {
	c := *p
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func (r *MemoryPaymentRepository) Create(ctx context.Context, p *domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byKey[p.IdempotencyKey]; ok {
		return fmt.Errorf("%w: key %s", domain.ErrPaymentExists, p.IdempotencyKey)
	}
	if _, ok := r.payments[p.ID]; ok {
		return fmt.Errorf("%w: %s", domain.ErrPaymentExists, p.ID)
	}
	p.Version = 1
	r.payments[p.ID] = copyPayment(p)
	r.byKey[p.IdempotencyKey] = p.ID
	return nil
}

func (r *MemoryPaymentRepository) Get(ctx context.Context, id domain.PaymentID) (*domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.payments[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrPaymentNotFound, id)
	}
	return copyPayment(p), nil
}

func (r *MemoryPaymentRepository) FindByIdempotencyKey(ctx context.Context, key string) (*domain.Payment, error) {
	r.mu.RLock()
	id, ok := r.byKey[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: key %s", domain.ErrPaymentNotFound, key)
	}
	return r.Get(ctx, id)
}

func (r *MemoryPaymentRepository) FindByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.payments {
		if transactionID != "" && p.ExternalTransactionID == transactionID {
			return copyPayment(p), nil
		}
	}
	return nil, fmt.Errorf("%w: transaction %s", domain.ErrPaymentNotFound, transactionID)
}

func (r *MemoryPaymentRepository) ListByUser(ctx context.Context, userID domain.UserID, limit int) ([]*domain.Payment, error) {
	r.mu.RLock()
	var out []*domain.Payment
	for _, p := range r.payments {
		if p.UserID == userID {
			out = append(out, copyPayment(p))
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryPaymentRepository) Find(ctx context.Context, q domain.PaymentQuery) ([]*domain.Payment, error) {
	r.mu.RLock()
	var out []*domain.Payment
	for _, p := range r.payments {
		if paymentMatches(q, p) {
			out = append(out, copyPayment(p))
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func paymentMatches(q domain.PaymentQuery, p *domain.Payment) bool {
	if q.UserID != nil && p.UserID != *q.UserID {
		return false
	}
	if q.Type != "" && p.Type != q.Type {
		return false
	}
	if q.Status != "" && p.Status != q.Status {
		return false
	}
	if q.CreatedBefore != nil && !p.CreatedAt.Before(*q.CreatedBefore) {
		return false
	}
	return true
}

func (r *MemoryPaymentRepository) Update(ctx context.Context, id domain.PaymentID, fn func(p *domain.Payment) error) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.payments[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrPaymentNotFound, id)
	}
	working := copyPayment(cur)
	if err := fn(working); err != nil {
		return nil, err
	}
	working.Version++
	r.payments[id] = copyPayment(working)
	return working, nil
}

var (
	_ domain.AccountRepository = (*MemoryAccountRepository)(nil)
	_ domain.PaymentRepository = (*MemoryPaymentRepository)(nil)
)
