package application

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/voltage/internal/billing/domain"
	"github.com/felixgeelhaar/voltage/internal/billing/infrastructure/persistence"
	sharedDomain "github.com/felixgeelhaar/voltage/internal/shared/domain"
	"github.com/felixgeelhaar/voltage/pkg/observability"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// mockGateway is a mock implementation of domain.Gateway.
type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) ChargeStoredCredential(ctx context.Context, req domain.ChargeRequest) (domain.ChargeOutcome, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(domain.ChargeOutcome), args.Error(1)
}

func (m *mockGateway) LookupCharge(ctx context.Context, key string) (domain.ChargeOutcome, bool, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(domain.ChargeOutcome), args.Bool(1), args.Error(2)
}

// recordingNotifier keeps every delivered event.
type recordingNotifier struct {
	mu     sync.Mutex
	events []sharedDomain.DomainEvent
}

func (n *recordingNotifier) Notify(_ context.Context, event sharedDomain.DomainEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) keys() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.RoutingKey())
	}
	return out
}

func (n *recordingNotifier) last() sharedDomain.DomainEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.events) == 0 {
		return nil
	}
	return n.events[len(n.events)-1]
}

func (n *recordingNotifier) reset() {
	n.mu.Lock()
	n.events = nil
	n.mu.Unlock()
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// heldLocker refuses every lock.
type heldLocker struct{}

func (heldLocker) TryLock(context.Context, string, time.Duration) (func(context.Context) error, bool, error) {
	return nil, false, nil
}

type harness struct {
	svc      *Service
	accounts *persistence.MemoryAccountRepository
	payments *persistence.MemoryPaymentRepository
	gateway  *mockGateway
	notifier *recordingNotifier
	clock    *fakeClock
	metrics  *observability.InMemoryMetrics
}

func newHarness(t *testing.T, opts ...func(*Deps)) *harness {
	t.Helper()
	h := &harness{
		accounts: persistence.NewMemoryAccountRepository(),
		payments: persistence.NewMemoryPaymentRepository(),
		gateway:  new(mockGateway),
		notifier: &recordingNotifier{},
		clock:    &fakeClock{now: t0},
		metrics:  observability.NewInMemoryMetrics(),
	}
	d := Deps{
		Accounts:       h.accounts,
		Payments:       h.payments,
		Gateway:        h.gateway,
		Notifier:       h.notifier,
		Clock:          h.clock.Now,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:        h.metrics,
		InitialBalance: DefaultInitialBalance,
		ChargeTimeout:  time.Second,
	}
	for _, opt := range opts {
		opt(&d)
	}
	h.svc = NewService(d)
	t.Cleanup(func() { h.gateway.AssertExpectations(t) })
	return h
}

// subscribed registers id and starts a basic subscription at the current time.
func (h *harness) subscribed(t *testing.T, id domain.UserID) *domain.Account {
	t.Helper()
	ctx := context.Background()
	_, _, err := h.svc.RegisterUser(ctx, id)
	require.NoError(t, err)
	acct, err := h.svc.CreateSubscription(ctx, id, domain.PlanBasic, "tok_"+id.String(), "txn_first_"+id.String())
	require.NoError(t, err)
	h.notifier.reset()
	return acct
}

// inGrace subscribes id and fails the first renewal one period later.
func (h *harness) inGrace(t *testing.T, id domain.UserID) *domain.Account {
	t.Helper()
	h.subscribed(t, id)
	h.clock.Advance(30 * 24 * time.Hour)
	acct, err := h.svc.HandleChargeResult(context.Background(), ChargeResult{UserID: id, TransactionID: "txn_fail_" + id.String(), Reason: "insufficient funds"})
	require.NoError(t, err)
	require.Equal(t, domain.StatusGrace, acct.SubscriptionStatus())
	h.notifier.reset()
	return acct
}

func (h *harness) account(t *testing.T, id domain.UserID) *domain.Account {
	t.Helper()
	acct, err := h.svc.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return acct
}

func chargeFor(key string) any {
	return mock.MatchedBy(func(req domain.ChargeRequest) bool { return req.IdempotencyKey == key })
}
