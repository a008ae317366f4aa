package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/voltage/internal/billing/domain"
	sharedApplication "github.com/felixgeelhaar/voltage/internal/shared/application"
	sharedDomain "github.com/felixgeelhaar/voltage/internal/shared/domain"
	"github.com/felixgeelhaar/voltage/pkg/observability"
)

const (
	DefaultConcurrency    = 8
	DefaultInitialBalance = 3
	DefaultChargeTimeout  = 30 * time.Second
	DefaultLockTTL        = 10 * time.Minute
)

// Deps wires a Service. Accounts, Payments and Gateway are required; the
// rest fall back to defaults.
type Deps struct {
	Accounts domain.AccountRepository
	Payments domain.PaymentRepository
	Gateway  domain.Gateway
	Notifier Notifier
	// Locker is optional; without it sweeps are not serialized across processes.
	Locker  Locker
	Catalog *domain.Catalog
	Policy  domain.RetryPolicy
	Clock   Clock
	Logger  *slog.Logger
	Metrics observability.Metrics

	Concurrency    int
	InitialBalance int64
	ChargeTimeout  time.Duration
	LockTTL        time.Duration
}

// Service is the billing engine facade used by the CLI, webhooks and the worker.
type Service struct {
	accounts domain.AccountRepository
	payments domain.PaymentRepository
	gateway  domain.Gateway
	notifier Notifier
	locker   Locker
	catalog  *domain.Catalog
	policy   domain.RetryPolicy
	clock    Clock
	logger   *slog.Logger
	metrics  observability.Metrics
	ledger   *Ledger

	concurrency    int
	initialBalance int64
	chargeTimeout  time.Duration
	lockTTL        time.Duration
}

// NewService creates a billing service.
func NewService(d Deps) *Service {
	s := &Service{
		accounts:       d.Accounts,
		payments:       d.Payments,
		gateway:        d.Gateway,
		notifier:       d.Notifier,
		locker:         d.Locker,
		catalog:        d.Catalog,
		policy:         d.Policy,
		clock:          d.Clock,
		logger:         d.Logger,
		metrics:        d.Metrics,
		concurrency:    d.Concurrency,
		initialBalance: d.InitialBalance,
		chargeTimeout:  d.ChargeTimeout,
		lockTTL:        d.LockTTL,
	}
	if s.notifier == nil {
		s.notifier = NoopNotifier{}
	}
	if s.catalog == nil {
		s.catalog = domain.DefaultCatalog()
	}
	if len(s.policy.Delays) == 0 {
		s.policy = domain.DefaultRetryPolicy()
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = observability.NoopMetrics{}
	}
	if s.concurrency <= 0 {
		s.concurrency = DefaultConcurrency
	}
	if s.initialBalance < 0 {
		s.initialBalance = 0
	}
	if s.chargeTimeout <= 0 {
		s.chargeTimeout = DefaultChargeTimeout
	}
	if s.lockTTL <= 0 {
		s.lockTTL = DefaultLockTTL
	}
	s.ledger = NewLedger(s.accounts, s.clock)
	return s
}

// Catalog returns the plan and pack catalog.
func (s *Service) Catalog() *domain.Catalog {
	return s.catalog
}

func (s *Service) now() time.Time {
	return s.clock().UTC()
}

// publish hands events to the notifier. Delivery failures never undo the
// committed change.
func (s *Service) publish(ctx context.Context, events ...sharedDomain.DomainEvent) {
	if len(events) == 0 {
		return
	}
	sharedApplication.StampEvents(observability.CorrelationIDFromContext(ctx), events...)
	for _, event := range events {
		if err := s.notifier.Notify(ctx, event); err != nil {
			s.logger.WarnContext(ctx, "failed to deliver event",
				"routing_key", event.RoutingKey(),
				"aggregate_id", event.AggregateID(),
				"error", err,
			)
			continue
		}
		s.metrics.Counter(observability.MetricEventsPublished, 1, observability.T("routing_key", event.RoutingKey()))
	}
}

// publishAccount delivers the events an account recorded during a transaction.
func (s *Service) publishAccount(ctx context.Context, acct *domain.Account) {
	if acct == nil {
		return
	}
	events := acct.Events()
	acct.ClearEvents()
	for _, e := range events {
		s.metrics.Counter(observability.MetricSubscriptionTransitions, 1, observability.T("routing_key", e.RoutingKey()))
	}
	s.publish(ctx, events...)
}
