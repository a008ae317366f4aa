package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/felixgeelhaar/voltage/internal/billing/domain"
)

// BreakerConfig configures the circuit breaker.
type BreakerConfig struct {
	// MaxRequests is the number of trial calls allowed while half-open.
	MaxRequests uint32
	// Interval clears the failure counts while closed.
	Interval time.Duration
	// Cooldown is how long the breaker stays open.
	Cooldown time.Duration
	// FailureThreshold trips the breaker after this many consecutive failures.
	FailureThreshold uint32
}

// DefaultBreakerConfig returns the production defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      1,
		Interval:         time.Minute,
		Cooldown:         30 * time.Second,
		FailureThreshold: 5,
	}
}

type lookupResult struct {
	outcome domain.ChargeOutcome
	found   bool
}

// BreakerGateway stops calling an unhealthy gateway. Declined charges are
// answers, not failures, and never trip it.
type BreakerGateway struct {
	next    domain.Gateway
	breaker *gobreaker.CircuitBreaker[any]
	logger  *slog.Logger
}

// NewBreakerGateway wraps next with a circuit breaker.
func NewBreakerGateway(next domain.Gateway, cfg BreakerConfig, logger *slog.Logger) *BreakerGateway {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	settings := gobreaker.Settings{
		Name:        "payment-gateway",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			// A caller giving up is not the gateway's fault.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	}
	return &BreakerGateway{
		next:    next,
		breaker: gobreaker.NewCircuitBreaker[any](settings),
		logger:  logger,
	}
}

// State reports the breaker state, e.g. "closed" or "open".
func (g *BreakerGateway) State() string {
	return g.breaker.State().String()
}

func (g *BreakerGateway) ChargeStoredCredential(ctx context.Context, req domain.ChargeRequest) (domain.ChargeOutcome, error) {
	res, err := g.breaker.Execute(func() (any, error) {
		return g.next.ChargeStoredCredential(ctx, req)
	})
	if err != nil {
		return domain.ChargeOutcome{}, breakerError(err)
	}
	return res.(domain.ChargeOutcome), nil
}

func (g *BreakerGateway) LookupCharge(ctx context.Context, idempotencyKey string) (domain.ChargeOutcome, bool, error) {
	res, err := g.breaker.Execute(func() (any, error) {
		outcome, found, err := g.next.LookupCharge(ctx, idempotencyKey)
		return lookupResult{outcome: outcome, found: found}, err
	})
	if err != nil {
		return domain.ChargeOutcome{}, false, breakerError(err)
	}
	r := res.(lookupResult)
	return r.outcome, r.found, nil
}

func breakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	return err
}

var _ domain.Gateway = (*BreakerGateway)(nil)
