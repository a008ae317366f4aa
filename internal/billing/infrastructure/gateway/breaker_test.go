package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/voltage/internal/billing/domain"
)

type scriptedGateway struct {
	calls   int
	outcome domain.ChargeOutcome
	err     error
}

func (g *scriptedGateway) ChargeStoredCredential(context.Context, domain.ChargeRequest) (domain.ChargeOutcome, error) {
	g.calls++
	return g.outcome, g.err
}

func (g *scriptedGateway) LookupCharge(context.Context, string) (domain.ChargeOutcome, bool, error) {
	g.calls++
	return g.outcome, g.err == nil, g.err
}

func testBreaker(next domain.Gateway) *BreakerGateway {
	return NewBreakerGateway(next, BreakerConfig{
		MaxRequests:      1,
		Interval:         time.Minute,
		Cooldown:         time.Hour,
		FailureThreshold: 2,
	}, nil)
}

func TestBreakerGateway_OpensAfterFailures(t *testing.T) {
	next := &scriptedGateway{err: errors.New("connection refused")}
	g := testBreaker(next)
	ctx := context.Background()

	for range 2 {
		_, err := g.ChargeStoredCredential(ctx, chargeReq())
		require.Error(t, err)
	}
	assert.Equal(t, "open", g.State())

	_, err := g.ChargeStoredCredential(ctx, chargeReq())
	assert.ErrorIs(t, err, domain.ErrGatewayUnavailable)
	_, _, err = g.LookupCharge(ctx, "key")
	assert.ErrorIs(t, err, domain.ErrGatewayUnavailable)
	assert.Equal(t, 2, next.calls, "an open breaker must not reach the gateway")
}

func TestBreakerGateway_DeclinesDoNotTrip(t *testing.T) {
	next := &scriptedGateway{outcome: domain.ChargeOutcome{Reason: "insufficient funds"}}
	g := testBreaker(next)

	for range 5 {
		out, err := g.ChargeStoredCredential(context.Background(), chargeReq())
		require.NoError(t, err)
		assert.False(t, out.Success)
	}
	assert.Equal(t, "closed", g.State())
}

func TestBreakerGateway_CanceledCallerDoesNotTrip(t *testing.T) {
	next := &scriptedGateway{err: context.Canceled}
	g := testBreaker(next)

	for range 3 {
		_, err := g.ChargeStoredCredential(context.Background(), chargeReq())
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, "closed", g.State())
}

func TestBreakerGateway_Lookup(t *testing.T) {
	next := &scriptedGateway{outcome: domain.ChargeOutcome{Success: true, TransactionID: "9"}}
	g := testBreaker(next)

	out, found, err := g.LookupCharge(context.Background(), "key")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "9", out.TransactionID)
}
