package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/voltage/internal/billing/domain"
)

func TestSimulatedGateway(t *testing.T) {
	ctx := context.Background()
	g := NewSimulatedGateway()

	req := domain.ChargeRequest{UserID: 1, Amount: domain.RUB(49900), CredentialRef: "tok_ok", IdempotencyKey: "k1"}
	first, err := g.ChargeStoredCredential(ctx, req)
	require.NoError(t, err)
	assert.True(t, first.Success)

	again, err := g.ChargeStoredCredential(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first, again, "same key, same outcome")

	req.IdempotencyKey, req.CredentialRef = "k2", "decline_card"
	declined, err := g.ChargeStoredCredential(ctx, req)
	require.NoError(t, err)
	assert.False(t, declined.Success)
	assert.NotEmpty(t, declined.Reason)

	_, found, err := g.LookupCharge(ctx, "k3")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSimulatedGateway_LostResponse(t *testing.T) {
	ctx := context.Background()
	g := NewSimulatedGateway()

	_, err := g.ChargeStoredCredential(ctx, domain.ChargeRequest{CredentialRef: "timeout_card", IdempotencyKey: "k"})
	assert.ErrorIs(t, err, domain.ErrGatewayTimeout)

	out, found, err := g.LookupCharge(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, out.Success)
}
