package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/felixgeelhaar/voltage/internal/billing/domain"
)

// Credential prefixes that change how SimulatedGateway answers.
const (
	// SimDeclinePrefix makes every charge on the token decline.
	SimDeclinePrefix = "decline"
	// SimTimeoutPrefix makes the first charge for a key succeed but lose its
	// response, the way a real gateway times out after charging.
	SimTimeoutPrefix = "timeout"
)

// SimulatedGateway charges nothing. It remembers outcomes by idempotency
// key, so repeated charges and lookups behave like the real API.
type SimulatedGateway struct {
	mu       sync.Mutex
	outcomes map[string]domain.ChargeOutcome
	seq      int64
}

// NewSimulatedGateway creates an empty simulator.
func NewSimulatedGateway() *SimulatedGateway {
	return &SimulatedGateway{outcomes: make(map[string]domain.ChargeOutcome)}
}

func (g *SimulatedGateway) ChargeStoredCredential(ctx context.Context, req domain.ChargeRequest) (domain.ChargeOutcome, error) {
	if err := ctx.Err(); err != nil {
		return domain.ChargeOutcome{}, fmt.Errorf("%w: %v", domain.ErrGatewayTimeout, err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if out, ok := g.outcomes[req.IdempotencyKey]; ok {
		return out, nil
	}

	var out domain.ChargeOutcome
	switch {
	case req.CredentialRef == "":
		out = domain.ChargeOutcome{Reason: "no stored credential"}
	case strings.HasPrefix(req.CredentialRef, SimDeclinePrefix):
		out = domain.ChargeOutcome{Reason: "insufficient funds"}
	default:
		g.seq++
		out = domain.ChargeOutcome{Success: true, TransactionID: fmt.Sprintf("sim_%d", g.seq)}
	}
	g.outcomes[req.IdempotencyKey] = out

	if strings.HasPrefix(req.CredentialRef, SimTimeoutPrefix) {
		return domain.ChargeOutcome{}, fmt.Errorf("%w: simulated lost response", domain.ErrGatewayTimeout)
	}
	return out, nil
}

func (g *SimulatedGateway) LookupCharge(ctx context.Context, idempotencyKey string) (domain.ChargeOutcome, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out, ok := g.outcomes[idempotencyKey]
	return out, ok, nil
}

var _ domain.Gateway = (*SimulatedGateway)(nil)
