// Package gateway provides payment gateway clients: a CloudPayments style
// HTTP client, a circuit breaker wrapper and an in-process simulator.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/felixgeelhaar/voltage/internal/billing/domain"
)

// DefaultBaseURL is the production API endpoint.
const DefaultBaseURL = "https://api.cloudpayments.ru"

const maxResponseBytes = 1 << 20

// HTTPConfig configures HTTPGateway.
type HTTPConfig struct {
	BaseURL   string
	PublicID  string
	APISecret string
}

// HTTPGateway charges stored card tokens over the CloudPayments API.
// Timeouts come from the caller's context.
type HTTPGateway struct {
	baseURL   string
	publicID  string
	apiSecret string
	client    *http.Client
	logger    *slog.Logger
}

// NewHTTPGateway creates a client. A nil client uses http.DefaultClient.
func NewHTTPGateway(cfg HTTPConfig, client *http.Client, logger *slog.Logger) *HTTPGateway {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	return &HTTPGateway{
		baseURL:   base,
		publicID:  cfg.PublicID,
		apiSecret: cfg.APISecret,
		client:    client,
		logger:    logger,
	}
}

type chargeRequest struct {
	Amount      json.Number `json:"Amount"`
	Currency    string      `json:"Currency"`
	AccountID   string      `json:"AccountId"`
	Token       string      `json:"Token"`
	InvoiceID   string      `json:"InvoiceId"`
	Description string      `json:"Description,omitempty"`
}

type apiResponse struct {
	Success bool              `json:"Success"`
	Message string            `json:"Message"`
	Model   *transactionModel `json:"Model"`
}

type transactionModel struct {
	TransactionID     int64  `json:"TransactionId"`
	InvoiceID         string `json:"InvoiceId"`
	Status            string `json:"Status"`
	Reason            string `json:"Reason"`
	ReasonCode        int    `json:"ReasonCode"`
	CardHolderMessage string `json:"CardHolderMessage"`
}

func (m *transactionModel) outcome() domain.ChargeOutcome {
	out := domain.ChargeOutcome{TransactionID: strconv.FormatInt(m.TransactionID, 10)}
	switch m.Status {
	case "Completed", "Authorized":
		out.Success = true
	default:
		out.Reason = m.Reason
		if out.Reason == "" {
			out.Reason = m.CardHolderMessage
		}
	}
	return out
}

// formatAmount renders minor units as a decimal with two places.
func formatAmount(m domain.Money) json.Number {
	return json.Number(fmt.Sprintf("%d.%02d", m.Amount/100, m.Amount%100))
}

// ChargeStoredCredential charges a token. The idempotency key is sent as the
// invoice id and as X-Request-ID, so a resent request is not charged twice.
func (g *HTTPGateway) ChargeStoredCredential(ctx context.Context, req domain.ChargeRequest) (domain.ChargeOutcome, error) {
	body := chargeRequest{
		Amount:      formatAmount(req.Amount),
		Currency:    string(req.Amount.Currency),
		AccountID:   req.UserID.String(),
		Token:       req.CredentialRef,
		InvoiceID:   req.IdempotencyKey,
		Description: req.Description,
	}
	var resp apiResponse
	if err := g.post(ctx, "/payments/tokens/charge", req.IdempotencyKey, body, &resp); err != nil {
		return domain.ChargeOutcome{}, err
	}
	if resp.Model != nil {
		return resp.Model.outcome(), nil
	}
	if resp.Success {
		return domain.ChargeOutcome{}, fmt.Errorf("%w: charge response without transaction", domain.ErrGatewayUnavailable)
	}
	// Validation errors (bad token, unknown account) will not succeed on retry.
	g.logger.WarnContext(ctx, "gateway rejected charge", "idempotency_key", req.IdempotencyKey, "message", resp.Message)
	return domain.ChargeOutcome{Reason: resp.Message}, nil
}

// LookupCharge finds an earlier charge by invoice id.
func (g *HTTPGateway) LookupCharge(ctx context.Context, idempotencyKey string) (domain.ChargeOutcome, bool, error) {
	var resp apiResponse
	err := g.post(ctx, "/v2/payments/find", "", map[string]string{"InvoiceId": idempotencyKey}, &resp)
	if err != nil {
		return domain.ChargeOutcome{}, false, err
	}
	if resp.Model == nil {
		return domain.ChargeOutcome{}, false, nil
	}
	return resp.Model.outcome(), true, nil
}

func (g *HTTPGateway) post(ctx context.Context, path, requestID string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode gateway request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build gateway request: %w", err)
	}
	req.SetBasicAuth(g.publicID, g.apiSecret)
	req.Header.Set("Content-Type", "application/json")
	if requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return transportError(ctx, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return transportError(ctx, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s returned %d: %s", domain.ErrGatewayUnavailable, path, resp.StatusCode, truncate(raw, 200))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", domain.ErrGatewayUnavailable, path, err)
	}
	return nil
}

func transportError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrGatewayTimeout, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

var _ domain.Gateway = (*HTTPGateway)(nil)
