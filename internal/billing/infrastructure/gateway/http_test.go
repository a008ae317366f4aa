package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/voltage/internal/billing/domain"
)

func newTestGateway(t *testing.T, handler http.HandlerFunc) *HTTPGateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPGateway(HTTPConfig{BaseURL: srv.URL, PublicID: "pk_test", APISecret: "secret"}, srv.Client(), nil)
}

func chargeReq() domain.ChargeRequest {
	return domain.ChargeRequest{
		UserID:         42,
		Amount:         domain.RUB(37425),
		CredentialRef:  "tk_card",
		IdempotencyKey: "renewal_42_1772323200_1",
		Description:    "basic",
	}
}

func TestHTTPGateway_ChargeSuccess(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payments/tokens/charge", r.URL.Path)
		assert.Equal(t, "renewal_42_1772323200_1", r.Header.Get("X-Request-ID"))
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "pk_test", user)
		assert.Equal(t, "secret", pass)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, 374.25, body["Amount"])
		assert.Equal(t, "RUB", body["Currency"])
		assert.Equal(t, "42", body["AccountId"])
		assert.Equal(t, "tk_card", body["Token"])
		assert.Equal(t, "renewal_42_1772323200_1", body["InvoiceId"])

		_, _ = w.Write([]byte(`{"Success":true,"Model":{"TransactionId":504,"Status":"Completed"}}`))
	})

	out, err := g.ChargeStoredCredential(context.Background(), chargeReq())
	require.NoError(t, err)
	assert.Equal(t, domain.ChargeOutcome{Success: true, TransactionID: "504"}, out)
}

func TestHTTPGateway_ChargeDeclined(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Success":false,"Model":{"TransactionId":505,"Status":"Declined","Reason":"InsufficientFunds","ReasonCode":5051}}`))
	})

	out, err := g.ChargeStoredCredential(context.Background(), chargeReq())
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, "InsufficientFunds", out.Reason)
	assert.Equal(t, "505", out.TransactionID)
}

func TestHTTPGateway_ChargeRejected(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Success":false,"Message":"Token not found"}`))
	})

	out, err := g.ChargeStoredCredential(context.Background(), chargeReq())
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, "Token not found", out.Reason)
}

func TestHTTPGateway_ServerError(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	})

	_, err := g.ChargeStoredCredential(context.Background(), chargeReq())
	assert.ErrorIs(t, err, domain.ErrGatewayUnavailable)
}

func TestHTTPGateway_Timeout(t *testing.T) {
	release := make(chan struct{})
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := g.ChargeStoredCredential(ctx, chargeReq())
	assert.ErrorIs(t, err, domain.ErrGatewayTimeout)
}

func TestHTTPGateway_LookupCharge(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/payments/find", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		switch body["InvoiceId"] {
		case "known":
			_, _ = w.Write([]byte(`{"Success":true,"Model":{"TransactionId":77,"InvoiceId":"known","Status":"Completed"}}`))
		default:
			_, _ = w.Write([]byte(`{"Success":false,"Message":"Not found"}`))
		}
	})

	out, found, err := g.LookupCharge(context.Background(), "known")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "77", out.TransactionID)
	assert.True(t, out.Success)

	_, found, err = g.LookupCharge(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, found)
}
