package stripe

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/smallbiznis/enrollpay/internal/gateway/domain"
	orderdomain "github.com/smallbiznis/enrollpay/internal/order/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAdapter(t *testing.T, handler http.Handler) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	adapter, err := New(Config{
		SecretKey: "sk_test_123",
		BaseURL:   srv.URL,
	}, srv.Client())
	require.NoError(t, err)
	return adapter
}

func testOrder(gatewayRef string) *orderdomain.Order {
	order := &orderdomain.Order{
		Reference: "01JB5G4R4T",
		Amount:    999,
		Currency:  "USD",
	}
	if gatewayRef != "" {
		order.GatewayRef = &gatewayRef
	}
	return order
}

func TestNewRequiresSecretKey(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestInitiateCharge(t *testing.T) {
	adapter := newAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/payment_intents", r.URL.Path)
		require.Equal(t, "Bearer sk_test_123", r.Header.Get("Authorization"))

		require.NoError(t, r.ParseForm())
		assert.Equal(t, "999", r.PostForm.Get("amount"))
		assert.Equal(t, "usd", r.PostForm.Get("currency"))
		assert.Equal(t, "01JB5G4R4T", r.PostForm.Get("metadata[order_reference]"))

		json.NewEncoder(w).Encode(paymentIntent{
			ID:           "pi_abc",
			ClientSecret: "pi_abc_secret_xyz",
			Status:       "requires_payment_method",
		})
	}))

	intent, err := adapter.InitiateCharge(context.Background(), testOrder(""))
	require.NoError(t, err)
	assert.Equal(t, "pi_abc", intent.GatewayRef)
	assert.Equal(t, "pi_abc_secret_xyz", intent.ClientHandle["client_secret"])
}

func TestVerifyConfirmation(t *testing.T) {
	adapter := newAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/payment_intents/pi_abc", r.URL.Path)
		json.NewEncoder(w).Encode(paymentIntent{
			ID:             "pi_abc",
			Status:         "succeeded",
			Amount:         999,
			AmountReceived: 999,
			Currency:       "usd",
		})
	}))

	verified, err := adapter.VerifyConfirmation(context.Background(), testOrder("pi_abc"), domain.ConfirmationClaim{
		Reference: "pi_abc",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(999), verified.Amount)
	assert.Equal(t, "USD", verified.Currency)
}

func TestVerifyConfirmationForeignIntent(t *testing.T) {
	adapter := newAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("gateway must not be called for an intent the order did not open")
	}))

	// The claimed intent is not the one this order opened.
	_, err := adapter.VerifyConfirmation(context.Background(), testOrder("pi_abc"), domain.ConfirmationClaim{
		Reference: "pi_other",
	})
	assert.ErrorIs(t, err, domain.ErrGatewayRejected)
}

func TestVerifyConfirmationNotSucceeded(t *testing.T) {
	adapter := newAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(paymentIntent{
			ID:     "pi_abc",
			Status: "requires_payment_method",
			Amount: 999,
		})
	}))

	_, err := adapter.VerifyConfirmation(context.Background(), testOrder("pi_abc"), domain.ConfirmationClaim{
		Reference: "pi_abc",
	})
	assert.ErrorIs(t, err, domain.ErrGatewayRejected)
}

func TestVerifyConfirmationAmountFallback(t *testing.T) {
	adapter := newAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(paymentIntent{
			ID:       "pi_abc",
			Status:   "succeeded",
			Amount:   999,
			Currency: "usd",
		})
	}))

	verified, err := adapter.VerifyConfirmation(context.Background(), testOrder("pi_abc"), domain.ConfirmationClaim{
		Reference: "pi_abc",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(999), verified.Amount)
}

func TestErrorMapping(t *testing.T) {
	t.Run("429 is unreachable", func(t *testing.T) {
		adapter := newAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		_, err := adapter.InitiateCharge(context.Background(), testOrder(""))
		assert.ErrorIs(t, err, domain.ErrGatewayUnreachable)
	})

	t.Run("4xx is rejected", func(t *testing.T) {
		adapter := newAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusPaymentRequired)
		}))
		_, err := adapter.InitiateCharge(context.Background(), testOrder(""))
		assert.ErrorIs(t, err, domain.ErrGatewayRejected)
	})
}
