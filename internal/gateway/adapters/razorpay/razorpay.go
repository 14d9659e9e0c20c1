package razorpay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/smallbiznis/enrollpay/internal/gateway/domain"
	orderdomain "github.com/smallbiznis/enrollpay/internal/order/domain"
)

// Config carries the razorpay API credentials.
type Config struct {
	KeyID   string
	Secret  string
	BaseURL string
}

type Adapter struct {
	cfg    Config
	client *http.Client
}

func New(cfg Config, client *http.Client) (*Adapter, error) {
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	cfg.Secret = strings.TrimSpace(cfg.Secret)
	if cfg.KeyID == "" || cfg.Secret == "" {
		return nil, domain.ErrInvalidConfig
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.razorpay.com"
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Adapter{cfg: cfg, client: client}, nil
}

func (a *Adapter) Provider() string {
	return "razorpay"
}

type gatewayOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

type gatewayPayment struct {
	ID       string `json:"id"`
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

func (a *Adapter) InitiateCharge(ctx context.Context, order *orderdomain.Order) (*domain.ChargeIntent, error) {
	body, err := json.Marshal(map[string]any{
		"amount":   order.Amount,
		"currency": order.Currency,
		"receipt":  order.Reference,
	})
	if err != nil {
		return nil, err
	}

	var created gatewayOrder
	if err := a.do(ctx, http.MethodPost, "/v1/orders", body, &created); err != nil {
		return nil, err
	}
	if strings.TrimSpace(created.ID) == "" {
		return nil, domain.ErrGatewayRejected
	}

	return &domain.ChargeIntent{
		GatewayRef: created.ID,
		ClientHandle: map[string]any{
			"key":      a.cfg.KeyID,
			"order_id": created.ID,
			"amount":   order.Amount,
			"currency": order.Currency,
		},
	}, nil
}

// VerifyConfirmation checks the checkout signature first, then fetches the
// payment from the gateway and returns its recorded amount and currency.
func (a *Adapter) VerifyConfirmation(ctx context.Context, order *orderdomain.Order, claim domain.ConfirmationClaim) (*domain.Verification, error) {
	paymentID := strings.TrimSpace(claim.Reference)
	if paymentID == "" {
		return nil, domain.ErrInvalidClaim
	}
	if order.GatewayRef == nil || strings.TrimSpace(*order.GatewayRef) == "" {
		return nil, domain.ErrInvalidClaim
	}
	gatewayRef := *order.GatewayRef

	if !a.signatureValid(gatewayRef, paymentID, claim.Signature) {
		return nil, domain.ErrInvalidSignature
	}

	var payment gatewayPayment
	if err := a.do(ctx, http.MethodGet, "/v1/payments/"+paymentID, nil, &payment); err != nil {
		return nil, err
	}
	if payment.OrderID != gatewayRef {
		return nil, domain.ErrGatewayRejected
	}
	switch payment.Status {
	case "captured", "authorized":
	default:
		return nil, domain.ErrGatewayRejected
	}

	return &domain.Verification{
		Reference: payment.ID,
		Amount:    payment.Amount,
		Currency:  strings.ToUpper(strings.TrimSpace(payment.Currency)),
	}, nil
}

func (a *Adapter) signatureValid(gatewayRef, paymentID, signature string) bool {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(a.cfg.Secret))
	_, _ = mac.Write([]byte(gatewayRef + "|" + paymentID))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}

func (a *Adapter) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.cfg.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.SetBasicAuth(a.cfg.KeyID, a.cfg.Secret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrGatewayUnreachable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests:
		return domain.ErrGatewayUnreachable
	case resp.StatusCode >= http.StatusBadRequest:
		return domain.ErrGatewayRejected
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrGatewayRejected, err)
	}
	return nil
}
