package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/smallbiznis/enrollpay/internal/gateway/domain"
	orderdomain "github.com/smallbiznis/enrollpay/internal/order/domain"
)

// Config carries the stripe API credentials.
type Config struct {
	SecretKey string
	BaseURL   string
}

type Adapter struct {
	cfg    Config
	client *http.Client
}

func New(cfg Config, client *http.Client) (*Adapter, error) {
	cfg.SecretKey = strings.TrimSpace(cfg.SecretKey)
	if cfg.SecretKey == "" {
		return nil, domain.ErrInvalidConfig
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.stripe.com"
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Adapter{cfg: cfg, client: client}, nil
}

func (a *Adapter) Provider() string {
	return "stripe"
}

type paymentIntent struct {
	ID             string `json:"id"`
	ClientSecret   string `json:"client_secret"`
	Status         string `json:"status"`
	Amount         int64  `json:"amount"`
	AmountReceived int64  `json:"amount_received"`
	Currency       string `json:"currency"`
}

func (a *Adapter) InitiateCharge(ctx context.Context, order *orderdomain.Order) (*domain.ChargeIntent, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(order.Amount, 10))
	form.Set("currency", strings.ToLower(order.Currency))
	form.Set("metadata[order_reference]", order.Reference)
	form.Set("automatic_payment_methods[enabled]", "true")

	var intent paymentIntent
	if err := a.do(ctx, http.MethodPost, "/v1/payment_intents", form, &intent); err != nil {
		return nil, err
	}
	if strings.TrimSpace(intent.ID) == "" {
		return nil, domain.ErrGatewayRejected
	}

	return &domain.ChargeIntent{
		GatewayRef: intent.ID,
		ClientHandle: map[string]any{
			"client_secret": intent.ClientSecret,
		},
	}, nil
}

// VerifyConfirmation fetches the payment intent and trusts only the
// gateway-recorded status and amount_received.
func (a *Adapter) VerifyConfirmation(ctx context.Context, order *orderdomain.Order, claim domain.ConfirmationClaim) (*domain.Verification, error) {
	intentID := strings.TrimSpace(claim.Reference)
	if intentID == "" {
		return nil, domain.ErrInvalidClaim
	}
	if order.GatewayRef == nil || intentID != *order.GatewayRef {
		// The confirmed intent must be the one this order opened.
		return nil, domain.ErrGatewayRejected
	}

	var intent paymentIntent
	if err := a.do(ctx, http.MethodGet, "/v1/payment_intents/"+intentID, nil, &intent); err != nil {
		return nil, err
	}
	if intent.Status != "succeeded" {
		return nil, domain.ErrGatewayRejected
	}

	amount := intent.AmountReceived
	if amount == 0 {
		amount = intent.Amount
	}

	return &domain.Verification{
		Reference: intent.ID,
		Amount:    amount,
		Currency:  strings.ToUpper(strings.TrimSpace(intent.Currency)),
	}, nil
}

func (a *Adapter) do(ctx context.Context, method, path string, form url.Values, out any) error {
	var body *strings.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	} else {
		body = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(ctx, method, a.cfg.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.SecretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
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
