package domain

import (
	"context"
	"errors"

	orderdomain "github.com/smallbiznis/enrollpay/internal/order/domain"
)

// ChargeIntent is what a gateway returns when a charge is initiated: the
// gateway-side reference plus whatever opaque payload the client checkout
// UI needs (key ids, client secrets, checkout parameters).
type ChargeIntent struct {
	GatewayRef   string
	ClientHandle map[string]any
}

// ConfirmationClaim is an assertion, from the client or a gateway callback,
// that payment succeeded. It is never trusted at face value.
type ConfirmationClaim struct {
	Reference       string
	Signature       string
	ClaimedAmount   int64
	ClaimedCurrency string
}

// Verification is the gateway's own record of a confirmed payment.
type Verification struct {
	Reference string
	Amount    int64
	Currency  string
}

var (
	ErrProviderNotFound   = errors.New("provider_not_found")
	ErrInvalidConfig      = errors.New("invalid_gateway_config")
	ErrInvalidClaim       = errors.New("invalid_claim")
	ErrInvalidSignature   = errors.New("invalid_signature")
	ErrGatewayUnreachable = errors.New("gateway_unreachable")
	ErrGatewayRejected    = errors.New("gateway_rejected")
)

// Gateway abstracts one external payment authority.
//
// VerifyConfirmation must cross-check the claim against the gateway's own
// record; a client-supplied claim alone is never sufficient to fulfil an
// order.
type Gateway interface {
	Provider() string
	InitiateCharge(ctx context.Context, order *orderdomain.Order) (*ChargeIntent, error)
	VerifyConfirmation(ctx context.Context, order *orderdomain.Order, claim ConfirmationClaim) (*Verification, error)
}
