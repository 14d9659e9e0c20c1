package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	gatewaydomain "github.com/smallbiznis/enrollpay/internal/gateway/domain"
	orderdomain "github.com/smallbiznis/enrollpay/internal/order/domain"
)

// Outcome is the terminal disposition of one confirm attempt.
type Outcome string

const (
	OutcomeFulfilled        Outcome = "fulfilled"
	OutcomeAlreadyFulfilled Outcome = "already_fulfilled"
	OutcomeAlreadyApplied   Outcome = "already_applied"
)

// Result reports the order state after a confirm attempt.
type Result struct {
	State   orderdomain.OrderState
	Outcome Outcome
}

// ErrAmountMismatch marks a confirmation whose gateway-verified amount or
// currency does not match the order.
var ErrAmountMismatch = errors.New("amount_mismatch")

// Service drives a confirmation claim through verification, effect
// application and the order's terminal transition.
type Service interface {
	Confirm(ctx context.Context, orderID snowflake.ID, claim gatewaydomain.ConfirmationClaim) (*Result, error)
}
