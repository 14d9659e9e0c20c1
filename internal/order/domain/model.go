package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// OrderState is the lifecycle state of a purchase attempt.
type OrderState string

const (
	StatePending   OrderState = "pending"
	StateVerifying OrderState = "verifying"
	StateFulfilled OrderState = "fulfilled"
	StateFailed    OrderState = "failed"
	StateExpired   OrderState = "expired"
)

// Terminal reports whether no further transition is allowed from s.
func (s OrderState) Terminal() bool {
	switch s {
	case StateFulfilled, StateFailed, StateExpired:
		return true
	default:
		return false
	}
}

// Order is a single purchase attempt. Orders are never deleted; they form
// the audit trail of the reconciliation flow.
type Order struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	Reference       string         `json:"reference" gorm:"type:text;not null;uniqueIndex"`
	PayerID         string         `json:"payer_id" gorm:"type:text;not null"`
	SubjectID       string         `json:"subject_id" gorm:"type:text;not null"`
	Amount          int64          `json:"amount" gorm:"not null"`
	Currency        string         `json:"currency" gorm:"type:text;not null"`
	State           OrderState     `json:"state" gorm:"type:text;not null"`
	Provider        string         `json:"provider" gorm:"type:text;not null"`
	GatewayRef      *string        `json:"gateway_ref" gorm:"type:text"`
	ConfirmationRef *string        `json:"confirmation_ref" gorm:"type:text"`
	FailureReason   *string        `json:"failure_reason" gorm:"type:text"`
	Claim           datatypes.JSON `json:"claim" gorm:"type:jsonb"`
	CreatedAt       time.Time      `json:"created_at" gorm:"not null"`
	UpdatedAt       time.Time      `json:"updated_at" gorm:"not null"`
}

func (Order) TableName() string { return "orders" }

const (
	FailureReasonGatewayUnreachable = "gateway_unreachable"
	FailureReasonGatewayRejected    = "gateway_rejected"
	FailureReasonAmountMismatch     = "amount_mismatch"
	FailureReasonAlreadyApplied     = "already_applied"
)

var (
	ErrNotFound                = errors.New("order_not_found")
	ErrInvalidAmount           = errors.New("invalid_amount")
	ErrInvalidCurrency         = errors.New("invalid_currency")
	ErrInvalidPayer            = errors.New("invalid_payer")
	ErrInvalidSubject          = errors.New("invalid_subject")
	ErrDuplicateActiveOrder    = errors.New("duplicate_active_order")
	ErrInvalidState            = errors.New("invalid_state")
	ErrConfirmationAlreadyUsed = errors.New("confirmation_already_used")
)

// Repository is the persistence contract of the order ledger. Every mutation
// is a guarded update so that concurrent callers racing on the same order
// resolve to exactly one winner.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, order *Order) error
	Find(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Order, error)
	FindByReference(ctx context.Context, db *gorm.DB, reference string) (*Order, error)
	FindActive(ctx context.Context, db *gorm.DB, payerID, subjectID string) (*Order, error)
	AttachGatewayRef(ctx context.Context, db *gorm.DB, id snowflake.ID, gatewayRef string, now time.Time) error
	BeginVerification(ctx context.Context, db *gorm.DB, id snowflake.ID, confirmationRef string, claim datatypes.JSON, now time.Time) (*Order, error)
	MarkFulfilled(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, now time.Time) error
	SweepExpired(ctx context.Context, db *gorm.DB, cutoff, now time.Time, limit int) ([]Order, error)
	ListVerifying(ctx context.Context, db *gorm.DB, limit int) ([]Order, error)
}
