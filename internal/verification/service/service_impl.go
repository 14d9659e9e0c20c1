package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/cenkalti/backoff/v5"
	"github.com/smallbiznis/enrollpay/internal/clock"
	"github.com/smallbiznis/enrollpay/internal/config"
	enrolldomain "github.com/smallbiznis/enrollpay/internal/enrollment/domain"
	enrollsvc "github.com/smallbiznis/enrollpay/internal/enrollment/service"
	"github.com/smallbiznis/enrollpay/internal/gateway/adapters"
	gatewaydomain "github.com/smallbiznis/enrollpay/internal/gateway/domain"
	"github.com/smallbiznis/enrollpay/internal/notifier"
	notifierdomain "github.com/smallbiznis/enrollpay/internal/notifier/domain"
	obsmetrics "github.com/smallbiznis/enrollpay/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/enrollpay/internal/order/domain"
	"github.com/smallbiznis/enrollpay/internal/verification/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Holder     *config.ReconcileConfigHolder
	OrderRepo  orderdomain.Repository
	Enrollment *enrollsvc.Service
	Gateways   *adapters.Registry
	Notifier   *notifier.Queue     `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	holder     *config.ReconcileConfigHolder
	orderRepo  orderdomain.Repository
	enrollment *enrollsvc.Service
	gateways   *adapters.Registry
	notifier   *notifier.Queue
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("verification.service"),
		clock:      p.Clock,
		holder:     p.Holder,
		orderRepo:  p.OrderRepo,
		enrollment: p.Enrollment,
		gateways:   p.Gateways,
		notifier:   p.Notifier,
		obsMetrics: p.ObsMetrics,
	}
}

// Confirm drives a confirmation claim to a terminal order state. The claim
// is never trusted: the gateway's own record is fetched and cross-checked
// against the order before any effect is granted.
//
// No database lock is held across the gateway round trip. Every transition
// after it is a guarded update, so a concurrent confirm or sweep racing this
// call resolves to exactly one winner.
func (s *Service) Confirm(ctx context.Context, orderID snowflake.ID, claim gatewaydomain.ConfirmationClaim) (*domain.Result, error) {
	claim.Reference = strings.TrimSpace(claim.Reference)
	if claim.Reference == "" {
		return nil, gatewaydomain.ErrInvalidClaim
	}

	order, err := s.orderRepo.Find(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}

	// Replaying a confirm against a fulfilled order is a success with no
	// further effect.
	if order.State == orderdomain.StateFulfilled {
		return &domain.Result{State: orderdomain.StateFulfilled, Outcome: domain.OutcomeAlreadyFulfilled}, nil
	}
	if order.State.Terminal() {
		return nil, orderdomain.ErrInvalidState
	}

	rawClaim, err := json.Marshal(claim)
	if err != nil {
		return nil, err
	}

	order, err = s.orderRepo.BeginVerification(ctx, s.db, order.ID, claim.Reference, datatypes.JSON(rawClaim), s.clock.Now())
	if err != nil {
		return nil, err
	}

	gw, err := s.gateways.Gateway(order.Provider)
	if err != nil {
		return nil, err
	}

	verified, err := s.verifyWithRetry(ctx, gw, order, claim)
	if err != nil {
		return nil, s.failVerification(ctx, order, err)
	}

	if verified.Amount != order.Amount || verified.Currency != order.Currency {
		s.log.Warn("verified payment does not match order",
			zap.String("order_id", order.ID.String()),
			zap.Int64("order_amount", order.Amount),
			zap.String("order_currency", order.Currency),
			zap.Int64("verified_amount", verified.Amount),
			zap.String("verified_currency", verified.Currency),
		)
		return nil, s.failVerification(ctx, order, domain.ErrAmountMismatch)
	}

	return s.fulfil(ctx, order)
}

// verifyWithRetry asks the gateway for its record of the payment, retrying
// transient unreachability with exponential backoff. Definitive answers
// (rejection, bad signature) stop the retry immediately.
func (s *Service) verifyWithRetry(ctx context.Context, gw gatewaydomain.Gateway, order *orderdomain.Order, claim gatewaydomain.ConfirmationClaim) (*gatewaydomain.Verification, error) {
	cfg := s.holder.Get().Verification

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = cfg.BackoffInitial
	expo.MaxInterval = cfg.BackoffMax

	attempt := 0
	operation := func() (*gatewaydomain.Verification, error) {
		attempt++
		verified, err := gw.VerifyConfirmation(ctx, order, claim)
		if err == nil {
			return verified, nil
		}
		if errors.Is(err, gatewaydomain.ErrGatewayUnreachable) {
			s.log.Warn("gateway unreachable during verification",
				zap.String("order_id", order.ID.String()),
				zap.String("provider", order.Provider),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(uint(cfg.MaxAttempts)),
	)
}

// failVerification records the terminal failure and maps the cause to the
// caller-facing error. The order stays failed even if a later retry of the
// same confirmation would have succeeded; the payer must start a new order.
func (s *Service) failVerification(ctx context.Context, order *orderdomain.Order, cause error) error {
	reason := orderdomain.FailureReasonGatewayRejected
	outcome := "rejected"
	switch {
	case errors.Is(cause, gatewaydomain.ErrGatewayUnreachable):
		reason = orderdomain.FailureReasonGatewayUnreachable
		outcome = "unreachable"
	case errors.Is(cause, domain.ErrAmountMismatch):
		reason = orderdomain.FailureReasonAmountMismatch
		outcome = "amount_mismatch"
	case errors.Is(cause, gatewaydomain.ErrInvalidSignature):
		outcome = "invalid_signature"
	}

	if err := s.orderRepo.MarkFailed(ctx, s.db, order.ID, reason, s.clock.Now()); err != nil {
		s.log.Error("could not fail order after verification error",
			zap.String("order_id", order.ID.String()),
			zap.Error(err),
		)
	}
	s.obsMetrics.RecordVerification(ctx, order.Provider, outcome)
	s.log.Info("verification failed",
		zap.String("order_id", order.ID.String()),
		zap.String("provider", order.Provider),
		zap.String("reason", reason),
	)
	return cause
}

// fulfil grants the enrollment and moves the order to fulfilled in one
// transaction. If the pair already holds an enrollment from a different
// order, this order is closed as failed and the caller gets a benign result.
func (s *Service) fulfil(ctx context.Context, order *orderdomain.Order) (*domain.Result, error) {
	var (
		outcome  enrolldomain.Outcome
		enrolled *enrolldomain.Enrollment
	)

	appliedByOther := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		outcome, enrolled, err = s.enrollment.Apply(ctx, tx, order)
		if err != nil {
			return err
		}
		if outcome == enrolldomain.OutcomeAlreadyApplied && enrolled.OrderID != order.ID {
			// Another order already granted this pair. Do not fulfil; the
			// terminal transition happens outside the transaction.
			appliedByOther = true
			return nil
		}
		return s.orderRepo.MarkFulfilled(ctx, tx, order.ID, s.clock.Now())
	})
	if err != nil {
		return nil, err
	}

	if appliedByOther {
		if err := s.orderRepo.MarkFailed(ctx, s.db, order.ID, orderdomain.FailureReasonAlreadyApplied, s.clock.Now()); err != nil {
			s.log.Error("could not fail order already applied by another",
				zap.String("order_id", order.ID.String()),
				zap.Error(err),
			)
		}
		s.obsMetrics.RecordVerification(ctx, order.Provider, "already_applied")
		s.log.Info("enrollment already granted by another order",
			zap.String("order_id", order.ID.String()),
			zap.String("holding_order_id", enrolled.OrderID.String()),
			zap.String("payer_id", order.PayerID),
			zap.String("subject_id", order.SubjectID),
		)
		return &domain.Result{State: orderdomain.StateFailed, Outcome: domain.OutcomeAlreadyApplied}, nil
	}

	s.obsMetrics.RecordVerification(ctx, order.Provider, "fulfilled")
	s.log.Info("order fulfilled",
		zap.String("order_id", order.ID.String()),
		zap.String("reference", order.Reference),
		zap.String("payer_id", order.PayerID),
		zap.String("subject_id", order.SubjectID),
		zap.String("enrollment_outcome", string(outcome)),
	)

	s.notifier.Enqueue(ctx, notifierdomain.Message{
		OrderID:   order.ID,
		Reference: order.Reference,
		PayerID:   order.PayerID,
		SubjectID: order.SubjectID,
		Amount:    order.Amount,
		Currency:  order.Currency,
		GrantedAt: enrolled.GrantedAt,
	})

	return &domain.Result{State: orderdomain.StateFulfilled, Outcome: domain.OutcomeFulfilled}, nil
}
