package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/enrollpay/internal/clock"
	"github.com/smallbiznis/enrollpay/internal/enrollment/domain"
	orderdomain "github.com/smallbiznis/enrollpay/internal/order/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      domain.Repository
	OrderRepo orderdomain.Repository
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      domain.Repository
	orderRepo orderdomain.Repository
}

func NewService(p Params) *Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("enrollment.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		orderRepo: p.OrderRepo,
	}
}

// Apply grants the order's effect exactly once per (payer, subject) pair.
// It runs against tx so callers can commit it together with the order's
// fulfilled transition. The returned enrollment is the row that holds the
// grant, whether this call created it or an earlier one did.
func (s *Service) Apply(ctx context.Context, tx *gorm.DB, order *orderdomain.Order) (domain.Outcome, *domain.Enrollment, error) {
	created := &domain.Enrollment{
		ID:        s.genID.Generate(),
		PayerID:   order.PayerID,
		SubjectID: order.SubjectID,
		OrderID:   order.ID,
		GrantedAt: s.clock.Now(),
	}

	inserted, err := s.repo.Insert(ctx, tx, created)
	if err != nil {
		return "", nil, err
	}
	if inserted {
		return domain.OutcomeApplied, created, nil
	}

	existing, err := s.repo.FindByPair(ctx, tx, order.PayerID, order.SubjectID)
	if err != nil {
		return "", nil, err
	}
	if existing == nil {
		// Insert lost the conflict but the row is gone: concurrent rollback.
		return "", nil, gorm.ErrInvalidTransaction
	}
	return domain.OutcomeAlreadyApplied, existing, nil
}

// EffectCount reports how many grants exist for the pair. Tests use it to
// assert exactly-once application.
func (s *Service) EffectCount(ctx context.Context, payerID, subjectID string) (int64, error) {
	return s.repo.CountByPair(ctx, s.db, payerID, subjectID)
}

// ReconcileFulfilled completes orders that crashed between effect apply and
// the fulfilled transition: a verifying order whose own enrollment row exists
// is moved to fulfilled. Returns the number of orders repaired.
func (s *Service) ReconcileFulfilled(ctx context.Context, batch int) (int, error) {
	if batch <= 0 {
		batch = 100
	}

	orders, err := s.orderRepo.ListVerifying(ctx, s.db, batch)
	if err != nil {
		return 0, err
	}

	repaired := 0
	for i := range orders {
		ord := orders[i]
		existing, err := s.repo.FindByPair(ctx, s.db, ord.PayerID, ord.SubjectID)
		if err != nil {
			return repaired, err
		}
		if existing == nil || existing.OrderID != ord.ID {
			continue
		}
		if err := s.orderRepo.MarkFulfilled(ctx, s.db, ord.ID, s.clock.Now()); err != nil {
			s.log.Warn("reconcile could not fulfil order",
				zap.String("order_id", ord.ID.String()),
				zap.Error(err),
			)
			continue
		}
		repaired++
		s.log.Info("order state re-derived from enrollment",
			zap.String("order_id", ord.ID.String()),
			zap.String("payer_id", ord.PayerID),
			zap.String("subject_id", ord.SubjectID),
		)
	}
	return repaired, nil
}
