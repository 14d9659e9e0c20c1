package sweeper

import (
	"context"
	"time"

	"github.com/smallbiznis/enrollpay/internal/clock"
	"github.com/smallbiznis/enrollpay/internal/config"
	enrollsvc "github.com/smallbiznis/enrollpay/internal/enrollment/service"
	obsmetrics "github.com/smallbiznis/enrollpay/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/enrollpay/internal/order/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const lockKey = "enrollpay:sweeper:leader"

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Holder     *config.ReconcileConfigHolder
	OrderRepo  orderdomain.Repository
	Enrollment *enrollsvc.Service
	Locker     *Locker             `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Sweeper runs the periodic ledger maintenance pass: first repair orders
// that crashed between effect apply and the fulfilled transition, then
// expire stale pending and verifying orders past their TTL.
type Sweeper struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	holder     *config.ReconcileConfigHolder
	orderRepo  orderdomain.Repository
	enrollment *enrollsvc.Service
	locker     *Locker
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) *Sweeper {
	return &Sweeper{
		db:         p.DB,
		log:        p.Log.Named("sweeper"),
		clock:      p.Clock,
		holder:     p.Holder,
		orderRepo:  p.OrderRepo,
		enrollment: p.Enrollment,
		locker:     p.Locker,
		obsMetrics: p.ObsMetrics,
	}
}

// RunForever loops until ctx is cancelled. The interval is re-read every
// pass so a config reload takes effect without a restart.
func (s *Sweeper) RunForever(ctx context.Context) {
	s.log.Info("sweeper started")
	for {
		interval := s.holder.Get().Sweeper.Interval
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopped")
			return
		case <-time.After(interval):
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Error("sweep pass failed", zap.Error(err))
		}
	}
}

// RunOnce executes a single maintenance pass. When a locker is configured,
// only the instance holding the leader lease does the work; others skip the
// pass silently.
func (s *Sweeper) RunOnce(parent context.Context) error {
	cfg := s.holder.Get()

	ctx, cancel := context.WithTimeout(parent, cfg.Sweeper.Interval)
	defer cancel()

	if s.locker != nil {
		token, ok, err := s.locker.TryLock(ctx, lockKey, cfg.Sweeper.LockTTL)
		if err != nil {
			return err
		}
		if !ok {
			s.log.Debug("sweep skipped, another instance holds the lease")
			return nil
		}
		defer func() {
			if err := s.locker.Release(context.WithoutCancel(ctx), lockKey, token); err != nil {
				s.log.Warn("could not release sweeper lease", zap.Error(err))
			}
		}()
	}

	// Repair before expiring: a verifying order whose enrollment landed must
	// become fulfilled, never expired.
	repaired, err := s.enrollment.ReconcileFulfilled(ctx, cfg.Sweeper.BatchSize)
	if err != nil {
		return err
	}
	if repaired > 0 {
		s.log.Info("orders repaired from enrollments", zap.Int("count", repaired))
	}

	now := s.clock.Now()
	cutoff := now.Add(-cfg.Orders.TTL)
	expired, err := s.orderRepo.SweepExpired(ctx, s.db, cutoff, now, cfg.Sweeper.BatchSize)
	if err != nil {
		return err
	}
	if len(expired) > 0 {
		s.obsMetrics.RecordExpired(ctx, len(expired))
		for i := range expired {
			s.log.Info("order expired",
				zap.String("order_id", expired[i].ID.String()),
				zap.String("payer_id", expired[i].PayerID),
				zap.String("subject_id", expired[i].SubjectID),
				zap.Time("last_update", expired[i].UpdatedAt),
			)
		}
	}
	return nil
}
