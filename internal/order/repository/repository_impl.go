package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/enrollpay/internal/order/domain"
	pkgdb "github.com/smallbiznis/enrollpay/pkg/db"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, order *domain.Order) error {
	err := db.WithContext(ctx).Exec(
		`INSERT INTO orders (
			id, reference, payer_id, subject_id, amount, currency, state,
			provider, gateway_ref, confirmation_ref, failure_reason, claim,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID,
		order.Reference,
		order.PayerID,
		order.SubjectID,
		order.Amount,
		order.Currency,
		order.State,
		order.Provider,
		order.GatewayRef,
		order.ConfirmationRef,
		order.FailureReason,
		order.Claim,
		order.CreatedAt,
		order.UpdatedAt,
	).Error
	if err != nil {
		if pkgdb.IsDuplicateKeyErr(err) {
			return domain.ErrDuplicateActiveOrder
		}
		return err
	}
	return nil
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Order, error) {
	var item domain.Order
	err := db.WithContext(ctx).Raw(
		`SELECT id, reference, payer_id, subject_id, amount, currency, state,
			provider, gateway_ref, confirmation_ref, failure_reason, claim,
			created_at, updated_at
		 FROM orders
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, domain.ErrNotFound
	}
	return &item, nil
}

func (r *repo) FindByReference(ctx context.Context, db *gorm.DB, reference string) (*domain.Order, error) {
	var item domain.Order
	err := db.WithContext(ctx).Raw(
		`SELECT id, reference, payer_id, subject_id, amount, currency, state,
			provider, gateway_ref, confirmation_ref, failure_reason, claim,
			created_at, updated_at
		 FROM orders
		 WHERE reference = ?
		 LIMIT 1`,
		reference,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, domain.ErrNotFound
	}
	return &item, nil
}

func (r *repo) FindActive(ctx context.Context, db *gorm.DB, payerID, subjectID string) (*domain.Order, error) {
	var item domain.Order
	err := db.WithContext(ctx).Raw(
		`SELECT id, reference, payer_id, subject_id, amount, currency, state,
			provider, gateway_ref, confirmation_ref, failure_reason, claim,
			created_at, updated_at
		 FROM orders
		 WHERE payer_id = ? AND subject_id = ? AND state IN (?, ?)
		 LIMIT 1`,
		payerID,
		subjectID,
		domain.StatePending,
		domain.StateVerifying,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) AttachGatewayRef(ctx context.Context, db *gorm.DB, id snowflake.ID, gatewayRef string, now time.Time) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE orders
		 SET gateway_ref = ?, updated_at = ?
		 WHERE id = ? AND state = ? AND gateway_ref IS NULL`,
		gatewayRef,
		now,
		id,
		domain.StatePending,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := r.Find(ctx, db, id); err != nil {
			return err
		}
		return domain.ErrInvalidState
	}
	return nil
}

// BeginVerification atomically transitions pending|verifying -> verifying and
// records the confirmation reference. The partial unique index on
// confirmation_ref rejects a reference already attached to another order.
func (r *repo) BeginVerification(ctx context.Context, db *gorm.DB, id snowflake.ID, confirmationRef string, claim datatypes.JSON, now time.Time) (*domain.Order, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE orders
		 SET state = ?, confirmation_ref = ?, claim = ?, updated_at = ?
		 WHERE id = ?
		   AND state IN (?, ?)
		   AND (confirmation_ref IS NULL OR confirmation_ref = ?)`,
		domain.StateVerifying,
		confirmationRef,
		claim,
		now,
		id,
		domain.StatePending,
		domain.StateVerifying,
		confirmationRef,
	)
	if res.Error != nil {
		if pkgdb.IsDuplicateKeyErr(res.Error) {
			return nil, domain.ErrConfirmationAlreadyUsed
		}
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := r.Find(ctx, db, id); err != nil {
			return nil, err
		}
		// Terminal order, or the race loser against a concurrent claim.
		return nil, domain.ErrInvalidState
	}
	return r.Find(ctx, db, id)
}

func (r *repo) MarkFulfilled(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE orders
		 SET state = ?, updated_at = ?
		 WHERE id = ? AND state = ?`,
		domain.StateFulfilled,
		now,
		id,
		domain.StateVerifying,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		order, err := r.Find(ctx, db, id)
		if err != nil {
			return err
		}
		if order.State == domain.StateFulfilled {
			return nil
		}
		return domain.ErrInvalidState
	}
	return nil
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, now time.Time) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE orders
		 SET state = ?, failure_reason = ?, updated_at = ?
		 WHERE id = ? AND state IN (?, ?)`,
		domain.StateFailed,
		reason,
		now,
		id,
		domain.StatePending,
		domain.StateVerifying,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		order, err := r.Find(ctx, db, id)
		if err != nil {
			return err
		}
		if order.State == domain.StateFailed {
			return nil
		}
		return domain.ErrInvalidState
	}
	return nil
}

// SweepExpired claims stale non-terminal orders one by one. Each claim is a
// guarded update, so a confirm racing the sweep can win and keep its order.
func (r *repo) SweepExpired(ctx context.Context, db *gorm.DB, cutoff, now time.Time, limit int) ([]domain.Order, error) {
	var candidates []domain.Order
	err := db.WithContext(ctx).Raw(
		`SELECT id, reference, payer_id, subject_id, amount, currency, state,
			provider, gateway_ref, confirmation_ref, failure_reason, claim,
			created_at, updated_at
		 FROM orders
		 WHERE state IN (?, ?) AND updated_at < ?
		 ORDER BY updated_at ASC
		 LIMIT ?`,
		domain.StatePending,
		domain.StateVerifying,
		cutoff,
		limit,
	).Scan(&candidates).Error
	if err != nil {
		return nil, err
	}

	claimed := make([]domain.Order, 0, len(candidates))
	for _, candidate := range candidates {
		res := db.WithContext(ctx).Exec(
			`UPDATE orders
			 SET state = ?, updated_at = ?
			 WHERE id = ? AND state = ? AND updated_at < ?`,
			domain.StateExpired,
			now,
			candidate.ID,
			candidate.State,
			cutoff,
		)
		if res.Error != nil {
			return claimed, res.Error
		}
		if res.RowsAffected == 0 {
			continue
		}
		candidate.State = domain.StateExpired
		candidate.UpdatedAt = now
		claimed = append(claimed, candidate)
	}
	return claimed, nil
}

func (r *repo) ListVerifying(ctx context.Context, db *gorm.DB, limit int) ([]domain.Order, error) {
	var items []domain.Order
	err := db.WithContext(ctx).Raw(
		`SELECT id, reference, payer_id, subject_id, amount, currency, state,
			provider, gateway_ref, confirmation_ref, failure_reason, claim,
			created_at, updated_at
		 FROM orders
		 WHERE state = ?
		 ORDER BY updated_at ASC
		 LIMIT ?`,
		domain.StateVerifying,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
