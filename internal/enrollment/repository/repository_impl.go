package repository

import (
	"context"

	"github.com/smallbiznis/enrollpay/internal/enrollment/domain"
	pkgdb "github.com/smallbiznis/enrollpay/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// Insert grants the effect at most once per (payer_id, subject_id). The
// unique pair index makes the insert the atomic check-and-set; false means
// the pair already holds an enrollment.
func (r *repo) Insert(ctx context.Context, db *gorm.DB, enrollment *domain.Enrollment) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO enrollments (id, payer_id, subject_id, order_id, granted_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (payer_id, subject_id) DO NOTHING`,
		enrollment.ID,
		enrollment.PayerID,
		enrollment.SubjectID,
		enrollment.OrderID,
		enrollment.GrantedAt,
	)
	if res.Error != nil {
		if pkgdb.IsDuplicateKeyErr(res.Error) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByPair(ctx context.Context, db *gorm.DB, payerID, subjectID string) (*domain.Enrollment, error) {
	var item domain.Enrollment
	err := db.WithContext(ctx).Raw(
		`SELECT id, payer_id, subject_id, order_id, granted_at
		 FROM enrollments
		 WHERE payer_id = ? AND subject_id = ?
		 LIMIT 1`,
		payerID,
		subjectID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) CountByPair(ctx context.Context, db *gorm.DB, payerID, subjectID string) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM enrollments WHERE payer_id = ? AND subject_id = ?`,
		payerID,
		subjectID,
	).Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}
