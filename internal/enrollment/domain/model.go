package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Enrollment is the irreversible effect granted on a fulfilled purchase:
// course access, or the premium-tier flag when SubjectID is a tier marker.
type Enrollment struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	PayerID   string       `json:"payer_id" gorm:"type:text;not null;uniqueIndex:idx_enrollments_pair"`
	SubjectID string       `json:"subject_id" gorm:"type:text;not null;uniqueIndex:idx_enrollments_pair"`
	OrderID   snowflake.ID `json:"order_id" gorm:"not null;index"`
	GrantedAt time.Time    `json:"granted_at" gorm:"not null"`
}

func (Enrollment) TableName() string { return "enrollments" }

// Outcome of an apply attempt.
type Outcome string

const (
	OutcomeApplied        Outcome = "applied"
	OutcomeAlreadyApplied Outcome = "already_applied"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, enrollment *Enrollment) (bool, error)
	FindByPair(ctx context.Context, db *gorm.DB, payerID, subjectID string) (*Enrollment, error)
	CountByPair(ctx context.Context, db *gorm.DB, payerID, subjectID string) (int64, error)
}
