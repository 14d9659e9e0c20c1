package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/enrollpay/internal/order/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.Exec(`CREATE TABLE IF NOT EXISTS orders (
		id BIGINT PRIMARY KEY,
		reference TEXT NOT NULL UNIQUE,
		payer_id TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		amount BIGINT NOT NULL,
		currency TEXT NOT NULL,
		state TEXT NOT NULL,
		provider TEXT NOT NULL,
		gateway_ref TEXT,
		confirmation_ref TEXT,
		failure_reason TEXT,
		claim TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`).Error)
	require.NoError(t, db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_confirmation_ref
		ON orders (confirmation_ref) WHERE confirmation_ref IS NOT NULL`).Error)
	require.NoError(t, db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_active_pair
		ON orders (payer_id, subject_id) WHERE state IN ('pending', 'verifying')`).Error)
	return db
}

func newOrder(node *snowflake.Node, payerID, subjectID string, now time.Time) *domain.Order {
	return &domain.Order{
		ID:        node.Generate(),
		Reference: ulid.Make().String(),
		PayerID:   payerID,
		SubjectID: subjectID,
		Amount:    999,
		Currency:  "USD",
		State:     domain.StatePending,
		Provider:  "razorpay",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestInsertAndFind(t *testing.T) {
	db := openTestDB(t)
	repo := Provide()
	node, _ := snowflake.NewNode(1)
	ctx := context.Background()
	now := time.Now().UTC()

	order := newOrder(node, "payer_1", "course_go", now)
	require.NoError(t, repo.Insert(ctx, db, order))

	found, err := repo.Find(ctx, db, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.Reference, found.Reference)
	assert.Equal(t, domain.StatePending, found.State)
	assert.Equal(t, int64(999), found.Amount)

	byRef, err := repo.FindByReference(ctx, db, order.Reference)
	require.NoError(t, err)
	assert.Equal(t, order.ID, byRef.ID)

	_, err = repo.Find(ctx, db, node.Generate())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestInsertDuplicateActivePair(t *testing.T) {
	db := openTestDB(t)
	repo := Provide()
	node, _ := snowflake.NewNode(1)
	ctx := context.Background()
	now := time.Now().UTC()

	first := newOrder(node, "payer_1", "course_go", now)
	require.NoError(t, repo.Insert(ctx, db, first))

	second := newOrder(node, "payer_1", "course_go", now)
	err := repo.Insert(ctx, db, second)
	assert.ErrorIs(t, err, domain.ErrDuplicateActiveOrder)

	// Another subject is a different pair.
	other := newOrder(node, "payer_1", "course_rust", now)
	assert.NoError(t, repo.Insert(ctx, db, other))
}

func TestInsertAfterTerminalOrder(t *testing.T) {
	db := openTestDB(t)
	repo := Provide()
	node, _ := snowflake.NewNode(1)
	ctx := context.Background()
	now := time.Now().UTC()

	first := newOrder(node, "payer_1", "course_go", now)
	require.NoError(t, repo.Insert(ctx, db, first))
	require.NoError(t, repo.MarkFailed(ctx, db, first.ID, domain.FailureReasonGatewayRejected, now))

	// A failed order no longer occupies the active-pair slot.
	second := newOrder(node, "payer_1", "course_go", now)
	assert.NoError(t, repo.Insert(ctx, db, second))
}

func TestAttachGatewayRef(t *testing.T) {
	db := openTestDB(t)
	repo := Provide()
	node, _ := snowflake.NewNode(1)
	ctx := context.Background()
	now := time.Now().UTC()

	order := newOrder(node, "payer_1", "course_go", now)
	require.NoError(t, repo.Insert(ctx, db, order))
	require.NoError(t, repo.AttachGatewayRef(ctx, db, order.ID, "order_gw_1", now))

	found, err := repo.Find(ctx, db, order.ID)
	require.NoError(t, err)
	require.NotNil(t, found.GatewayRef)
	assert.Equal(t, "order_gw_1", *found.GatewayRef)

	// The gateway reference is written once.
	err = repo.AttachGatewayRef(ctx, db, order.ID, "order_gw_2", now)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestBeginVerification(t *testing.T) {
	db := openTestDB(t)
	repo := Provide()
	node, _ := snowflake.NewNode(1)
	ctx := context.Background()
	now := time.Now().UTC()

	order := newOrder(node, "payer_1", "course_go", now)
	require.NoError(t, repo.Insert(ctx, db, order))

	claimed, err := repo.BeginVerification(ctx, db, order.ID, "pay_1", nil, now)
	require.NoError(t, err)
	assert.Equal(t, domain.StateVerifying, claimed.State)
	require.NotNil(t, claimed.ConfirmationRef)
	assert.Equal(t, "pay_1", *claimed.ConfirmationRef)

	t.Run("replay with same reference proceeds", func(t *testing.T) {
		again, err := repo.BeginVerification(ctx, db, order.ID, "pay_1", nil, now)
		require.NoError(t, err)
		assert.Equal(t, domain.StateVerifying, again.State)
	})

	t.Run("different reference loses the race", func(t *testing.T) {
		_, err := repo.BeginVerification(ctx, db, order.ID, "pay_2", nil, now)
		assert.ErrorIs(t, err, domain.ErrInvalidState)
	})

	t.Run("reference used by another order is rejected", func(t *testing.T) {
		other := newOrder(node, "payer_2", "course_go", now)
		require.NoError(t, repo.Insert(ctx, db, other))

		_, err := repo.BeginVerification(ctx, db, other.ID, "pay_1", nil, now)
		assert.ErrorIs(t, err, domain.ErrConfirmationAlreadyUsed)
	})

	t.Run("terminal order cannot start verification", func(t *testing.T) {
		done := newOrder(node, "payer_3", "course_go", now)
		require.NoError(t, repo.Insert(ctx, db, done))
		require.NoError(t, repo.MarkFailed(ctx, db, done.ID, domain.FailureReasonGatewayRejected, now))

		_, err := repo.BeginVerification(ctx, db, done.ID, "pay_3", nil, now)
		assert.ErrorIs(t, err, domain.ErrInvalidState)
	})
}

func TestMarkFulfilled(t *testing.T) {
	db := openTestDB(t)
	repo := Provide()
	node, _ := snowflake.NewNode(1)
	ctx := context.Background()
	now := time.Now().UTC()

	order := newOrder(node, "payer_1", "course_go", now)
	require.NoError(t, repo.Insert(ctx, db, order))

	// Fulfilled is only reachable from verifying.
	err := repo.MarkFulfilled(ctx, db, order.ID, now)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = repo.BeginVerification(ctx, db, order.ID, "pay_1", nil, now)
	require.NoError(t, err)
	require.NoError(t, repo.MarkFulfilled(ctx, db, order.ID, now))

	// Re-marking a fulfilled order is a no-op success.
	assert.NoError(t, repo.MarkFulfilled(ctx, db, order.ID, now))

	found, err := repo.Find(ctx, db, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFulfilled, found.State)
}

func TestMarkFailed(t *testing.T) {
	db := openTestDB(t)
	repo := Provide()
	node, _ := snowflake.NewNode(1)
	ctx := context.Background()
	now := time.Now().UTC()

	order := newOrder(node, "payer_1", "course_go", now)
	require.NoError(t, repo.Insert(ctx, db, order))
	require.NoError(t, repo.MarkFailed(ctx, db, order.ID, domain.FailureReasonAmountMismatch, now))

	found, err := repo.Find(ctx, db, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, found.State)
	require.NotNil(t, found.FailureReason)
	assert.Equal(t, domain.FailureReasonAmountMismatch, *found.FailureReason)

	// Idempotent when already failed.
	assert.NoError(t, repo.MarkFailed(ctx, db, order.ID, domain.FailureReasonAmountMismatch, now))

	// A fulfilled order cannot fail afterwards.
	winner := newOrder(node, "payer_2", "course_go", now)
	require.NoError(t, repo.Insert(ctx, db, winner))
	_, err = repo.BeginVerification(ctx, db, winner.ID, "pay_w", nil, now)
	require.NoError(t, err)
	require.NoError(t, repo.MarkFulfilled(ctx, db, winner.ID, now))
	err = repo.MarkFailed(ctx, db, winner.ID, domain.FailureReasonGatewayRejected, now)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestSweepExpired(t *testing.T) {
	db := openTestDB(t)
	repo := Provide()
	node, _ := snowflake.NewNode(1)
	ctx := context.Background()
	now := time.Now().UTC()
	stale := now.Add(-time.Hour)

	old := newOrder(node, "payer_1", "course_go", stale)
	require.NoError(t, repo.Insert(ctx, db, old))

	fresh := newOrder(node, "payer_2", "course_go", now)
	require.NoError(t, repo.Insert(ctx, db, fresh))

	done := newOrder(node, "payer_3", "course_go", stale)
	require.NoError(t, repo.Insert(ctx, db, done))
	_, err := repo.BeginVerification(ctx, db, done.ID, "pay_d", nil, stale)
	require.NoError(t, err)
	require.NoError(t, repo.MarkFulfilled(ctx, db, done.ID, stale))

	expired, err := repo.SweepExpired(ctx, db, now.Add(-30*time.Minute), now, 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, old.ID, expired[0].ID)
	assert.Equal(t, domain.StateExpired, expired[0].State)

	// Terminal orders are untouched, fresh ones keep waiting.
	kept, err := repo.Find(ctx, db, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatePending, kept.State)

	fulfilled, err := repo.Find(ctx, db, done.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFulfilled, fulfilled.State)

	// A second sweep finds nothing left to claim.
	again, err := repo.SweepExpired(ctx, db, now.Add(-30*time.Minute), now, 10)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestListVerifying(t *testing.T) {
	db := openTestDB(t)
	repo := Provide()
	node, _ := snowflake.NewNode(1)
	ctx := context.Background()
	now := time.Now().UTC()

	pending := newOrder(node, "payer_1", "course_go", now)
	require.NoError(t, repo.Insert(ctx, db, pending))

	verifying := newOrder(node, "payer_2", "course_go", now)
	require.NoError(t, repo.Insert(ctx, db, verifying))
	_, err := repo.BeginVerification(ctx, db, verifying.ID, "pay_v", nil, now)
	require.NoError(t, err)

	items, err := repo.ListVerifying(ctx, db, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, verifying.ID, items[0].ID)
}
