package sweeper

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/enrollpay/internal/clock"
	"github.com/smallbiznis/enrollpay/internal/config"
	enrollrepository "github.com/smallbiznis/enrollpay/internal/enrollment/repository"
	enrollsvc "github.com/smallbiznis/enrollpay/internal/enrollment/service"
	orderdomain "github.com/smallbiznis/enrollpay/internal/order/domain"
	orderrepository "github.com/smallbiznis/enrollpay/internal/order/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type fixture struct {
	db        *gorm.DB
	sweeper   *Sweeper
	enrollSvc *enrollsvc.Service
	orderRepo orderdomain.Repository
	clock     *clock.FakeClock
	node      *snowflake.Node
}

func newFixture(t *testing.T) *fixture {
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
	require.NoError(t, db.Exec(`CREATE TABLE IF NOT EXISTS enrollments (
		id BIGINT PRIMARY KEY,
		payer_id TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		order_id BIGINT NOT NULL,
		granted_at TIMESTAMP NOT NULL,
		UNIQUE (payer_id, subject_id)
	)`).Error)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	holder := &config.ReconcileConfigHolder{}
	holder.Store(config.DefaultReconcileConfig())

	log := zaptest.NewLogger(t)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	orderRepo := orderrepository.Provide()

	enrollment := enrollsvc.NewService(enrollsvc.Params{
		DB:        db,
		Log:       log,
		GenID:     node,
		Clock:     fake,
		Repo:      enrollrepository.Provide(),
		OrderRepo: orderRepo,
	})

	s := New(Params{
		DB:         db,
		Log:        log,
		Clock:      fake,
		Holder:     holder,
		OrderRepo:  orderRepo,
		Enrollment: enrollment,
	})

	return &fixture{
		db:        db,
		sweeper:   s,
		enrollSvc: enrollment,
		orderRepo: orderRepo,
		clock:     fake,
		node:      node,
	}
}

func (f *fixture) seedOrder(t *testing.T, payerID, subjectID string, verifying bool) *orderdomain.Order {
	t.Helper()
	now := f.clock.Now()
	order := &orderdomain.Order{
		ID:        f.node.Generate(),
		Reference: ulid.Make().String(),
		PayerID:   payerID,
		SubjectID: subjectID,
		Amount:    999,
		Currency:  "USD",
		State:     orderdomain.StatePending,
		Provider:  "razorpay",
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, f.orderRepo.Insert(context.Background(), f.db, order))
	if verifying {
		updated, err := f.orderRepo.BeginVerification(context.Background(), f.db, order.ID, "pay_"+order.Reference, nil, now)
		require.NoError(t, err)
		return updated
	}
	return order
}

func TestRunOnceExpiresStaleOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stale := f.seedOrder(t, "payer_1", "course_go", false)
	staleVerifying := f.seedOrder(t, "payer_2", "course_go", true)

	// Past the TTL. Orders created now stay untouched.
	f.clock.Advance(31 * time.Minute)
	fresh := f.seedOrder(t, "payer_3", "course_go", false)

	require.NoError(t, f.sweeper.RunOnce(ctx))

	found, err := f.orderRepo.Find(ctx, f.db, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StateExpired, found.State)

	found, err = f.orderRepo.Find(ctx, f.db, staleVerifying.ID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StateExpired, found.State)

	found, err = f.orderRepo.Find(ctx, f.db, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatePending, found.State)
}

func TestRunOnceRepairsBeforeExpiring(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Crashed after the enrollment landed but before the order transition.
	// Even past the TTL it must end up fulfilled, never expired.
	crashed := f.seedOrder(t, "payer_1", "course_go", true)
	_, _, err := f.enrollSvc.Apply(ctx, f.db, crashed)
	require.NoError(t, err)

	f.clock.Advance(31 * time.Minute)
	require.NoError(t, f.sweeper.RunOnce(ctx))

	found, err := f.orderRepo.Find(ctx, f.db, crashed.ID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StateFulfilled, found.State)
}

func TestRunOnceNothingToDo(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.sweeper.RunOnce(context.Background()))
}
