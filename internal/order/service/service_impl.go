package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/enrollpay/internal/clock"
	"github.com/smallbiznis/enrollpay/internal/config"
	"github.com/smallbiznis/enrollpay/internal/gateway/adapters"
	gatewaydomain "github.com/smallbiznis/enrollpay/internal/gateway/domain"
	obsmetrics "github.com/smallbiznis/enrollpay/internal/observability/metrics"
	"github.com/smallbiznis/enrollpay/internal/order/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Cfg        config.Config
	Repo       domain.Repository
	Gateways   *adapters.Registry
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	cfg        config.Config
	repo       domain.Repository
	gateways   *adapters.Registry
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("order.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		cfg:        p.Cfg,
		repo:       p.Repo,
		gateways:   p.Gateways,
		obsMetrics: p.ObsMetrics,
	}
}

type CreateOrderRequest struct {
	PayerID   string
	SubjectID string
	Amount    int64
	Currency  string
	Provider  string
}

type CreateOrderResult struct {
	Order        *domain.Order
	ClientHandle map[string]any
}

// Create records the purchase attempt and opens the charge on the gateway.
// The order is the unit of reconciliation from here on.
func (s *Service) Create(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error) {
	req.PayerID = strings.TrimSpace(req.PayerID)
	if req.PayerID == "" {
		return nil, domain.ErrInvalidPayer
	}
	req.SubjectID = strings.TrimSpace(req.SubjectID)
	if req.SubjectID == "" {
		return nil, domain.ErrInvalidSubject
	}
	if req.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if len(currency) != 3 {
		return nil, domain.ErrInvalidCurrency
	}

	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	if provider == "" {
		provider = s.cfg.GatewayProvider
	}
	gw, err := s.gateways.Gateway(provider)
	if err != nil {
		return nil, err
	}

	if existing, err := s.repo.FindActive(ctx, s.db, req.PayerID, req.SubjectID); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, domain.ErrDuplicateActiveOrder
	}

	now := s.clock.Now()
	order := &domain.Order{
		ID:        s.genID.Generate(),
		Reference: ulid.Make().String(),
		PayerID:   req.PayerID,
		SubjectID: req.SubjectID,
		Amount:    req.Amount,
		Currency:  currency,
		State:     domain.StatePending,
		Provider:  provider,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Insert(ctx, s.db, order); err != nil {
		return nil, err
	}

	intent, err := gw.InitiateCharge(ctx, order)
	if err != nil {
		// Release the active-pair slot so the payer can retry.
		reason := domain.FailureReasonGatewayRejected
		if errors.Is(err, gatewaydomain.ErrGatewayUnreachable) {
			reason = domain.FailureReasonGatewayUnreachable
		}
		if markErr := s.repo.MarkFailed(ctx, s.db, order.ID, reason, s.clock.Now()); markErr != nil {
			s.log.Error("could not fail order after charge initiation error",
				zap.String("order_id", order.ID.String()),
				zap.Error(markErr),
			)
		}
		return nil, err
	}

	if err := s.repo.AttachGatewayRef(ctx, s.db, order.ID, intent.GatewayRef, s.clock.Now()); err != nil {
		return nil, err
	}
	order.GatewayRef = &intent.GatewayRef

	s.obsMetrics.RecordOrderCreated(ctx, provider)
	s.log.Info("order created",
		zap.String("order_id", order.ID.String()),
		zap.String("reference", order.Reference),
		zap.String("payer_id", order.PayerID),
		zap.String("subject_id", order.SubjectID),
		zap.Int64("amount", order.Amount),
		zap.String("currency", order.Currency),
		zap.String("provider", provider),
	)

	return &CreateOrderResult{
		Order:        order,
		ClientHandle: intent.ClientHandle,
	}, nil
}

// Get returns a single order by id.
func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Order, error) {
	return s.repo.Find(ctx, s.db, id)
}

// GetByReference returns a single order by its client-facing reference.
func (s *Service) GetByReference(ctx context.Context, reference string) (*domain.Order, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, domain.ErrNotFound
	}
	return s.repo.FindByReference(ctx, s.db, reference)
}
