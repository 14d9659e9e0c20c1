package gateway

import (
	"net/http"

	"github.com/smallbiznis/enrollpay/internal/config"
	"github.com/smallbiznis/enrollpay/internal/gateway/adapters"
	"github.com/smallbiznis/enrollpay/internal/gateway/adapters/razorpay"
	"github.com/smallbiznis/enrollpay/internal/gateway/adapters/stripe"
	"github.com/smallbiznis/enrollpay/internal/gateway/domain"
	"go.uber.org/zap"

	"go.uber.org/fx"
)

var Module = fx.Module("gateway",
	fx.Provide(NewRegistry),
)

// NewRegistry wires every gateway that has credentials configured. Client
// operations always go through the registry so the process carries no
// implicit global gateway state.
func NewRegistry(cfg config.Config, log *zap.Logger) *adapters.Registry {
	client := &http.Client{Timeout: cfg.GatewayTimeout}

	var gateways []domain.Gateway
	if cfg.RazorpayKeyID != "" && cfg.RazorpaySecret != "" {
		gw, err := razorpay.New(razorpay.Config{
			KeyID:   cfg.RazorpayKeyID,
			Secret:  cfg.RazorpaySecret,
			BaseURL: cfg.RazorpayBaseURL,
		}, client)
		if err != nil {
			log.Warn("razorpay gateway not configured", zap.Error(err))
		} else {
			gateways = append(gateways, gw)
		}
	}
	if cfg.StripeSecretKey != "" {
		gw, err := stripe.New(stripe.Config{
			SecretKey: cfg.StripeSecretKey,
			BaseURL:   cfg.StripeBaseURL,
		}, client)
		if err != nil {
			log.Warn("stripe gateway not configured", zap.Error(err))
		} else {
			gateways = append(gateways, gw)
		}
	}

	if len(gateways) == 0 {
		log.Warn("no payment gateways configured")
	}
	return adapters.NewRegistry(gateways...)
}
