package notifier

import (
	"github.com/smallbiznis/enrollpay/internal/config"
	"github.com/smallbiznis/enrollpay/internal/notifier/domain"
	"github.com/smallbiznis/enrollpay/internal/notifier/email"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("notifier",
	fx.Provide(NewProvider),
	fx.Provide(NewQueue),
)

// NewProvider picks the delivery channel from configuration. Without an SMTP
// relay the queue still runs, it just discards messages.
func NewProvider(cfg config.Config, log *zap.Logger) domain.Provider {
	if cfg.SMTPHost == "" {
		log.Warn("no SMTP host configured, notifications will be discarded")
		return NoopProvider{}
	}
	return email.New(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	})
}
