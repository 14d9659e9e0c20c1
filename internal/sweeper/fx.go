package sweeper

import (
	"context"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/enrollpay/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides the sweeper without starting it; binaries that should run
// the loop invoke Start themselves.
var Module = fx.Module("sweeper",
	fx.Provide(NewLockerFromConfig),
	fx.Provide(New),
)

// NewLockerFromConfig builds the leader locker when a redis address is
// configured. Without one the sweeper runs unlocked, which is correct for
// single-instance deployments.
func NewLockerFromConfig(cfg config.Config, log *zap.Logger) *Locker {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		log.Warn("no redis configured, sweeper runs without leader election")
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
	})
	return NewLocker(client)
}

func Start(lc fx.Lifecycle, s *Sweeper) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go s.RunForever(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
