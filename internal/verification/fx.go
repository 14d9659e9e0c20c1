package verification

import (
	"github.com/smallbiznis/enrollpay/internal/verification/service"
	"go.uber.org/fx"
)

var Module = fx.Module("verification",
	fx.Provide(service.NewService),
)
