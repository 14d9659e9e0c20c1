package enrollment

import (
	"github.com/smallbiznis/enrollpay/internal/enrollment/repository"
	"github.com/smallbiznis/enrollpay/internal/enrollment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("enrollment",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
