package confirmation

import (
	"github.com/smallbiznis/loyalty/internal/confirmation/service"
	"go.uber.org/fx"
)

var Module = fx.Module("confirmation.service",
	fx.Provide(service.New),
)
