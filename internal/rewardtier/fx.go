package rewardtier

import (
	"github.com/smallbiznis/loyalty/internal/rewardtier/repository"
	"github.com/smallbiznis/loyalty/internal/rewardtier/service"
	"go.uber.org/fx"
)

var Module = fx.Module("rewardtier.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
