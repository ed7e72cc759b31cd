package scansession

import (
	"github.com/smallbiznis/loyalty/internal/scansession/repository"
	"github.com/smallbiznis/loyalty/internal/scansession/service"
	"go.uber.org/fx"
)

var Module = fx.Module("scansession.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
