package qrtoken

import (
	"github.com/smallbiznis/loyalty/internal/qrtoken/repository"
	"github.com/smallbiznis/loyalty/internal/qrtoken/service"
	"go.uber.org/fx"
)

var Module = fx.Module("qrtoken.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
