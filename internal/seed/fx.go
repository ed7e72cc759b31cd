package seed

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loyalty/internal/auth"
	"github.com/smallbiznis/loyalty/internal/clock"
	"github.com/smallbiznis/loyalty/internal/config"
	"github.com/smallbiznis/loyalty/internal/principal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const demoTokenTTL = 24 * time.Hour

type Params struct {
	fx.In

	DB    *gorm.DB
	Cfg   config.Config
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Auth  *auth.Authenticator
}

var Module = fx.Module("seed",
	fx.Invoke(Run),
)

// Run seeds demo data when SEED_DEMO_DATA is set. Outside production it logs
// bearer tokens for the demo principals.
func Run(p Params) error {
	if !p.Cfg.SeedDemoData {
		return nil
	}
	log := p.Log.Named("seed")

	data, err := EnsureDemoData(context.Background(), p.DB, p.GenID, p.Clock)
	if err != nil {
		return err
	}
	log.Info("demo data ready",
		zap.String("business_id", data.BusinessID.String()),
		zap.String("location_id", data.LocationID.String()),
		zap.String("program_id", data.ProgramID.String()),
	)

	if p.Cfg.IsProduction() {
		return nil
	}
	for name, who := range map[string]principal.Principal{
		"owner":    data.Owner,
		"staff":    data.Staff,
		"consumer": data.Consumer,
	} {
		token, err := p.Auth.Tokens().Sign(who, demoTokenTTL)
		if err != nil {
			return err
		}
		log.Info("demo bearer token", zap.String("principal", name), zap.String("token", token))
	}
	return nil
}
