package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loyalty/internal/audit"
	"github.com/smallbiznis/loyalty/internal/clock"
	"github.com/smallbiznis/loyalty/internal/config"
	"github.com/smallbiznis/loyalty/internal/directory"
	"github.com/smallbiznis/loyalty/internal/ledger"
	"github.com/smallbiznis/loyalty/internal/migration"
	"github.com/smallbiznis/loyalty/internal/observability"
	"github.com/smallbiznis/loyalty/internal/qrimage"
	"github.com/smallbiznis/loyalty/internal/qrtoken"
	"github.com/smallbiznis/loyalty/internal/ratelimit"
	"github.com/smallbiznis/loyalty/internal/rewardtier"
	"github.com/smallbiznis/loyalty/internal/scansession"
	"github.com/smallbiznis/loyalty/internal/scheduler"
	"github.com/smallbiznis/loyalty/pkg/db"
	"go.uber.org/fx"
)

// The worker runs the session sweeper and ledger reconciliation without the
// HTTP API. Replicas coordinate through the Redis job locks.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		ratelimit.Module,

		// Domain services required by scheduler
		directory.Module,
		rewardtier.Module,
		qrimage.Module,
		qrtoken.Module,
		ledger.Module,
		audit.Module,
		scansession.Module,

		// No server module!
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}
