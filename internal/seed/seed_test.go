package seed

import (
	"context"
	"testing"

	"github.com/smallbiznis/loyalty/internal/auth"
	"github.com/smallbiznis/loyalty/internal/config"
	directorydomain "github.com/smallbiznis/loyalty/internal/directory/domain"
	"github.com/smallbiznis/loyalty/internal/loyaltytest"
	"github.com/smallbiznis/loyalty/internal/principal"
	rewardtierdomain "github.com/smallbiznis/loyalty/internal/rewardtier/domain"
	scansessiondomain "github.com/smallbiznis/loyalty/internal/scansession/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEnsureDemoDataIsIdempotent(t *testing.T) {
	h := loyaltytest.New(t)
	ctx := context.Background()

	first, err := EnsureDemoData(ctx, h.DB, h.Node, h.Clock)
	require.NoError(t, err)
	second, err := EnsureDemoData(ctx, h.DB, h.Node, h.Clock)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	var businesses, members, tiers int64
	require.NoError(t, h.DB.Model(&directorydomain.Business{}).Count(&businesses).Error)
	require.NoError(t, h.DB.Model(&directorydomain.BusinessMember{}).Count(&members).Error)
	require.NoError(t, h.DB.Model(&rewardtierdomain.RewardTier{}).Count(&tiers).Error)
	assert.EqualValues(t, 1, businesses)
	assert.EqualValues(t, 2, members)
	assert.EqualValues(t, len(demoTiers), tiers)

	assert.Equal(t, principal.RoleOwner, first.Owner.Role)
	assert.Equal(t, principal.RoleStaff, first.Staff.Role)
	assert.Equal(t, principal.KindConsumer, first.Consumer.Kind)
}

func TestDemoPrincipalsCanRunAScan(t *testing.T) {
	h := loyaltytest.New(t)
	ctx := context.Background()
	data, err := EnsureDemoData(ctx, h.DB, h.Node, h.Clock)
	require.NoError(t, err)

	consumerCtx := principal.WithPrincipal(ctx, data.Consumer)
	prepared, err := h.Sessions.Prepare(consumerCtx, scansessiondomain.PrepareRequest{
		BusinessID: data.BusinessID.String(),
		LocationID: data.LocationID.String(),
		Mode:       string(scansessiondomain.ModeAccrual),
	})
	require.NoError(t, err)

	staffCtx := principal.WithPrincipal(ctx, data.Staff)
	processed, err := h.Sessions.Process(staffCtx, prepared.Token)
	require.NoError(t, err)
	assert.Equal(t, demoConsumerName, processed.ConsumerDisplayName)
}

func TestRunSkipsWhenDisabled(t *testing.T) {
	h := loyaltytest.New(t)
	require.NoError(t, Run(Params{DB: h.DB, Cfg: config.Config{}, Log: zap.NewNop(), GenID: h.Node, Clock: h.Clock}))

	var businesses int64
	require.NoError(t, h.DB.Model(&directorydomain.Business{}).Count(&businesses).Error)
	assert.Zero(t, businesses)
}

func TestRunSignsDemoTokens(t *testing.T) {
	h := loyaltytest.New(t)
	authenticator, err := auth.NewAuthenticator(auth.Params{
		Config:    config.Config{AuthJWTSecret: "seed-secret"},
		Log:       zap.NewNop(),
		Clock:     h.Clock,
		Directory: h.Directory,
	})
	require.NoError(t, err)

	require.NoError(t, Run(Params{
		DB:    h.DB,
		Cfg:   config.Config{SeedDemoData: true, Environment: "development"},
		Log:   zap.NewNop(),
		GenID: h.Node,
		Clock: h.Clock,
		Auth:  authenticator,
	}))
}
