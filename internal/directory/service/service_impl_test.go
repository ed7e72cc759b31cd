package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loyalty/internal/directory/domain"
	"github.com/smallbiznis/loyalty/internal/directory/repository"
	"github.com/smallbiznis/loyalty/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupDirectory(t *testing.T) (domain.Service, *gorm.DB, *snowflake.Node) {
	t.Helper()
	conn, err := db.NewTest(t.Name())
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&domain.Business{},
		&domain.BusinessLocation{},
		&domain.BusinessMember{},
		&domain.Consumer{},
	))
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := New(Params{DB: conn, Log: zap.NewNop(), Repo: repository.Provide()})
	return svc, conn, node
}

func TestEnsureActiveBusiness(t *testing.T) {
	svc, conn, node := setupDirectory(t)
	ctx := context.Background()
	now := time.Now().UTC()

	active := domain.Business{ID: node.Generate(), Name: "Kopi Kenangan", Status: domain.BusinessStatusActive, CreatedAt: now, UpdatedAt: now}
	suspended := domain.Business{ID: node.Generate(), Name: "Closed Shop", Status: domain.BusinessStatusSuspended, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, conn.Create(&active).Error)
	require.NoError(t, conn.Create(&suspended).Error)

	got, err := svc.EnsureActiveBusiness(ctx, active.ID)
	require.NoError(t, err)
	assert.Equal(t, "Kopi Kenangan", got.Name)

	_, err = svc.EnsureActiveBusiness(ctx, suspended.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidBusiness)

	_, err = svc.EnsureActiveBusiness(ctx, node.Generate())
	assert.ErrorIs(t, err, domain.ErrInvalidBusiness)

	_, err = svc.EnsureActiveBusiness(ctx, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidBusiness)
}

func TestEnsureLocationScopedToBusiness(t *testing.T) {
	svc, conn, node := setupDirectory(t)
	ctx := context.Background()
	businessID := node.Generate()
	otherBusinessID := node.Generate()

	location := domain.BusinessLocation{ID: node.Generate(), BusinessID: businessID, Name: "Main St", IsActive: true, CreatedAt: time.Now().UTC()}
	require.NoError(t, conn.Create(&location).Error)

	require.NoError(t, svc.EnsureLocation(ctx, businessID, location.ID))
	assert.ErrorIs(t, svc.EnsureLocation(ctx, otherBusinessID, location.ID), domain.ErrInvalidLocation)

	require.NoError(t, conn.Model(&domain.BusinessLocation{}).Where("id = ?", location.ID).Update("is_active", false).Error)
	assert.ErrorIs(t, svc.EnsureLocation(ctx, businessID, location.ID), domain.ErrInvalidLocation)
}

func TestResolveMemberAndDisplayName(t *testing.T) {
	svc, conn, node := setupDirectory(t)
	ctx := context.Background()
	businessID := node.Generate()
	userID := node.Generate()
	inactiveUserID := node.Generate()
	now := time.Now().UTC()

	require.NoError(t, conn.Create(&domain.BusinessMember{ID: node.Generate(), BusinessID: businessID, UserID: userID, Role: "staff", IsActive: true, CreatedAt: now}).Error)
	require.NoError(t, conn.Create(&domain.BusinessMember{ID: node.Generate(), BusinessID: businessID, UserID: inactiveUserID, Role: "staff", IsActive: false, CreatedAt: now}).Error)

	member, err := svc.ResolveMember(ctx, businessID, userID)
	require.NoError(t, err)
	assert.Equal(t, "staff", member.Role)

	_, err = svc.ResolveMember(ctx, businessID, inactiveUserID)
	assert.ErrorIs(t, err, domain.ErrMemberInactive)
	_, err = svc.ResolveMember(ctx, businessID, node.Generate())
	assert.ErrorIs(t, err, domain.ErrMemberNotFound)

	consumerID := node.Generate()
	require.NoError(t, conn.Create(&domain.Consumer{ID: consumerID, DisplayName: " Rina ", CreatedAt: now}).Error)
	name, err := svc.ConsumerDisplayName(ctx, consumerID)
	require.NoError(t, err)
	assert.Equal(t, "Rina", name)

	name, err = svc.ConsumerDisplayName(ctx, node.Generate())
	require.NoError(t, err)
	assert.Empty(t, name)
}
