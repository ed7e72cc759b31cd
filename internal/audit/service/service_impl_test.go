package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loyalty/internal/audit/domain"
	"github.com/smallbiznis/loyalty/internal/audit/repository"
	"github.com/smallbiznis/loyalty/internal/clock"
	obscontext "github.com/smallbiznis/loyalty/internal/observability/context"
	"github.com/smallbiznis/loyalty/internal/principal"
	"github.com/smallbiznis/loyalty/pkg/db"
	"github.com/smallbiznis/loyalty/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupAudit(t *testing.T) (*Service, *gorm.DB, *snowflake.Node, *clock.FakeClock) {
	t.Helper()
	conn, err := db.NewTest(t.Name())
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&domain.AuditLog{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	svc := NewService(Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
		Repo:  repository.Provide(),
	}).(*Service)
	return svc, conn, node, fake
}

func memberCtx(node *snowflake.Node, businessID snowflake.ID) context.Context {
	return principal.WithPrincipal(context.Background(), principal.Principal{
		UserID:     node.Generate(),
		Kind:       principal.KindBusinessMember,
		BusinessID: businessID,
		MemberID:   node.Generate(),
		Role:       principal.RoleOwner,
	})
}

func TestRecordResolvesActorFromPrincipal(t *testing.T) {
	svc, conn, node, _ := setupAudit(t)
	businessID := node.Generate()
	ctx := memberCtx(node, businessID)
	ctx = obscontext.WithRequestID(ctx, "req-9")
	ctx = obscontext.WithClient(ctx, "10.1.2.3", "pos/2.1")
	p, _ := principal.FromContext(ctx)

	require.NoError(t, svc.Record(ctx, nil, domain.Entry{
		Action:     domain.ActionScanSessionScanned,
		TargetType: domain.TargetTypeScanSession,
		TargetID:   "123",
		Metadata:   map[string]any{"token": "abcdefghijklmnop", "mode": "accrual"},
	}))

	var row domain.AuditLog
	require.NoError(t, conn.First(&row).Error)
	require.NotNil(t, row.BusinessID)
	assert.Equal(t, businessID, *row.BusinessID)
	assert.Equal(t, string(domain.ActorTypeBusinessMember), row.ActorType)
	require.NotNil(t, row.ActorID)
	assert.Equal(t, p.MemberID.String(), *row.ActorID)
	assert.Equal(t, "****mnop", row.Metadata["token"])
	assert.Equal(t, "accrual", row.Metadata["mode"])
	assert.Equal(t, "req-9", row.Metadata["request_id"])
	require.NotNil(t, row.IPAddress)
	assert.Equal(t, "10.1.2.3", *row.IPAddress)
}

func TestRecordDefaultsToSystemActor(t *testing.T) {
	svc, conn, node, _ := setupAudit(t)

	require.NoError(t, svc.Record(context.Background(), nil, domain.Entry{
		BusinessID: node.Generate(),
		Action:     domain.ActionScanSessionCancelled,
	}))

	var row domain.AuditLog
	require.NoError(t, conn.First(&row).Error)
	assert.Equal(t, string(domain.ActorTypeSystem), row.ActorType)
	assert.Nil(t, row.ActorID)
	assert.Equal(t, "unknown", row.TargetType)
}

func TestRecordRequiresAction(t *testing.T) {
	svc, _, _, _ := setupAudit(t)
	err := svc.Record(context.Background(), nil, domain.Entry{Action: " "})
	assert.ErrorIs(t, err, domain.ErrInvalidAction)
}

func TestRecordRollsBackWithCallerTransaction(t *testing.T) {
	svc, conn, node, _ := setupAudit(t)
	boom := errors.New("boom")

	err := conn.Transaction(func(tx *gorm.DB) error {
		if err := svc.Record(context.Background(), tx, domain.Entry{
			BusinessID: node.Generate(),
			Action:     domain.ActionAccrualConfirmed,
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, conn.Model(&domain.AuditLog{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestListIsScopedToBusinessAndPaginates(t *testing.T) {
	svc, _, node, fake := setupAudit(t)
	businessID := node.Generate()
	otherID := node.Generate()

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.Record(context.Background(), nil, domain.Entry{
			BusinessID: businessID,
			Action:     domain.ActionAccrualConfirmed,
		}))
		fake.Advance(time.Second)
	}
	require.NoError(t, svc.Record(context.Background(), nil, domain.Entry{
		BusinessID: otherID,
		Action:     domain.ActionAccrualConfirmed,
	}))

	ctx := memberCtx(node, businessID)
	first, err := svc.List(ctx, domain.ListAuditLogRequest{
		Pagination: pagination.Pagination{PageSize: 2},
	})
	require.NoError(t, err)
	require.Len(t, first.AuditLogs, 2)
	assert.True(t, first.HasMore)
	assert.True(t, first.AuditLogs[0].CreatedAt.After(first.AuditLogs[1].CreatedAt))

	second, err := svc.List(ctx, domain.ListAuditLogRequest{
		Pagination: pagination.Pagination{PageSize: 2, PageToken: first.NextPageToken},
	})
	require.NoError(t, err)
	require.Len(t, second.AuditLogs, 1)
	assert.False(t, second.HasMore)
	assert.Equal(t, businessID, *second.AuditLogs[0].BusinessID)
}

func TestListRejectsBadInput(t *testing.T) {
	svc, _, node, _ := setupAudit(t)
	ctx := memberCtx(node, node.Generate())

	_, err := svc.List(ctx, domain.ListAuditLogRequest{
		Pagination: pagination.Pagination{PageToken: "%%%"},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidPageToken)

	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	end := start.Add(-time.Hour)
	_, err = svc.List(ctx, domain.ListAuditLogRequest{StartAt: &start, EndAt: &end})
	assert.ErrorIs(t, err, domain.ErrInvalidTimeRange)

	_, err = svc.List(context.Background(), domain.ListAuditLogRequest{})
	assert.ErrorIs(t, err, principal.ErrUnauthenticated)
}
