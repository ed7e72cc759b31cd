package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loyalty/internal/clock"
	"github.com/smallbiznis/loyalty/internal/config"
	"github.com/smallbiznis/loyalty/internal/qrtoken/domain"
	"github.com/smallbiznis/loyalty/internal/qrtoken/repository"
	"github.com/smallbiznis/loyalty/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupTokens(t *testing.T) (domain.Service, *gorm.DB, *clock.FakeClock, *snowflake.Node) {
	t.Helper()
	conn, err := db.NewTest(t.Name())
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&domain.QrToken{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	svc, err := New(Params{
		DB:       conn,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    fake,
		Config:   config.Config{QRTokenHashKey: "test-hash-key"},
		Protocol: config.NewStaticProtocolConfigHolder(config.DefaultProtocolConfig()),
		Repo:     repository.Provide(),
	})
	require.NoError(t, err)
	return svc, conn, fake, node
}

func TestIssueStoresOnlyDigest(t *testing.T) {
	svc, conn, fake, node := setupTokens(t)
	ownerID := node.Generate()

	issued, err := svc.Issue(context.Background(), ownerID, domain.PurposeScanSession, 90*time.Second)
	require.NoError(t, err)
	assert.Len(t, issued.Value, 43)
	assert.Equal(t, fake.Now().Add(90*time.Second), issued.ExpiresAt)
	assert.NotContains(t, issued.String(), issued.Value)

	var stored domain.QrToken
	require.NoError(t, conn.Where("id = ?", issued.TokenID).Take(&stored).Error)
	assert.NotEqual(t, issued.Value, stored.TokenHash)
	assert.NotContains(t, stored.TokenHash, issued.Value)
	assert.Len(t, stored.TokenHash, 64)

	other, err := svc.Issue(context.Background(), ownerID, domain.PurposeScanSession, 90*time.Second)
	require.NoError(t, err)
	assert.NotEqual(t, issued.Value, other.Value)
}

func TestIssueRejectsBadInput(t *testing.T) {
	svc, _, _, node := setupTokens(t)
	ctx := context.Background()
	ownerID := node.Generate()

	_, err := svc.Issue(ctx, ownerID, domain.PurposeScanSession, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidTTL)
	_, err = svc.Issue(ctx, ownerID, domain.PurposeScanSession, -time.Second)
	assert.ErrorIs(t, err, domain.ErrInvalidTTL)
	_, err = svc.Issue(ctx, ownerID, domain.PurposeScanSession, 10*time.Minute)
	assert.ErrorIs(t, err, domain.ErrInvalidTTL)
	_, err = svc.Issue(ctx, ownerID, " ", time.Minute)
	assert.ErrorIs(t, err, domain.ErrInvalidPurpose)
	_, err = svc.Issue(ctx, 0, domain.PurposeScanSession, time.Minute)
	assert.ErrorIs(t, err, domain.ErrInvalidOwner)
}

func TestValidateDoesNotConsume(t *testing.T) {
	svc, _, _, node := setupTokens(t)
	ctx := context.Background()
	ownerID := node.Generate()
	issued, err := svc.Issue(ctx, ownerID, domain.PurposeScanSession, time.Minute)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		claims, err := svc.Validate(ctx, issued.Value)
		require.NoError(t, err)
		assert.Equal(t, ownerID, claims.OwnerPrincipalID)
		assert.Equal(t, domain.PurposeScanSession, claims.Purpose)
	}
	require.NoError(t, svc.Consume(ctx, issued.Value))
}

func TestValidateFailures(t *testing.T) {
	svc, _, fake, node := setupTokens(t)
	ctx := context.Background()

	_, err := svc.Validate(ctx, "not-a-token")
	assert.ErrorIs(t, err, domain.ErrTokenNotFound)

	unknown, err := newTokenValue()
	require.NoError(t, err)
	_, err = svc.Validate(ctx, unknown)
	assert.ErrorIs(t, err, domain.ErrTokenNotFound)

	issued, err := svc.Issue(ctx, node.Generate(), domain.PurposeScanSession, time.Minute)
	require.NoError(t, err)
	fake.Advance(time.Minute)
	_, err = svc.Validate(ctx, issued.Value)
	assert.ErrorIs(t, err, domain.ErrTokenExpired)
	assert.ErrorIs(t, svc.Consume(ctx, issued.Value), domain.ErrTokenExpired)
}

func TestConsumeOnce(t *testing.T) {
	svc, _, _, node := setupTokens(t)
	ctx := context.Background()
	issued, err := svc.Issue(ctx, node.Generate(), domain.PurposeScanSession, time.Minute)
	require.NoError(t, err)

	require.NoError(t, svc.Consume(ctx, issued.Value))
	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, svc.Consume(ctx, issued.Value), domain.ErrTokenAlreadyConsumed)
	}
	_, err = svc.Validate(ctx, issued.Value)
	assert.ErrorIs(t, err, domain.ErrTokenAlreadyConsumed)
}

func TestConcurrentConsumeHasOneWinner(t *testing.T) {
	svc, _, _, node := setupTokens(t)
	ctx := context.Background()
	issued, err := svc.Issue(ctx, node.Generate(), domain.PurposeScanSession, time.Minute)
	require.NoError(t, err)

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- svc.Consume(ctx, issued.Value)
		}()
	}
	wg.Wait()
	close(errs)

	var wins, consumed int
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case assert.ErrorIs(t, err, domain.ErrTokenAlreadyConsumed):
			consumed++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, callers-1, consumed)
}

func TestRevoke(t *testing.T) {
	svc, conn, _, node := setupTokens(t)
	ctx := context.Background()
	issued, err := svc.Issue(ctx, node.Generate(), domain.PurposeScanSession, time.Minute)
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, conn, issued.TokenID))
	_, err = svc.Validate(ctx, issued.Value)
	assert.ErrorIs(t, err, domain.ErrTokenRevoked)
	assert.ErrorIs(t, svc.Consume(ctx, issued.Value), domain.ErrTokenRevoked)
	assert.ErrorIs(t, svc.Revoke(ctx, conn, issued.TokenID), domain.ErrTokenRevoked)

	consumed, err := svc.Issue(ctx, node.Generate(), domain.PurposeScanSession, time.Minute)
	require.NoError(t, err)
	require.NoError(t, svc.Consume(ctx, consumed.Value))
	assert.ErrorIs(t, svc.Revoke(ctx, conn, consumed.TokenID), domain.ErrTokenAlreadyConsumed)
	assert.ErrorIs(t, svc.Revoke(ctx, conn, node.Generate()), domain.ErrTokenNotFound)
}

func TestDigestDependsOnKey(t *testing.T) {
	a, err := NewDigester("key-a")
	require.NoError(t, err)
	b, err := NewDigester("key-b")
	require.NoError(t, err)
	assert.NotEqual(t, a.Digest("value"), b.Digest("value"))
	assert.Equal(t, a.Digest("value"), a.Digest("value"))

	_, err = NewDigester(string(make([]byte, 65)))
	assert.Error(t, err)
}
