package repository

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/loyalty/internal/qrtoken/domain"
	"github.com/smallbiznis/loyalty/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func seedToken(t *testing.T, conn *gorm.DB, hash string, expiresAt time.Time) {
	t.Helper()
	require.NoError(t, Provide().Insert(context.Background(), conn, &domain.QrToken{
		ID:               1,
		TokenHash:        hash,
		OwnerPrincipalID: 7,
		Purpose:          domain.PurposeScanSession,
		IssuedAt:         expiresAt.Add(-90 * time.Second),
		ExpiresAt:        expiresAt,
	}))
}

func TestMarkConsumedRequiresUnexpiredToken(t *testing.T) {
	conn, err := db.NewTest(t.Name())
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&domain.QrToken{}))

	ctx := context.Background()
	expiresAt := time.Date(2026, 3, 1, 9, 1, 30, 0, time.UTC)
	seedToken(t, conn, "digest", expiresAt)
	repo := Provide()

	won, err := repo.MarkConsumed(ctx, conn, "digest", expiresAt)
	require.NoError(t, err)
	assert.False(t, won, "a token is expired at its deadline")

	won, err = repo.MarkConsumed(ctx, conn, "digest", expiresAt.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, won)

	stored, err := repo.FindByHash(ctx, conn, "digest")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Nil(t, stored.ConsumedAt)

	won, err = repo.MarkConsumed(ctx, conn, "digest", expiresAt.Add(-time.Second))
	require.NoError(t, err)
	assert.True(t, won)

	won, err = repo.MarkConsumed(ctx, conn, "digest", expiresAt.Add(-time.Second))
	require.NoError(t, err)
	assert.False(t, won, "second consume loses")
}
