package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loyalty/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newLocalLimiter(rate float64, burst int) *ScanLimiter {
	cfg := config.DefaultProtocolConfig()
	cfg.ScanRatePerSecond = rate
	cfg.ScanBurst = burst
	return NewScanLimiter(ScanLimiterParams{
		Protocol: config.NewStaticProtocolConfigHolder(cfg),
		Log:      zap.NewNop(),
	})
}

func TestScanLimiterIsPerBusiness(t *testing.T) {
	limiter := newLocalLimiter(0.001, 2)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	first, second := node.Generate(), node.Generate()
	ctx := context.Background()

	require.NoError(t, limiter.AllowScan(ctx, first))
	require.NoError(t, limiter.AllowScan(ctx, first))
	assert.ErrorIs(t, limiter.AllowScan(ctx, first), ErrRateLimited)
	assert.NoError(t, limiter.AllowScan(ctx, second))
}

func TestScanLimiterDisabledWhenUnconfigured(t *testing.T) {
	limiter := newLocalLimiter(0, 0)
	for i := 0; i < 50; i++ {
		require.NoError(t, limiter.AllowScan(context.Background(), 1))
	}

	var nilLimiter *ScanLimiter
	assert.NoError(t, nilLimiter.AllowScan(context.Background(), 1))
}

func TestBucketTTL(t *testing.T) {
	assert.Equal(t, 20*time.Second, bucketTTL(2, 20))
	assert.Equal(t, time.Second, bucketTTL(100, 1))
}

func TestRedisBucketRejectsBadInput(t *testing.T) {
	assert.Nil(t, newRedisBucket(nil))

	b := &redisBucket{}
	_, err := b.take(context.Background(), "", 1, 1)
	assert.ErrorIs(t, err, errBucketMisconfigured)
	_, err = b.take(context.Background(), "k", 0, 1)
	assert.ErrorIs(t, err, errBucketMisconfigured)
}
