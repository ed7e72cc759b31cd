package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/loyalty/internal/config"
	obsmetrics "github.com/smallbiznis/loyalty/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	keyScanBusiness = "loyalty:scan:business:%s"

	EndpointScan = "scan"
)

var ErrRateLimited = errors.New("rate_limited")

// ScanLimiter throttles business scans per business. It uses a shared
// Redis token bucket when available and per-process limiters otherwise.
type ScanLimiter struct {
	bucket   *redisBucket
	protocol *config.ProtocolConfigHolder
	metrics  *obsmetrics.Metrics
	log      *zap.Logger

	mu    sync.Mutex
	local map[string]*rate.Limiter
}

type ScanLimiterParams struct {
	fx.In

	Redis    *redis.Client `optional:"true"`
	Protocol *config.ProtocolConfigHolder
	Log      *zap.Logger
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

func NewScanLimiter(p ScanLimiterParams) *ScanLimiter {
	return &ScanLimiter{
		bucket:   newRedisBucket(p.Redis),
		protocol: p.Protocol,
		metrics:  p.Metrics,
		log:      p.Log.Named("ratelimit"),
		local:    make(map[string]*rate.Limiter),
	}
}

// AllowScan returns ErrRateLimited when the business exceeded its scan rate.
// A nil limiter allows everything.
func (l *ScanLimiter) AllowScan(ctx context.Context, businessID snowflake.ID) error {
	if l == nil {
		return nil
	}
	cfg := l.protocol.Get()
	if cfg.ScanRatePerSecond <= 0 || cfg.ScanBurst <= 0 {
		return nil
	}
	key := fmt.Sprintf(keyScanBusiness, businessID.String())

	if l.bucket != nil {
		decision, err := l.bucket.take(ctx, key, cfg.ScanRatePerSecond, cfg.ScanBurst)
		if err == nil {
			if !decision.Allowed {
				l.metrics.RecordRateLimitDenied(ctx, EndpointScan, "business")
				l.log.Debug("scan rate limited",
					zap.String("business_id", businessID.String()),
					zap.Duration("retry_after", decision.RetryAfter),
				)
				return ErrRateLimited
			}
			return nil
		}
		l.log.Warn("redis rate limit failed, using local limiter", zap.Error(err))
	}

	if !l.localLimiter(key, cfg).Allow() {
		l.metrics.RecordRateLimitDenied(ctx, EndpointScan, "business")
		return ErrRateLimited
	}
	return nil
}

func (l *ScanLimiter) localLimiter(key string, cfg config.ProtocolConfig) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.local[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(cfg.ScanRatePerSecond), cfg.ScanBurst)
		l.local[key] = limiter
		return limiter
	}
	if limiter.Limit() != rate.Limit(cfg.ScanRatePerSecond) {
		limiter.SetLimit(rate.Limit(cfg.ScanRatePerSecond))
	}
	if limiter.Burst() != cfg.ScanBurst {
		limiter.SetBurst(cfg.ScanBurst)
	}
	return limiter
}
