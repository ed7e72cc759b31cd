package scheduler

import (
	"context"
	"errors"

	obsmetrics "github.com/smallbiznis/loyalty/internal/observability/metrics"
	"github.com/smallbiznis/loyalty/internal/ratelimit"
	"go.uber.org/zap"
)

func jobLockName(job string) string {
	return "scheduler:job:" + job
}

// acquireJobLock claims the job for this replica. Without a locker every
// replica runs every job; the sweeps are idempotent so that only costs work.
func (s *Scheduler) acquireJobLock(ctx context.Context, job string) (func(), bool) {
	if s.locker == nil {
		return func() {}, true
	}

	lease, ok, err := s.locker.Acquire(ctx, jobLockName(job), s.cfg.LockTTL)
	if err != nil {
		s.logger(ctx).Warn("scheduler.lock.unavailable",
			zap.String("job", job),
			zap.Error(err),
		)
		return func() {}, true
	}
	if !ok {
		s.metrics.IncJobSkipped(job, obsmetrics.SchedulerSkipReasonLockHeld)
		s.logger(ctx).Debug("scheduler.job.skipped",
			zap.String("job", job),
			zap.String("reason", obsmetrics.SchedulerSkipReasonLockHeld),
		)
		return nil, false
	}

	return func() {
		// release even when the job's own deadline has passed
		releaseCtx := context.WithoutCancel(ctx)
		err := s.locker.Release(releaseCtx, lease)
		switch {
		case err == nil:
		case errors.Is(err, ratelimit.ErrLeaseLost):
			s.logger(ctx).Warn("scheduler.lock.lost",
				zap.String("job", job),
				zap.Time("lease_expired_at", lease.ExpiresAt),
			)
		default:
			s.logger(ctx).Warn("scheduler.lock.release_failed",
				zap.String("job", job),
				zap.Error(err),
			)
		}
	}, true
}
