package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loyalty/internal/clock"
	ledgerdomain "github.com/smallbiznis/loyalty/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/loyalty/internal/observability/metrics"
	"github.com/smallbiznis/loyalty/internal/ratelimit"
	scansessiondomain "github.com/smallbiznis/loyalty/internal/scansession/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobExpireScanSessions = "expire_scan_sessions"
	JobReconcileAccounts  = "reconcile_accounts"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Sessions scansessiondomain.Service
	Ledger   ledgerdomain.Service
	Locker   *ratelimit.Locker            `optional:"true"`
	Metrics  *obsmetrics.SchedulerMetrics `optional:"true"`
	Config   Config                       `optional:"true"`
}

// JobLocker serializes job runs across replicas.
type JobLocker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (ratelimit.Lease, bool, error)
	Release(ctx context.Context, lease ratelimit.Lease) error
}

type Scheduler struct {
	log      *zap.Logger
	cfg      Config
	genID    *snowflake.Node
	clock    clock.Clock
	sessions scansessiondomain.Service
	ledger   ledgerdomain.Service
	locker   JobLocker
	metrics  *obsmetrics.SchedulerMetrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Sessions == nil || p.Ledger == nil {
		return nil, ErrInvalidConfig
	}
	s := &Scheduler{
		log:      p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:      p.Config.withDefaults(),
		genID:    p.GenID,
		clock:    p.Clock,
		sessions: p.Sessions,
		ledger:   p.Ledger,
		metrics:  p.Metrics,
	}
	if p.Locker != nil {
		s.locker = p.Locker
	}
	if s.metrics == nil {
		s.metrics = obsmetrics.Scheduler()
	}
	return s, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	release, acquired := s.acquireJobLock(ctx, name)
	if !acquired {
		return nil
	}
	defer release()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	s.metrics.IncJobRun(name)

	err := fn(ctx)
	s.metrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	s.metrics.IncJobError(name, err)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		// the next tick picks up where this one stopped
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{JobExpireScanSessions, func(ctx context.Context) error {
			return s.runJob(ctx, JobExpireScanSessions, s.cfg.BatchSize, s.cfg.JobTimeout, s.ExpireScanSessionsJob)
		}},
		{JobReconcileAccounts, func(ctx context.Context) error {
			return s.runJob(ctx, JobReconcileAccounts, s.cfg.ReconcileLimit, s.cfg.JobTimeout, s.ReconcileAccountsJob)
		}},
	}

	for _, job := range jobs {
		if s.isJobEnabled(job.Name) {
			err = errors.Join(err, job.Run(parent))
		}
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := time.Now().Add(s.cfg.RunInterval)

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case tick := <-ticker.C:
			s.metrics.ObserveRunLoopLag(tick.Sub(nextRun))
			nextRun = nextRun.Add(s.cfg.RunInterval)
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// ExpireScanSessionsJob moves open sessions past their deadline to EXPIRED,
// one batch at a time until a short batch signals the backlog is drained.
func (s *Scheduler) ExpireScanSessionsJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobExpireScanSessions, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	now := s.clock.Now()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		expired, err := s.sessions.ExpireStale(ctx, now, s.cfg.BatchSize)
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.scan_session.expire.failed", JobExpireScanSessions, err)
			return err
		}
		run.AddProcessed(int(expired))
		s.metrics.AddBatchProcessed(JobExpireScanSessions, "scan_session", int(expired))
		if expired < int64(s.cfg.BatchSize) {
			return nil
		}
	}
}

// ReconcileAccountsJob reports accounts whose cached balance disagrees with
// the sum of their transactions. It never rewrites balances.
func (s *Scheduler) ReconcileAccountsJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobReconcileAccounts, s.cfg.ReconcileLimit)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	drifted, err := s.ledger.FindDrift(ctx, s.cfg.ReconcileLimit)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.ledger.reconcile.failed", JobReconcileAccounts, err)
		return err
	}
	s.metrics.SetDrift(JobReconcileAccounts, len(drifted))
	run.AddProcessed(len(drifted))
	for _, result := range drifted {
		s.logDrift(ctx, result)
	}
	return nil
}
