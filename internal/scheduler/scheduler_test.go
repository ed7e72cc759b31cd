package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/smallbiznis/loyalty/internal/config"
	"github.com/smallbiznis/loyalty/internal/loyaltytest"
	obsmetrics "github.com/smallbiznis/loyalty/internal/observability/metrics"
	"github.com/smallbiznis/loyalty/internal/ratelimit"
	scansessiondomain "github.com/smallbiznis/loyalty/internal/scansession/domain"
	schedtesting "github.com/smallbiznis/loyalty/internal/scheduler/testing"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeLocker struct {
	held       bool
	err        error
	releaseErr error
	acquired   []string
	released   []string
}

func (l *fakeLocker) Acquire(_ context.Context, name string, ttl time.Duration) (ratelimit.Lease, bool, error) {
	if l.err != nil {
		return ratelimit.Lease{}, false, l.err
	}
	if l.held {
		return ratelimit.Lease{}, false, nil
	}
	l.acquired = append(l.acquired, name)
	return ratelimit.Lease{Name: name, Token: "token-" + name, ExpiresAt: time.Now().Add(ttl)}, true, nil
}

func (l *fakeLocker) Release(_ context.Context, lease ratelimit.Lease) error {
	l.released = append(l.released, lease.Name)
	return l.releaseErr
}

type fixture struct {
	h        *loyaltytest.Harness
	sched    *Scheduler
	registry *prometheus.Registry
	accel    *schedtesting.TimeAccelerator
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	h := loyaltytest.New(t)
	registry := prometheus.NewRegistry()
	sched, err := New(Params{
		Log:      zap.NewNop(),
		GenID:    h.Node,
		Clock:    h.Clock,
		Sessions: h.Sessions,
		Ledger:   h.Ledger,
		Metrics:  obsmetrics.NewSchedulerMetricsForTest(registry),
		Config:   cfg,
	})
	require.NoError(t, err)
	return &fixture{
		h:        h,
		sched:    sched,
		registry: registry,
		accel:    schedtesting.NewTimeAccelerator(h.DB, h.Clock),
	}
}

func (f *fixture) prepare(t *testing.T, consumerCtx context.Context, b loyaltytest.Business) {
	t.Helper()
	_, err := f.h.Sessions.Prepare(consumerCtx, scansessiondomain.PrepareRequest{
		BusinessID: b.ID.String(),
		Mode:       string(scansessiondomain.ModeAccrual),
	})
	require.NoError(t, err)
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRunJobTimeoutDoesNotReturnErrorAndCountsDeadline(t *testing.T) {
	f := newFixture(t, Config{})

	err := f.sched.runJob(context.Background(), "timeout_job", 0, 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)

	require.Equal(t, float64(1), getCounterValue(t, f.registry, "loyalty_scheduler_job_errors_total", map[string]string{
		"service": "loyalty",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}))
}

func TestRunJobWrapsFailures(t *testing.T) {
	f := newFixture(t, Config{})
	boom := errors.New("boom")

	err := f.sched.runJob(context.Background(), "failing_job", 0, time.Second, func(context.Context) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Contains(t, err.Error(), "failing_job")
}

func TestExpireScanSessionsDrainsEveryBatch(t *testing.T) {
	f := newFixture(t, Config{BatchSize: 2})
	b := f.h.SeedBusiness(t, "Kopi Senja")
	_, consumerCtx := f.h.SeedConsumer(t, "Rani")
	for range 5 {
		f.prepare(t, consumerCtx, b)
	}

	require.NoError(t, f.sched.RunOnce(context.Background()))
	open, err := f.accel.CountByStatus(context.Background(), scansessiondomain.StatusPrepared)
	require.NoError(t, err)
	require.Equal(t, int64(5), open, "sessions inside their TTL stay open")

	f.h.Clock.Advance(config.DefaultProtocolConfig().SessionTTL)
	require.NoError(t, f.sched.RunOnce(context.Background()))

	expired, err := f.accel.CountByStatus(context.Background(), scansessiondomain.StatusExpired)
	require.NoError(t, err)
	require.Equal(t, int64(5), expired)
	require.Equal(t, float64(5), getCounterValue(t, f.registry, "loyalty_scheduler_batch_processed_total", map[string]string{
		"service":  "loyalty",
		"env":      "test",
		"job":      JobExpireScanSessions,
		"resource": "scan_session",
	}))
}

func TestExpireScanSessionsLeavesClosedSessions(t *testing.T) {
	f := newFixture(t, Config{})
	b := f.h.SeedBusiness(t, "Kopi Senja")
	consumerID, consumerCtx := f.h.SeedConsumer(t, "Rani")
	f.h.Fund(t, b, consumerCtx, 12)

	f.h.Clock.Advance(time.Hour)
	require.NoError(t, f.sched.RunOnce(context.Background()))

	confirmed, err := f.accel.CountByStatus(context.Background(), scansessiondomain.StatusConfirmedAccrual)
	require.NoError(t, err)
	require.Equal(t, int64(1), confirmed)
	require.Equal(t, int64(12), f.h.Account(t, b, consumerID).PointsBalance)
}

func TestFastForwardedSessionIsSwept(t *testing.T) {
	f := newFixture(t, Config{})
	b := f.h.SeedBusiness(t, "Kopi Senja")
	_, consumerCtx := f.h.SeedConsumer(t, "Rani")
	f.prepare(t, consumerCtx, b)

	var session scansessiondomain.ScanSession
	require.NoError(t, f.h.DB.First(&session).Error)
	require.NoError(t, f.accel.FastForwardSession(context.Background(), session.ID))

	require.NoError(t, f.sched.ExpireScanSessionsJob(context.Background()))
	require.NoError(t, f.h.DB.First(&session, "id = ?", session.ID).Error)
	require.Equal(t, scansessiondomain.StatusExpired, session.Status)
}

func TestReconcileAccountsReportsDrift(t *testing.T) {
	f := newFixture(t, Config{})
	b := f.h.SeedBusiness(t, "Kopi Senja")
	consumerID, consumerCtx := f.h.SeedConsumer(t, "Rani")
	f.h.Fund(t, b, consumerCtx, 10)

	require.NoError(t, f.sched.RunOnce(context.Background()))
	require.Equal(t, float64(0), getGaugeValue(t, f.registry, "loyalty_ledger_drift_accounts", map[string]string{
		"service": "loyalty",
		"env":     "test",
		"job":     JobReconcileAccounts,
	}))

	account := f.h.Account(t, b, consumerID)
	require.NoError(t, f.accel.SkewBalance(context.Background(), account.ID, 5))

	require.NoError(t, f.sched.RunOnce(context.Background()))
	require.Equal(t, float64(1), getGaugeValue(t, f.registry, "loyalty_ledger_drift_accounts", map[string]string{
		"service": "loyalty",
		"env":     "test",
		"job":     JobReconcileAccounts,
	}))
	require.Equal(t, int64(15), f.h.Account(t, b, consumerID).PointsBalance, "reconcile only reports")
}

func TestHeldLockSkipsJob(t *testing.T) {
	f := newFixture(t, Config{})
	locker := &fakeLocker{held: true}
	f.sched.locker = locker
	b := f.h.SeedBusiness(t, "Kopi Senja")
	_, consumerCtx := f.h.SeedConsumer(t, "Rani")
	f.prepare(t, consumerCtx, b)
	f.h.Clock.Advance(time.Hour)

	require.NoError(t, f.sched.RunOnce(context.Background()))

	open, err := f.accel.CountByStatus(context.Background(), scansessiondomain.StatusPrepared)
	require.NoError(t, err)
	require.Equal(t, int64(1), open)
	require.Equal(t, float64(1), getCounterValue(t, f.registry, "loyalty_scheduler_job_skipped_total", map[string]string{
		"service": "loyalty",
		"env":     "test",
		"job":     JobExpireScanSessions,
		"reason":  obsmetrics.SchedulerSkipReasonLockHeld,
	}))
}

func TestLockIsReleasedAfterRun(t *testing.T) {
	f := newFixture(t, Config{})
	locker := &fakeLocker{}
	f.sched.locker = locker

	require.NoError(t, f.sched.RunOnce(context.Background()))

	want := []string{
		"scheduler:job:" + JobExpireScanSessions,
		"scheduler:job:" + JobReconcileAccounts,
	}
	require.Equal(t, want, locker.acquired)
	require.Equal(t, want, locker.released)
}

func TestLockerErrorStillRunsJob(t *testing.T) {
	f := newFixture(t, Config{})
	f.sched.locker = &fakeLocker{err: errors.New("redis down")}
	b := f.h.SeedBusiness(t, "Kopi Senja")
	_, consumerCtx := f.h.SeedConsumer(t, "Rani")
	f.prepare(t, consumerCtx, b)
	f.h.Clock.Advance(time.Hour)

	require.NoError(t, f.sched.RunOnce(context.Background()))

	expired, err := f.accel.CountByStatus(context.Background(), scansessiondomain.StatusExpired)
	require.NoError(t, err)
	require.Equal(t, int64(1), expired)
}

func TestLostLeaseIsLoggedAndRunSucceeds(t *testing.T) {
	f := newFixture(t, Config{EnabledJobs: []string{JobExpireScanSessions}})
	core, logs := observer.New(zap.WarnLevel)
	f.sched.log = zap.New(core)
	f.sched.locker = &fakeLocker{releaseErr: ratelimit.ErrLeaseLost}

	require.NoError(t, f.sched.RunOnce(context.Background()))

	lost := logs.FilterMessage("scheduler.lock.lost").All()
	require.Len(t, lost, 1)
	require.Equal(t, JobExpireScanSessions, lost[0].ContextMap()["job"])
}

func TestEnabledJobsFilter(t *testing.T) {
	f := newFixture(t, Config{EnabledJobs: []string{"RECONCILE_ACCOUNTS"}})
	locker := &fakeLocker{}
	f.sched.locker = locker

	require.NoError(t, f.sched.RunOnce(context.Background()))
	require.Equal(t, []string{"scheduler:job:" + JobReconcileAccounts}, locker.acquired)
}

func TestProvideConfigFollowsProtocol(t *testing.T) {
	protocol := config.DefaultProtocolConfig()
	protocol.SweepInterval = 15 * time.Second
	protocol.SweepBatchSize = 50

	cfg := ProvideConfig(config.Config{SchedulerJobs: []string{JobExpireScanSessions}}, config.NewStaticProtocolConfigHolder(protocol))
	require.Equal(t, 15*time.Second, cfg.RunInterval)
	require.Equal(t, 50, cfg.BatchSize)
	require.Equal(t, []string{JobExpireScanSessions}, cfg.EnabledJobs)
	require.Equal(t, DefaultConfig().LockTTL, cfg.LockTTL)
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metric := findMetric(t, registry, name, labels)
	require.NotNil(t, metric.Counter, "metric %s is not a counter", name)
	return metric.GetCounter().GetValue()
}

func getGaugeValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metric := findMetric(t, registry, name, labels)
	require.NotNil(t, metric.Gauge, "metric %s is not a gauge", name)
	return metric.GetGauge().GetValue()
}

func findMetric(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	metricFamilies, err := registry.Gather()
	require.NoError(t, err)
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if labelsMatch(metric, labels) {
				return metric
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return nil
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
