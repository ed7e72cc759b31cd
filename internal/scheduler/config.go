package scheduler

import (
	"time"

	"github.com/smallbiznis/loyalty/internal/config"
)

// Config controls sweep intervals and batch sizes.
type Config struct {
	RunInterval    time.Duration
	BatchSize      int
	ReconcileLimit int
	JobTimeout     time.Duration
	LockTTL        time.Duration
	EnabledJobs    []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:    time.Minute,
		BatchSize:      200,
		ReconcileLimit: 500,
		JobTimeout:     30 * time.Second,
		LockTTL:        45 * time.Second,
	}
}

// ProvideConfig derives the sweeper config from the protocol settings.
func ProvideConfig(cfg config.Config, protocol *config.ProtocolConfigHolder) Config {
	current := protocol.Get()
	return Config{
		RunInterval: current.SweepInterval,
		BatchSize:   current.SweepBatchSize,
		EnabledJobs: cfg.SchedulerJobs,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.ReconcileLimit <= 0 {
		c.ReconcileLimit = defaults.ReconcileLimit
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	return c
}
