package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// ProtocolConfig tunes the scan-session protocol and the points ledger.
type ProtocolConfig struct {
	SessionTTL        time.Duration `mapstructure:"sessionTTL"`
	MaxTokenTTL       time.Duration `mapstructure:"maxTokenTTL"`
	BalanceRetryLimit int           `mapstructure:"balanceRetryLimit"`
	MaxAccrualPoints  int64         `mapstructure:"maxAccrualPoints"`
	ScanRatePerSecond float64       `mapstructure:"scanRatePerSecond"`
	ScanBurst         int           `mapstructure:"scanBurst"`
	SweepInterval     time.Duration `mapstructure:"sweepInterval"`
	SweepBatchSize    int           `mapstructure:"sweepBatchSize"`
}

func DefaultProtocolConfig() ProtocolConfig {
	return ProtocolConfig{
		SessionTTL:        90 * time.Second,
		MaxTokenTTL:       5 * time.Minute,
		BalanceRetryLimit: 5,
		MaxAccrualPoints:  100_000,
		ScanRatePerSecond: 2,
		ScanBurst:         20,
		SweepInterval:     time.Minute,
		SweepBatchSize:    200,
	}
}

type ProtocolConfigHolder struct {
	current atomic.Value // holds ProtocolConfig
}

// NewStaticProtocolConfigHolder wraps a fixed config; used by tests and tools.
func NewStaticProtocolConfigHolder(cfg ProtocolConfig) *ProtocolConfigHolder {
	holder := &ProtocolConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewProtocolConfigHolder(log *zap.Logger) (*ProtocolConfigHolder, error) {
	log = log.Named("config.protocol")
	v := viper.New()

	v.SetConfigName("loyalty")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/loyalty")
	v.AddConfigPath(".")

	v.SetEnvPrefix("LOYALTY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultProtocolConfig()
	v.SetDefault("protocol.sessionTTL", defaults.SessionTTL)
	v.SetDefault("protocol.maxTokenTTL", defaults.MaxTokenTTL)
	v.SetDefault("protocol.balanceRetryLimit", defaults.BalanceRetryLimit)
	v.SetDefault("protocol.maxAccrualPoints", defaults.MaxAccrualPoints)
	v.SetDefault("protocol.scanRatePerSecond", defaults.ScanRatePerSecond)
	v.SetDefault("protocol.scanBurst", defaults.ScanBurst)
	v.SetDefault("protocol.sweepInterval", defaults.SweepInterval)
	v.SetDefault("protocol.sweepBatchSize", defaults.SweepBatchSize)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	cfg, err := decodeProtocolConfig(v)
	if err != nil {
		return nil, err
	}
	if err := ValidateProtocolConfig(cfg); err != nil {
		return nil, err
	}

	holder := &ProtocolConfigHolder{}
	holder.current.Store(cfg)

	if fileLoaded {
		v.OnConfigChange(func(e fsnotify.Event) {
			updated, err := decodeProtocolConfig(v)
			if err != nil {
				log.Warn("protocol config reload failed", zap.Error(err))
				return
			}
			if err := ValidateProtocolConfig(updated); err != nil {
				log.Warn("invalid protocol config ignored", zap.Error(err))
				return
			}
			holder.current.Store(updated)
			log.Info("protocol config reloaded", zap.String("file", e.Name))
		})
		v.WatchConfig()
	}

	return holder, nil
}

// decodeProtocolConfig unmarshals the whole tree so defaults fill the keys a
// partial file leaves out; UnmarshalKey on a file-defined section does not.
func decodeProtocolConfig(v *viper.Viper) (ProtocolConfig, error) {
	var file struct {
		Protocol ProtocolConfig `mapstructure:"protocol"`
	}
	if err := v.Unmarshal(&file); err != nil {
		return ProtocolConfig{}, err
	}
	return file.Protocol, nil
}

func (h *ProtocolConfigHolder) Get() ProtocolConfig {
	return h.current.Load().(ProtocolConfig)
}

func ValidateProtocolConfig(cfg ProtocolConfig) error {
	if cfg.SessionTTL <= 0 {
		return errors.New("protocol.sessionTTL must be positive")
	}
	if cfg.MaxTokenTTL <= 0 || cfg.SessionTTL > cfg.MaxTokenTTL {
		return errors.New("protocol.maxTokenTTL must be positive and not below sessionTTL")
	}
	if cfg.BalanceRetryLimit < 1 || cfg.BalanceRetryLimit > 10 {
		return errors.New("protocol.balanceRetryLimit must be between 1 and 10")
	}
	if cfg.MaxAccrualPoints <= 0 {
		return errors.New("protocol.maxAccrualPoints must be positive")
	}
	if cfg.ScanRatePerSecond <= 0 || cfg.ScanBurst <= 0 {
		return errors.New("protocol.scanRatePerSecond and protocol.scanBurst must be positive")
	}
	if cfg.SweepInterval <= 0 || cfg.SweepBatchSize <= 0 {
		return errors.New("protocol.sweepInterval and protocol.sweepBatchSize must be positive")
	}
	return nil
}
