package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDefaultProtocolConfigIsValid(t *testing.T) {
	cfg := DefaultProtocolConfig()
	require.NoError(t, ValidateProtocolConfig(cfg))
	assert.Equal(t, 5, cfg.BalanceRetryLimit)
	assert.Equal(t, 5*time.Minute, cfg.MaxTokenTTL)
}

func TestValidateProtocolConfigRejects(t *testing.T) {
	cases := map[string]func(*ProtocolConfig){
		"zero session ttl":         func(c *ProtocolConfig) { c.SessionTTL = 0 },
		"session ttl above max":    func(c *ProtocolConfig) { c.SessionTTL = c.MaxTokenTTL + time.Second },
		"retry limit zero":         func(c *ProtocolConfig) { c.BalanceRetryLimit = 0 },
		"retry limit too high":     func(c *ProtocolConfig) { c.BalanceRetryLimit = 11 },
		"non positive accrual cap": func(c *ProtocolConfig) { c.MaxAccrualPoints = 0 },
		"zero scan burst":          func(c *ProtocolConfig) { c.ScanBurst = 0 },
		"zero sweep batch":         func(c *ProtocolConfig) { c.SweepBatchSize = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultProtocolConfig()
			mutate(&cfg)
			assert.Error(t, ValidateProtocolConfig(cfg))
		})
	}
}

func TestNewProtocolConfigHolderReadsFile(t *testing.T) {
	dir := t.TempDir()
	content := "protocol:\n  sessionTTL: 60s\n  balanceRetryLimit: 3\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "loyalty.yml"), []byte(content), 0o600))
	t.Chdir(dir)

	holder, err := NewProtocolConfigHolder(zap.NewNop())
	require.NoError(t, err)

	cfg := holder.Get()
	assert.Equal(t, 60*time.Second, cfg.SessionTTL)
	assert.Equal(t, 3, cfg.BalanceRetryLimit)
	assert.Equal(t, DefaultProtocolConfig().MaxAccrualPoints, cfg.MaxAccrualPoints)
}

func TestNewProtocolConfigHolderRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "loyalty.yml"), []byte("protocol:\n  balanceRetryLimit: 0\n"), 0o600))
	t.Chdir(dir)

	_, err := NewProtocolConfigHolder(zap.NewNop())
	assert.Error(t, err)
}

func TestNewProtocolConfigHolderFillsKeysMissingFromFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "loyalty.yml"), []byte("protocol:\n  balanceRetryLimit: 3\n"), 0o600))
	t.Chdir(dir)

	holder, err := NewProtocolConfigHolder(zap.NewNop())
	require.NoError(t, err)

	want := DefaultProtocolConfig()
	want.BalanceRetryLimit = 3
	assert.Equal(t, want, holder.Get())
}

func TestProtocolConfigReloadKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "loyalty.yml")
	require.NoError(t, os.WriteFile(path, []byte("protocol:\n  balanceRetryLimit: 3\n"), 0o600))
	t.Chdir(dir)

	holder, err := NewProtocolConfigHolder(zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("protocol:\n  maxAccrualPoints: 500\n"), 0o600))

	require.Eventually(t, func() bool {
		return holder.Get().MaxAccrualPoints == 500
	}, 5*time.Second, 20*time.Millisecond)
	cfg := holder.Get()
	assert.Equal(t, DefaultProtocolConfig().BalanceRetryLimit, cfg.BalanceRetryLimit)
	assert.Equal(t, DefaultProtocolConfig().SessionTTL, cfg.SessionTTL)
}
