package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SCANNER_DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8010, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "scanner:enriched", cfg.Redis.EnrichedKey)
	assert.Equal(t, 10*time.Minute, cfg.Redis.EnrichedTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.Redis.LastCloseTTL)
	assert.Equal(t, 5, cfg.Scan.SlotMinutes)
	assert.Equal(t, "America/New_York", cfg.Scan.MarketTimezone)
	assert.Equal(t, 5*time.Minute, cfg.Scan.SafetyReloadInterval)
	assert.False(t, cfg.Archive.Enabled)
	assert.NotEmpty(t, cfg.RulesDBPath)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SCANNER_DATA_DIR", t.TempDir())
	t.Setenv("SCANNER_PORT", "9100")
	t.Setenv("SCAN_INTERVAL", "250ms")
	t.Setenv("SLOT_MINUTES", "10")
	t.Setenv("REDIS_OP_TIMEOUT", "2s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.Scan.Interval)
	assert.Equal(t, 10, cfg.Scan.SlotMinutes)
	assert.Equal(t, 2*time.Second, cfg.Redis.OpTimeout)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty redis addr", func(c *Config) { c.Redis.Addr = "" }},
		{"zero scan interval", func(c *Config) { c.Scan.Interval = 0 }},
		{"slot minutes too large", func(c *Config) { c.Scan.SlotMinutes = 90 }},
		{"empty timezone", func(c *Config) { c.Scan.MarketTimezone = "" }},
		{"archive without bucket", func(c *Config) {
			c.Archive.Enabled = true
			c.Archive.Bucket = ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SCANNER_DATA_DIR", t.TempDir())
			cfg, err := Load()
			require.NoError(t, err)

			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
