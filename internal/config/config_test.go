package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
environment:
  mode: paper
  log_level: debug
accounts:
  - ACC1
providers:
  - name: tradier
    api_key: ${ADVISOR_TEST_KEY}
    sandbox: true
    rate_per_minute: 60
  - name: mock
evaluator:
  workers: 4
  profit_threshold: 0.5
  roll_dte_threshold: 5
  earnings_aware: true
  earnings_symbols: [SPY, QQQ]
scorer:
  max_weeks_out: 4
  max_debit: 0.50
notify:
  cadence: both
  cooldown: 4h
  console: true
reconcile:
  window: 48h
  strike_tolerance: 0.05
schedule:
  timezone: America/New_York
  market_start: "09:30"
  market_end: "16:00"
storage:
  path: /tmp/advisor.db
history:
  enabled: true
  port: 8787
  auth_token: secret
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Valid(t *testing.T) {
	t.Setenv("ADVISOR_TEST_KEY", "sekrit")

	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.True(t, cfg.IsPaper())
	assert.Equal(t, "sekrit", cfg.Providers[0].APIKey, "env vars should expand")
	assert.Equal(t, 4*time.Hour, cfg.Cooldown())
	assert.Equal(t, 48*time.Hour, cfg.ReconcileWindow())
	assert.Equal(t, []string{"ACC1"}, cfg.Accounts)
	assert.Equal(t, []string{"SPY", "QQQ"}, cfg.Evaluator.EarningsSymbols)
}

func TestLoad_UnknownFieldRejected(t *testing.T) {
	_, err := Load(writeConfig(t, validYAML+"\nsurprise: true\n"))
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Environment: EnvironmentConfig{Mode: "paper"},
			Accounts:    []string{"ACC1"},
			Providers:   []ProviderConfig{{Name: "mock"}},
			Storage:     StorageConfig{Path: "/tmp/advisor.db"},
			Notify:      NotifyConfig{Console: true},
		}
	}

	t.Run("defaults applied", func(t *testing.T) {
		cfg := base()
		require.NoError(t, cfg.Validate())
		assert.Equal(t, defaultWorkers, cfg.Evaluator.Workers)
		assert.Equal(t, defaultMaxWeeksOut, cfg.Scorer.MaxWeeksOut)
		assert.Equal(t, "deduplicated", cfg.Notify.Cadence)
		assert.Equal(t, "info", cfg.Environment.LogLevel)
	})

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad mode", func(c *Config) { c.Environment.Mode = "prod" }},
		{"no accounts", func(c *Config) { c.Accounts = nil }},
		{"no providers", func(c *Config) { c.Providers = nil }},
		{"tradier without key", func(c *Config) { c.Providers = []ProviderConfig{{Name: "tradier"}} }},
		{"unknown provider", func(c *Config) { c.Providers = []ProviderConfig{{Name: "bloomberg"}} }},
		{"live on mock", func(c *Config) { c.Environment.Mode = "live" }},
		{"bad profit threshold", func(c *Config) { c.Evaluator.ProfitThreshold = 1.5 }},
		{"earnings aware without symbols", func(c *Config) { c.Evaluator.EarningsAware = true }},
		{"bad cooldown", func(c *Config) { c.Notify.Cooldown = "soon" }},
		{"no channels", func(c *Config) { c.Notify.Console = false }},
		{"no storage path", func(c *Config) { c.Storage.Path = "" }},
		{"bad history port", func(c *Config) { c.History = HistoryConfig{Enabled: true, Port: -1} }},
		{"inverted market window", func(c *Config) {
			c.Schedule.MarketStart = "16:00"
			c.Schedule.MarketEnd = "09:30"
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestIsMarketHours(t *testing.T) {
	cfg := &Config{
		Schedule: ScheduleConfig{
			Timezone:    "America/New_York",
			MarketStart: "09:30",
			MarketEnd:   "16:00",
		},
	}
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// Friday mid-session.
	assert.True(t, cfg.IsMarketHours(time.Date(2026, 8, 28, 11, 0, 0, 0, ny)))
	// Friday pre-open.
	assert.False(t, cfg.IsMarketHours(time.Date(2026, 8, 28, 8, 0, 0, 0, ny)))
	// Saturday.
	assert.False(t, cfg.IsMarketHours(time.Date(2026, 8, 29, 11, 0, 0, 0, ny)))

	cfg.Schedule.AfterHours = true
	assert.True(t, cfg.IsMarketHours(time.Date(2026, 8, 29, 3, 0, 0, 0, ny)))
}
