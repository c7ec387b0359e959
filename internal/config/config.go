// Package config provides configuration management for the advisor.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

const (
	// defaultCooldown is used when notify.cooldown is unset.
	defaultCooldown = "4h"
	// defaultReconcileWindow is used when reconcile.window is unset.
	defaultReconcileWindow = "48h"
	// defaultWorkers bounds the evaluation pool when evaluator.workers is unset.
	defaultWorkers = 4
	// defaultMaxWeeksOut is used when scorer.max_weeks_out is unset.
	defaultMaxWeeksOut = 4
	// defaultMaxDebit is used when scorer.max_debit is unset.
	defaultMaxDebit = 0.50
	// defaultProfitThreshold is used when evaluator.profit_threshold is unset.
	defaultProfitThreshold = 0.50
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Accounts    []string          `yaml:"accounts"`
	Providers   []ProviderConfig  `yaml:"providers"`
	Evaluator   EvaluatorConfig   `yaml:"evaluator"`
	Scorer      ScorerConfig      `yaml:"scorer"`
	Notify      NotifyConfig      `yaml:"notify"`
	Reconcile   ReconcileConfig   `yaml:"reconcile"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Storage     StorageConfig     `yaml:"storage"`
	History     HistoryConfig     `yaml:"history"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // paper | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// ProviderConfig defines one quote/chain provider, in priority order.
type ProviderConfig struct {
	Name        string `yaml:"name"` // tradier | mock
	APIKey      string `yaml:"api_key"`
	APIEndpoint string `yaml:"api_endpoint"`
	Sandbox     bool   `yaml:"sandbox"`
	// RatePerMinute caps outbound calls; zero means the provider default.
	RatePerMinute int `yaml:"rate_per_minute"`
}

// EvaluatorConfig defines per-position evaluation parameters.
type EvaluatorConfig struct {
	Workers int `yaml:"workers"`
	// ProfitThreshold is the captured-profit fraction that makes an early
	// close medium urgency.
	ProfitThreshold float64 `yaml:"profit_threshold"`
	// EarningsAware lowers the profit threshold in earnings weeks.
	EarningsAware bool `yaml:"earnings_aware"`
	// EarningsSymbols lists the tickers treated as having earnings this
	// week when EarningsAware is on.
	EarningsSymbols []string `yaml:"earnings_symbols"`
	// RollDTEThreshold is the days-to-expiration at or below which weekly
	// roll evaluation kicks in.
	RollDTEThreshold int `yaml:"roll_dte_threshold"`
}

// ScorerConfig defines roll candidate scoring parameters.
type ScorerConfig struct {
	MaxWeeksOut int     `yaml:"max_weeks_out"`
	MaxDebit    float64 `yaml:"max_debit"`
}

// NotifyConfig defines notification channels and policy.
type NotifyConfig struct {
	// Cadence selects which cadences dispatch: continuous, deduplicated, both.
	Cadence  string         `yaml:"cadence"`
	Cooldown string         `yaml:"cooldown"`
	Telegram TelegramParams `yaml:"telegram"`
	Webhook  string         `yaml:"webhook_url"`
	Console  bool           `yaml:"console"`
}

// TelegramParams configures the Telegram channel; empty disables it.
type TelegramParams struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// ReconcileConfig defines trade matching parameters.
type ReconcileConfig struct {
	Window          string  `yaml:"window"`
	StrikeTolerance float64 `yaml:"strike_tolerance"`
}

// ScheduleConfig defines cycle cadences and market hours.
type ScheduleConfig struct {
	// EvaluateCron and ReconcileCron are cron expressions.
	EvaluateCron  string `yaml:"evaluate_cron"`
	ReconcileCron string `yaml:"reconcile_cron"`
	Timezone      string `yaml:"timezone"`     // e.g., "America/New_York"
	MarketStart   string `yaml:"market_start"` // "HH:MM"
	MarketEnd     string `yaml:"market_end"`   // "HH:MM"
	AfterHours    bool   `yaml:"after_hours"`  // evaluate outside market hours too
}

// StorageConfig defines the sqlite database location.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// HistoryConfig defines the history HTTP API.
type HistoryConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate checks that all configuration values are valid and consistent,
// normalizing defaults first.
func (c *Config) Validate() error {
	c.normalize()

	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}

	if len(c.Accounts) == 0 {
		return fmt.Errorf("at least one account is required")
	}

	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider is required")
	}
	for i, p := range c.Providers {
		switch p.Name {
		case "tradier":
			if p.APIKey == "" {
				return fmt.Errorf("providers[%d]: tradier requires api_key", i)
			}
		case "mock":
		default:
			return fmt.Errorf("providers[%d]: unknown provider %q", i, p.Name)
		}
		if p.RatePerMinute < 0 {
			return fmt.Errorf("providers[%d]: rate_per_minute must be >= 0", i)
		}
	}
	if c.Environment.Mode == "live" && c.Providers[0].Name == "mock" {
		return fmt.Errorf("live mode cannot run on the mock provider")
	}

	if c.Evaluator.Workers <= 0 {
		return fmt.Errorf("evaluator.workers must be > 0")
	}
	if c.Evaluator.ProfitThreshold <= 0 || c.Evaluator.ProfitThreshold >= 1 {
		return fmt.Errorf("evaluator.profit_threshold must be in (0,1)")
	}
	if c.Evaluator.RollDTEThreshold < 0 {
		return fmt.Errorf("evaluator.roll_dte_threshold must be >= 0")
	}
	if c.Evaluator.EarningsAware && len(c.Evaluator.EarningsSymbols) == 0 {
		return fmt.Errorf("evaluator.earnings_aware requires earnings_symbols")
	}

	if c.Scorer.MaxWeeksOut <= 0 {
		return fmt.Errorf("scorer.max_weeks_out must be > 0")
	}
	if c.Scorer.MaxDebit <= 0 {
		return fmt.Errorf("scorer.max_debit must be > 0")
	}

	switch c.Notify.Cadence {
	case "continuous", "deduplicated", "both":
	default:
		return fmt.Errorf("notify.cadence must be continuous, deduplicated or both")
	}
	if _, err := time.ParseDuration(c.Notify.Cooldown); err != nil {
		return fmt.Errorf("notify.cooldown invalid: %w", err)
	}
	if !c.Notify.Console && c.Notify.Webhook == "" && c.Notify.Telegram.BotToken == "" {
		return fmt.Errorf("notify: at least one channel must be configured")
	}

	if _, err := time.ParseDuration(c.Reconcile.Window); err != nil {
		return fmt.Errorf("reconcile.window invalid: %w", err)
	}
	if c.Reconcile.StrikeTolerance < 0 {
		return fmt.Errorf("reconcile.strike_tolerance must be >= 0")
	}

	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}

	if c.History.Enabled && (c.History.Port <= 0 || c.History.Port > 65535) {
		return fmt.Errorf("history.port must be a valid port")
	}

	loc := c.Location()
	s, err1 := time.ParseInLocation("15:04", c.Schedule.MarketStart, loc)
	e, err2 := time.ParseInLocation("15:04", c.Schedule.MarketEnd, loc)
	if err1 != nil || err2 != nil || (s.Hour() > e.Hour() || (s.Hour() == e.Hour() && s.Minute() >= e.Minute())) {
		return fmt.Errorf("schedule market window invalid (start/end parse/order)")
	}

	return nil
}

func (c *Config) normalize() {
	if c.Environment.LogLevel == "" {
		c.Environment.LogLevel = "info"
	}
	if c.Evaluator.Workers == 0 {
		c.Evaluator.Workers = defaultWorkers
	}
	if c.Evaluator.ProfitThreshold == 0 {
		c.Evaluator.ProfitThreshold = defaultProfitThreshold
	}
	if c.Scorer.MaxWeeksOut == 0 {
		c.Scorer.MaxWeeksOut = defaultMaxWeeksOut
	}
	if c.Scorer.MaxDebit == 0 {
		c.Scorer.MaxDebit = defaultMaxDebit
	}
	if c.Notify.Cadence == "" {
		c.Notify.Cadence = "deduplicated"
	}
	if c.Notify.Cooldown == "" {
		c.Notify.Cooldown = defaultCooldown
	}
	if c.Reconcile.Window == "" {
		c.Reconcile.Window = defaultReconcileWindow
	}
	if c.Schedule.EvaluateCron == "" {
		c.Schedule.EvaluateCron = "*/30 9-16 * * 1-5"
	}
	if c.Schedule.ReconcileCron == "" {
		c.Schedule.ReconcileCron = "5 17 * * 1-5"
	}
	if c.Schedule.MarketStart == "" {
		c.Schedule.MarketStart = "09:30"
	}
	if c.Schedule.MarketEnd == "" {
		c.Schedule.MarketEnd = "16:00"
	}
}

// IsPaper returns true if the advisor runs in paper mode.
func (c *Config) IsPaper() bool {
	return c.Environment.Mode == "paper"
}

// Cooldown returns the parsed notify cooldown.
func (c *Config) Cooldown() time.Duration {
	d, err := time.ParseDuration(c.Notify.Cooldown)
	if err != nil {
		return 4 * time.Hour
	}
	return d
}

// ReconcileWindow returns the parsed reconcile window.
func (c *Config) ReconcileWindow() time.Duration {
	d, err := time.ParseDuration(c.Reconcile.Window)
	if err != nil {
		return 48 * time.Hour
	}
	return d
}

// Location resolves the configured timezone, falling back to US Eastern.
func (c *Config) Location() *time.Location {
	tz := c.Schedule.Timezone
	if tz == "" {
		tz = "America/New_York"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		// Fallback for minimal containers
		return time.FixedZone("ET", -5*60*60)
	}
	return loc
}

// IsMarketHours checks whether now falls inside the configured market window
// on a weekday. After-hours mode always evaluates.
func (c *Config) IsMarketHours(now time.Time) bool {
	if c.Schedule.AfterHours {
		return true
	}
	loc := c.Location()
	today := now.In(loc)

	if today.Weekday() == time.Saturday || today.Weekday() == time.Sunday {
		return false
	}

	start, err1 := time.ParseInLocation("15:04", c.Schedule.MarketStart, loc)
	end, err2 := time.ParseInLocation("15:04", c.Schedule.MarketEnd, loc)
	if err1 != nil || err2 != nil {
		return true
	}

	minutes := today.Hour()*60 + today.Minute()
	return minutes >= start.Hour()*60+start.Minute() &&
		minutes < end.Hour()*60+end.Minute()
}
