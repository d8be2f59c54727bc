// Package config handles configuration management with validation
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"hedged_mm/internal/core"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Run modes selecting which loops the process starts.
const (
	ModeAll   = "all"
	ModeMaker = "maker"
	ModeHedge = "hedge"
)

// Config represents the complete configuration structure
type Config struct {
	App         AppConfig         `yaml:"app"`
	Venues      VenuesConfig      `yaml:"venues"`
	Trading     TradingConfig     `yaml:"trading"`
	Hedge       HedgeConfig       `yaml:"hedge"`
	System      SystemConfig      `yaml:"system"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Alert       AlertConfig       `yaml:"alert"`
	Journal     JournalConfig     `yaml:"journal"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Mode string `yaml:"mode"`
}

// VenuesConfig holds both venue connections
type VenuesConfig struct {
	Primary   PrimaryVenueConfig   `yaml:"primary"`
	Secondary SecondaryVenueConfig `yaml:"secondary"`
}

// PrimaryVenueConfig is the quoting venue
type PrimaryVenueConfig struct {
	APIKey     Secret `yaml:"api_key"`
	SecretKey  Secret `yaml:"secret_key"`
	BaseURL    string `yaml:"base_url"`
	WSURL      string `yaml:"ws_url"`
	Quote      string `yaml:"quote"`
	MarketType string `yaml:"market_type"`
	WindowMs   int    `yaml:"window_ms"`
}

// SecondaryVenueConfig is the hedging venue
type SecondaryVenueConfig struct {
	BaseURL      string          `yaml:"base_url"`
	AccountIndex int64           `yaml:"account_index"`
	APIKeyIndex  int             `yaml:"api_key_index"`
	SignerURL    string          `yaml:"signer_url"`
	MaxSlippage  decimal.Decimal `yaml:"max_slippage"`
}

// TradingConfig contains the maker parameters
type TradingConfig struct {
	Ticker           string          `yaml:"ticker"`
	Quantity         decimal.Decimal `yaml:"quantity"`
	MaxPositionCount decimal.Decimal `yaml:"max_position_count"`
	MaxOrders        int             `yaml:"max_orders"`
	BaseMultiple     decimal.Decimal `yaml:"base_multiple"`
	WaitTime         time.Duration   `yaml:"wait_time"`
	StatusInterval   time.Duration   `yaml:"status_interval"`
}

// HedgeConfig contains the hedger parameters
type HedgeConfig struct {
	Interval              time.Duration   `yaml:"interval"`
	MinActionQuantity     decimal.Decimal `yaml:"min_action_quantity"`
	SkipOnPartialSnapshot *bool           `yaml:"skip_on_partial_snapshot"`
}

// SkipOnPartial reports whether a cycle with one venue's positions missing is skipped. Defaults to true.
func (h HedgeConfig) SkipOnPartial() bool {
	return h.SkipOnPartialSnapshot == nil || *h.SkipOnPartialSnapshot
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel      string `yaml:"log_level"`
	LogFile       string `yaml:"log_file"`
	LogMaxSizeMB  int    `yaml:"log_max_size_mb"`
	LogMaxBackups int    `yaml:"log_max_backups"`
	CancelOnExit  *bool  `yaml:"cancel_on_exit"`
}

// CancelsOnExit reports whether resting quotes are swept when the maker stops. Defaults to true.
func (s SystemConfig) CancelsOnExit() bool {
	return s.CancelOnExit == nil || *s.CancelOnExit
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	EnableMetrics bool `yaml:"enable_metrics"`
	MetricsPort   int  `yaml:"metrics_port"`
}

// AlertConfig lists the notification channels; empty values disable a channel.
type AlertConfig struct {
	SlackWebhook     Secret `yaml:"slack_webhook"`
	TelegramBotToken Secret `yaml:"telegram_bot_token"`
	TelegramChatID   string `yaml:"telegram_chat_id"`
}

// JournalConfig controls the execution audit journal
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// ConcurrencyConfig contains worker pool settings
type ConcurrencyConfig struct {
	AlertPoolSize   int `yaml:"alert_pool_size"`
	AlertPoolBuffer int `yaml:"alert_pool_buffer"`
}

// RateLimitConfig paces order traffic to the primary venue
type RateLimitConfig struct {
	OrdersPerSecond float64 `yaml:"orders_per_second"`
	Burst           int     `yaml:"burst"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the environment.
// Missing files are ignored; variables already set are not overridden.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// LoadConfigForMode is LoadConfig with app.mode replaced before validation,
// so a maker-only run does not require hedger credentials. An empty mode keeps the file's.
func LoadConfigForMode(filename, mode string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return parse(data, mode)
}

// Parse decodes, defaults and validates a YAML document.
func Parse(data []byte) (*Config, error) {
	return parse(data, "")
}

func parse(data []byte, mode string) (*Config, error) {
	expandedData := expandEnvVars(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if mode != "" {
		config.App.Mode = mode
	}

	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// ApplyDefaults fills every unset optional field.
func (c *Config) ApplyDefaults() {
	if c.App.Mode == "" {
		c.App.Mode = ModeAll
	}
	c.App.Mode = strings.ToLower(c.App.Mode)

	p := &c.Venues.Primary
	if p.Quote == "" {
		p.Quote = "USDC"
	}
	if p.MarketType == "" {
		p.MarketType = "PERP"
	}
	if p.WindowMs == 0 {
		p.WindowMs = 5000
	}

	s := &c.Venues.Secondary
	if s.MaxSlippage.IsZero() {
		s.MaxSlippage = decimal.RequireFromString("0.1")
	}

	t := &c.Trading
	if t.MaxOrders == 0 {
		t.MaxOrders = 1
	}
	if t.BaseMultiple.IsZero() {
		t.BaseMultiple = decimal.NewFromInt(2)
	}
	if t.WaitTime == 0 {
		t.WaitTime = 2950 * time.Millisecond
	}
	if t.StatusInterval == 0 {
		t.StatusInterval = time.Minute
	}

	h := &c.Hedge
	if h.Interval == 0 {
		h.Interval = 5 * time.Second
	}
	if h.MinActionQuantity.IsZero() {
		h.MinActionQuantity = decimal.RequireFromString("0.001")
	}

	if c.System.LogLevel == "" {
		c.System.LogLevel = "INFO"
	}
	if c.System.LogMaxSizeMB == 0 {
		c.System.LogMaxSizeMB = 100
	}
	if c.System.LogMaxBackups == 0 {
		c.System.LogMaxBackups = 3
	}

	if c.Telemetry.MetricsPort == 0 {
		c.Telemetry.MetricsPort = 9090
	}
	if c.Journal.Path == "" {
		c.Journal.Path = "hedged_mm.db"
	}
	if c.Concurrency.AlertPoolSize == 0 {
		c.Concurrency.AlertPoolSize = 2
	}
	if c.Concurrency.AlertPoolBuffer == 0 {
		c.Concurrency.AlertPoolBuffer = 100
	}
	if c.RateLimit.OrdersPerSecond == 0 {
		c.RateLimit.OrdersPerSecond = 25
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 30
	}
}

// Validate performs comprehensive validation of the configuration.
// Every violation is reported; the result unwraps to the individual ValidationErrors.
func (c *Config) Validate() error {
	var errs []error
	errs = append(errs, c.validateAppConfig()...)
	errs = append(errs, c.validateVenues()...)
	errs = append(errs, c.validateTradingConfig()...)
	errs = append(errs, c.validateHedgeConfig()...)
	errs = append(errs, c.validateSystemConfig()...)
	errs = append(errs, c.validateAuxiliary()...)
	return errors.Join(errs...)
}

// RunsMaker reports whether the maker loop is enabled.
func (c *Config) RunsMaker() bool {
	return c.App.Mode == ModeAll || c.App.Mode == ModeMaker
}

// RunsHedger reports whether the hedger loop is enabled.
func (c *Config) RunsHedger() bool {
	return c.App.Mode == ModeAll || c.App.Mode == ModeHedge
}

func (c *Config) validateAppConfig() []error {
	validModes := []string{ModeAll, ModeMaker, ModeHedge}
	if !contains(validModes, c.App.Mode) {
		return []error{ValidationError{
			Field:   "app.mode",
			Value:   c.App.Mode,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validModes, ", ")),
		}}
	}
	return nil
}

func (c *Config) validateVenues() []error {
	var errs []error
	p := c.Venues.Primary
	if !p.APIKey.IsSet() {
		errs = append(errs, ValidationError{Field: "venues.primary.api_key", Message: "API key is required"})
	}
	if !p.SecretKey.IsSet() {
		errs = append(errs, ValidationError{Field: "venues.primary.secret_key", Message: "secret key is required"})
	}
	if p.WindowMs < 0 || p.WindowMs > 60000 {
		errs = append(errs, ValidationError{Field: "venues.primary.window_ms", Value: p.WindowMs, Message: "must be within 0..60000"})
	}

	if c.RunsHedger() {
		s := c.Venues.Secondary
		if s.SignerURL == "" {
			errs = append(errs, ValidationError{Field: "venues.secondary.signer_url", Message: "signer URL is required when hedging"})
		}
		if s.AccountIndex < 0 {
			errs = append(errs, ValidationError{Field: "venues.secondary.account_index", Value: s.AccountIndex, Message: "must be >= 0"})
		}
		if !s.MaxSlippage.IsPositive() || s.MaxSlippage.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			errs = append(errs, ValidationError{Field: "venues.secondary.max_slippage", Value: s.MaxSlippage, Message: "must be in (0, 1)"})
		}
	}
	return errs
}

func (c *Config) validateTradingConfig() []error {
	if !c.RunsMaker() {
		return nil
	}

	var errs []error
	t := c.Trading
	if t.Ticker == "" {
		errs = append(errs, ValidationError{Field: "trading.ticker", Message: "ticker is required"})
	}
	if !t.Quantity.IsPositive() {
		errs = append(errs, ValidationError{Field: "trading.quantity", Value: t.Quantity, Message: "order quantity must be positive"})
	}
	if !t.MaxPositionCount.IsPositive() {
		errs = append(errs, ValidationError{Field: "trading.max_position_count", Value: t.MaxPositionCount, Message: "must be positive"})
	}
	if t.MaxOrders < 1 {
		errs = append(errs, ValidationError{Field: "trading.max_orders", Value: t.MaxOrders, Message: "must be at least 1"})
	}
	if !t.BaseMultiple.IsPositive() {
		errs = append(errs, ValidationError{Field: "trading.base_multiple", Value: t.BaseMultiple, Message: "must be positive"})
	}
	if t.WaitTime < 0 {
		errs = append(errs, ValidationError{Field: "trading.wait_time", Value: t.WaitTime, Message: "must not be negative"})
	}
	return errs
}

func (c *Config) validateHedgeConfig() []error {
	if !c.RunsHedger() {
		return nil
	}

	var errs []error
	if c.Hedge.Interval <= 0 {
		errs = append(errs, ValidationError{Field: "hedge.interval", Value: c.Hedge.Interval, Message: "must be positive"})
	}
	if c.Hedge.MinActionQuantity.IsNegative() {
		errs = append(errs, ValidationError{Field: "hedge.min_action_quantity", Value: c.Hedge.MinActionQuantity, Message: "must not be negative"})
	}
	return errs
}

func (c *Config) validateSystemConfig() []error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return []error{ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}}
	}
	return nil
}

func (c *Config) validateAuxiliary() []error {
	var errs []error
	if c.Telemetry.EnableMetrics && (c.Telemetry.MetricsPort < 1 || c.Telemetry.MetricsPort > 65535) {
		errs = append(errs, ValidationError{Field: "telemetry.metrics_port", Value: c.Telemetry.MetricsPort, Message: "must be a valid TCP port"})
	}
	if c.Alert.TelegramBotToken.IsSet() == (c.Alert.TelegramChatID == "") {
		errs = append(errs, ValidationError{Field: "alert.telegram_chat_id", Message: "telegram bot token and chat id must be set together"})
	}
	if c.Concurrency.AlertPoolSize < 1 || c.Concurrency.AlertPoolBuffer < 1 {
		errs = append(errs, ValidationError{Field: "concurrency", Message: "alert pool size and buffer must be positive"})
	}
	if c.RateLimit.OrdersPerSecond <= 0 || c.RateLimit.Burst < 1 {
		errs = append(errs, ValidationError{Field: "rate_limit", Message: "orders_per_second and burst must be positive"})
	}
	return errs
}

// TradingParams converts the trading section into the maker's parameter set.
// Contract attributes are resolved later from the venue.
func (c *Config) TradingParams() core.TradingConfig {
	return core.TradingConfig{
		Ticker:         strings.ToUpper(c.Trading.Ticker),
		Quantity:       c.Trading.Quantity,
		MaxPosition:    c.Trading.MaxPositionCount,
		MaxOrders:      c.Trading.MaxOrders,
		BaseMultiple:   c.Trading.BaseMultiple,
		WaitTime:       c.Trading.WaitTime,
		StatusInterval: c.Trading.StatusInterval,
	}
}

// String returns a YAML rendering with secrets redacted
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
