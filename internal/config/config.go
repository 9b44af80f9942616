// Package config handles configuration loading and validation for the
// hedge-grid engine: one YAML document, environment-variable expansion for
// secrets, and fail-fast validation before any exchange session opens.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the complete run configuration: two exchange accounts (one
// drives the LONG-only grid, one the SHORT-only grid), the shared symbol
// and volatility-channel parameters, and the risk thresholds the
// SyncController polls against.
type Config struct {
	Long   AccountConfig `yaml:"long"`
	Short  AccountConfig `yaml:"short"`
	Symbol SymbolConfig  `yaml:"symbol"`
	Grid   GridConfig    `yaml:"grid"`
	Risk   RiskConfig    `yaml:"risk"`
	System SystemConfig  `yaml:"system"`
}

// AccountConfig is one exchange account's credentials.
type AccountConfig struct {
	APIKey    Secret `yaml:"api_key" validate:"required"`
	APISecret Secret `yaml:"api_secret" validate:"required"`
	BaseURL   string `yaml:"base_url"`
}

// SymbolConfig names the traded instrument and its volatility channel.
type SymbolConfig struct {
	Symbol    string `yaml:"symbol" validate:"required"`
	QuoteAsset string `yaml:"quote_asset" validate:"required"`

	ATRLength    int             `yaml:"atr_length"`
	ATRMultiplier decimal.Decimal `yaml:"atr_multiplier"`
	ATRTimeframe string          `yaml:"atr_timeframe"`
	ATRLookback  int             `yaml:"atr_lookback"`
}

// GridConfig holds the SharedGridEngine and GridExecutor admission-policy
// parameters (spec §6).
type GridConfig struct {
	SpacingMultiplier    decimal.Decimal `yaml:"spacing_multiplier"`
	MaxOpenOrders        int             `yaml:"max_open_orders"`
	MaxOrdersPerBatch    int             `yaml:"max_orders_per_batch"`
	OrderFrequencySeconds float64        `yaml:"order_frequency_s"`
	ActivationBoundsPct  decimal.Decimal `yaml:"activation_bounds_pct"`
	UpperLowerRatio      decimal.Decimal `yaml:"upper_lower_ratio"`
	SafetyFactor         decimal.Decimal `yaml:"safety_factor"`
	MaxLeverageLimit     int             `yaml:"max_leverage_limit"`
	UtilizationRatio     decimal.Decimal `yaml:"utilization_ratio"`
	OrderTimeoutSeconds  int             `yaml:"order_timeout_s"`
}

// RiskConfig holds the SyncController's polling cadence and breach
// thresholds (spec §6, §4.6).
type RiskConfig struct {
	RiskCheckIntervalSeconds float64         `yaml:"risk_check_interval_s"`
	MaxMarginRatio           decimal.Decimal `yaml:"max_margin_ratio"`
	MaxDrawdownPct           decimal.Decimal `yaml:"max_drawdown_pct"`
	BalanceTolerancePct      decimal.Decimal `yaml:"balance_tolerance_pct"`
	ForceFlattenOnStart      bool            `yaml:"force_flatten_on_start"`
	ResetOnChannelBreakout   bool            `yaml:"reset_on_channel_breakout"`
}

// SystemConfig holds ambient settings that aren't part of the trading
// domain proper.
type SystemConfig struct {
	LogLevel    string `yaml:"log_level"`
	MetricsPort int    `yaml:"metrics_port"`
	// EventLogPath, if set, turns on the append-only JSON-lines audit sink
	// (internal/eventlog). Empty disables it; this is optional, never read
	// back on restart (spec §6).
	EventLogPath string `yaml:"event_log_path"`
}

// ValidationError reports one invalid configuration field.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// Load reads, expands and validates a YAML config file, filling in the
// spec's documented defaults for anything left zero-valued.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate performs field-level validation. Every failure is collected so
// an operator sees the whole list of problems in one pass, not one at a time.
func (c *Config) Validate() error {
	var errs []string

	if c.Long.APIKey == "" || c.Long.APISecret == "" {
		errs = append(errs, "long: api_key and api_secret are required")
	}
	if c.Short.APIKey == "" || c.Short.APISecret == "" {
		errs = append(errs, "short: api_key and api_secret are required")
	}
	if c.Symbol.Symbol == "" {
		errs = append(errs, ValidationError{Field: "symbol.symbol", Message: "required"}.Error())
	}
	if c.Symbol.QuoteAsset == "" {
		errs = append(errs, ValidationError{Field: "symbol.quote_asset", Message: "required"}.Error())
	}
	if c.Symbol.ATRLength < 1 {
		errs = append(errs, ValidationError{Field: "symbol.atr_length", Value: c.Symbol.ATRLength, Message: "must be >= 1"}.Error())
	}
	if c.Symbol.ATRLookback < 1 {
		errs = append(errs, ValidationError{Field: "symbol.atr_lookback", Value: c.Symbol.ATRLookback, Message: "must be >= 1"}.Error())
	}
	if c.Grid.MaxOpenOrders < 0 {
		errs = append(errs, ValidationError{Field: "grid.max_open_orders", Value: c.Grid.MaxOpenOrders, Message: "must be >= 0"}.Error())
	}
	if c.Grid.UpperLowerRatio.LessThan(decimal.Zero) || c.Grid.UpperLowerRatio.GreaterThan(decimal.NewFromInt(1)) {
		errs = append(errs, ValidationError{Field: "grid.upper_lower_ratio", Value: c.Grid.UpperLowerRatio, Message: "must be in [0,1]"}.Error())
	}
	if c.Grid.MaxLeverageLimit < 1 {
		errs = append(errs, ValidationError{Field: "grid.max_leverage_limit", Value: c.Grid.MaxLeverageLimit, Message: "must be >= 1"}.Error())
	}
	if !contains([]string{"DEBUG", "INFO", "WARN", "ERROR"}, strings.ToUpper(c.System.LogLevel)) {
		errs = append(errs, ValidationError{Field: "system.log_level", Value: c.System.LogLevel, Message: "must be one of DEBUG, INFO, WARN, ERROR"}.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}

// String renders the config with both API secrets redacted.
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

// Default returns the spec's documented defaults (§6); Load unmarshals the
// YAML document on top of this so the file only needs to override what it
// changes.
func Default() *Config {
	return &Config{
		Symbol: SymbolConfig{
			ATRLength:     14,
			ATRMultiplier: decimal.NewFromFloat(2.0),
			ATRTimeframe:  "1h",
			ATRLookback:   20,
		},
		Grid: GridConfig{
			SpacingMultiplier:     decimal.NewFromFloat(0.26),
			MaxOpenOrders:         4,
			MaxOrdersPerBatch:     2,
			OrderFrequencySeconds: 3.0,
			ActivationBoundsPct:   decimal.NewFromFloat(0.05),
			UpperLowerRatio:       decimal.NewFromFloat(0.5),
			SafetyFactor:          decimal.NewFromFloat(0.8),
			MaxLeverageLimit:      20,
			UtilizationRatio:      decimal.NewFromFloat(0.8),
			OrderTimeoutSeconds:   600,
		},
		Risk: RiskConfig{
			RiskCheckIntervalSeconds: 1.0,
			MaxMarginRatio:           decimal.NewFromFloat(0.8),
			MaxDrawdownPct:           decimal.NewFromFloat(0.15),
			BalanceTolerancePct:      decimal.NewFromFloat(0.05),
			ForceFlattenOnStart:      false,
			ResetOnChannelBreakout:   false,
		},
		System: SystemConfig{
			LogLevel:    "INFO",
			MetricsPort: 9090,
		},
	}
}
