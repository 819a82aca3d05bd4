// Package config loads, normalizes, and validates the engine's JSON
// configuration file, per spec.md §6's external interface. The wire format
// is JSON rather than the teacher's YAML because the spec mandates it
// verbatim; the load/normalize/validate staging and cross-field checks
// otherwise follow the teacher's internal/config pattern directly.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"
)

// MT5Config describes the broker bridge connection.
type MT5Config struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Login    string `json:"login"`
	Password string `json:"password"`
	Server   string `json:"server"`
}

// StrategyConfig selects and configures the StrategyRegistry.
type StrategyConfig struct {
	Type       string   `json:"type"` // single | dynamic
	Strategies []string `json:"strategies"`
}

// IndicatorConfig names one indicator and its parameters to compute each
// cycle.
type IndicatorConfig struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
}

// ExitConfig lists the ExitCoordinator's active strategies.
type ExitConfig struct {
	Strategies []string `json:"strategies"`
}

// AdaptiveDrawdownConfig overlays the built-in drawdown tier thresholds.
type AdaptiveDrawdownConfig struct {
	Levels      []float64 `json:"levels"`
	Multipliers []float64 `json:"multipliers"`
}

// AdaptiveAccountManagerConfig overlays account-phase thresholds and trade
// caps.
type AdaptiveAccountManagerConfig struct {
	Thresholds      []float64 `json:"thresholds"`
	MaxTradesPerDay []int     `json:"max_trades_per_day"`
}

// LiquidityTrapConfig configures the liquidity-trap veto gate.
type LiquidityTrapConfig struct {
	Enabled            bool    `json:"enabled"`
	MaxSpreadATRMult   float64 `json:"max_spread_atr_mult"`
	MinBookDepth       float64 `json:"min_book_depth"`
	MinVolumeThreshold float64 `json:"min_volume_threshold"`
	MaxGapThreshold    float64 `json:"max_gap_threshold"`
}

// RiskConfig bundles every gate threshold in the RiskEvaluator pipeline.
type RiskConfig struct {
	MaxDailyLoss           float64                      `json:"max_daily_loss"`
	MaxPositionSize        float64                      `json:"max_position_size"`
	MaxPositionsPerSymbol  int                          `json:"max_positions_per_symbol"`
	MaxTotalPositions      int                          `json:"max_total_positions"`
	EmergencyStopLossPct   float64                      `json:"emergency_stop_loss_pct"`
	SLBalanceThresholds    map[string]float64           `json:"sl_balance_thresholds"`
	AdaptiveDrawdown       AdaptiveDrawdownConfig       `json:"adaptive_drawdown"`
	AdaptiveAccountManager AdaptiveAccountManagerConfig `json:"adaptive_account_manager"`
	LiquidityTrapDetection LiquidityTrapConfig          `json:"liquidity_trap_detection"`
	// RecoveryThresholdPct is the drawdown percentage above which the engine
	// derives the account phase as recovery.
	RecoveryThresholdPct float64 `json:"recovery_threshold_pct"`
	// MarginLeverage feeds risk.SymbolMeta.MarginLeverage: the bridge's
	// /symbol endpoint reports no leverage, so the operator states the
	// account's leverage here. 0 disables the free-margin gate.
	MarginLeverage float64 `json:"margin_leverage"`
}

// AdoptionConfig configures TradeAdoption's stop synthesis for unmanaged
// positions.
type AdoptionConfig struct {
	UseATRBasedSLTP    bool          `json:"use_atr_based_sltp"`
	EmergencySLATRMult float64       `json:"emergency_sl_atr_mult"`
	EmergencyTPATRMult float64       `json:"emergency_tp_atr_mult"`
	EmergencySLPoints  float64       `json:"emergency_sl_points"`
	MaxAdoptAge        time.Duration `json:"max_adopt_age"`
}

// MetricsConfig names the metrics outputs and their cadence.
type MetricsConfig struct {
	CSVPath         string `json:"csv_path"`
	PrometheusPath  string `json:"prometheus_path"`
	IntervalSeconds int    `json:"interval_seconds"`
	HTTPPort        int    `json:"http_port,omitempty"`
}

// Config is the complete, validated engine configuration.
type Config struct {
	MT5                    MT5Config         `json:"mt5"`
	Symbol                 string            `json:"symbol"`
	Timeframe              string            `json:"timeframe"`
	PollIntervalSeconds    int               `json:"poll_interval_seconds"`
	MagicNumber            int64             `json:"magic_number"`
	Mindset                string            `json:"mindset"`
	Strategy               StrategyConfig    `json:"strategy"`
	Indicators             []IndicatorConfig `json:"indicators"`
	Exit                   ExitConfig        `json:"exit"`
	Risk                   RiskConfig        `json:"risk"`
	Adoption               AdoptionConfig    `json:"adoption"`
	WatchdogTimeoutSeconds int               `json:"watchdog_timeout_seconds"`
	Metrics                MetricsConfig     `json:"metrics"`
	DryRun                 bool              `json:"dry_run"`
	LogLevel               string            `json:"log_level"`
	LockFilePath           string            `json:"lock_file_path"`
	HealthPort             int               `json:"health_port"`
	StatePath              string            `json:"state_path"`
	TradeDBPath            string            `json:"trade_db_path"`
}

// Mindset presets, per spec.md §6.
const (
	MindsetConservative    = "conservative"
	MindsetBalanced        = "balanced"
	MindsetAggressive      = "aggressive"
	MindsetUltraAggressive = "ultra_aggressive"
)

// Load reads configPath, resolves FROM_ENV: substitutions, normalizes
// defaults and the mindset overlay, and validates the result.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		return nil, fmt.Errorf("config path is required")
	}
	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is an operator-supplied CLI flag
	if err != nil {
		return nil, fmt.Errorf("reading config file %q: %w", configPath, err)
	}

	var cfg Config
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config %q: %w", configPath, err)
	}

	resolveEnvRefs(reflect.ValueOf(&cfg))

	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// envPrefix is the sentinel marking a string field as an indirection into
// the process environment, per spec.md §6's "Environment overrides of the
// form FROM_ENV".
const envPrefix = "FROM_ENV:"

// resolveEnvRefs walks v (a pointer to a struct) and replaces every string
// field whose value starts with envPrefix with the named environment
// variable's value.
func resolveEnvRefs(v reflect.Value) {
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			f := v.Field(i)
			if !f.CanSet() {
				continue
			}
			resolveEnvRefsField(f)
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			resolveEnvRefsField(v.Index(i))
		}
	case reflect.Map:
		for _, key := range v.MapKeys() {
			val := v.MapIndex(key)
			if val.Kind() == reflect.String {
				if s, ok := resolvedEnvString(val.String()); ok {
					v.SetMapIndex(key, reflect.ValueOf(s))
				}
			}
		}
	}
}

func resolveEnvRefsField(f reflect.Value) {
	switch f.Kind() {
	case reflect.String:
		if f.CanSet() {
			if s, ok := resolvedEnvString(f.String()); ok {
				f.SetString(s)
			}
		}
	case reflect.Struct, reflect.Slice, reflect.Array, reflect.Map:
		resolveEnvRefs(f)
	case reflect.Ptr:
		if !f.IsNil() {
			resolveEnvRefs(f)
		}
	}
}

func resolvedEnvString(s string) (string, bool) {
	if !strings.HasPrefix(s, envPrefix) {
		return "", false
	}
	name := strings.TrimPrefix(s, envPrefix)
	return os.Getenv(name), true
}

// Normalize fills in every default named in spec.md §6 and applies the
// mindset preset overlay.
func (c *Config) Normalize() {
	if c.Timeframe == "" {
		c.Timeframe = "M15"
	}
	if c.PollIntervalSeconds == 0 {
		c.PollIntervalSeconds = 15
	}
	if c.Mindset == "" {
		c.Mindset = MindsetBalanced
	}
	if c.Strategy.Type == "" {
		c.Strategy.Type = "dynamic"
	}
	if c.WatchdogTimeoutSeconds == 0 {
		c.WatchdogTimeoutSeconds = 120
	}
	if c.Metrics.CSVPath == "" {
		c.Metrics.CSVPath = "observability/comprehensive_metrics.csv"
	}
	if c.Metrics.PrometheusPath == "" {
		c.Metrics.PrometheusPath = "observability/metrics.prom"
	}
	if c.Metrics.IntervalSeconds == 0 {
		c.Metrics.IntervalSeconds = 1
	}
	if c.Risk.MaxPositionsPerSymbol == 0 {
		c.Risk.MaxPositionsPerSymbol = 1
	}
	if c.Risk.MaxTotalPositions == 0 {
		c.Risk.MaxTotalPositions = 3
	}
	if c.Risk.RecoveryThresholdPct == 0 {
		c.Risk.RecoveryThresholdPct = 15
	}
	if c.Adoption.MaxAdoptAge == 0 {
		c.Adoption.MaxAdoptAge = 24 * time.Hour
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LockFilePath == "" {
		c.LockFilePath = "state/engine.pid"
	}
	if c.HealthPort == 0 {
		c.HealthPort = 8090
	}
	if c.StatePath == "" {
		c.StatePath = "state/snapshot.json"
	}
	if c.TradeDBPath == "" {
		c.TradeDBPath = "state/trades.db"
	}
	c.applyMindset()
}

// applyMindset scales the risk envelope by the selected preset, the way the
// teacher's Normalize applies fixed defaults before Validate's cross-field
// checks run.
func (c *Config) applyMindset() {
	var mult float64
	switch c.Mindset {
	case MindsetConservative:
		mult = 0.5
	case MindsetBalanced:
		mult = 1.0
	case MindsetAggressive:
		mult = 1.5
	case MindsetUltraAggressive:
		mult = 2.0
	default:
		mult = 1.0
	}
	if c.Risk.MaxDailyLoss == 0 {
		c.Risk.MaxDailyLoss = 5.0 * mult
	}
	if c.Risk.MaxPositionSize == 0 {
		c.Risk.MaxPositionSize = 1.0 * mult
	}
	if c.Risk.EmergencyStopLossPct == 0 {
		c.Risk.EmergencyStopLossPct = 10.0 * mult
	}
}

// Validate fails fast on any configuration that would make the engine
// behave unsafely or not at all.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.MT5.Host) == "" {
		return fmt.Errorf("mt5.host is required")
	}
	if c.MT5.Port <= 0 || c.MT5.Port > 65535 {
		return fmt.Errorf("mt5.port must be between 1 and 65535")
	}
	if strings.TrimSpace(c.Symbol) == "" {
		return fmt.Errorf("symbol is required")
	}
	if c.PollIntervalSeconds <= 0 {
		return fmt.Errorf("poll_interval_seconds must be > 0")
	}
	if c.MagicNumber <= 0 {
		return fmt.Errorf("magic_number must be > 0")
	}

	switch c.Mindset {
	case MindsetConservative, MindsetBalanced, MindsetAggressive, MindsetUltraAggressive:
	default:
		return fmt.Errorf("mindset must be one of conservative, balanced, aggressive, ultra_aggressive")
	}

	switch c.Strategy.Type {
	case "single", "dynamic":
	default:
		return fmt.Errorf("strategy.type must be 'single' or 'dynamic'")
	}
	if len(c.Strategy.Strategies) == 0 {
		return fmt.Errorf("strategy.strategies must name at least one strategy")
	}
	if c.Strategy.Type == "single" && len(c.Strategy.Strategies) != 1 {
		return fmt.Errorf("strategy.type 'single' requires exactly one entry in strategy.strategies")
	}

	if len(c.Exit.Strategies) == 0 {
		return fmt.Errorf("exit.strategies must name at least one exit strategy")
	}

	if c.Risk.MaxDailyLoss <= 0 {
		return fmt.Errorf("risk.max_daily_loss must be > 0")
	}
	if c.Risk.MaxPositionSize <= 0 {
		return fmt.Errorf("risk.max_position_size must be > 0")
	}
	if c.Risk.MaxPositionsPerSymbol <= 0 {
		return fmt.Errorf("risk.max_positions_per_symbol must be > 0")
	}
	if c.Risk.MaxTotalPositions < c.Risk.MaxPositionsPerSymbol {
		return fmt.Errorf("risk.max_total_positions must be >= risk.max_positions_per_symbol")
	}
	if len(c.Risk.AdaptiveDrawdown.Levels) != len(c.Risk.AdaptiveDrawdown.Multipliers) {
		return fmt.Errorf("risk.adaptive_drawdown.levels and multipliers must have matching length")
	}
	if len(c.Risk.AdaptiveAccountManager.Thresholds) != len(c.Risk.AdaptiveAccountManager.MaxTradesPerDay) {
		return fmt.Errorf("risk.adaptive_account_manager.thresholds and max_trades_per_day must have matching length")
	}

	if c.Adoption.MaxAdoptAge < 0 {
		return fmt.Errorf("adoption.max_adopt_age must be >= 0")
	}

	if c.WatchdogTimeoutSeconds <= 0 {
		return fmt.Errorf("watchdog_timeout_seconds must be > 0")
	}

	if c.Metrics.IntervalSeconds <= 0 {
		return fmt.Errorf("metrics.interval_seconds must be > 0")
	}
	if c.Metrics.HTTPPort < 0 || c.Metrics.HTTPPort > 65535 {
		return fmt.Errorf("metrics.http_port must be between 0 and 65535")
	}
	if c.HealthPort <= 0 || c.HealthPort > 65535 {
		return fmt.Errorf("health_port must be between 1 and 65535")
	}
	if strings.TrimSpace(c.LockFilePath) == "" {
		return fmt.Errorf("lock_file_path must not be empty")
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of: debug, info, warn, error")
	}

	return nil
}

// PollInterval returns the poll cadence as a time.Duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// WatchdogTimeout returns the watchdog kill threshold as a time.Duration.
func (c *Config) WatchdogTimeout() time.Duration {
	return time.Duration(c.WatchdogTimeoutSeconds) * time.Second
}

// MetricsInterval returns the metrics write cadence as a time.Duration.
func (c *Config) MetricsInterval() time.Duration {
	return time.Duration(c.Metrics.IntervalSeconds) * time.Second
}
