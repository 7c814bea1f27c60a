// Package config defines the configuration for the arbitrage engine and
// provides the hot-reloadable threshold snapshot consumed by the scanning,
// risk, and position loops.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/arbd/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by ARBD_* environment variables.
type Config struct {
	Global   GlobalConfig   `toml:"global"`
	Risk     RiskConfig     `toml:"risk"`
	Strategy StrategyConfig `toml:"strategy"`
	Pairs    []PairOverride `toml:"pairs"`

	Exchanges []string       `toml:"exchanges"`
	Postgres  PostgresConfig `toml:"postgres"`
	Redis     RedisConfig    `toml:"redis"`
	S3        S3Config       `toml:"s3"`
	Notify    NotifyConfig   `toml:"notify"`
	Server    ServerConfig   `toml:"server"`

	LogLevel string `toml:"log_level"`
}

// GlobalConfig holds engine-wide parameters.
type GlobalConfig struct {
	ScanInterval    duration `toml:"scan_interval"`
	MonitorInterval duration `toml:"monitor_interval"`
	TotalCapital    float64  `toml:"total_capital"`
	MaxCapitalUsage float64  `toml:"max_capital_usage"`
	MaxPositions    int      `toml:"max_positions"`
	// LiquidityMultiple is the minimum ratio of resting depth to intended
	// size for a leg to pass the liquidity filter.
	LiquidityMultiple float64  `toml:"liquidity_multiple"`
	InboxCapacity     int      `toml:"inbox_capacity"`
	TradingEnabled    bool     `toml:"trading_enabled"`
	MaxCloseAttempts  int      `toml:"max_close_attempts"`
	LeaseTTL          duration `toml:"lease_ttl"`
}

// RiskConfig holds portfolio-level risk ceilings.
type RiskConfig struct {
	MaxTradeSize        float64 `toml:"max_trade_size"`
	MaxDrawdown         float64 `toml:"max_drawdown"`
	MaxExchangeExposure float64 `toml:"max_exchange_exposure"`
	// AllocationPct caps per-strategy capital as a fraction of total.
	AllocationPct     map[string]float64 `toml:"allocation_pct"`
	WarningThreshold  float64            `toml:"warning_threshold"`
	CriticalThreshold float64            `toml:"critical_threshold"`
}

// StrategyConfig groups the per-strategy defaults.
type StrategyConfig struct {
	CrossExchange CrossExchangeConfig `toml:"cross_exchange"`
	SpotFutures   SpotFuturesConfig   `toml:"spot_futures"`
	Basis         BasisConfig         `toml:"basis"`
	Directional   DirectionalConfig   `toml:"directional"`
}

// CrossExchangeConfig configures the cross-exchange funding strategy.
type CrossExchangeConfig struct {
	Enabled        bool    `toml:"enabled"`
	ExecutionMode  string  `toml:"execution_mode"`
	MinFundingDiff float64 `toml:"min_funding_diff"`
	MinProfitRate  float64 `toml:"min_profit_rate"`
	MaxPriceDiff   float64 `toml:"max_price_diff"`
	PositionSize   float64 `toml:"position_size"`
	// ReversalThreshold closes the position when the live rate
	// differential drops to or below it.
	ReversalThreshold float64 `toml:"reversal_threshold"`
	MaxHoldPeriods    int     `toml:"max_hold_periods"`
	MaxFundingPeriods int     `toml:"max_funding_periods"`
}

// SpotFuturesConfig configures the spot-futures funding strategy.
type SpotFuturesConfig struct {
	Enabled           bool    `toml:"enabled"`
	ExecutionMode     string  `toml:"execution_mode"`
	MinAnnualFunding  float64 `toml:"min_annual_funding"`
	MaxBasisDeviation float64 `toml:"max_basis_deviation"`
	PositionSize      float64 `toml:"position_size"`
	ReversalThreshold float64 `toml:"reversal_threshold"`
	MaxHoldPeriods    int     `toml:"max_hold_periods"`
	MaxFundingPeriods int     `toml:"max_funding_periods"`
}

// BasisConfig configures the basis-convergence strategy.
type BasisConfig struct {
	Enabled      bool    `toml:"enabled"`
	MinBasis     float64 `toml:"min_basis"`
	PositionSize float64 `toml:"position_size"`
	HoldPeriods  int     `toml:"hold_periods"`
	// CloseTarget exits when the live basis converges to or below it;
	// AbortThreshold exits when divergence widens past it.
	CloseTarget    float64 `toml:"close_target"`
	AbortThreshold float64 `toml:"abort_threshold"`
	MaxHoldPeriods int     `toml:"max_hold_periods"`
}

// DirectionalConfig configures the single-leg funding momentum strategy.
type DirectionalConfig struct {
	Enabled               bool    `toml:"enabled"`
	ExecutionMode         string  `toml:"execution_mode"`
	MinFundingRate        float64 `toml:"min_funding_rate"`
	PositionSize          float64 `toml:"position_size"`
	StopLossPct           float64 `toml:"stop_loss_pct"`
	ShortExitThreshold    float64 `toml:"short_exit_threshold"`
	LongExitThreshold     float64 `toml:"long_exit_threshold"`
	TrailingEnabled       bool    `toml:"trailing_enabled"`
	TrailingActivationPct float64 `toml:"trailing_activation_pct"`
	TrailingCallbackPct   float64 `toml:"trailing_callback_pct"`
}

// PairOverride overrides strategy parameters for one symbol, optionally
// scoped to a single exchange. Nil fields inherit the strategy default.
type PairOverride struct {
	Symbol   string `toml:"symbol"`
	Exchange string `toml:"exchange"`
	Strategy string `toml:"strategy"` // strategy kind string

	Enabled               *bool    `toml:"enabled"`
	ExecutionMode         *string  `toml:"execution_mode"`
	PositionSize          *float64 `toml:"position_size"`
	MinFundingDiff        *float64 `toml:"min_funding_diff"`
	MinAnnualFunding      *float64 `toml:"min_annual_funding"`
	MinBasis              *float64 `toml:"min_basis"`
	StopLossPct           *float64 `toml:"stop_loss_pct"`
	TrailingActivationPct *float64 `toml:"trailing_activation_pct"`
	TrailingCallbackPct   *float64 `toml:"trailing_callback_pct"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN          string `toml:"dsn"`
	PoolMaxConns int    `toml:"pool_max_conns"`
	PoolMinConns int    `toml:"pool_min_conns"`
	EnsureSchema bool   `toml:"ensure_schema"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
}

// S3Config holds object storage parameters for the position archiver.
type S3Config struct {
	Endpoint       string   `toml:"endpoint"`
	Region         string   `toml:"region"`
	Bucket         string   `toml:"bucket"`
	AccessKey      string   `toml:"access_key"`
	SecretKey      string   `toml:"secret_key"`
	ForcePathStyle bool     `toml:"force_path_style"`
	Interval       duration `toml:"interval"`
}

// NotifyConfig holds notification channel settings.
type NotifyConfig struct {
	Events         []string `toml:"events"`
	TelegramToken  string   `toml:"telegram_token"`
	TelegramChatID string   `toml:"telegram_chat_id"`
	DiscordWebhook string   `toml:"discord_webhook"`
}

// ServerConfig holds the feed server settings. An empty origin list allows
// any origin.
type ServerConfig struct {
	Enabled        bool     `toml:"enabled"`
	Addr           string   `toml:"addr"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

// Defaults returns a Config populated with the built-in defaults. The
// numeric thresholds mirror the values the system was tuned with.
func Defaults() Config {
	return Config{
		Global: GlobalConfig{
			ScanInterval:      duration{10 * time.Second},
			MonitorInterval:   duration{30 * time.Second},
			TotalCapital:      100_000,
			MaxCapitalUsage:   0.8,
			MaxPositions:      10,
			LiquidityMultiple: 2.0,
			InboxCapacity:     64,
			MaxCloseAttempts:  5,
			LeaseTTL:          duration{time.Hour},
		},
		Risk: RiskConfig{
			MaxTradeSize:        10_000,
			MaxDrawdown:         0.10,
			MaxExchangeExposure: 40_000,
			AllocationPct: map[string]float64{
				string(domain.KindCrossExchangeFunding): 0.4,
				string(domain.KindSpotFuturesFunding):   0.4,
				string(domain.KindBasisArbitrage):       0.2,
				string(domain.KindDirectionalFunding):   0.2,
			},
			WarningThreshold:  0.05,
			CriticalThreshold: 0.10,
		},
		Strategy: StrategyConfig{
			CrossExchange: CrossExchangeConfig{
				Enabled:           true,
				ExecutionMode:     "auto",
				MinFundingDiff:    0.0005,
				MinProfitRate:     0.0003,
				MaxPriceDiff:      0.02,
				PositionSize:      10_000,
				ReversalThreshold: 0,
				MaxHoldPeriods:    21,
				MaxFundingPeriods: 9,
			},
			SpotFutures: SpotFuturesConfig{
				Enabled:           true,
				ExecutionMode:     "auto",
				MinAnnualFunding:  0.05,
				MaxBasisDeviation: 0.01,
				PositionSize:      10_000,
				ReversalThreshold: 0,
				MaxHoldPeriods:    21,
				MaxFundingPeriods: 9,
			},
			Basis: BasisConfig{
				Enabled:        true,
				MinBasis:       0.02,
				PositionSize:   8_000,
				HoldPeriods:    3,
				CloseTarget:    0.002,
				AbortThreshold: 0.06,
				MaxHoldPeriods: 9,
			},
			Directional: DirectionalConfig{
				Enabled:               true,
				ExecutionMode:         "auto",
				MinFundingRate:        0.0001,
				PositionSize:          1_000,
				StopLossPct:           0.05,
				ShortExitThreshold:    0.0,
				LongExitThreshold:     0.0,
				TrailingEnabled:       true,
				TrailingActivationPct: 0.04,
				TrailingCallbackPct:   0.04,
			},
		},
		Postgres: PostgresConfig{
			PoolMaxConns: 8,
			PoolMinConns: 2,
			EnsureSchema: true,
		},
		Redis: RedisConfig{
			PoolSize:   8,
			MaxRetries: 3,
		},
		S3: S3Config{
			Region:   "us-east-1",
			Interval: duration{time.Hour},
		},
		Server: ServerConfig{
			Enabled: true,
			Addr:    ":8090",
		},
		LogLevel: "info",
	}
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	var problems []string

	if c.Global.ScanInterval.Duration <= 0 {
		problems = append(problems, "global.scan_interval must be positive")
	}
	if c.Global.MonitorInterval.Duration <= 0 {
		problems = append(problems, "global.monitor_interval must be positive")
	}
	if c.Global.TotalCapital <= 0 {
		problems = append(problems, "global.total_capital must be positive")
	}
	if c.Global.MaxCapitalUsage <= 0 || c.Global.MaxCapitalUsage > 1 {
		problems = append(problems, "global.max_capital_usage must be in (0,1]")
	}
	if c.Global.LiquidityMultiple <= 0 {
		problems = append(problems, "global.liquidity_multiple must be positive")
	}
	if c.Global.InboxCapacity <= 0 {
		problems = append(problems, "global.inbox_capacity must be positive")
	}
	if c.Global.MaxCloseAttempts <= 0 {
		problems = append(problems, "global.max_close_attempts must be positive")
	}
	if c.Risk.MaxTradeSize <= 0 {
		problems = append(problems, "risk.max_trade_size must be positive")
	}
	if c.Risk.MaxDrawdown <= 0 || c.Risk.MaxDrawdown >= 1 {
		problems = append(problems, "risk.max_drawdown must be in (0,1)")
	}
	for kind, pct := range c.Risk.AllocationPct {
		if !domain.StrategyKind(kind).Valid() {
			problems = append(problems, fmt.Sprintf("risk.allocation_pct: unknown strategy %q", kind))
		}
		if pct <= 0 || pct > 1 {
			problems = append(problems, fmt.Sprintf("risk.allocation_pct[%s] must be in (0,1]", kind))
		}
	}
	modes := map[string]string{
		"cross_exchange": c.Strategy.CrossExchange.ExecutionMode,
		"spot_futures":   c.Strategy.SpotFutures.ExecutionMode,
		"directional":    c.Strategy.Directional.ExecutionMode,
	}
	for name, mode := range modes {
		if mode != "auto" && mode != "manual" {
			problems = append(problems, fmt.Sprintf("strategy.%s.execution_mode must be auto or manual", name))
		}
	}
	if c.Strategy.Directional.TrailingEnabled {
		if c.Strategy.Directional.TrailingActivationPct <= 0 || c.Strategy.Directional.TrailingCallbackPct <= 0 {
			problems = append(problems, "strategy.directional trailing thresholds must be positive")
		}
	}
	for i, p := range c.Pairs {
		if p.Symbol == "" {
			problems = append(problems, fmt.Sprintf("pairs[%d]: symbol required", i))
		}
		if p.Strategy != "" && !domain.StrategyKind(p.Strategy).Valid() {
			problems = append(problems, fmt.Sprintf("pairs[%d]: unknown strategy %q", i, p.Strategy))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}
