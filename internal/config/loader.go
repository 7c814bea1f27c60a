package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ARBD_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ARBD_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Global ──
	setDuration(&cfg.Global.ScanInterval, "ARBD_SCAN_INTERVAL")
	setDuration(&cfg.Global.MonitorInterval, "ARBD_MONITOR_INTERVAL")
	setFloat64(&cfg.Global.TotalCapital, "ARBD_TOTAL_CAPITAL")
	setBool(&cfg.Global.TradingEnabled, "ARBD_TRADING_ENABLED")

	// ── Risk ──
	setFloat64(&cfg.Risk.MaxTradeSize, "ARBD_RISK_MAX_TRADE_SIZE")
	setFloat64(&cfg.Risk.MaxDrawdown, "ARBD_RISK_MAX_DRAWDOWN")
	setFloat64(&cfg.Risk.MaxExchangeExposure, "ARBD_RISK_MAX_EXCHANGE_EXPOSURE")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "ARBD_POSTGRES_DSN")
	setInt(&cfg.Postgres.PoolMaxConns, "ARBD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ARBD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.EnsureSchema, "ARBD_POSTGRES_ENSURE_SCHEMA")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "ARBD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ARBD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARBD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ARBD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ARBD_REDIS_MAX_RETRIES")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "ARBD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ARBD_S3_REGION")
	setStr(&cfg.S3.Bucket, "ARBD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ARBD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ARBD_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "ARBD_S3_FORCE_PATH_STYLE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ARBD_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ARBD_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhook, "ARBD_DISCORD_WEBHOOK")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "ARBD_SERVER_ENABLED")
	setStr(&cfg.Server.Addr, "ARBD_SERVER_ADDR")

	// ── Logging ──
	setStr(&cfg.LogLevel, "ARBD_LOG_LEVEL")
}

func setStr(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func setInt(dst *int, env string) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, env string) {
	if v := os.Getenv(env); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, env string) {
	if v := os.Getenv(env); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, env string) {
	if v := os.Getenv(env); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
