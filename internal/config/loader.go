package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies HELIOS_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known HELIOS_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file. Venue entries are TOML-only: array elements have no stable env name.
func applyEnvOverrides(cfg *Config) {
	// ── Scanner ──
	setStringSlice(&cfg.Scanner.Symbols, "HELIOS_SCANNER_SYMBOLS")
	setDuration(&cfg.Scanner.Interval, "HELIOS_SCANNER_INTERVAL")
	setDuration(&cfg.Scanner.VenueTimeout, "HELIOS_SCANNER_VENUE_TIMEOUT")
	setFloat64(&cfg.Scanner.MinSpreadPercent, "HELIOS_SCANNER_MIN_SPREAD_PERCENT")

	// ── Evaluator ──
	setFloat64(&cfg.Evaluator.CapitalAllocation, "HELIOS_EVALUATOR_CAPITAL_ALLOCATION")
	setFloat64(&cfg.Evaluator.TakerFeeRate, "HELIOS_EVALUATOR_TAKER_FEE_RATE")
	setFloat64(&cfg.Evaluator.MakerFeeRate, "HELIOS_EVALUATOR_MAKER_FEE_RATE")
	setFloat64(&cfg.Evaluator.NetworkFee, "HELIOS_EVALUATOR_NETWORK_FEE")
	setFloat64(&cfg.Evaluator.MaxSlippageRate, "HELIOS_EVALUATOR_MAX_SLIPPAGE_RATE")
	setFloat64(&cfg.Evaluator.MinProfitThreshold, "HELIOS_EVALUATOR_MIN_PROFIT_THRESHOLD")
	setFloat64(&cfg.Evaluator.MinConfidence, "HELIOS_EVALUATOR_MIN_CONFIDENCE")

	// ── Safety ──
	setInt(&cfg.Safety.MaxTradesPerHour, "HELIOS_SAFETY_MAX_TRADES_PER_HOUR")
	setFloat64(&cfg.Safety.DailyLossLimit, "HELIOS_SAFETY_DAILY_LOSS_LIMIT")
	setFloat64(&cfg.Safety.TotalCapital, "HELIOS_SAFETY_TOTAL_CAPITAL")
	setInt(&cfg.Safety.QueueSize, "HELIOS_SAFETY_QUEUE_SIZE")
	setDuration(&cfg.Safety.OracleWindow, "HELIOS_SAFETY_ORACLE_WINDOW")

	// ── Oracle ──
	setStr(&cfg.Oracle.BaseURL, "HELIOS_ORACLE_BASE_URL")
	setStr(&cfg.Oracle.APIKey, "HELIOS_ORACLE_API_KEY")
	setDuration(&cfg.Oracle.Timeout, "HELIOS_ORACLE_TIMEOUT")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "HELIOS_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "HELIOS_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "HELIOS_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "HELIOS_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "HELIOS_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "HELIOS_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "HELIOS_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "HELIOS_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "HELIOS_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "HELIOS_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "HELIOS_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "HELIOS_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "HELIOS_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "HELIOS_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "HELIOS_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "HELIOS_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "HELIOS_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "HELIOS_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "HELIOS_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "HELIOS_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "HELIOS_S3_REGION")
	setStr(&cfg.S3.Bucket, "HELIOS_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "HELIOS_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "HELIOS_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "HELIOS_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "HELIOS_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setDuration(&cfg.Archive.RetainFor, "HELIOS_ARCHIVE_RETAIN_FOR")
	setDuration(&cfg.Archive.Interval, "HELIOS_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.BatchLimit, "HELIOS_ARCHIVE_BATCH_LIMIT")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "HELIOS_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "HELIOS_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "HELIOS_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "HELIOS_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RequestsPerMinute, "HELIOS_SERVER_REQUESTS_PER_MINUTE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "HELIOS_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "HELIOS_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "HELIOS_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "HELIOS_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "HELIOS_MODE")
	setStr(&cfg.LogLevel, "HELIOS_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
