// Package config defines the top-level configuration for the helios pipeline
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by HELIOS_* environment variables.
type Config struct {
	Scanner   ScannerConfig   `toml:"scanner"`
	Evaluator EvaluatorConfig `toml:"evaluator"`
	Safety    SafetyConfig    `toml:"safety"`
	Venues    []VenueConfig   `toml:"venues"`
	Engine    EngineConfig    `toml:"engine"`
	Oracle    OracleConfig    `toml:"oracle"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Archive   ArchiveConfig   `toml:"archive"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// ScannerConfig holds price scanning parameters.
type ScannerConfig struct {
	Symbols          []string `toml:"symbols"`
	Interval         duration `toml:"interval"`
	VenueTimeout     duration `toml:"venue_timeout"`
	MinSpreadPercent float64  `toml:"min_spread_percent"`
}

// EvaluatorConfig holds the cost model and viability thresholds.
type EvaluatorConfig struct {
	CapitalAllocation  float64 `toml:"capital_allocation"`
	TakerFeeRate       float64 `toml:"taker_fee_rate"`
	MakerFeeRate       float64 `toml:"maker_fee_rate"`
	NetworkFee         float64 `toml:"network_fee"`
	MaxSlippageRate    float64 `toml:"max_slippage_rate"`
	MinProfitThreshold float64 `toml:"min_profit_threshold"`
	MinConfidence      float64 `toml:"min_confidence"`
}

// SafetyConfig holds the global admission limits.
type SafetyConfig struct {
	MaxTradesPerHour int      `toml:"max_trades_per_hour"`
	DailyLossLimit   float64  `toml:"daily_loss_limit"`
	TotalCapital     float64  `toml:"total_capital"`
	QueueSize        int      `toml:"queue_size"`
	OracleWindow     duration `toml:"oracle_window"`
}

// VenueConfig describes one market data source. Kind selects the transport:
// "rest" polls an HTTP ticker endpoint, "ws" maintains a streaming
// subscription, "sim" generates synthetic prices for testing.
type VenueConfig struct {
	Name    string `toml:"name"`
	Kind    string `toml:"kind"`
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`

	// ws
	WSURL      string   `toml:"ws_url"`
	StaleAfter duration `toml:"stale_after"`

	// sim
	BasePrices        map[string]float64 `toml:"base_prices"`
	DriftPercent      float64            `toml:"drift_percent"`
	VolatilityPercent float64            `toml:"volatility_percent"`
	Seed              int64              `toml:"seed"`

	Timeout duration `toml:"timeout"`
}

// EngineConfig holds execution engine parameters. Order endpoints are keyed
// by venue name and only consulted in live mode.
type EngineConfig struct {
	OrderEndpoints map[string]OrderEndpoint `toml:"order_endpoints"`
	Paper          PaperConfig              `toml:"paper"`
}

// OrderEndpoint is one venue's order placement API.
type OrderEndpoint struct {
	BaseURL string   `toml:"base_url"`
	APIKey  string   `toml:"api_key"`
	Timeout duration `toml:"timeout"`
}

// PaperConfig tunes the paper trading fill model.
type PaperConfig struct {
	FillFailureRate   float64  `toml:"fill_failure_rate"`
	MaxAdversePercent float64  `toml:"max_adverse_percent"`
	FeeRate           float64  `toml:"fee_rate"`
	Latency           duration `toml:"latency"`
	Seed              int64    `toml:"seed"`
}

// OracleConfig holds the external risk assessment service parameters. An
// empty base URL disables the oracle and every admitted trade proceeds.
type OracleConfig struct {
	BaseURL string   `toml:"base_url"`
	APIKey  string   `toml:"api_key"`
	Timeout duration `toml:"timeout"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig holds trade-history cold storage parameters.
type ArchiveConfig struct {
	RetainFor  duration `toml:"retain_for"`
	Interval   duration `toml:"interval"`
	BatchLimit int      `toml:"batch_limit"`
}

// ServerConfig holds HTTP control API parameters.
type ServerConfig struct {
	Enabled           bool     `toml:"enabled"`
	Port              int      `toml:"port"`
	APIKey            string   `toml:"api_key"`
	CORSOrigins       []string `toml:"cors_origins"`
	RequestsPerMinute int      `toml:"requests_per_minute"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Scanner: ScannerConfig{
			Symbols:          []string{"BTC-USD", "ETH-USD"},
			Interval:         duration{5 * time.Second},
			VenueTimeout:     duration{10 * time.Second},
			MinSpreadPercent: 0.5,
		},
		Evaluator: EvaluatorConfig{
			CapitalAllocation:  1000,
			TakerFeeRate:       0.001,
			MakerFeeRate:       0,
			NetworkFee:         1.5,
			MaxSlippageRate:    0.001,
			MinProfitThreshold: 0.5,
			MinConfidence:      70,
		},
		Safety: SafetyConfig{
			MaxTradesPerHour: 10,
			DailyLossLimit:   500,
			TotalCapital:     10000,
			QueueSize:        64,
			OracleWindow:     duration{5 * time.Second},
		},
		Engine: EngineConfig{
			Paper: PaperConfig{
				FillFailureRate:   0.05,
				MaxAdversePercent: 0.05,
				FeeRate:           0.001,
				Latency:           duration{50 * time.Millisecond},
			},
		},
		Oracle: OracleConfig{
			Timeout: duration{3 * time.Second},
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "helios",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "helios-data",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			RetainFor:  duration{30 * 24 * time.Hour},
			Interval:   duration{time.Hour},
			BatchLimit: 1000,
		},
		Server: ServerConfig{
			Enabled:           true,
			Port:              8000,
			CORSOrigins:       []string{"http://localhost:3000", "http://localhost:5173"},
			RequestsPerMinute: 120,
		},
		Notify: NotifyConfig{
			Events: []string{"trade-completed", "trade-failed", "trade-rollback", "safety-limit"},
		},
		Mode:     "simulation",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"simulation": true,
	"paper":      true,
	"live":       true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validVenueKinds = map[string]bool{
	"rest": true,
	"ws":   true,
	"sim":  true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: simulation, paper, live)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Scanner
	if len(c.Scanner.Symbols) == 0 {
		errs = append(errs, "scanner: symbols must not be empty")
	}
	if c.Scanner.Interval.Duration <= 0 {
		errs = append(errs, "scanner: interval must be > 0")
	}
	if c.Scanner.MinSpreadPercent < 0 {
		errs = append(errs, "scanner: min_spread_percent must be >= 0")
	}

	// Evaluator
	if c.Evaluator.CapitalAllocation <= 0 {
		errs = append(errs, "evaluator: capital_allocation must be > 0")
	}
	if c.Evaluator.TakerFeeRate < 0 {
		errs = append(errs, "evaluator: taker_fee_rate must be >= 0")
	}
	if c.Evaluator.MinConfidence < 0 || c.Evaluator.MinConfidence > 100 {
		errs = append(errs, fmt.Sprintf("evaluator: min_confidence must be 0-100, got %g", c.Evaluator.MinConfidence))
	}

	// Safety
	if c.Safety.MaxTradesPerHour < 1 {
		errs = append(errs, "safety: max_trades_per_hour must be >= 1")
	}
	if c.Safety.DailyLossLimit <= 0 {
		errs = append(errs, "safety: daily_loss_limit must be > 0")
	}
	if c.Safety.TotalCapital < c.Evaluator.CapitalAllocation {
		errs = append(errs, "safety: total_capital must cover at least one capital_allocation")
	}

	// Venues
	if len(c.Venues) < 2 {
		errs = append(errs, "venues: at least two venues are required to compute spreads")
	}
	seen := make(map[string]bool, len(c.Venues))
	for i, v := range c.Venues {
		if v.Name == "" {
			errs = append(errs, fmt.Sprintf("venues[%d]: name must not be empty", i))
			continue
		}
		if seen[v.Name] {
			errs = append(errs, fmt.Sprintf("venues[%d]: duplicate name %q", i, v.Name))
		}
		seen[v.Name] = true
		if !validVenueKinds[v.Kind] {
			errs = append(errs, fmt.Sprintf("venues[%d] %s: unknown kind %q (valid: rest, ws, sim)", i, v.Name, v.Kind))
		}
		switch v.Kind {
		case "rest":
			if v.BaseURL == "" {
				errs = append(errs, fmt.Sprintf("venues[%d] %s: base_url is required for rest venues", i, v.Name))
			}
		case "ws":
			if v.WSURL == "" {
				errs = append(errs, fmt.Sprintf("venues[%d] %s: ws_url is required for ws venues", i, v.Name))
			}
		case "sim":
			if len(v.BasePrices) == 0 {
				errs = append(errs, fmt.Sprintf("venues[%d] %s: base_prices is required for sim venues", i, v.Name))
			}
		}
	}

	// Engine: live mode needs an order endpoint per non-sim venue.
	if strings.ToLower(c.Mode) == "live" {
		for _, v := range c.Venues {
			if v.Kind == "sim" {
				continue
			}
			if _, ok := c.Engine.OrderEndpoints[v.Name]; !ok {
				errs = append(errs, fmt.Sprintf("engine: order_endpoints.%s is required in live mode", v.Name))
			}
		}
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	// Notify: token and chat ID go together.
	tt := c.Notify.TelegramToken != ""
	tc := c.Notify.TelegramChatID != ""
	if tt != tc {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
