// Package config defines the top-level configuration for the wager
// settlement worker and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by WAGERD_* environment variables.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	Chain    ChainConfig    `toml:"chain"`
	Fees     FeesConfig     `toml:"fees"`
	Feeds    FeedsConfig    `toml:"feeds"`
	Sweep    SweepConfig    `toml:"sweep"`
	Archive  ArchiveConfig  `toml:"archive"`
	S3       S3Config       `toml:"s3"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// PostgresConfig holds PostgreSQL connection parameters. An explicit DSN wins
// over the individual fields.
type PostgresConfig struct {
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
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// ChainConfig holds the escrow contract endpoint and signing credentials.
// An empty RPCURL puts the settlement executor in simulated mode.
type ChainConfig struct {
	RPCURL           string   `toml:"rpc_url"`
	ContractAddress  string   `toml:"contract_address"`
	PrivateKey       string   `toml:"private_key"`
	KeystorePath     string   `toml:"keystore_path"`
	KeystorePassword string   `toml:"keystore_password"`
	ChainID          int64    `toml:"chain_id"`
	CallTimeout      duration `toml:"call_timeout"`
	WaitMined        bool     `toml:"wait_mined"`
}

// FeesConfig holds the settlement fee parameters.
type FeesConfig struct {
	PlatformFeeBps  float64 `toml:"platform_fee_bps"`
	NetworkFee      float64 `toml:"network_fee"`
	TreasuryAddress string  `toml:"treasury_address"`
}

// FeedsConfig holds the price and sports-result feed endpoints.
type FeedsConfig struct {
	PriceBaseURL   string   `toml:"price_base_url"`
	PriceAPIKey    string   `toml:"price_api_key"`
	ResultsBaseURL string   `toml:"results_base_url"`
	ResultsAPIKey  string   `toml:"results_api_key"`
	Timeout        duration `toml:"timeout"`
	CacheMaxAge    duration `toml:"cache_max_age"`
}

// SweepConfig holds the expiration sweep cadence.
type SweepConfig struct {
	CoarseInterval duration `toml:"coarse_interval"`
	FineInterval   duration `toml:"fine_interval"`
	FineWindow     duration `toml:"fine_window"`
	Batch          int      `toml:"batch"`
}

// ArchiveConfig holds the cold-storage archival schedule.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	Schedule      string `toml:"schedule"`
	RetentionDays int    `toml:"retention_days"`
	Batch         int    `toml:"batch"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "15s", "5m").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "15s" or "5m".
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
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   60,
			RateWindow:  duration{time.Minute},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "wagerd",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Chain: ChainConfig{
			ChainID:     11155111,
			CallTimeout: duration{30 * time.Second},
			WaitMined:   true,
		},
		Fees: FeesConfig{
			PlatformFeeBps: 400,
			NetworkFee:     0.01,
		},
		Feeds: FeedsConfig{
			PriceBaseURL:   "https://api.coingecko.com/api/v3",
			ResultsBaseURL: "",
			Timeout:        duration{10 * time.Second},
			CacheMaxAge:    duration{30 * time.Second},
		},
		Sweep: SweepConfig{
			CoarseInterval: duration{15 * time.Second},
			FineInterval:   duration{time.Second},
			FineWindow:     duration{2 * time.Second},
			Batch:          100,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Schedule:      "0 3 * * *",
			RetentionDays: 90,
			Batch:         500,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "wagerd-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Notify: NotifyConfig{
			Events: []string{"wager_resolved", "wager_refunded", "wager_expired", "error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server": true,
	"worker": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, worker, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	// Postgres
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
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Chain — credentials only matter when a live RPC endpoint is set.
	if c.Chain.RPCURL != "" {
		if c.Chain.ContractAddress == "" {
			errs = append(errs, "chain: contract_address is required when rpc_url is set")
		}
		if c.Chain.PrivateKey == "" && c.Chain.KeystorePath == "" {
			errs = append(errs, "chain: either private_key or keystore_path must be set when rpc_url is set")
		}
		if c.Chain.KeystorePath != "" && c.Chain.KeystorePassword == "" {
			errs = append(errs, "chain: keystore_password is required when keystore_path is set")
		}
		if c.Chain.ChainID <= 0 {
			errs = append(errs, "chain: chain_id must be positive")
		}
	}
	if c.Chain.CallTimeout.Duration <= 0 {
		errs = append(errs, "chain: call_timeout must be > 0")
	}

	// Fees
	if c.Fees.PlatformFeeBps < 0 || c.Fees.PlatformFeeBps >= 10_000 {
		errs = append(errs, fmt.Sprintf("fees: platform_fee_bps must be in [0, 10000), got %v", c.Fees.PlatformFeeBps))
	}
	if c.Fees.NetworkFee < 0 {
		errs = append(errs, "fees: network_fee must be >= 0")
	}

	// Feeds
	if c.Feeds.PriceBaseURL == "" {
		errs = append(errs, "feeds: price_base_url must not be empty")
	}
	if c.Feeds.Timeout.Duration <= 0 {
		errs = append(errs, "feeds: timeout must be > 0")
	}

	// Sweep
	if c.Sweep.CoarseInterval.Duration <= 0 {
		errs = append(errs, "sweep: coarse_interval must be > 0")
	}
	if c.Sweep.FineInterval.Duration <= 0 {
		errs = append(errs, "sweep: fine_interval must be > 0")
	}
	if c.Sweep.FineWindow.Duration < c.Sweep.FineInterval.Duration {
		errs = append(errs, "sweep: fine_window must be >= fine_interval")
	}
	if c.Sweep.Batch < 1 {
		errs = append(errs, "sweep: batch must be >= 1")
	}

	// Archive + S3 — the bucket is only touched when archival is on.
	if c.Archive.Enabled {
		if c.Archive.Schedule == "" {
			errs = append(errs, "archive: schedule must not be empty when enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Batch < 1 {
			errs = append(errs, "archive: batch must be >= 1")
		}
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
