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
// built-in defaults, applies WAGERD_* environment variable overrides, and
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

// applyEnvOverrides reads well-known WAGERD_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Server ──
	setBool(&cfg.Server.Enabled, "WAGERD_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "WAGERD_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "WAGERD_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "WAGERD_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "WAGERD_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "WAGERD_SERVER_RATE_WINDOW")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "WAGERD_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "WAGERD_DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "WAGERD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "WAGERD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "WAGERD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "WAGERD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "WAGERD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "WAGERD_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "WAGERD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "WAGERD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "WAGERD_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "WAGERD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "WAGERD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "WAGERD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "WAGERD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "WAGERD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "WAGERD_REDIS_TLS_ENABLED")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "WAGERD_CHAIN_RPC_URL")
	setStr(&cfg.Chain.ContractAddress, "WAGERD_CHAIN_CONTRACT_ADDRESS")
	setStr(&cfg.Chain.PrivateKey, "WAGERD_CHAIN_PRIVATE_KEY")
	setStr(&cfg.Chain.KeystorePath, "WAGERD_CHAIN_KEYSTORE_PATH")
	setStr(&cfg.Chain.KeystorePassword, "WAGERD_CHAIN_KEYSTORE_PASSWORD")
	setInt64(&cfg.Chain.ChainID, "WAGERD_CHAIN_CHAIN_ID")
	setDuration(&cfg.Chain.CallTimeout, "WAGERD_CHAIN_CALL_TIMEOUT")
	setBool(&cfg.Chain.WaitMined, "WAGERD_CHAIN_WAIT_MINED")

	// ── Fees ──
	setFloat64(&cfg.Fees.PlatformFeeBps, "WAGERD_FEES_PLATFORM_FEE_BPS")
	setFloat64(&cfg.Fees.NetworkFee, "WAGERD_FEES_NETWORK_FEE")
	setStr(&cfg.Fees.TreasuryAddress, "WAGERD_FEES_TREASURY_ADDRESS")

	// ── Feeds ──
	setStr(&cfg.Feeds.PriceBaseURL, "WAGERD_FEEDS_PRICE_BASE_URL")
	setStr(&cfg.Feeds.PriceAPIKey, "WAGERD_FEEDS_PRICE_API_KEY")
	setStr(&cfg.Feeds.ResultsBaseURL, "WAGERD_FEEDS_RESULTS_BASE_URL")
	setStr(&cfg.Feeds.ResultsAPIKey, "WAGERD_FEEDS_RESULTS_API_KEY")
	setDuration(&cfg.Feeds.Timeout, "WAGERD_FEEDS_TIMEOUT")
	setDuration(&cfg.Feeds.CacheMaxAge, "WAGERD_FEEDS_CACHE_MAX_AGE")

	// ── Sweep ──
	setDuration(&cfg.Sweep.CoarseInterval, "WAGERD_SWEEP_COARSE_INTERVAL")
	setDuration(&cfg.Sweep.FineInterval, "WAGERD_SWEEP_FINE_INTERVAL")
	setDuration(&cfg.Sweep.FineWindow, "WAGERD_SWEEP_FINE_WINDOW")
	setInt(&cfg.Sweep.Batch, "WAGERD_SWEEP_BATCH")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "WAGERD_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Schedule, "WAGERD_ARCHIVE_SCHEDULE")
	setInt(&cfg.Archive.RetentionDays, "WAGERD_ARCHIVE_RETENTION_DAYS")
	setInt(&cfg.Archive.Batch, "WAGERD_ARCHIVE_BATCH")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "WAGERD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "WAGERD_S3_REGION")
	setStr(&cfg.S3.Bucket, "WAGERD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "WAGERD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "WAGERD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "WAGERD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "WAGERD_S3_FORCE_PATH_STYLE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "WAGERD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "WAGERD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "WAGERD_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "WAGERD_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "WAGERD_MODE")
	setStr(&cfg.LogLevel, "WAGERD_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
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
