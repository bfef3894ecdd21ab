package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	s3blob "github.com/wagerforge/wagerd/internal/blob/s3"
	"github.com/wagerforge/wagerd/internal/cache/redis"
	"github.com/wagerforge/wagerd/internal/chain"
	"github.com/wagerforge/wagerd/internal/config"
	"github.com/wagerforge/wagerd/internal/domain"
	"github.com/wagerforge/wagerd/internal/notify"
	"github.com/wagerforge/wagerd/internal/observability"
	"github.com/wagerforge/wagerd/internal/quote"
	"github.com/wagerforge/wagerd/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	Wagers        domain.WagerStore
	Users         domain.UserStore
	UserStats     domain.UserStatsStore
	Notifications domain.NotificationStore

	// Caches
	PriceCache  domain.PriceCache
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	RateLimiter domain.RateLimiter

	// Settlement
	Executor domain.SettlementExecutor
	Quotes   domain.QuoteSource
	Results  domain.ResultSource

	// Blob storage (nil unless archival is enabled)
	BlobWriter *s3blob.Writer

	// Notifications
	Notifier *notify.Notifier
	Recorder *notify.Recorder

	// Observability
	Metrics        *observability.Metrics
	MetricsHandler http.Handler
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.Wagers = postgres.NewWagerStore(pool)
	deps.Users = postgres.NewUserStore(pool)
	deps.UserStats = postgres.NewUserStatsStore(pool)
	deps.Notifications = postgres.NewNotificationStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Feeds.CacheMaxAge.Duration)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)

	// --- Escrow executor ---
	executor, err := chain.New(ctx, chain.Config{
		RPCURL:           cfg.Chain.RPCURL,
		ContractAddress:  cfg.Chain.ContractAddress,
		PrivateKey:       cfg.Chain.PrivateKey,
		KeystorePath:     cfg.Chain.KeystorePath,
		KeystorePassword: cfg.Chain.KeystorePassword,
		ChainID:          cfg.Chain.ChainID,
		CallTimeout:      cfg.Chain.CallTimeout.Duration,
		WaitMined:        cfg.Chain.WaitMined,
	}, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: chain executor: %w", err)
	}
	deps.Executor = executor

	// --- Feeds ---
	priceClient := quote.NewPriceClient(
		cfg.Feeds.PriceBaseURL,
		cfg.Feeds.PriceAPIKey,
		cfg.Feeds.Timeout.Duration,
		logger,
	)
	deps.Quotes = quote.NewCachedQuoteSource(
		priceClient,
		deps.PriceCache,
		cfg.Feeds.CacheMaxAge.Duration,
		logger,
	)
	deps.Results = quote.NewResultClient(
		cfg.Feeds.ResultsBaseURL,
		cfg.Feeds.ResultsAPIKey,
		cfg.Feeds.Timeout.Duration,
		logger,
	)

	// --- S3 blob storage (only when the archiver will use it) ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		if err := s3Client.Health(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.BlobWriter = s3blob.NewWriter(s3Client)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	deps.Recorder = notify.NewRecorder(deps.Notifications, logger)

	// --- Metrics ---
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	deps.Metrics = observability.New(registry)
	deps.MetricsHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return deps, cleanup, nil
}
