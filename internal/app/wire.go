package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/helioslabs/helios/internal/blob/s3"
	"github.com/helioslabs/helios/internal/cache/redis"
	"github.com/helioslabs/helios/internal/clock"
	"github.com/helioslabs/helios/internal/config"
	"github.com/helioslabs/helios/internal/domain"
	"github.com/helioslabs/helios/internal/notify"
	"github.com/helioslabs/helios/internal/server/handler"
	"github.com/helioslabs/helios/internal/store/postgres"
)

// Dependencies bundles the infrastructure-level dependencies the pipeline
// needs. Optional backends (postgres, redis, s3) stay nil when disabled; the
// pipeline degrades rather than refusing to start.
type Dependencies struct {
	TradeStore  domain.TradeStore
	QuoteCache  domain.QuoteCache
	EventBus    *redis.EventBus
	RateLimiter domain.RateLimiter
	BlobWriter  domain.BlobWriter
	Archiver    *s3blob.Archiver
	Notifier    *notify.Notifier
	Clock       domain.Clock

	// Pingers feed the health endpoint, keyed by dependency name.
	Pingers map[string]handler.Pinger
}

// Wire constructs the concrete infrastructure implementations from the given
// configuration and returns them with a cleanup function for shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Clock:   clock.Real{},
		Pingers: make(map[string]handler.Pinger),
	}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
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

		deps.TradeStore = postgres.NewTradeStore(pgClient.Pool())
		deps.Pingers["postgres"] = pgClient.Ping
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
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

		deps.QuoteCache = redis.NewQuoteCache(redisClient)
		deps.EventBus = redis.NewEventBus(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Pingers["redis"] = redisClient.Ping
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
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

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.Pingers["s3"] = s3Client.Health

		// Archival needs both stores.
		if deps.TradeStore != nil {
			deps.Archiver = s3blob.NewArchiver(s3blob.ArchiverConfig{
				RetainFor:  cfg.Archive.RetainFor.Duration,
				Interval:   cfg.Archive.Interval.Duration,
				BatchLimit: cfg.Archive.BatchLimit,
			}, deps.BlobWriter, deps.TradeStore, deps.Clock, logger)
		}
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
	events := make([]domain.EventType, 0, len(cfg.Notify.Events))
	for _, e := range cfg.Notify.Events {
		events = append(events, domain.EventType(e))
	}
	deps.Notifier = notify.NewNotifier(senders, events, logger)

	return deps, cleanup, nil
}
