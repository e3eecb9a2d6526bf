package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/smtbot/internal/blob/s3"
	"github.com/alanyoungcy/smtbot/internal/cache/redis"
	"github.com/alanyoungcy/smtbot/internal/config"
	"github.com/alanyoungcy/smtbot/internal/crypto"
	"github.com/alanyoungcy/smtbot/internal/domain"
	"github.com/alanyoungcy/smtbot/internal/events"
	"github.com/alanyoungcy/smtbot/internal/notify"
	"github.com/alanyoungcy/smtbot/internal/platform/steam"
	"github.com/alanyoungcy/smtbot/internal/server/handler"
	"github.com/alanyoungcy/smtbot/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Stores
	ItemStore      domain.TrackedItemStore
	HistoryStore   domain.PriceHistoryStore
	PositionStore  domain.PositionStore
	SettingsStore  domain.SettingsStore
	InventoryStore domain.InventoryStore
	AuditStore     domain.AuditStore

	// Caches
	RateLimiter   domain.RateLimiter
	LockManager   domain.LockManager
	SignalBus     domain.SignalBus
	SettingsCache domain.SettingsCache

	// Blob storage; nil when s3 is disabled.
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Venue is nil when no credentials could be resolved and the mode does
	// not need it.
	Venue domain.Venue

	// Events fans out to the live feed, Kafka and notifications.
	Events *events.Fanout

	// HealthChecks probe the backing services for GET /api/health.
	HealthChecks map[string]handler.Checker
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

	deps := &Dependencies{HealthChecks: map[string]handler.Checker{}}

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
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		applied, err := pgClient.RunMigrations(ctx)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
		if len(applied) > 0 {
			logger.InfoContext(ctx, "wire: applied migrations", slog.Any("files", applied))
		}
	}

	pool := pgClient.Pool()
	deps.ItemStore = postgres.NewTrackedItemStore(pool)
	history := postgres.NewPriceHistoryStore(pool)
	deps.HistoryStore = history
	positions := postgres.NewPositionStore(pool)
	deps.PositionStore = positions
	deps.SettingsStore = postgres.NewSettingsStore(pool)
	deps.InventoryStore = postgres.NewInventoryStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)
	deps.HealthChecks["postgres"] = pgClient.Ping

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

	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)
	deps.SettingsCache = redis.NewSettingsCache(redisClient, cfg.Redis.SettingsTTL.Duration)
	deps.HealthChecks["redis"] = redisClient.Ping

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
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			history,
			positions,
			deps.AuditStore,
		)
		deps.HealthChecks["s3"] = s3Client.Health
	}

	// --- Venue ---
	venue, err := wireVenue(cfg, deps.RateLimiter, logger)
	switch {
	case err == nil:
		deps.Venue = venue
	case cfg.NeedsVenue():
		cleanup()
		return nil, nil, fmt.Errorf("wire: steam: %w", err)
	default:
		logger.WarnContext(ctx, "wire: venue unavailable; inventory refresh will be queued",
			slog.String("error", err.Error()),
		)
	}

	// --- Events ---
	sinks := []events.Sink{{Name: "bus", Publisher: events.NewBusPublisher(deps.SignalBus)}}
	if len(cfg.Kafka.Brokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		closers = append(closers, func() { _ = kp.Close() })
		sinks = append(sinks, events.Sink{Name: "kafka", Publisher: kp})
	}
	if senders := wireSenders(cfg.Notify); len(senders) > 0 {
		sinks = append(sinks, events.Sink{
			Name:      "notify",
			Publisher: notify.NewNotifier(senders, cfg.Notify.Events, logger),
		})
	}
	deps.Events = events.NewFanout(logger, sinks...)

	return deps, cleanup, nil
}

// wireVenue resolves credentials and builds the venue client. The client
// logs in lazily, so no network traffic happens here.
func wireVenue(cfg *config.Config, limiter domain.RateLimiter, logger *slog.Logger) (*steam.Client, error) {
	creds, err := crypto.LoadCredentials(crypto.CredentialConfig{
		Plain: crypto.Credentials{
			Username:       cfg.Steam.Username,
			Password:       cfg.Steam.Password,
			SteamID:        cfg.Steam.SteamID,
			SharedSecret:   cfg.Steam.SharedSecret,
			IdentitySecret: cfg.Steam.IdentitySecret,
			APIKey:         cfg.Steam.APIKey,
		},
		EncryptedPath: cfg.Steam.EncryptedCredentialsPath,
		Passphrase:    cfg.Steam.CredentialsPassphrase,
	})
	if err != nil {
		return nil, err
	}

	var shared *steam.SharedLimit
	if cfg.Steam.SharedLimit > 0 {
		shared = &steam.SharedLimit{
			Limiter: limiter,
			Limit:   cfg.Steam.SharedLimit,
			Window:  cfg.Steam.SharedWindow.Duration,
		}
	}

	return steam.New(steam.Config{
		CommunityURL:    cfg.Steam.CommunityURL,
		Credentials:     creds,
		Currency:        cfg.Steam.Currency,
		Country:         cfg.Steam.Country,
		Language:        cfg.Steam.Language,
		ReadsPerMinute:  cfg.Steam.ReadsPerMinute,
		WritesPerMinute: cfg.Steam.WritesPerMinute,
		HTTPTimeout:     cfg.Steam.HTTPTimeout.Duration,
		SessionTTL:      cfg.Steam.SessionTTL.Duration,
		LoginAttempts:   cfg.Steam.LoginAttempts,
		LoginBackoff:    cfg.Steam.LoginBackoff.Duration,
	}, shared, logger.With(slog.String("component", "steam")))
}

func wireSenders(cfg config.NotifyConfig) []notify.Sender {
	var senders []notify.Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.DiscordWebhookURL))
	}
	return senders
}

// venuePairs converts the configured apps.
func venuePairs(cfg *config.Config) []domain.VenuePair {
	pairs := make([]domain.VenuePair, 0, len(cfg.Trading.Apps))
	for _, a := range cfg.Trading.Apps {
		pairs = append(pairs, domain.VenuePair{AppID: a.AppID, ContextID: a.ContextID})
	}
	return pairs
}
