package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	s3blob "github.com/alanyoungcy/meanrevbot/internal/blob/s3"
	"github.com/alanyoungcy/meanrevbot/internal/cache/redis"
	"github.com/alanyoungcy/meanrevbot/internal/config"
	"github.com/alanyoungcy/meanrevbot/internal/crypto"
	"github.com/alanyoungcy/meanrevbot/internal/domain"
	"github.com/alanyoungcy/meanrevbot/internal/metrics"
	"github.com/alanyoungcy/meanrevbot/internal/notify"
	"github.com/alanyoungcy/meanrevbot/internal/server/handler"
	"github.com/alanyoungcy/meanrevbot/internal/state"
	"github.com/alanyoungcy/meanrevbot/internal/store/postgres"
	"github.com/alanyoungcy/meanrevbot/internal/venue"
)

// Dependencies bundles every adapter the application modes need. Optional
// infrastructure that is disabled in the configuration is left nil.
type Dependencies struct {
	// Engine collaborators
	State    *state.Store
	Market   domain.MarketData
	History  domain.PriceHistory
	Executor domain.Executor
	Recorder domain.PriceRecorder

	// Redis
	Locks domain.LockManager
	Bus   domain.SignalBus

	// Persistence
	Journal domain.TradeJournal
	Backup  domain.BlobWriter

	// Reporting
	Notifier *notify.Notifier
	Metrics  *metrics.Metrics

	// Checks are the dependency probes served by /api/health.
	Checks map[string]handler.Check
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
	fail := func(stage string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", stage, err)
	}

	deps := &Dependencies{
		Metrics: metrics.New(),
		Checks:  map[string]handler.Check{},
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
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Bus = redis.NewSignalBus(redisClient)
		if cfg.Redis.CycleLock {
			deps.Locks = redis.NewLockManager(redisClient)
		}
		recorded := redis.NewPriceHistory(redisClient, cfg.History.RecordLength)
		deps.Recorder = recorded
		if cfg.History.Source == "recorded" {
			deps.History = recorded
		}
		deps.Checks["redis"] = redisClient.Ping
	}

	// --- PostgreSQL trade journal ---
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
			return fail("postgres", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}
		deps.Journal = postgres.NewJournalStore(pgClient.Pool())
		deps.Checks["postgres"] = pgClient.Ping
	}

	// --- S3 state backups ---
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
			return fail("s3", err)
		}
		deps.Backup = s3blob.NewWriter(s3Client)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- State file ---
	var stateOpts []state.Option
	if cfg.State.BackupToS3 && deps.Backup != nil {
		stateOpts = append(stateOpts, state.WithBackup(deps.Backup, cfg.State.BackupPrefix))
	}
	deps.State = state.NewStore(cfg.State.Path, logger, stateOpts...)

	// --- Trading gateway ---
	if cfg.Mode != "server" {
		client, err := newVenueClient(cfg.Venue)
		if err != nil {
			return fail("venue", err)
		}
		deps.Market = client
		if deps.History == nil {
			deps.History = client
		}
		if cfg.Venue.DryRun {
			logger.InfoContext(ctx, "wire: dry run, orders go to the paper executor")
			deps.Executor = venue.NewPaperExecutor(logger)
		} else {
			deps.Executor = client
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
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// newVenueClient builds the gateway client, resolving the API secret from
// the plain value or the encrypted secret file.
func newVenueClient(cfg config.VenueConfig) (*venue.Client, error) {
	opts := []venue.Option{
		venue.WithHTTPClient(&http.Client{Timeout: cfg.Timeout.Duration}),
		venue.WithRateLimit(cfg.RateLimitRPS, cfg.RateBurst),
	}
	if cfg.APIKey != "" {
		secret, err := crypto.LoadSecret(crypto.SecretConfig{
			Raw:           cfg.APISecret,
			EncryptedPath: cfg.EncryptedSecretPath,
			Password:      cfg.SecretPassword,
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, venue.WithAuth(&crypto.HMACAuth{Key: cfg.APIKey, Secret: secret}))
	}
	return venue.NewClient(cfg.BaseURL, opts...), nil
}
