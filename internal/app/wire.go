package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	s3blob "github.com/119969788/poly-copy-trading/internal/blob/s3"
	"github.com/119969788/poly-copy-trading/internal/cache/redis"
	"github.com/119969788/poly-copy-trading/internal/config"
	"github.com/119969788/poly-copy-trading/internal/crypto"
	"github.com/119969788/poly-copy-trading/internal/executor"
	"github.com/119969788/poly-copy-trading/internal/feed"
	"github.com/119969788/poly-copy-trading/internal/metrics"
	"github.com/119969788/poly-copy-trading/internal/notify"
	"github.com/119969788/poly-copy-trading/internal/platform/polymarket"
	"github.com/119969788/poly-copy-trading/internal/pricing"
	"github.com/119969788/poly-copy-trading/internal/prober"
	"github.com/119969788/poly-copy-trading/internal/resolver"
	"github.com/119969788/poly-copy-trading/internal/retry"
	"github.com/119969788/poly-copy-trading/internal/store/postgres"
)

// Dependencies bundles everything the modes need. Optional infrastructure is
// nil when disabled in the configuration.
type Dependencies struct {
	SessionID string

	// Venue clients
	Gamma *polymarket.GammaClient
	Clob  *polymarket.ClobClient

	// Decision inputs
	Resolver *resolver.Resolver
	Prober   *prober.Prober
	Prices   *pricing.Chain
	Feed     *feed.Feed
	Executor executor.Executor

	// Redis
	Locks *redis.LockManager

	// Journal
	Positions *postgres.PositionStore
	Audit     *postgres.AuditStore
	Journal   *postgres.Journal

	// Blob storage
	Archive *s3blob.SessionArchive

	Metrics  *metrics.Metrics
	Notifier *notify.Notifier
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
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	running := strings.EqualFold(cfg.Mode, "run")
	deps := &Dependencies{SessionID: uuid.NewString()}

	// --- Venue transports: one per API so a tripped breaker on one does not
	// silence the other. ---
	pm := cfg.Polymarket
	transport := func(name string) *polymarket.Transport {
		return polymarket.NewTransport(polymarket.TransportConfig{
			Name:              name,
			Timeout:           pm.RequestTimeout.Duration,
			RequestsPerSecond: pm.RequestsPerSecond,
			Burst:             pm.Burst,
			BreakerFailures:   uint32(pm.BreakerFailures),
			BreakerCooldown:   pm.BreakerCooldown.Duration,
		}, logger)
	}
	deps.Gamma = polymarket.NewGammaClient(pm.GammaHost, transport("gamma"))

	// --- Signer (live only) ---
	var signer *crypto.Signer
	if cfg.Live() {
		key, err := crypto.ResolveKey(crypto.KeySource{
			RawPrivateKey: cfg.Wallet.PrivateKey,
			KeyFile:       cfg.Wallet.EncryptedKeyPath,
			KeyPassword:   cfg.Wallet.KeyPassword,
		})
		if err != nil {
			return fail("wallet key", err)
		}
		exchange := pm.Exchange
		if exchange == "" {
			exchange = crypto.CTFExchange
		}
		signer, err = crypto.NewSigner(key, int64(pm.ChainID), exchange)
		if err != nil {
			return fail("signer", err)
		}
	}
	deps.Clob = polymarket.NewClobClient(pm.ClobHost, transport("clob"), signer, crypto.APICreds{
		Key:        pm.ApiKey,
		Secret:     pm.ApiSecret,
		Passphrase: pm.ApiPassphrase,
	})

	// --- Discovery and tradability ---
	e := cfg.Engine
	deps.Resolver = resolver.New(resolver.GammaCatalog{Client: deps.Gamma}, resolver.Config{
		EventSlug:   e.EventSlug,
		ConditionID: e.ConditionID,
		Retry: retry.Policy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay.Duration,
			MaxDelay:    cfg.Retry.MaxDelay.Duration,
		},
	}, logger)
	deps.Prober = prober.New(deps.Clob, e.ProbeTimeout.Duration, logger)

	// --- Redis (price mirror and the per-coin trading lock) ---
	var mirror feed.Mirror
	if cfg.Redis.Enabled && running {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = rc.Close() })
		mirror = redis.NewPriceCache(rc, cfg.Redis.PriceTTL.Duration)
		deps.Locks = redis.NewLockManager(rc)
	}

	// --- Push feed ---
	sources := make([]pricing.Source, 0, 4)
	if cfg.Feed.Enabled && running {
		ws := polymarket.NewWSClient(pm.WsHost, logger)
		deps.Feed = feed.New(ws, mirror, feed.Config{
			StaleAfter:   cfg.Feed.StaleAfter.Duration,
			ReconnectMin: cfg.Feed.ReconnectMin.Duration,
			ReconnectMax: cfg.Feed.ReconnectMax.Duration,
		}, logger)
		ws.OnBookUpdate(deps.Feed.HandleBook)
		ws.OnPriceChange(deps.Feed.HandlePriceChange)
		ws.OnLastTradePrice(deps.Feed.HandleLastTrade)
		sources = append(sources, pricing.FeedSource{Feed: deps.Feed})
	}
	sources = append(sources,
		pricing.SnapshotSource{MaxAge: e.SnapshotMaxAge.Duration},
		pricing.BookSource{Books: deps.Clob},
		pricing.RESTSource{Markets: deps.Gamma},
	)
	deps.Prices = pricing.NewChain(e.PriceTimeout.Duration, logger, sources...)

	if !running {
		return deps, cleanup, nil
	}

	// --- Executor ---
	if cfg.Live() {
		if !deps.Clob.HasCreds() {
			creds, err := deps.Clob.DeriveAPIKey(ctx)
			if err != nil {
				return fail("derive api key", err)
			}
			logger.InfoContext(ctx, "derived clob api credentials", slog.String("creds", creds.String()))
		}
		deps.Executor = executor.NewLive(deps.Clob, signer, executor.LiveConfig{
			Funder:        cfg.Wallet.FunderAddress,
			SignatureType: pm.SignatureType,
			FloorPrice:    e.FloorPrice,
		}, logger)
	} else {
		deps.Executor = executor.NewSimulator(logger)
	}

	// --- PostgreSQL journal ---
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

		pool := pgClient.Pool()
		deps.Positions = postgres.NewPositionStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Journal = postgres.NewJournal(
			deps.Positions,
			deps.Audit,
			deps.SessionID,
			cfg.Postgres.WriteTimeout.Duration,
			logger,
		)
	}

	// --- S3 session archive ---
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
		if err := s3Client.Health(ctx); err != nil {
			logger.WarnContext(ctx, "s3 bucket not reachable, the session archive upload may fail",
				slog.String("bucket", s3Client.Bucket()),
				slog.String("error", err.Error()),
			)
		}
		deps.Archive = s3blob.NewSessionArchive(s3blob.NewWriter(s3Client), cfg.S3.Prefix, deps.SessionID, cfg.S3.MaxEvents, logger)
	}

	// --- Metrics ---
	if cfg.Server.Metrics {
		deps.Metrics = metrics.New(
			metrics.WithConstLabel("coin", strings.ToLower(e.Coin)),
			metrics.WithProcessCollectors(),
		)
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
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, cfg.Notify.QueueSize, logger)

	return deps, cleanup, nil
}
