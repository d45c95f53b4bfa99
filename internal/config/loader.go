package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies environment variable overrides, and returns the
// final Config. A missing file is not an error; the bot runs on defaults and
// environment alone. The returned Config has NOT been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyCompatEnv(&cfg)
	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyCompatEnv honours the variable names of the earlier scripts so an
// existing .env keeps working. DIPBOT_* variables are applied afterwards and
// win.
func applyCompatEnv(cfg *Config) {
	setStr(&cfg.Engine.Coin, "ARBITRAGE_MARKET_COIN")
	setStr(&cfg.Engine.Coin, "COIN")
	setStr(&cfg.Engine.EventSlug, "ARBITRAGE_EVENT_SLUG")
	setStr(&cfg.Engine.EventSlug, "EVENT_SLUG")
	setStr(&cfg.Engine.ConditionID, "ARBITRAGE_CONDITION_ID")

	setFloat64(&cfg.Engine.BuyThreshold, "ARBITRAGE_BUY_PRICE")
	setFloat64(&cfg.Engine.BuyThreshold, "BUY_PRICE_THRESHOLD")
	setFloat64(&cfg.Engine.SellThreshold, "ARBITRAGE_SELL_PRICE")
	setFloat64(&cfg.Engine.SellThreshold, "SELL_PRICE_THRESHOLD")
	setFloat64(&cfg.Engine.TradeSize, "ARBITRAGE_TRADE_SIZE")
	setFloat64(&cfg.Engine.TradeSize, "TRADE_SIZE")
	setFloat64(&cfg.Engine.PairCostThreshold, "SUM_TARGET")

	setMillis(&cfg.Engine.CheckInterval, "PRICE_CHECK_INTERVAL")
	setMillis(&cfg.Engine.CheckInterval, "ARBITRAGE_CHECK_INTERVAL")
	setMillis(&cfg.Engine.CheckInterval, "CHECK_INTERVAL")
	setMillis(&cfg.Engine.HoldingTimeout, "ARBITRAGE_HOLDING_TIMEOUT")
	setMillis(&cfg.Engine.HoldingTimeout, "HOLDING_TIMEOUT")

	// Only the literal "false" turns simulation off.
	if v, ok := os.LookupEnv("DRY_RUN"); ok {
		cfg.Engine.DryRun = v != "false"
	}

	setStr(&cfg.Wallet.PrivateKey, "POLYMARKET_PRIVATE_KEY")
	setStr(&cfg.Wallet.PrivateKey, "PRIVATE_KEY")
	setStr(&cfg.Wallet.FunderAddress, "PROXY_WALLET_ADDRESS")
	setStr(&cfg.Wallet.FunderAddress, "SAFE_PROXY_ADDRESS")
}

// applyEnvOverrides reads well-known DIPBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "DIPBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "DIPBOT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "DIPBOT_WALLET_KEY_PASSWORD")
	setStr(&cfg.Wallet.FunderAddress, "DIPBOT_WALLET_FUNDER_ADDRESS")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "DIPBOT_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "DIPBOT_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.WsHost, "DIPBOT_POLYMARKET_WS_HOST")
	setInt(&cfg.Polymarket.ChainID, "DIPBOT_POLYMARKET_CHAIN_ID")
	setInt(&cfg.Polymarket.SignatureType, "DIPBOT_POLYMARKET_SIGNATURE_TYPE")
	setStr(&cfg.Polymarket.Exchange, "DIPBOT_POLYMARKET_EXCHANGE")
	setStr(&cfg.Polymarket.ApiKey, "DIPBOT_POLYMARKET_API_KEY")
	setStr(&cfg.Polymarket.ApiSecret, "DIPBOT_POLYMARKET_API_SECRET")
	setStr(&cfg.Polymarket.ApiPassphrase, "DIPBOT_POLYMARKET_API_PASSPHRASE")
	setDuration(&cfg.Polymarket.RequestTimeout, "DIPBOT_POLYMARKET_REQUEST_TIMEOUT")
	setFloat64(&cfg.Polymarket.RequestsPerSecond, "DIPBOT_POLYMARKET_REQUESTS_PER_SECOND")
	setInt(&cfg.Polymarket.Burst, "DIPBOT_POLYMARKET_BURST")
	setInt(&cfg.Polymarket.BreakerFailures, "DIPBOT_POLYMARKET_BREAKER_FAILURES")
	setDuration(&cfg.Polymarket.BreakerCooldown, "DIPBOT_POLYMARKET_BREAKER_COOLDOWN")

	// ── Engine ──
	setStr(&cfg.Engine.Coin, "DIPBOT_ENGINE_COIN")
	setInt(&cfg.Engine.DurationMinutes, "DIPBOT_ENGINE_DURATION_MINUTES")
	setStr(&cfg.Engine.Mode, "DIPBOT_ENGINE_MODE")
	setFloat64(&cfg.Engine.BuyThreshold, "DIPBOT_ENGINE_BUY_THRESHOLD")
	setFloat64(&cfg.Engine.SellThreshold, "DIPBOT_ENGINE_SELL_THRESHOLD")
	setFloat64(&cfg.Engine.TradeSize, "DIPBOT_ENGINE_TRADE_SIZE")
	setFloat64(&cfg.Engine.PairCostThreshold, "DIPBOT_ENGINE_PAIR_COST_THRESHOLD")
	setFloat64(&cfg.Engine.PairOrderSize, "DIPBOT_ENGINE_PAIR_ORDER_SIZE")
	setDuration(&cfg.Engine.CheckInterval, "DIPBOT_ENGINE_CHECK_INTERVAL")
	setDuration(&cfg.Engine.HoldingTimeout, "DIPBOT_ENGINE_HOLDING_TIMEOUT")
	setInt(&cfg.Engine.RotationThreshold, "DIPBOT_ENGINE_ROTATION_THRESHOLD")
	setBool(&cfg.Engine.DryRun, "DIPBOT_ENGINE_DRY_RUN")
	setStr(&cfg.Engine.EventSlug, "DIPBOT_ENGINE_EVENT_SLUG")
	setStr(&cfg.Engine.ConditionID, "DIPBOT_ENGINE_CONDITION_ID")
	setDuration(&cfg.Engine.PriceTimeout, "DIPBOT_ENGINE_PRICE_TIMEOUT")
	setDuration(&cfg.Engine.ProbeTimeout, "DIPBOT_ENGINE_PROBE_TIMEOUT")
	setDuration(&cfg.Engine.TickTimeout, "DIPBOT_ENGINE_TICK_TIMEOUT")
	setDuration(&cfg.Engine.StatsInterval, "DIPBOT_ENGINE_STATS_INTERVAL")
	setDuration(&cfg.Engine.SnapshotMaxAge, "DIPBOT_ENGINE_SNAPSHOT_MAX_AGE")
	setFloat64(&cfg.Engine.FloorPrice, "DIPBOT_ENGINE_FLOOR_PRICE")

	// ── Feed ──
	setBool(&cfg.Feed.Enabled, "DIPBOT_FEED_ENABLED")
	setDuration(&cfg.Feed.StaleAfter, "DIPBOT_FEED_STALE_AFTER")
	setDuration(&cfg.Feed.ReconnectMin, "DIPBOT_FEED_RECONNECT_MIN")
	setDuration(&cfg.Feed.ReconnectMax, "DIPBOT_FEED_RECONNECT_MAX")

	// ── Retry ──
	setInt(&cfg.Retry.MaxAttempts, "DIPBOT_RETRY_MAX_ATTEMPTS")
	setDuration(&cfg.Retry.BaseDelay, "DIPBOT_RETRY_BASE_DELAY")
	setDuration(&cfg.Retry.MaxDelay, "DIPBOT_RETRY_MAX_DELAY")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "DIPBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "DIPBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "DIPBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "DIPBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "DIPBOT_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "DIPBOT_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "DIPBOT_REDIS_KEY_PREFIX")
	setDuration(&cfg.Redis.PriceTTL, "DIPBOT_REDIS_PRICE_TTL")
	setDuration(&cfg.Redis.LockTTL, "DIPBOT_REDIS_LOCK_TTL")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "DIPBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "DIPBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "DIPBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "DIPBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "DIPBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "DIPBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "DIPBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "DIPBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "DIPBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "DIPBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "DIPBOT_POSTGRES_RUN_MIGRATIONS")
	setDuration(&cfg.Postgres.WriteTimeout, "DIPBOT_POSTGRES_WRITE_TIMEOUT")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "DIPBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "DIPBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "DIPBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "DIPBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "DIPBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "DIPBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "DIPBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "DIPBOT_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "DIPBOT_S3_PREFIX")
	setInt(&cfg.S3.MaxEvents, "DIPBOT_S3_MAX_EVENTS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "DIPBOT_SERVER_ENABLED")
	setStr(&cfg.Server.Addr, "DIPBOT_SERVER_ADDR")
	setStr(&cfg.Server.APIKey, "DIPBOT_SERVER_API_KEY")
	setFloat64(&cfg.Server.RateLimit, "DIPBOT_SERVER_RATE_LIMIT")
	setInt(&cfg.Server.RateBurst, "DIPBOT_SERVER_RATE_BURST")
	setBool(&cfg.Server.Metrics, "DIPBOT_SERVER_METRICS")
	setDuration(&cfg.Server.MaxTickAge, "DIPBOT_SERVER_MAX_TICK_AGE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "DIPBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "DIPBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "DIPBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "DIPBOT_NOTIFY_EVENTS")
	setInt(&cfg.Notify.QueueSize, "DIPBOT_NOTIFY_QUEUE_SIZE")

	// ── Top-level ──
	setStr(&cfg.Mode, "DIPBOT_MODE")
	setStr(&cfg.LogLevel, "DIPBOT_LOG_LEVEL")
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

// setMillis reads a plain integer of milliseconds, the unit the earlier
// scripts used.
func setMillis(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms > 0 {
			dst.Duration = time.Duration(ms) * time.Millisecond
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
