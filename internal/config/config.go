// Package config defines the top-level configuration for the dip bot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by environment variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Engine     EngineConfig     `toml:"engine"`
	Feed       FeedConfig       `toml:"feed"`
	Retry      RetryConfig      `toml:"retry"`
	Redis      RedisConfig      `toml:"redis"`
	Postgres   PostgresConfig   `toml:"postgres"`
	S3         S3Config         `toml:"s3"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// WalletConfig holds the signing key and the proxy wallet that holds funds.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	FunderAddress    string `toml:"funder_address"`
}

// PolymarketConfig holds API endpoints, chain parameters and the transport
// limits shared by the REST clients.
type PolymarketConfig struct {
	ClobHost      string `toml:"clob_host"`
	GammaHost     string `toml:"gamma_host"`
	WsHost        string `toml:"ws_host"`
	ChainID       int    `toml:"chain_id"`
	SignatureType int    `toml:"signature_type"`
	Exchange      string `toml:"exchange"`

	ApiKey        string `toml:"api_key"`
	ApiSecret     string `toml:"api_secret"`
	ApiPassphrase string `toml:"api_passphrase"`

	RequestTimeout    duration `toml:"request_timeout"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	Burst             int      `toml:"burst"`
	BreakerFailures   int      `toml:"breaker_failures"`
	BreakerCooldown   duration `toml:"breaker_cooldown"`
}

// EngineConfig holds the trading rules and the tick cadence.
type EngineConfig struct {
	Coin            string `toml:"coin"`
	DurationMinutes int    `toml:"duration_minutes"`
	// Mode selects the rule set: "dip" or "pair".
	Mode string `toml:"mode"`

	BuyThreshold  float64 `toml:"buy_threshold"`
	SellThreshold float64 `toml:"sell_threshold"`
	TradeSize     float64 `toml:"trade_size"`

	PairCostThreshold float64 `toml:"pair_cost_threshold"`
	PairOrderSize     float64 `toml:"pair_order_size"`

	CheckInterval     duration `toml:"check_interval"`
	HoldingTimeout    duration `toml:"holding_timeout"`
	RotationThreshold int      `toml:"rotation_threshold"`
	DryRun            bool     `toml:"dry_run"`
	EventSlug         string   `toml:"event_slug"`
	ConditionID       string   `toml:"condition_id"` // manual fallback when discovery finds nothing

	PriceTimeout   duration `toml:"price_timeout"`
	ProbeTimeout   duration `toml:"probe_timeout"`
	TickTimeout    duration `toml:"tick_timeout"`
	StatsInterval  duration `toml:"stats_interval"`
	SnapshotMaxAge duration `toml:"snapshot_max_age"`
	FloorPrice     float64  `toml:"floor_price"`
}

// FeedConfig tunes the push price feed.
type FeedConfig struct {
	Enabled      bool     `toml:"enabled"`
	StaleAfter   duration `toml:"stale_after"`
	ReconnectMin duration `toml:"reconnect_min"`
	ReconnectMax duration `toml:"reconnect_max"`
}

// RetryConfig bounds retries of market discovery calls.
type RetryConfig struct {
	MaxAttempts int      `toml:"max_attempts"`
	BaseDelay   duration `toml:"base_delay"`
	MaxDelay    duration `toml:"max_delay"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	TLSEnabled bool     `toml:"tls_enabled"`
	KeyPrefix  string   `toml:"key_prefix"`
	PriceTTL   duration `toml:"price_ttl"`
	LockTTL    duration `toml:"lock_ttl"`
}

// PostgresConfig holds journal database connection parameters.
type PostgresConfig struct {
	Enabled       bool     `toml:"enabled"`
	DSN           string   `toml:"dsn"`
	Host          string   `toml:"host"`
	Port          int      `toml:"port"`
	Database      string   `toml:"database"`
	User          string   `toml:"user"`
	Password      string   `toml:"password"`
	SSLMode       string   `toml:"ssl_mode"`
	PoolMaxConns  int      `toml:"pool_max_conns"`
	PoolMinConns  int      `toml:"pool_min_conns"`
	RunMigrations bool     `toml:"run_migrations"`
	WriteTimeout  duration `toml:"write_timeout"`
}

// S3Config holds S3-compatible object storage parameters for session
// archives.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
	MaxEvents      int    `toml:"max_events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds status HTTP server parameters.
type ServerConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	APIKey     string   `toml:"api_key"`
	RateLimit  float64  `toml:"rate_limit"`
	RateBurst  int      `toml:"rate_burst"`
	Metrics    bool     `toml:"metrics"`
	MaxTickAge duration `toml:"max_tick_age"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	QueueSize         int      `toml:"queue_size"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			ClobHost:          "https://clob.polymarket.com",
			GammaHost:         "https://gamma-api.polymarket.com",
			WsHost:            "wss://ws-subscriptions-clob.polymarket.com/ws/market",
			ChainID:           137,
			SignatureType:     2,
			RequestTimeout:    duration{10 * time.Second},
			RequestsPerSecond: 5,
			Burst:             10,
			BreakerFailures:   5,
			BreakerCooldown:   duration{30 * time.Second},
		},
		Engine: EngineConfig{
			Coin:              "ETH",
			DurationMinutes:   15,
			Mode:              "dip",
			BuyThreshold:      0.80,
			SellThreshold:     0.90,
			TradeSize:         10,
			PairCostThreshold: 0.99,
			PairOrderSize:     10,
			CheckInterval:     duration{60 * time.Second},
			HoldingTimeout:    duration{15 * time.Minute},
			RotationThreshold: 2,
			DryRun:            true,
			PriceTimeout:      duration{4 * time.Second},
			ProbeTimeout:      duration{4 * time.Second},
			TickTimeout:       duration{45 * time.Second},
			StatsInterval:     duration{5 * time.Minute},
			SnapshotMaxAge:    duration{2 * time.Minute},
			FloorPrice:        0.01,
		},
		Feed: FeedConfig{
			Enabled:      true,
			StaleAfter:   duration{3 * time.Minute},
			ReconnectMin: duration{time.Second},
			ReconnectMax: duration{30 * time.Second},
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   duration{500 * time.Millisecond},
			MaxDelay:    duration{5 * time.Second},
		},
		Redis: RedisConfig{
			Enabled:   false,
			Addr:      "localhost:6379",
			PoolSize:  10,
			KeyPrefix: "dipbot",
			PriceTTL:  duration{3 * time.Minute},
			LockTTL:   duration{30 * time.Second},
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  4,
			PoolMinConns:  1,
			RunMigrations: true,
			WriteTimeout:  duration{5 * time.Second},
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "dipbot-sessions",
			ForcePathStyle: true,
			Prefix:         "sessions",
			MaxEvents:      50_000,
		},
		Server: ServerConfig{
			Enabled:    true,
			Addr:       ":8080",
			RateLimit:  10,
			RateBurst:  20,
			Metrics:    true,
			MaxTickAge: duration{5 * time.Minute},
		},
		Notify: NotifyConfig{
			Events:    []string{"buy", "sell", "timeout_exit", "forced_liquidation", "rotation", "rotation_failed", "pair_unhedged", "shutdown"},
			QueueSize: 64,
		},
		Mode:     "run",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"run":  true,
	"scan": true,
}

// validEngineModes enumerates the accepted values for EngineConfig.Mode.
var validEngineModes = map[string]bool{
	"dip":  true,
	"pair": true,
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

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: run, scan)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet is only needed when orders reach the venue.
	if c.Live() {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: private_key or encrypted_key_path is required when engine.dry_run is false")
		}
	}
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}

	// Polymarket
	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.Polymarket.ChainID <= 0 {
		errs = append(errs, "polymarket: chain_id must be positive")
	}
	if c.Polymarket.SignatureType < 0 || c.Polymarket.SignatureType > 2 {
		errs = append(errs, fmt.Sprintf("polymarket: signature_type must be 0 (EOA), 1 (proxy) or 2 (Safe), got %d", c.Polymarket.SignatureType))
	}
	ak, as, ap := c.Polymarket.ApiKey != "", c.Polymarket.ApiSecret != "", c.Polymarket.ApiPassphrase != ""
	if (ak || as || ap) && !(ak && as && ap) {
		errs = append(errs, "polymarket: api_key, api_secret and api_passphrase must all be set together")
	}
	if c.Polymarket.RequestsPerSecond <= 0 {
		errs = append(errs, "polymarket: requests_per_second must be > 0")
	}
	if c.Polymarket.BreakerFailures < 1 {
		errs = append(errs, "polymarket: breaker_failures must be >= 1")
	}

	// Engine
	e := c.Engine
	if strings.TrimSpace(e.Coin) == "" {
		errs = append(errs, "engine: coin must not be empty")
	}
	if e.DurationMinutes <= 0 {
		errs = append(errs, "engine: duration_minutes must be > 0")
	}
	switch {
	case !validEngineModes[strings.ToLower(e.Mode)]:
		errs = append(errs, fmt.Sprintf("engine: unknown mode %q (valid: dip, pair)", e.Mode))
	case strings.EqualFold(e.Mode, "dip"):
		if !(e.BuyThreshold > 0 && e.BuyThreshold < 1) {
			errs = append(errs, fmt.Sprintf("engine: buy_threshold must be in (0,1), got %v", e.BuyThreshold))
		}
		if !(e.SellThreshold > 0 && e.SellThreshold <= 1) {
			errs = append(errs, fmt.Sprintf("engine: sell_threshold must be in (0,1], got %v", e.SellThreshold))
		}
		if e.SellThreshold <= e.BuyThreshold {
			errs = append(errs, "engine: sell_threshold must be above buy_threshold")
		}
		if e.TradeSize <= 0 {
			errs = append(errs, "engine: trade_size must be > 0")
		}
	case strings.EqualFold(e.Mode, "pair"):
		if !(e.PairCostThreshold > 0 && e.PairCostThreshold <= 1) {
			errs = append(errs, fmt.Sprintf("engine: pair_cost_threshold must be in (0,1], got %v", e.PairCostThreshold))
		}
		if e.PairOrderSize <= 0 {
			errs = append(errs, "engine: pair_order_size must be > 0")
		}
	}
	if e.CheckInterval.Duration <= 0 {
		errs = append(errs, "engine: check_interval must be > 0")
	}
	if e.HoldingTimeout.Duration <= 0 {
		errs = append(errs, "engine: holding_timeout must be > 0")
	}
	if e.RotationThreshold < 1 {
		errs = append(errs, "engine: rotation_threshold must be >= 1")
	}
	if e.PriceTimeout.Duration <= 0 || e.ProbeTimeout.Duration <= 0 {
		errs = append(errs, "engine: price_timeout and probe_timeout must be > 0")
	}
	if e.StatsInterval.Duration <= 0 {
		errs = append(errs, "engine: stats_interval must be > 0")
	}
	if !(e.FloorPrice > 0 && e.FloorPrice < 1) {
		errs = append(errs, fmt.Sprintf("engine: floor_price must be in (0,1), got %v", e.FloorPrice))
	}

	// Feed
	if c.Feed.Enabled && c.Polymarket.WsHost == "" {
		errs = append(errs, "feed: polymarket.ws_host must be set when the feed is enabled")
	}
	if c.Feed.ReconnectMax.Duration < c.Feed.ReconnectMin.Duration {
		errs = append(errs, "feed: reconnect_max must not be below reconnect_min")
	}

	// Retry
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, "retry: max_attempts must be >= 1")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.LockTTL.Duration < time.Second {
			errs = append(errs, "redis: lock_ttl must be at least 1s")
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

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Addr == "" {
			errs = append(errs, "server: addr must not be empty")
		}
		if c.Server.RateLimit <= 0 || c.Server.RateBurst < 1 {
			errs = append(errs, "server: rate_limit must be > 0 and rate_burst >= 1")
		}
	}

	// Notify
	if c.Notify.TelegramToken != "" && c.Notify.TelegramChatID == "" {
		errs = append(errs, "notify: telegram_chat_id is required when telegram_token is set")
	}
	if c.Notify.QueueSize < 1 {
		errs = append(errs, "notify: queue_size must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Live reports whether orders are sent to the venue.
func (c *Config) Live() bool {
	return !c.Engine.DryRun && strings.EqualFold(c.Mode, "run")
}
