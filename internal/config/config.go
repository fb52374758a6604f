// Package config defines the top-level configuration for the mean-reversion
// bot and provides validation helpers.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a TOML
// or YAML file and then optionally overridden by MEANREV_* environment
// variables.
type Config struct {
	Strategy StrategyConfig `toml:"strategy" yaml:"strategy"`
	State    StateConfig    `toml:"state" yaml:"state"`
	Venue    VenueConfig    `toml:"venue" yaml:"venue"`
	History  HistoryConfig  `toml:"history" yaml:"history"`
	Postgres PostgresConfig `toml:"postgres" yaml:"postgres"`
	Redis    RedisConfig    `toml:"redis" yaml:"redis"`
	S3       S3Config       `toml:"s3" yaml:"s3"`
	Server   ServerConfig   `toml:"server" yaml:"server"`
	Notify   NotifyConfig   `toml:"notify" yaml:"notify"`
	LogFile  LogFileConfig  `toml:"log_file" yaml:"log_file"`
	Mode     string         `toml:"mode" yaml:"mode"`
	LogLevel string         `toml:"log_level" yaml:"log_level"`
}

// StrategyConfig holds the decision parameters of the strategy instance.
type StrategyConfig struct {
	Name     string   `toml:"name" yaml:"name"`
	Interval duration `toml:"interval" yaml:"interval"`
	// Collateral and Leverage are decimal strings, e.g. "10.1".
	Collateral string  `toml:"collateral" yaml:"collateral"`
	Leverage   string  `toml:"leverage" yaml:"leverage"`
	RSIPeriod  int     `toml:"rsi_period" yaml:"rsi_period"`
	Oversold   float64 `toml:"oversold" yaml:"oversold"`
	Overbought float64 `toml:"overbought" yaml:"overbought"`
	// HistoryLength is how many recent prices are requested per market.
	// It must cover rsi_period; extra points seed the smoothing.
	HistoryLength int `toml:"history_length" yaml:"history_length"`
	// Smoothing is "simple" or "wilder".
	Smoothing       string   `toml:"smoothing" yaml:"smoothing"`
	StopLossPct     float64  `toml:"stop_loss_pct" yaml:"stop_loss_pct"`
	TakeProfitPct   float64  `toml:"take_profit_pct" yaml:"take_profit_pct"`
	MaxHold         duration `toml:"max_hold" yaml:"max_hold"`
	PreOpenDelay    duration `toml:"pre_open_delay" yaml:"pre_open_delay"`
	TransientErrors []string `toml:"transient_errors" yaml:"transient_errors"`
	// BlacklistTTL of zero keeps blacklisted markets until removed by hand.
	BlacklistTTL duration `toml:"blacklist_ttl" yaml:"blacklist_ttl"`
	TrackPending bool     `toml:"track_pending" yaml:"track_pending"`
}

// CollateralDecimal parses Collateral.
func (s StrategyConfig) CollateralDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(s.Collateral)
}

// LeverageDecimal parses Leverage.
func (s StrategyConfig) LeverageDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(s.Leverage)
}

// StateConfig locates the persisted engine state.
type StateConfig struct {
	Path         string `toml:"path" yaml:"path"`
	BackupToS3   bool   `toml:"backup_to_s3" yaml:"backup_to_s3"`
	BackupPrefix string `toml:"backup_prefix" yaml:"backup_prefix"`
}

// VenueConfig holds the trading gateway endpoint and credentials.
type VenueConfig struct {
	BaseURL             string   `toml:"base_url" yaml:"base_url"`
	APIKey              string   `toml:"api_key" yaml:"api_key"`
	APISecret           string   `toml:"api_secret" yaml:"api_secret"`
	EncryptedSecretPath string   `toml:"encrypted_secret_path" yaml:"encrypted_secret_path"`
	SecretPassword      string   `toml:"secret_password" yaml:"secret_password"`
	Timeout             duration `toml:"timeout" yaml:"timeout"`
	RateLimitRPS        float64  `toml:"rate_limit_rps" yaml:"rate_limit_rps"`
	RateBurst           int      `toml:"rate_burst" yaml:"rate_burst"`
	// DryRun replaces the gateway executor with a paper executor. Market
	// data still comes from the gateway.
	DryRun bool `toml:"dry_run" yaml:"dry_run"`
}

// HistoryConfig selects the price-history source.
type HistoryConfig struct {
	// Source is "venue" (gateway endpoint) or "recorded" (snapshots kept in
	// Redis by previous cycles).
	Source       string `toml:"source" yaml:"source"`
	RecordLength int    `toml:"record_length" yaml:"record_length"`
}

// PostgresConfig holds trade-journal database parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled" yaml:"enabled"`
	DSN           string `toml:"dsn" yaml:"dsn"`
	Host          string `toml:"host" yaml:"host"`
	Port          int    `toml:"port" yaml:"port"`
	Database      string `toml:"database" yaml:"database"`
	User          string `toml:"user" yaml:"user"`
	Password      string `toml:"password" yaml:"password"`
	SSLMode       string `toml:"ssl_mode" yaml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns" yaml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns" yaml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations" yaml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled" yaml:"enabled"`
	Addr       string `toml:"addr" yaml:"addr"`
	Password   string `toml:"password" yaml:"password"`
	DB         int    `toml:"db" yaml:"db"`
	PoolSize   int    `toml:"pool_size" yaml:"pool_size"`
	MaxRetries int    `toml:"max_retries" yaml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled" yaml:"tls_enabled"`
	// CycleLock serialises cycles across every instance sharing this Redis.
	CycleLock bool `toml:"cycle_lock" yaml:"cycle_lock"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled" yaml:"enabled"`
	Endpoint       string `toml:"endpoint" yaml:"endpoint"`
	Region         string `toml:"region" yaml:"region"`
	Bucket         string `toml:"bucket" yaml:"bucket"`
	AccessKey      string `toml:"access_key" yaml:"access_key"`
	SecretKey      string `toml:"secret_key" yaml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl" yaml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style" yaml:"force_path_style"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled" yaml:"enabled"`
	Port        int      `toml:"port" yaml:"port"`
	APIKey      string   `toml:"api_key" yaml:"api_key"`
	CORSOrigins []string `toml:"cors_origins" yaml:"cors_origins"`
	// RateLimitRPS caps requests per client IP. Zero disables the limit.
	RateLimitRPS float64 `toml:"rate_limit_rps" yaml:"rate_limit_rps"`
	RateBurst    int     `toml:"rate_burst" yaml:"rate_burst"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token" yaml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id" yaml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url" yaml:"discord_webhook_url"`
	Events            []string `toml:"events" yaml:"events"`
}

// LogFileConfig enables a rotated log file next to stdout.
type LogFileConfig struct {
	Path       string `toml:"path" yaml:"path"`
	MaxSizeMB  int    `toml:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `toml:"compress" yaml:"compress"`
}

// duration is a wrapper around time.Duration that supports string decoding
// (e.g. "5m", "30s") from both TOML and YAML.
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the decoders can
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

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Strategy: StrategyConfig{
			Name:            "mean_reversion",
			Interval:        duration{time.Minute},
			Collateral:      "10.1",
			Leverage:        "2",
			RSIPeriod:       14,
			Oversold:        30,
			Overbought:      70,
			HistoryLength:   20,
			Smoothing:       "simple",
			StopLossPct:     -0.05,
			TakeProfitPct:   0.05,
			MaxHold:         duration{6 * time.Hour},
			PreOpenDelay:    duration{20 * time.Second},
			TransientErrors: []string{"account sequence mismatch"},
			TrackPending:    true,
		},
		State: StateConfig{
			Path:         "cache/meanReversion.json",
			BackupPrefix: "state",
		},
		Venue: VenueConfig{
			BaseURL:      "http://localhost:8080",
			Timeout:      duration{30 * time.Second},
			RateLimitRPS: 5,
			RateBurst:    5,
		},
		History: HistoryConfig{
			Source:       "venue",
			RecordLength: 200,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  5,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "meanrevbot",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:      false,
			Port:         8000,
			CORSOrigins:  []string{"http://localhost:3000"},
			RateLimitRPS: 10,
			RateBurst:    20,
		},
		Notify: NotifyConfig{
			Events: []string{"position_opened", "position_closed", "close_failed", "market_blacklisted", "cycle_aborted"},
		},
		LogFile: LogFileConfig{
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 14,
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":  true,
	"once":   true,
	"server": true,
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
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, once, server)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Strategy
	s := c.Strategy
	if s.Interval.Duration <= 0 {
		errs = append(errs, "strategy: interval must be > 0")
	}
	if v, err := s.CollateralDecimal(); err != nil || !v.IsPositive() {
		errs = append(errs, fmt.Sprintf("strategy: collateral must be a positive decimal, got %q", s.Collateral))
	}
	if v, err := s.LeverageDecimal(); err != nil || !v.IsPositive() {
		errs = append(errs, fmt.Sprintf("strategy: leverage must be a positive decimal, got %q", s.Leverage))
	}
	if s.RSIPeriod < 2 {
		errs = append(errs, fmt.Sprintf("strategy: rsi_period must be >= 2, got %d", s.RSIPeriod))
	}
	if s.HistoryLength < s.RSIPeriod {
		errs = append(errs, fmt.Sprintf("strategy: history_length must be >= rsi_period, got %d", s.HistoryLength))
	}
	if s.Oversold < 0 || s.Overbought > 100 || s.Oversold >= s.Overbought {
		errs = append(errs, fmt.Sprintf("strategy: need 0 <= oversold < overbought <= 100, got %.2f/%.2f", s.Oversold, s.Overbought))
	}
	if s.Smoothing != "simple" && s.Smoothing != "wilder" {
		errs = append(errs, fmt.Sprintf("strategy: smoothing must be simple or wilder, got %q", s.Smoothing))
	}
	if s.StopLossPct >= 0 {
		errs = append(errs, "strategy: stop_loss_pct must be negative")
	}
	if s.TakeProfitPct <= 0 {
		errs = append(errs, "strategy: take_profit_pct must be positive")
	}
	if s.MaxHold.Duration < 0 || s.PreOpenDelay.Duration < 0 || s.BlacklistTTL.Duration < 0 {
		errs = append(errs, "strategy: max_hold, pre_open_delay and blacklist_ttl must not be negative")
	}
	if s.PreOpenDelay.Duration >= s.Interval.Duration && s.Interval.Duration > 0 {
		errs = append(errs, "strategy: pre_open_delay must be shorter than interval")
	}

	// State
	if strings.TrimSpace(c.State.Path) == "" {
		errs = append(errs, "state: path must not be empty")
	}
	if c.State.BackupToS3 && !c.S3.Enabled {
		errs = append(errs, "state: backup_to_s3 requires s3.enabled")
	}

	// Venue
	if c.Mode != "server" {
		if u, err := url.Parse(c.Venue.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Sprintf("venue: base_url must be an absolute URL, got %q", c.Venue.BaseURL))
		}
		if !c.Venue.DryRun && c.Venue.APIKey != "" && c.Venue.APISecret == "" && c.Venue.EncryptedSecretPath == "" {
			errs = append(errs, "venue: api_secret or encrypted_secret_path is required when api_key is set")
		}
		if c.Venue.EncryptedSecretPath != "" && c.Venue.SecretPassword == "" {
			errs = append(errs, "venue: secret_password is required when encrypted_secret_path is set")
		}
	}
	if c.Venue.Timeout.Duration <= 0 {
		errs = append(errs, "venue: timeout must be > 0")
	}
	if c.Venue.RateLimitRPS < 0 {
		errs = append(errs, "venue: rate_limit_rps must be >= 0")
	}

	// History
	switch c.History.Source {
	case "venue":
	case "recorded":
		if !c.Redis.Enabled {
			errs = append(errs, "history: source \"recorded\" requires redis.enabled")
		}
		if c.History.RecordLength < c.Strategy.HistoryLength {
			errs = append(errs, "history: record_length must be >= strategy.history_length")
		}
	default:
		errs = append(errs, fmt.Sprintf("history: source must be venue or recorded, got %q", c.History.Source))
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
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
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
	if c.Redis.CycleLock && !c.Redis.Enabled {
		errs = append(errs, "redis: cycle_lock requires redis.enabled")
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
	if c.Server.Enabled || c.Mode == "server" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimitRPS < 0 {
			errs = append(errs, "server: rate_limit_rps must not be negative")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
