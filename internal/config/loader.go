package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads a TOML or YAML configuration file at path (chosen by extension),
// merges it on top of the built-in defaults, applies MEANREV_* environment
// variable overrides, and returns the final Config. The returned Config has
// NOT been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse yaml: %w", err)
		}
	default:
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known MEANREV_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the config file.
func applyEnvOverrides(cfg *Config) {
	// ── Strategy ──
	setStr(&cfg.Strategy.Name, "MEANREV_STRATEGY_NAME")
	setDuration(&cfg.Strategy.Interval, "MEANREV_STRATEGY_INTERVAL")
	setStr(&cfg.Strategy.Collateral, "MEANREV_STRATEGY_COLLATERAL")
	setStr(&cfg.Strategy.Leverage, "MEANREV_STRATEGY_LEVERAGE")
	setInt(&cfg.Strategy.RSIPeriod, "MEANREV_STRATEGY_RSI_PERIOD")
	setInt(&cfg.Strategy.HistoryLength, "MEANREV_STRATEGY_HISTORY_LENGTH")
	setFloat64(&cfg.Strategy.Oversold, "MEANREV_STRATEGY_OVERSOLD")
	setFloat64(&cfg.Strategy.Overbought, "MEANREV_STRATEGY_OVERBOUGHT")
	setStr(&cfg.Strategy.Smoothing, "MEANREV_STRATEGY_SMOOTHING")
	setFloat64(&cfg.Strategy.StopLossPct, "MEANREV_STRATEGY_STOP_LOSS_PCT")
	setFloat64(&cfg.Strategy.TakeProfitPct, "MEANREV_STRATEGY_TAKE_PROFIT_PCT")
	setDuration(&cfg.Strategy.MaxHold, "MEANREV_STRATEGY_MAX_HOLD")
	setDuration(&cfg.Strategy.PreOpenDelay, "MEANREV_STRATEGY_PRE_OPEN_DELAY")
	setStringSlice(&cfg.Strategy.TransientErrors, "MEANREV_STRATEGY_TRANSIENT_ERRORS")
	setDuration(&cfg.Strategy.BlacklistTTL, "MEANREV_STRATEGY_BLACKLIST_TTL")
	setBool(&cfg.Strategy.TrackPending, "MEANREV_STRATEGY_TRACK_PENDING")

	// ── State ──
	setStr(&cfg.State.Path, "MEANREV_STATE_PATH")
	setBool(&cfg.State.BackupToS3, "MEANREV_STATE_BACKUP_TO_S3")

	// ── Venue ──
	setStr(&cfg.Venue.BaseURL, "MEANREV_VENUE_BASE_URL")
	setStr(&cfg.Venue.APIKey, "MEANREV_VENUE_API_KEY")
	setStr(&cfg.Venue.APISecret, "MEANREV_VENUE_API_SECRET")
	setStr(&cfg.Venue.EncryptedSecretPath, "MEANREV_VENUE_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Venue.SecretPassword, "MEANREV_VENUE_SECRET_PASSWORD")
	setDuration(&cfg.Venue.Timeout, "MEANREV_VENUE_TIMEOUT")
	setFloat64(&cfg.Venue.RateLimitRPS, "MEANREV_VENUE_RATE_LIMIT_RPS")
	setBool(&cfg.Venue.DryRun, "MEANREV_VENUE_DRY_RUN")

	// ── History ──
	setStr(&cfg.History.Source, "MEANREV_HISTORY_SOURCE")
	setInt(&cfg.History.RecordLength, "MEANREV_HISTORY_RECORD_LENGTH")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "MEANREV_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "MEANREV_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "MEANREV_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "MEANREV_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "MEANREV_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "MEANREV_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "MEANREV_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "MEANREV_POSTGRES_SSL_MODE")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "MEANREV_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "MEANREV_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MEANREV_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MEANREV_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "MEANREV_REDIS_TLS_ENABLED")
	setBool(&cfg.Redis.CycleLock, "MEANREV_REDIS_CYCLE_LOCK")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "MEANREV_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "MEANREV_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "MEANREV_S3_REGION")
	setStr(&cfg.S3.Bucket, "MEANREV_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "MEANREV_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "MEANREV_S3_SECRET_KEY")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "MEANREV_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "MEANREV_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "MEANREV_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "MEANREV_SERVER_CORS_ORIGINS")
	setFloat64(&cfg.Server.RateLimitRPS, "MEANREV_SERVER_RATE_LIMIT_RPS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "MEANREV_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "MEANREV_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "MEANREV_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "MEANREV_NOTIFY_EVENTS")

	// ── Log file ──
	setStr(&cfg.LogFile.Path, "MEANREV_LOG_FILE")

	// ── Top-level ──
	setStr(&cfg.Mode, "MEANREV_MODE")
	setStr(&cfg.LogLevel, "MEANREV_LOG_LEVEL")
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
