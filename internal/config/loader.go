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
// built-in defaults, applies TICKBOOK_* environment variable overrides, and
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

// applyEnvOverrides reads well-known TICKBOOK_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setInt64(&cfg.Engine.SlippageToleranceBps, "TICKBOOK_ENGINE_SLIPPAGE_TOLERANCE_BPS")
	setInt(&cfg.Engine.MaxExecutionsPerTrigger, "TICKBOOK_ENGINE_MAX_EXECUTIONS_PER_TRIGGER")
	setDuration(&cfg.Engine.SweepInterval, "TICKBOOK_ENGINE_SWEEP_INTERVAL")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "TICKBOOK_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "TICKBOOK_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TICKBOOK_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TICKBOOK_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TICKBOOK_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TICKBOOK_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TICKBOOK_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "TICKBOOK_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "TICKBOOK_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "TICKBOOK_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "TICKBOOK_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TICKBOOK_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TICKBOOK_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TICKBOOK_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TICKBOOK_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TICKBOOK_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.Namespace, "TICKBOOK_REDIS_NAMESPACE")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "TICKBOOK_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TICKBOOK_S3_REGION")
	setStr(&cfg.S3.Bucket, "TICKBOOK_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TICKBOOK_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TICKBOOK_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "TICKBOOK_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "TICKBOOK_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "TICKBOOK_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "TICKBOOK_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "TICKBOOK_SERVER_CORS_ORIGINS")

	// ── Auth ──
	setStr(&cfg.Auth.APIKeyHash, "TICKBOOK_AUTH_API_KEY_HASH")
	setStr(&cfg.Auth.APIKeySalt, "TICKBOOK_AUTH_API_KEY_SALT")
	setInt(&cfg.Auth.RateLimitPerMinute, "TICKBOOK_AUTH_RATE_LIMIT_PER_MINUTE")
	setBool(&cfg.Auth.RequireCancelSignature, "TICKBOOK_AUTH_REQUIRE_CANCEL_SIGNATURE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "TICKBOOK_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "TICKBOOK_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "TICKBOOK_ARCHIVE_INTERVAL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TICKBOOK_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TICKBOOK_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TICKBOOK_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "TICKBOOK_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "TICKBOOK_MODE")
	setStr(&cfg.LogLevel, "TICKBOOK_LOG_LEVEL")
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
