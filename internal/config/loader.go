package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SMTBOT_* environment variable overrides, and
// returns the final Config. A missing file is not an error so a deployment
// can be configured from the environment alone. The returned Config has NOT
// been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		default:
			if undecoded := md.Undecoded(); len(undecoded) > 0 {
				keys := make([]string, len(undecoded))
				for i, k := range undecoded {
					keys[i] = k.String()
				}
				return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
			}
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SMTBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Steam ──
	setStr(&cfg.Steam.CommunityURL, "SMTBOT_STEAM_COMMUNITY_URL")
	setStr(&cfg.Steam.Username, "SMTBOT_STEAM_USERNAME")
	setStr(&cfg.Steam.Password, "SMTBOT_STEAM_PASSWORD")
	setStr(&cfg.Steam.SteamID, "SMTBOT_STEAM_STEAM_ID")
	setStr(&cfg.Steam.SharedSecret, "SMTBOT_STEAM_SHARED_SECRET")
	setStr(&cfg.Steam.IdentitySecret, "SMTBOT_STEAM_IDENTITY_SECRET")
	setStr(&cfg.Steam.APIKey, "SMTBOT_STEAM_API_KEY")
	setStr(&cfg.Steam.EncryptedCredentialsPath, "SMTBOT_STEAM_ENCRYPTED_CREDENTIALS_PATH")
	setStr(&cfg.Steam.CredentialsPassphrase, "SMTBOT_STEAM_CREDENTIALS_PASSPHRASE")
	setInt(&cfg.Steam.Currency, "SMTBOT_STEAM_CURRENCY")
	setStr(&cfg.Steam.Country, "SMTBOT_STEAM_COUNTRY")
	setInt(&cfg.Steam.ReadsPerMinute, "SMTBOT_STEAM_READS_PER_MINUTE")
	setInt(&cfg.Steam.WritesPerMinute, "SMTBOT_STEAM_WRITES_PER_MINUTE")
	setInt(&cfg.Steam.SharedLimit, "SMTBOT_STEAM_SHARED_LIMIT")
	setDuration(&cfg.Steam.SharedWindow, "SMTBOT_STEAM_SHARED_WINDOW")
	setInt(&cfg.Steam.LoginAttempts, "SMTBOT_STEAM_LOGIN_ATTEMPTS")
	setDuration(&cfg.Steam.LoginBackoff, "SMTBOT_STEAM_LOGIN_BACKOFF")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "SMTBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "SMTBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SMTBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SMTBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SMTBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SMTBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SMTBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SMTBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SMTBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SMTBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "SMTBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SMTBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SMTBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SMTBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SMTBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SMTBOT_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.SettingsTTL, "SMTBOT_REDIS_SETTINGS_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "SMTBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "SMTBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SMTBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "SMTBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SMTBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SMTBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SMTBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SMTBOT_S3_FORCE_PATH_STYLE")

	// ── Kafka ──
	setStringSlice(&cfg.Kafka.Brokers, "SMTBOT_KAFKA_BROKERS")
	setStr(&cfg.Kafka.Topic, "SMTBOT_KAFKA_TOPIC")

	// ── Trading ──
	setDuration(&cfg.Trading.CycleInterval, "SMTBOT_TRADING_CYCLE_INTERVAL")
	setDuration(&cfg.Trading.LockTTL, "SMTBOT_TRADING_LOCK_TTL")
	setApps(&cfg.Trading.Apps, "SMTBOT_TRADING_APPS")

	// ── Refresh ──
	setStr(&cfg.Refresh.Cron, "SMTBOT_REFRESH_CRON")
	setInt(&cfg.Refresh.BatchSize, "SMTBOT_REFRESH_BATCH_SIZE")
	setDuration(&cfg.Refresh.BatchPause, "SMTBOT_REFRESH_BATCH_PAUSE")

	// ── Jobs ──
	setStr(&cfg.Jobs.Stream, "SMTBOT_JOBS_STREAM")
	setStr(&cfg.Jobs.Group, "SMTBOT_JOBS_GROUP")
	setStr(&cfg.Jobs.Consumer, "SMTBOT_JOBS_CONSUMER")
	setStr(&cfg.Jobs.StartID, "SMTBOT_JOBS_START_ID")

	// ── Archive ──
	setStr(&cfg.Archive.Cron, "SMTBOT_ARCHIVE_CRON")
	setInt(&cfg.Archive.LagDays, "SMTBOT_ARCHIVE_LAG_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SMTBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SMTBOT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "SMTBOT_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "SMTBOT_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "SMTBOT_SERVER_RATE_LIMIT")
	setStringSlice(&cfg.Server.AllowedOrigins, "SMTBOT_SERVER_WS_ALLOWED_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SMTBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SMTBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SMTBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SMTBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "SMTBOT_MODE")
	setStr(&cfg.LogLevel, "SMTBOT_LOG_LEVEL")
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

// setApps parses "730/2,440/2" into app/context pairs. Malformed entries
// are kept with an empty context so Validate reports them.
func setApps(dst *[]AppConfig, key string) {
	var raw []string
	setStringSlice(&raw, key)
	if len(raw) == 0 {
		return
	}
	apps := make([]AppConfig, 0, len(raw))
	for _, r := range raw {
		appID, contextID, _ := strings.Cut(r, "/")
		apps = append(apps, AppConfig{AppID: strings.TrimSpace(appID), ContextID: strings.TrimSpace(contextID)})
	}
	*dst = apps
}
