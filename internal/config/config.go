// Package config defines the top-level configuration for smtbot and provides
// validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/smtbot/internal/pipeline"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SMTBOT_* environment variables.
type Config struct {
	Steam    SteamConfig    `toml:"steam"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Kafka    KafkaConfig    `toml:"kafka"`
	Trading  TradingConfig  `toml:"trading"`
	Refresh  RefreshConfig  `toml:"refresh"`
	Jobs     JobsConfig     `toml:"jobs"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// SteamConfig holds venue credentials, endpoints and the session retry policy.
type SteamConfig struct {
	CommunityURL string `toml:"community_url"`

	Username       string `toml:"username"`
	Password       string `toml:"password"`
	SteamID        string `toml:"steam_id"`
	SharedSecret   string `toml:"shared_secret"`
	IdentitySecret string `toml:"identity_secret"`
	APIKey         string `toml:"api_key"`

	// EncryptedCredentialsPath points at a file written by smtbot
	// encrypt-credentials; plain fields above override its contents.
	EncryptedCredentialsPath string `toml:"encrypted_credentials_path"`
	CredentialsPassphrase    string `toml:"credentials_passphrase"`

	Currency int    `toml:"currency"`
	Country  string `toml:"country"`
	Language string `toml:"language"`

	ReadsPerMinute  int      `toml:"reads_per_minute"`
	WritesPerMinute int      `toml:"writes_per_minute"`
	HTTPTimeout     duration `toml:"http_timeout"`

	// SharedLimit caps venue calls per SharedWindow across every process
	// sharing the Redis instance. Zero disables it.
	SharedLimit  int      `toml:"shared_limit"`
	SharedWindow duration `toml:"shared_window"`

	SessionTTL    duration `toml:"session_ttl"`
	LoginAttempts int      `toml:"login_attempts"`
	LoginBackoff  duration `toml:"login_backoff"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr        string   `toml:"addr"`
	Password    string   `toml:"password"`
	DB          int      `toml:"db"`
	PoolSize    int      `toml:"pool_size"`
	MaxRetries  int      `toml:"max_retries"`
	TLSEnabled  bool     `toml:"tls_enabled"`
	SettingsTTL duration `toml:"settings_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// KafkaConfig enables position event streaming when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
}

// AppConfig is one app/context pair whose inventory the bot manages.
type AppConfig struct {
	AppID     string `toml:"app_id"`
	ContextID string `toml:"context_id"`
}

// TradingConfig holds trading cycle timing.
type TradingConfig struct {
	CycleInterval duration    `toml:"cycle_interval"`
	LockTTL       duration    `toml:"lock_ttl"`
	LockKey       string      `toml:"lock_key"`
	Apps          []AppConfig `toml:"apps"`
}

// RefreshConfig holds pool refresh parameters.
type RefreshConfig struct {
	Cron       string   `toml:"cron"`
	BatchSize  int      `toml:"batch_size"`
	BatchPause duration `toml:"batch_pause"`
}

// JobsConfig holds the job queue stream parameters. Workers sharing Group
// split the jobs; Consumer must be stable across restarts for a worker to
// pick up jobs it had not finished. An empty Consumer uses the hostname.
type JobsConfig struct {
	Stream   string `toml:"stream"`
	Group    string `toml:"group"`
	Consumer string `toml:"consumer"`
	// StartID applies when the group is first created: "$" skips jobs
	// already queued, "0" takes everything retained.
	StartID string `toml:"start_id"`
}

// ArchiveConfig holds archival parameters. LagDays must stay below the
// price history retention window or rows are pruned before they are copied.
type ArchiveConfig struct {
	Cron    string `toml:"cron"`
	LagDays int    `toml:"lag_days"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled        bool     `toml:"enabled"`
	Port           int      `toml:"port"`
	APIKey         string   `toml:"api_key"`
	CORSOrigins    []string `toml:"cors_origins"`
	RateLimit      int      `toml:"rate_limit"`
	RateWindow     duration `toml:"rate_window"`
	ShutdownGrace  duration `toml:"shutdown_grace"`
	AllowedOrigins []string `toml:"ws_allowed_origins"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
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

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Steam: SteamConfig{
			CommunityURL:    "https://steamcommunity.com",
			Currency:        1,
			Country:         "US",
			Language:        "english",
			ReadsPerMinute:  20,
			WritesPerMinute: 10,
			HTTPTimeout:     duration{20 * time.Second},
			SharedLimit:     0,
			SharedWindow:    duration{time.Minute},
			SessionTTL:      duration{12 * time.Hour},
			LoginAttempts:   3,
			LoginBackoff:    duration{5 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "smtbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			PoolSize:    20,
			MaxRetries:  3,
			SettingsTTL: duration{5 * time.Minute},
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "smtbot-archive",
			ForcePathStyle: true,
		},
		Kafka: KafkaConfig{
			Topic: "smtbot.positions",
		},
		Trading: TradingConfig{
			CycleInterval: duration{5 * time.Minute},
			LockTTL:       duration{10 * time.Minute},
			LockKey:       "trading_cycle",
			Apps:          []AppConfig{{AppID: "730", ContextID: "2"}},
		},
		Refresh: RefreshConfig{
			Cron:       "0 * * * *",
			BatchSize:  10,
			BatchPause: duration{2 * time.Second},
		},
		Jobs: JobsConfig{
			Stream:  "jobs",
			Group:   "workers",
			StartID: "$",
		},
		Archive: ArchiveConfig{
			Cron:    "30 3 * * *",
			LagDays: 7,
		},
		Server: ServerConfig{
			Enabled:       true,
			Port:          8000,
			CORSOrigins:   []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:     120,
			RateWindow:    duration{time.Minute},
			ShutdownGrace: duration{10 * time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"position.bought", "position.listed", "position.closed", "settings.updated"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":    true,
	"worker":    true,
	"scheduler": true,
	"trade":     true,
	"full":      true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// priceHistoryRetentionDays is the default price_history_days setting. The
// archive lag is checked against it since settings live in the database.
const priceHistoryRetentionDays = 30

// NeedsVenue reports whether the mode talks to the venue.
func (c *Config) NeedsVenue() bool {
	switch strings.ToLower(c.Mode) {
	case "worker", "scheduler", "trade", "full":
		return true
	default:
		return false
	}
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, worker, scheduler, trade, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Steam: a credential source is needed whenever the venue is used.
	if c.NeedsVenue() {
		plain := c.Steam.Username != "" && c.Steam.Password != "" && c.Steam.SharedSecret != ""
		if !plain && c.Steam.EncryptedCredentialsPath == "" {
			errs = append(errs, "steam: username, password and shared_secret, or encrypted_credentials_path, must be set for mode "+c.Mode)
		}
		if c.Steam.EncryptedCredentialsPath != "" && c.Steam.CredentialsPassphrase == "" {
			errs = append(errs, "steam: credentials_passphrase is required when encrypted_credentials_path is set")
		}
	}
	if c.Steam.CommunityURL == "" {
		errs = append(errs, "steam: community_url must not be empty")
	}
	if c.Steam.ReadsPerMinute < 1 || c.Steam.WritesPerMinute < 1 {
		errs = append(errs, "steam: reads_per_minute and writes_per_minute must be >= 1")
	}
	if c.Steam.LoginAttempts < 1 {
		errs = append(errs, "steam: login_attempts must be >= 1")
	}
	if c.Steam.SharedLimit < 0 {
		errs = append(errs, "steam: shared_limit must be >= 0")
	}
	if c.Steam.SharedLimit > 0 && c.Steam.SharedWindow.Duration <= 0 {
		errs = append(errs, "steam: shared_window must be > 0 when shared_limit is set")
	}

	// Postgres
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
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when enabled")
		}
	}

	// Kafka
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, "kafka: topic must not be empty when brokers are set")
	}

	// Trading
	if c.Trading.CycleInterval.Duration < time.Minute {
		errs = append(errs, "trading: cycle_interval must be >= 1m")
	}
	if c.Trading.LockTTL.Duration <= 0 {
		errs = append(errs, "trading: lock_ttl must be > 0")
	}
	if c.Trading.LockKey == "" {
		errs = append(errs, "trading: lock_key must not be empty")
	}
	if len(c.Trading.Apps) == 0 {
		errs = append(errs, "trading: at least one app must be configured")
	}
	for i, a := range c.Trading.Apps {
		if a.AppID == "" || a.ContextID == "" {
			errs = append(errs, fmt.Sprintf("trading: apps[%d] needs app_id and context_id", i))
		}
	}

	// Refresh
	if c.Refresh.Cron != "" {
		if _, err := pipeline.ParseSchedule(c.Refresh.Cron); err != nil {
			errs = append(errs, fmt.Sprintf("refresh: invalid cron %q: %v", c.Refresh.Cron, err))
		}
	}
	if c.Refresh.BatchSize < 1 {
		errs = append(errs, "refresh: batch_size must be >= 1")
	}

	// Jobs
	if c.Jobs.Stream == "" || c.Jobs.Group == "" {
		errs = append(errs, "jobs: stream and group must not be empty")
	}

	// Archive
	if c.S3.Enabled && c.Archive.Cron != "" {
		if _, err := pipeline.ParseSchedule(c.Archive.Cron); err != nil {
			errs = append(errs, fmt.Sprintf("archive: invalid cron %q: %v", c.Archive.Cron, err))
		}
	}
	if c.Archive.LagDays < 1 || c.Archive.LagDays >= priceHistoryRetentionDays {
		errs = append(errs, fmt.Sprintf("archive: lag_days must be 1-%d, got %d", priceHistoryRetentionDays-1, c.Archive.LagDays))
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-%d, got %d", 65535, c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
