package config

import "slices"

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	// Steam
	redact(&out.Steam.Password)
	redact(&out.Steam.SharedSecret)
	redact(&out.Steam.IdentitySecret)
	redact(&out.Steam.APIKey)
	redact(&out.Steam.CredentialsPassphrase)

	// Postgres
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	// Redis
	redact(&out.Redis.Password)

	// S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// Server
	redact(&out.Server.APIKey)

	// Notify
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	out.Notify.Events = slices.Clone(cfg.Notify.Events)
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)
	out.Server.AllowedOrigins = slices.Clone(cfg.Server.AllowedOrigins)
	out.Kafka.Brokers = slices.Clone(cfg.Kafka.Brokers)
	out.Trading.Apps = slices.Clone(cfg.Trading.Apps)

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
