// Command smtbot is the backend entry point for the marketplace trading bot.
// It loads configuration, validates it, wires dependencies, sets up signal
// handling, and starts the application in the configured mode.
//
// Usage:
//
//	smtbot -config config.toml
//	smtbot encrypt-credentials -out creds.enc < creds.json
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alanyoungcy/smtbot/internal/app"
	"github.com/alanyoungcy/smtbot/internal/config"
	"github.com/alanyoungcy/smtbot/internal/crypto"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "encrypt-credentials" {
		if err := encryptCredentials(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "encrypt-credentials: %v\n", err)
			os.Exit(1)
		}
		return
	}

	configPath := flag.String("config", "config.toml", "path to configuration file")
	flag.Parse()

	// Setup structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	// Set log level from config.
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	// Validate configuration.
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("smtbot starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
	)
	logger.Debug("effective configuration", slog.Any("config", config.RedactedConfig(cfg)))

	// Create the application.
	application := app.New(cfg, logger)
	defer application.Close()

	// Setup signal handling for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Run the application.
	if err := application.Run(ctx); err != nil {
		// context.Canceled is expected on clean shutdown.
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error",
				slog.String("error", err.Error()),
			)
			application.Close()
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
	}

	logger.Info("smtbot stopped")
}

// encryptCredentials reads a JSON credential bundle from stdin and writes it
// sealed with SMTBOT_STEAM_CREDENTIALS_PASSPHRASE to -out.
func encryptCredentials(args []string) error {
	fs := flag.NewFlagSet("encrypt-credentials", flag.ContinueOnError)
	out := fs.String("out", "credentials.enc", "output file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	passphrase := os.Getenv("SMTBOT_STEAM_CREDENTIALS_PASSPHRASE")
	if passphrase == "" {
		return errors.New("SMTBOT_STEAM_CREDENTIALS_PASSPHRASE must be set")
	}

	var creds crypto.Credentials
	dec := json.NewDecoder(os.Stdin)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&creds); err != nil {
		return fmt.Errorf("read credentials from stdin: %w", err)
	}
	if !creds.Complete() {
		return errors.New("username, password and shared_secret are required")
	}

	blob, err := crypto.EncryptCredentials(creds, passphrase)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, blob, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", *out, err)
	}
	fmt.Fprintf(os.Stderr, "wrote %s\n", *out)
	return nil
}
