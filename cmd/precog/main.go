// Command precog is the entry point for the Precog exit engine. It loads
// configuration, validates it, wires dependencies, sets up signal handling, and
// starts the application in the configured mode.
//
// With -encrypt-key it instead encrypts a Kalshi PEM key for use as
// kalshi.encrypted_key_path and exits.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/precog-trading/precog/internal/app"
	"github.com/precog-trading/precog/internal/config"
	"github.com/precog-trading/precog/internal/crypto"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file (empty for defaults and env only)")
	encryptKey := flag.String("encrypt-key", "", "encrypt the PEM key at this path and exit")
	encryptOut := flag.String("out", "", "output path for -encrypt-key (default <key>.enc.json)")
	flag.Parse()

	if *encryptKey != "" {
		if err := runEncryptKey(*encryptKey, *encryptOut); err != nil {
			fmt.Fprintf(os.Stderr, "encrypt-key: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Setup structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("precog starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
		slog.Any("settings", config.RedactedConfig(cfg)),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	// Setup signal handling for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application exited with error", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		application.Close()
		os.Exit(1)
	}

	logger.Info("precog stopped")
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// runEncryptKey reads the password from PRECOG_KALSHI_KEY_PASSWORD, or the
// first line of stdin, and writes the encrypted key next to the input.
func runEncryptKey(keyPath, outPath string) error {
	pemBytes, err := os.ReadFile(keyPath)
	if err != nil {
		return err
	}

	password := os.Getenv("PRECOG_KALSHI_KEY_PASSWORD")
	if password == "" {
		fmt.Fprint(os.Stderr, "password: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}

	blob, err := crypto.EncryptKey(pemBytes, password)
	if err != nil {
		return err
	}
	if outPath == "" {
		outPath = keyPath + ".enc.json"
	}
	if err := os.WriteFile(outPath, blob, 0o600); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "wrote %s\n", outPath)
	return nil
}
