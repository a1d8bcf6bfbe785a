// Package main is the entry point for the maildispatch command.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shineum/maildispatch/internal/config"
)

// errNotSent makes the process exit non-zero after a failed result has
// already been printed.
var errNotSent = errors.New("message not sent")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errNotSent) {
			slog.Error("command failed", "error", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "maildispatch",
		Short: "Send email through SMTP, vendor APIs or the maildocker gateway",
		Long: `maildispatch validates a message document against a provider document
and delivers it once through the transport the provider selects.

Example:
  maildispatch send --provider mailgun.yaml --message welcome.yaml
  maildispatch validate --provider smtp.yaml --message welcome.yaml
  maildispatch sink --addr 127.0.0.1:2525
  maildispatch providers`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML configuration file (optional)")

	load := func() (*config.Config, error) {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return nil, err
		}
		setupLogger(cfg.Logging.Level)
		return cfg, nil
	}

	root.AddCommand(newSendCmd(load), newValidateCmd(load), newSinkCmd(load), newProvidersCmd())
	return root
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output on stderr,
// leaving stdout to command results.
func setupLogger(level string) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
