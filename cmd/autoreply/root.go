package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"autoreply/internal/config"
)

var (
	cfgPath string
	appCfg  *config.AppConfig
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "autoreply",
	Short: "Retrieval-backed auto-reply service for Messenger pages",
	Long: `autoreply answers incoming Messenger messages from a local knowledge
base, escalating to a human operator when it is not confident enough.`,
	PersistentPreRunE: loadConfig,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

// Execute runs the root command with signal handling.
func Execute(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to YAML config (default ./config.yaml or ~/.config/autoreply/config.yaml)")
	rootCmd.AddCommand(serveCmd, ingestCmd, searchCmd, draftCmd, consoleCmd)
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	_ = godotenv.Load()
	var err error
	if cfgPath == "" {
		appCfg, _, err = config.LoadDefault()
	} else {
		appCfg, err = config.Load(cfgPath)
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger = newLogger(appCfg.Logging, cmd.ErrOrStderr())
	slog.SetDefault(logger)
	return nil
}

func newLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

