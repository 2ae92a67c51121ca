package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dgnsrekt/chainscout/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:           "chainscout",
	Short:         "Scrape low-premium option contracts from a brokerage chain page",
	Long:          `chainscout drives a logged-in Chrome tab over CDP, expands every option contract priced between the configured cent bounds, extracts its quote fields and keeps a rolling history per contract.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		cfg = loaded
		return setupLogger(cfg.LogLevel, cfg.LogFile)
	},
}

func main() {
	rootCmd.AddCommand(serveCmd(), loginCmd(), scanCmd(), exportCmd(), biasCmd())
	if err := rootCmd.Execute(); err != nil {
		slog.Error("chainscout failed", "error", err)
		os.Exit(1)
	}
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	// Stderr keeps stdout clean for the JSON and CSV the one-shot commands print.
	h := slog.NewTextHandler(io.MultiWriter(os.Stderr, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
