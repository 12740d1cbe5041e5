package main

import (
	"io"
	"log/slog"
	"os"
	"time"

	charmlog "github.com/charmbracelet/log"

	"github.com/use-agent/dirscrape/config"
)

// initCLILogger routes slog through a human-readable charmbracelet handler
// on w. -v forces debug level.
func initCLILogger(w io.Writer, cfg config.LogConfig) {
	level := config.ParseLevel(cfg.Level)
	if verbose {
		level = slog.LevelDebug
	}
	handler := charmlog.NewWithOptions(w, charmlog.Options{
		Level:           charmlog.Level(level),
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
	})
	slog.SetDefault(slog.New(handler))
}

// initServerLogger configures slog based on the LogConfig.
func initServerLogger(cfg config.LogConfig) {
	level := config.ParseLevel(cfg.Level)
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
