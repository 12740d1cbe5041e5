package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/use-agent/dirscrape/api"
	"github.com/use-agent/dirscrape/api/handler"
	"github.com/use-agent/dirscrape/config"
	"github.com/use-agent/dirscrape/metrics"
	"github.com/use-agent/dirscrape/service"
)

func newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if port != 0 {
				cfg.Server.Port = port
			}
			return serve(cfg)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default from DIRSCRAPE_PORT)")
	return cmd
}

func serve(cfg *config.Config) error {
	// ── 1. Initialise structured logging ────────────────────────────
	initServerLogger(cfg.Log)
	slog.Info("dirscrape starting",
		"version", version,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"fetch_mode", cfg.Scraper.FetchMode,
		"auth", cfg.Auth.Enabled,
	)
	if cfg.Auth.Enabled && len(cfg.Auth.APIKeys) == 0 {
		slog.Warn("auth enabled but DIRSCRAPE_API_KEYS is empty; the API is open")
	}
	if cfg.LLM.APIKey == "" {
		slog.Warn("no LLM API key configured; requests must bring llm_api_key")
	}

	// ── 2. Initialise service (browser starts on first use) ─────────
	m := metrics.New(version)
	svc := service.New(cfg, m)
	defer svc.Close()

	jobs := handler.NewJobStore(cfg.Jobs.TTL, cfg.Jobs.MaxRunning)

	// ── 3. Setup router ─────────────────────────────────────────────
	router := api.NewRouter(cfg, svc, jobs, m, version)

	// ── 4. Start HTTP server ────────────────────────────────────────
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// ── 5. Graceful shutdown ────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		slog.Info("shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		jobs.Close()
		return fmt.Errorf("HTTP server: %w", err)
	}

	// Give in-flight requests 10 seconds to complete.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}
	jobs.Close()

	// svc.Close() runs via defer and kills Chrome if it was started.
	slog.Info("dirscrape stopped")
	return nil
}
