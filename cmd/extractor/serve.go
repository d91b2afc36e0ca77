package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"website-extractor/internal/api"
)

// maxConcurrencyEnv overrides server.max_concurrency when the flag is unset.
const maxConcurrencyEnv = "EXTRACTOR_MAX_CONCURRENCY"

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP control plane",
		Long: `Serve exposes crawls over HTTP:

  POST /start_crawl         {"url": "...", "depth": 2}
  GET  /logs                event log lines
  GET  /api/crawls          sessions
  GET  /api/crawls/{id}     session detail
  POST /api/crawls/{id}/cancel
  GET  /api/crawls/{id}/events  server-sent progress`,
		Args: cobra.NoArgs,
		RunE: runServeCmd,
	}
	cmd.Flags().String("addr", "", "Listen address (default from config: :5000)")
	cmd.Flags().Int("max-concurrency", 0, "Maximum concurrent crawls")
	return cmd
}

func runServeCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	flagConc, _ := cmd.Flags().GetInt("max-concurrency")
	cfg.Server.MaxConcurrency = resolveMaxConcurrency(flagConc, cfg.Server.MaxConcurrency)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger, closeLog, err := setupLogger(cfg.Logging, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager := api.NewSessionManager(cfg, cfg.Server.MaxConcurrency, ctx, logger, nil)
	server := api.NewServer(manager, cfg.Logging.File, logger)
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("api server listening", "addr", cfg.Server.Addr, "max_concurrency", cfg.Server.MaxConcurrency)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown error", "error", err)
		}
		if err := manager.Shutdown(shutdownCtx); err != nil {
			logger.Error("crawl shutdown timed out", "error", err)
		}
		return nil
	})

	err = g.Wait()
	logger.Info("api server stopped")
	return err
}

func resolveMaxConcurrency(flagValue, configured int) int {
	if flagValue > 0 {
		return flagValue
	}
	if raw := os.Getenv(maxConcurrencyEnv); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return v
		}
	}
	return configured
}
