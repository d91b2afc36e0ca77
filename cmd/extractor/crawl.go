package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"website-extractor/internal/config"
	"website-extractor/internal/crawler"
	"website-extractor/internal/naming"
)

// NewCrawlCmd creates the crawl command.
func NewCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl <url>",
		Short: "Crawl a site and save its pages and assets",
		Long: `Crawl downloads the seed page, every same-origin page reachable within
--depth link hops, and the images, scripts and stylesheets those pages embed.

Examples:
  # Seed page plus its assets only
  extractor crawl https://example.com --depth 1

  # Two levels of links, written below ./mirror
  extractor crawl https://example.com -d 2 -o mirror

  # Direct HTTP only, no browser fallback
  extractor crawl https://example.com --no-render`,
		Args: cobra.ExactArgs(1),
		RunE: runCrawlCmd,
	}

	cmd.Flags().IntP("depth", "d", config.Default().Crawl.MaxDepth, "Maximum link depth; 1 saves only the seed page and its assets")
	cmd.Flags().StringP("output", "o", config.Default().Crawl.OutputDir, "Directory that receives the <scheme>_<host> folder")
	cmd.Flags().IntP("workers", "w", config.Default().Crawl.Workers, fmt.Sprintf("Concurrent fetch workers (max %d)", config.MaxWorkers))
	cmd.Flags().Bool("no-render", false, "Disable the headless browser fallback")
	return cmd
}

func runCrawlCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyCrawlFlags(cmd, &cfg, args[0]); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger, closeLog, err := setupLogger(cfg.Logging, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer closeLog()

	engine, err := crawler.NewEngine(cfg, crawler.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("initialise engine: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stats, err := engine.Run(ctx)
	if errors.Is(err, context.Canceled) {
		fmt.Fprintf(cmd.ErrOrStderr(), "crawl interrupted: %d saved, %d failed\n", stats.Persisted, stats.Failed)
		return nil
	}
	if err != nil {
		return err
	}

	seed, _ := crawler.ParseSeed(cfg.Crawl.SeedURL)
	root := filepath.Join(cfg.Crawl.OutputDir, naming.RootDir(seed))
	fmt.Fprintf(cmd.OutOrStdout(), "saved %d resources to %s (%d failed, %d via browser)\n",
		stats.Persisted, root, stats.Failed, stats.Fallbacks)
	return nil
}

// applyCrawlFlags overlays explicitly set flags onto cfg.
func applyCrawlFlags(cmd *cobra.Command, cfg *config.Config, seed string) error {
	cfg.Crawl.SeedURL = seed
	flags := cmd.Flags()
	if flags.Changed("depth") {
		cfg.Crawl.MaxDepth, _ = flags.GetInt("depth")
	}
	if flags.Changed("output") {
		cfg.Crawl.OutputDir, _ = flags.GetString("output")
	}
	if flags.Changed("workers") {
		cfg.Crawl.Workers, _ = flags.GetInt("workers")
	}
	if noRender, _ := flags.GetBool("no-render"); noRender {
		cfg.Rendering.Enabled = false
	}
	cfg.Normalise()
	if _, err := crawler.ParseSeed(cfg.Crawl.SeedURL); err != nil {
		return err
	}
	return nil
}
