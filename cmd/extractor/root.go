package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"website-extractor/internal/config"
	"website-extractor/internal/eventlog"
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extractor",
		Short: "Mirror a website's pages and assets to disk",
		Long: `extractor crawls a website from a seed URL, staying on the seed's origin,
and saves every page and sub-resource it reaches under <scheme>_<host>/.

Pages that refuse plain HTTP clients are retried through a headless browser.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringP("config", "c", "", "Configuration file (YAML)")
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
	cmd.PersistentFlags().String("log-file", "", "Append-only event log (default from config: crawler.log)")

	cmd.AddCommand(NewCrawlCmd())
	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewVersionCmd())
	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads --config when given, otherwise starts from defaults, then
// applies the persistent logging flags.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = *loaded
	}
	if cmd.Flags().Changed("log-file") {
		cfg.Logging.File, _ = cmd.Flags().GetString("log-file")
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// setupLogger builds the process logger writing to stdout and, when configured,
// the event log file. The returned close function releases the file.
func setupLogger(cfg config.LoggingConfig, stdout io.Writer) (*slog.Logger, func(), error) {
	writers := []io.Writer{stdout}
	closeFn := func() {}
	if cfg.File != "" {
		file, err := eventlog.Open(cfg.File)
		if err != nil {
			return nil, nil, err
		}
		writers = append(writers, file)
		closeFn = func() { _ = file.Close() }
	}
	logger, err := eventlog.New(cfg, writers...)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return logger, closeFn, nil
}
