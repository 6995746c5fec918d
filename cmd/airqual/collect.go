package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/IshaanNene/AirQuality-CVL/internal/atmo"
	"github.com/IshaanNene/AirQuality-CVL/internal/browser"
	"github.com/IshaanNene/AirQuality-CVL/internal/config"
	"github.com/IshaanNene/AirQuality-CVL/internal/ligair"
	"github.com/IshaanNene/AirQuality-CVL/internal/observability"
)

var (
	collectSource string
	headless      bool
	screenshot    bool
	stealthMode   bool
)

// collectCmd creates the "collect" subcommand.
func collectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Collect from the Atmo API, the Lig'Air map, or both",
		Long: `Run one or both collectors in sequence.

A failing source is logged and the next one still runs. The command fails
only when every selected source failed.`,
		Args: cobra.NoArgs,
		RunE: runCollect,
	}
	cmd.Flags().StringVarP(&collectSource, "source", "s", "all", "source to collect: atmo, ligair, all")
	addBrowserFlags(cmd)
	return cmd
}

// atmoCmd creates the "atmo" subcommand.
func atmoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "atmo",
		Short: "Save the yearly emissions and episode snapshot from Atmo France",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			collectSource = "atmo"
			return runCollect(cmd, args)
		},
	}
}

// ligairCmd creates the "ligair" subcommand.
func ligairCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ligair",
		Short: "Scrape the Lig'Air air-quality map",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			collectSource = "ligair"
			return runCollect(cmd, args)
		},
	}
	addBrowserFlags(cmd)
	return cmd
}

func addBrowserFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&headless, "headless", true, "run the browser without a window")
	cmd.Flags().BoolVar(&screenshot, "screenshot", false, "save a PNG of the map (default on when not headless)")
	cmd.Flags().BoolVar(&stealthMode, "stealth", false, "hide common automation fingerprints")
}

// applyBrowserFlags copies browser flags that were set explicitly.
func applyBrowserFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Lookup("headless") == nil {
		return
	}
	if flags.Changed("headless") {
		cfg.Browser.Headless = headless
	}
	if flags.Changed("stealth") {
		cfg.Browser.Stealth = stealthMode
	}
	switch {
	case flags.Changed("screenshot"):
		cfg.Ligair.Screenshot = screenshot
	case !cfg.Browser.Headless:
		cfg.Ligair.Screenshot = true
	}
}

func runCollect(cmd *cobra.Command, args []string) error {
	switch collectSource {
	case "atmo", "ligair", "all":
	default:
		return fmt.Errorf("invalid source %q: want atmo, ligair or all", collectSource)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyBrowserFlags(cmd, cfg)
	logger := setupLogger(cfg.Logging)

	if err := os.MkdirAll(cfg.Storage.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	logger.Info("starting collection",
		"source", collectSource,
		"output", cfg.Storage.OutputDir,
		"date", time.Now().Format("2006-01-02 15:04:05"),
	)

	metrics := observability.NewMetrics(logger)
	start := time.Now()
	var files []string
	var failures []error
	ran := 0

	if collectSource == "atmo" || collectSource == "all" {
		ran++
		written, err := runAtmo(ctx, cfg, metrics, logger)
		files = append(files, written...)
		if err != nil {
			logger.Error("atmo collection failed", "error", err)
			failures = append(failures, err)
		}
	}

	if collectSource == "ligair" || collectSource == "all" {
		ran++
		written, err := runLigair(ctx, cfg, metrics, logger)
		files = append(files, written...)
		if err != nil {
			logger.Error("ligair scrape failed", "error", err)
			failures = append(failures, err)
		}
	}

	metrics.Log()
	printFiles(cmd.OutOrStdout(), files)
	printMetrics(cmd.OutOrStdout(), metrics)
	logger.Info("collection finished", "elapsed", time.Since(start).Round(time.Millisecond), "files", len(files))

	if len(failures) == ran {
		return errors.Join(failures...)
	}
	return nil
}

// runAtmo saves the yearly snapshot. Per-document failures are logged by the
// collector; only a run that produced nothing is an error.
func runAtmo(ctx context.Context, cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) ([]string, error) {
	client := atmo.NewClient(cfg.Atmo, metrics, logger)
	collector := atmo.NewCollector(client, cfg, metrics, logger)

	sum, err := collector.Run(ctx)
	if err != nil {
		return nil, err
	}
	if len(sum.Files) == 0 && len(sum.Errors) > 0 {
		return nil, errors.Join(sum.Errors...)
	}
	return sum.Files, nil
}

// runLigair scrapes the map with a fresh browser that is always closed.
func runLigair(ctx context.Context, cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) ([]string, error) {
	sess, err := browser.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := sess.Close(); err != nil {
			logger.Warn("browser close failed", "error", err)
		}
	}()

	scraper := ligair.New(cfg, metrics, logger)
	report, err := scraper.Run(ctx, sess)
	if err != nil {
		return nil, err
	}
	path, err := scraper.Save(report)
	if err != nil {
		return nil, err
	}

	files := []string{path}
	if report.Screenshot != "" {
		files = append(files, report.Screenshot)
	}
	return files, nil
}
