package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/IshaanNene/AirQuality-CVL/internal/config"
)

var (
	cfgFile   string
	envFile   string
	verbose   bool
	outputDir string
	logFormat string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "airqual",
		Short: "Air-quality data collector for Centre-Val de Loire",
		Long: `airqual collects air-quality data for the Centre-Val de Loire region.

Sources:
  • Atmo France open-data API (regional emissions, pollution episodes)
  • Lig'Air map page, scraped with a headless browser
  • Multi-year Atmo history loaded into MongoDB
  • CSV exports imported into PostgreSQL or SQLite`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with credentials")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&outputDir, "output-dir", "o", "", "output directory (overrides storage.output_dir)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text or json")

	rootCmd.AddCommand(collectCmd())
	rootCmd.AddCommand(atmoCmd())
	rootCmd.AddCommand(ligairCmd())
	rootCmd.AddCommand(bigDataCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(configCmd())

	return rootCmd
}

// loadConfig loads, overrides and validates the configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile, envFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	applyCLIOverrides(cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyCLIOverrides applies persistent flag values to the config.
func applyCLIOverrides(cfg *config.Config) {
	if outputDir != "" {
		cfg.Storage.OutputDir = outputDir
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if logFormat != "" {
		cfg.Logging.Format = strings.ToLower(logFormat)
	}
}

// setupLogger creates a structured logger.
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var w io.Writer = os.Stderr
	if cfg.Output == "stdout" {
		w = os.Stdout
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// versionCmd creates the "version" subcommand.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "airqual %s\n", config.Version)
		},
	}
}

// configCmd creates the "config" subcommand for inspecting configuration.
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration as YAML, secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile, envFile)
			if err != nil {
				return err
			}
			applyCLIOverrides(cfg)

			out, err := yaml.Marshal(maskSecrets(cfg))
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			w := cmd.OutOrStdout()
			if cfgFile == "" {
				fmt.Fprintf(w, "# user config file: %s\n", config.HomeConfigPath())
			}
			_, err = w.Write(out)
			return err
		},
	}
}

const masked = "********"

// maskSecrets returns a copy of cfg with credentials hidden.
func maskSecrets(cfg *config.Config) *config.Config {
	c := *cfg
	if c.Atmo.Password != "" {
		c.Atmo.Password = masked
	}
	if c.Database.Password != "" {
		c.Database.Password = masked
	}
	if c.Database.DSN != "" {
		c.Database.DSN = masked
	}
	if strings.Contains(c.Mongo.URI, "@") {
		c.Mongo.URI = masked
	}
	return &c
}
