package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/IshaanNene/AirQuality-CVL/internal/atmo"
	"github.com/IshaanNene/AirQuality-CVL/internal/observability"
	"github.com/IshaanNene/AirQuality-CVL/internal/pipeline"
	"github.com/IshaanNene/AirQuality-CVL/internal/storage"
	"github.com/IshaanNene/AirQuality-CVL/internal/types"
)

var (
	startYear int
	endYear   int
	noMongo   bool
	export    string
)

// bigDataCmd creates the "bigdata" subcommand.
func bigDataCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bigdata",
		Short: "Load several years of Atmo data into MongoDB",
		Long: `Fetch every configured Atmo layer for each year in the range, tag the
records with year, data type and collection time, and store them in MongoDB
(and optionally a file export). Prints the per-year, per-type counts.`,
		Args: cobra.NoArgs,
		RunE: runBigData,
	}

	cmd.Flags().IntVar(&startYear, "start-year", 0, "first year to collect (default atmo.start_year)")
	cmd.Flags().IntVar(&endYear, "end-year", 0, "last year to collect (default atmo.end_year)")
	cmd.Flags().BoolVar(&noMongo, "no-mongo", false, "skip MongoDB, only write the file export")
	cmd.Flags().StringVar(&export, "export", "", "also write records to a file: json, jsonl, csv")

	return cmd
}

func runBigData(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if startYear > 0 {
		cfg.Atmo.StartYear = startYear
	}
	if endYear > 0 {
		cfg.Atmo.EndYear = endYear
	}
	if cfg.Atmo.StartYear > cfg.Atmo.EndYear {
		return fmt.Errorf("start year %d is after end year %d", cfg.Atmo.StartYear, cfg.Atmo.EndYear)
	}
	if noMongo {
		cfg.Mongo.Enabled = false
	}
	if !cfg.Mongo.Enabled && export == "" {
		return fmt.Errorf("nothing to store: MongoDB is disabled and no --export format given")
	}
	logger := setupLogger(cfg.Logging)

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	var sinks []storage.Storage
	var mongo *storage.MongoStorage
	if cfg.Mongo.Enabled {
		mongo, err = storage.NewMongoStorage(ctx, cfg.Mongo, logger)
		if err != nil {
			return err
		}
		sinks = append(sinks, mongo)
	}
	if export != "" {
		file, err := storage.NewFileStorage(export, cfg.Storage.OutputDir, "big_data", time.Now(), logger)
		if err != nil {
			if mongo != nil {
				_ = mongo.Close()
			}
			return fmt.Errorf("create export: %w", err)
		}
		sinks = append(sinks, file)
	}
	sink := storage.NewMultiStorage(sinks, logger)
	defer func() {
		if err := sink.Close(); err != nil {
			logger.Warn("close storage failed", "error", err)
		}
	}()

	metrics := observability.NewMetrics(logger)
	client := atmo.NewClient(cfg.Atmo, metrics, logger)
	pipe := pipeline.FromConfig(cfg.Pipeline, logger)
	collector := atmo.NewHistoricalCollector(client, cfg.Atmo, pipe, metrics, logger)

	logger.Info("starting historical collection",
		"start_year", cfg.Atmo.StartYear,
		"end_year", cfg.Atmo.EndYear,
		"layers", len(cfg.Atmo.Layers),
		"mongo", cfg.Mongo.Enabled,
		"export", export,
	)

	start := time.Now()
	stats, err := collector.Collect(ctx, sink)
	if err != nil {
		return err
	}

	// the stored totals include earlier runs, so prefer them when available
	if mongo != nil {
		if all, err := mongo.CountByYearAndType(ctx); err != nil {
			logger.Warn("aggregation failed, showing this run only", "error", err)
		} else {
			stats = all
		}
	}

	printLayerStats(cmd.OutOrStdout(), stats)
	printMetrics(cmd.OutOrStdout(), metrics)
	logger.Info("historical collection finished",
		"elapsed", time.Since(start).Round(time.Millisecond),
		"records", totalRecords(stats),
	)
	return nil
}

func totalRecords(stats []types.LayerStat) int64 {
	var n int64
	for _, s := range stats {
		n += s.Count
	}
	return n
}
