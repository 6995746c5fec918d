package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/IshaanNene/AirQuality-CVL/internal/dbimport"
	"github.com/IshaanNene/AirQuality-CVL/internal/observability"
)

var (
	importDir    string
	importDriver string
	importDSN    string
)

// importCmd creates the "import" subcommand.
func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a folder of CSV files into SQL tables",
		Long: `Import every .csv file of a folder into its own table, replacing any
table of the same name. Encoding and delimiter are detected per file, cells
are cleaned, and column types are inferred.`,
		Args: cobra.NoArgs,
		RunE: runImport,
	}

	cmd.Flags().StringVar(&importDir, "dir", "", "CSV folder (default database.csv_dir)")
	cmd.Flags().StringVar(&importDriver, "driver", "", "database driver: pgx, postgres, sqlite")
	cmd.Flags().StringVar(&importDSN, "dsn", "", "connection string (overrides host/port/user settings)")

	return cmd
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if importDir != "" {
		cfg.Database.CSVDir = importDir
	}
	if importDriver != "" {
		cfg.Database.Driver = importDriver
	}
	if importDSN != "" {
		cfg.Database.DSN = importDSN
	}
	logger := setupLogger(cfg.Logging)

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	db, err := dbimport.Connect(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect (host=%s port=%d user=%s): %w",
			cfg.Database.Host, cfg.Database.Port, cfg.Database.User, err)
	}
	defer db.Close()

	metrics := observability.NewMetrics(logger)
	im := dbimport.NewImporter(db, cfg.Database.Driver, cfg.Database.ChunkSize, metrics, logger)

	start := time.Now()
	results, err := im.ImportDir(ctx, cfg.Database.CSVDir)
	printImportResults(cmd.OutOrStdout(), results)
	if err != nil {
		return err
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	logger.Info("import finished",
		"elapsed", time.Since(start).Round(time.Millisecond),
		"files", len(results),
		"failed", failed,
		"tables", metrics.TablesImported.Load(),
		"rows", metrics.RowsImported.Load(),
	)
	return nil
}
