package dbimport

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/IshaanNene/AirQuality-CVL/internal/config"
	"github.com/IshaanNene/AirQuality-CVL/internal/observability"
	"github.com/IshaanNene/AirQuality-CVL/internal/types"
)

// maxParams caps bind parameters per statement for each driver.
var maxParams = map[string]int{
	"pgx":    65535,
	"sqlite": 32766,
}

// TableResult is the outcome of importing one file.
type TableResult struct {
	File      string
	Table     string
	Rows      int64
	Skipped   int
	Encoding  string
	Delimiter string
	Err       error
}

// Importer writes CSV tables into a SQL database.
type Importer struct {
	db        *sql.DB
	driver    string
	chunkSize int
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// DriverName maps a configured driver to its database/sql name.
func DriverName(driver string) string {
	switch driver {
	case "pgx", "postgres", "postgresql":
		return "pgx"
	default:
		return driver
	}
}

// Connect opens and pings the configured database, logging its version.
func Connect(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*sql.DB, error) {
	driver := DriverName(cfg.Driver)
	db, err := sql.Open(driver, cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("open %s connection: %w", driver, err)
	}

	pingCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	if v, err := serverVersion(pingCtx, db, driver); err != nil {
		logger.Warn("could not read server version", "driver", driver, "error", err)
	} else {
		logger.Info("connected to database", "driver", driver, "version", v)
	}
	return db, nil
}

func serverVersion(ctx context.Context, db *sql.DB, driver string) (string, error) {
	q := "SELECT version()"
	if driver == "sqlite" {
		q = "SELECT sqlite_version()"
	}
	var v string
	err := db.QueryRowContext(ctx, q).Scan(&v)
	return v, err
}

// NewImporter creates an importer on an open database. metrics may be nil.
func NewImporter(db *sql.DB, driver string, chunkSize int, metrics *observability.Metrics, logger *slog.Logger) *Importer {
	if chunkSize < 1 {
		chunkSize = 1000
	}
	return &Importer{
		db:        db,
		driver:    DriverName(driver),
		chunkSize: chunkSize,
		metrics:   metrics,
		logger:    logger.With("component", "dbimport"),
	}
}

// ImportDir imports every CSV file in dir. Each file replaces the table
// named after it. A failing file is recorded in its result and the next one
// is processed; only an empty or unreadable dir is an error.
func (im *Importer) ImportDir(ctx context.Context, dir string) ([]TableResult, error) {
	files, err := Discover(dir)
	if err != nil {
		return nil, err
	}
	im.logger.Info("importing CSV files", "dir", dir, "files", len(files))

	results := make([]TableResult, 0, len(files))
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res := im.ImportFile(ctx, path)
		if res.Err != nil {
			if errors.Is(res.Err, types.ErrEmptyFile) {
				im.logger.Warn("empty file skipped", "file", res.File)
			} else {
				im.logger.Error("import failed", "file", res.File, "table", res.Table, "error", res.Err)
			}
		} else {
			im.logger.Info("table imported", "file", res.File, "table", res.Table, "rows", res.Rows, "skipped", res.Skipped)
		}
		results = append(results, res)
	}
	return results, nil
}

// ImportFile reads one CSV file and replaces its table.
func (im *Importer) ImportFile(ctx context.Context, path string) TableResult {
	res := TableResult{File: filepath.Base(path)}

	t, err := ReadTable(path, im.logger)
	if err != nil {
		res.Err = &types.ImportError{File: res.File, Err: err}
		return res
	}
	res.Table = t.Name
	res.Skipped = t.Skipped
	res.Encoding = t.Encoding
	res.Delimiter = strconv.QuoteRune(t.Delimiter)
	im.logger.Debug("file decoded",
		"file", res.File,
		"encoding", t.Encoding,
		"delimiter", res.Delimiter,
		"columns", len(t.Columns),
		"rows", len(t.Rows),
	)

	n, err := im.WriteTable(ctx, t)
	if err != nil {
		res.Err = &types.ImportError{File: res.File, Table: t.Name, Err: err}
		return res
	}
	res.Rows = n
	im.metrics.TableImported(n)
	return res
}

// WriteTable drops and recreates t's table, then inserts its rows in
// multi-row chunks, all in one transaction.
func (im *Importer) WriteTable(ctx context.Context, t *Table) (n int64, err error) {
	tx, err := im.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	table := quoteIdent(t.Name)
	if _, err = tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
		return 0, fmt.Errorf("drop table: %w", err)
	}
	if _, err = tx.ExecContext(ctx, createStatement(t)); err != nil {
		return 0, fmt.Errorf("create table: %w", err)
	}

	chunk := im.chunkSize
	if limit := maxParams[im.driver]; limit > 0 && chunk*len(t.Columns) > limit {
		chunk = max(1, limit/len(t.Columns))
	}

	for start := 0; start < len(t.Rows); start += chunk {
		end := min(start+chunk, len(t.Rows))
		query, args := im.insertStatement(t, t.Rows[start:end])
		var res sql.Result
		if res, err = tx.ExecContext(ctx, query, args...); err != nil {
			return 0, fmt.Errorf("insert rows %d-%d: %w", start+1, end, err)
		}
		if affected, aerr := res.RowsAffected(); aerr == nil {
			n += affected
		} else {
			n += int64(end - start)
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return n, nil
}

func createStatement(t *Table) string {
	defs := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		defs[i] = quoteIdent(c.Name) + " " + c.Kind
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(t.Name), strings.Join(defs, ", "))
}

func (im *Importer) insertStatement(t *Table, rows [][]string) (string, []any) {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = quoteIdent(c.Name)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", quoteIdent(t.Name), strings.Join(names, ", "))

	args := make([]any, 0, len(rows)*len(t.Columns))
	for r, row := range rows {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for i, cell := range row {
			if i > 0 {
				b.WriteString(", ")
			}
			args = append(args, value(t.Columns[i].Kind, cell))
			b.WriteString(im.placeholder(len(args)))
		}
		b.WriteByte(')')
	}
	return b.String(), args
}

func (im *Importer) placeholder(n int) string {
	if im.driver == "pgx" {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
