package atmo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/IshaanNene/AirQuality-CVL/internal/config"
	"github.com/IshaanNene/AirQuality-CVL/internal/observability"
	"github.com/IshaanNene/AirQuality-CVL/internal/pipeline"
	"github.com/IshaanNene/AirQuality-CVL/internal/storage"
	"github.com/IshaanNene/AirQuality-CVL/internal/types"
)

// Summary lists what a snapshot run wrote and which steps failed.
type Summary struct {
	Files  []string
	Errors []error
}

// Collector saves the yearly snapshot: the regional emissions layer and the
// pollution episode history.
type Collector struct {
	client    *Client
	cfg       config.AtmoConfig
	outputDir string
	metrics   *observability.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewCollector writes into <storage.output_dir>/api.
func NewCollector(client *Client, cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) *Collector {
	return &Collector{
		client:    client,
		cfg:       cfg.Atmo,
		outputDir: filepath.Join(cfg.Storage.OutputDir, "api"),
		metrics:   metrics,
		logger:    logger.With("component", "atmo_collector"),
		now:       time.Now,
	}
}

// Run logs in and saves both documents. A login failure aborts the run; a
// failure of one document does not prevent the other.
func (c *Collector) Run(ctx context.Context) (*Summary, error) {
	if err := c.client.Login(ctx); err != nil {
		return nil, fmt.Errorf("atmo login: %w", err)
	}

	sum := &Summary{}
	year := c.cfg.Year

	c.logger.Info("collecting regional emissions", "year", year, "layer", c.cfg.EmissionsLayer)
	if path, err := c.saveEmissions(ctx, year); err != nil {
		c.logger.Error("emissions collection failed", "year", year, "error", err)
		sum.Errors = append(sum.Errors, err)
	} else {
		c.logger.Info("emissions saved", "path", path)
		sum.Files = append(sum.Files, path)
	}

	c.logger.Info("collecting episode history", "year", year)
	if path, err := c.saveEpisodes(ctx, year); err != nil {
		c.logger.Error("episode collection failed", "year", year, "error", err)
		sum.Errors = append(sum.Errors, err)
	} else {
		c.logger.Info("episodes saved", "path", path)
		sum.Files = append(sum.Files, path)
	}

	return sum, nil
}

func (c *Collector) saveEmissions(ctx context.Context, year int) (string, error) {
	payload, err := c.client.Layer(ctx, c.cfg.EmissionsLayer, year)
	if err != nil {
		return "", err
	}

	prefix := fmt.Sprintf("emissions_regions_%d", year)
	var path string
	if json.Valid(payload.Body) {
		path, err = storage.WriteDocument(c.outputDir, prefix, json.RawMessage(payload.Body), c.now())
	} else {
		c.logger.Warn("emissions body is not JSON, saving verbatim", "bytes", len(payload.Body))
		path, err = storage.WriteRaw(c.outputDir, prefix, payload.Body, c.now())
	}
	if err != nil {
		return "", err
	}
	c.metrics.FileWritten()
	return path, nil
}

func (c *Collector) saveEpisodes(ctx context.Context, year int) (string, error) {
	payload, err := c.client.Episodes(ctx, year)
	if err != nil {
		return "", err
	}

	path, err := storage.WriteRaw(c.outputDir, fmt.Sprintf("episodes_historique_%d", year), payload.Body, c.now())
	if err != nil {
		return "", err
	}
	c.metrics.FileWritten()
	return path, nil
}

// HistoricalCollector pulls every configured layer for a range of years and
// hands the resulting records to a sink.
type HistoricalCollector struct {
	client  *Client
	cfg     config.AtmoConfig
	pipe    *pipeline.Pipeline
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewHistoricalCollector creates a collector; pipe may be nil.
func NewHistoricalCollector(client *Client, cfg config.AtmoConfig, pipe *pipeline.Pipeline, metrics *observability.Metrics, logger *slog.Logger) *HistoricalCollector {
	if pipe == nil {
		pipe = pipeline.New(logger)
	}
	return &HistoricalCollector{
		client:  client,
		cfg:     cfg,
		pipe:    pipe,
		metrics: metrics,
		logger:  logger.With("component", "historical_collector"),
		now:     time.Now,
	}
}

// Collect fetches start_year..end_year for every layer, in that order. A
// failing (year, layer) pair is logged and skipped. The returned stats hold
// one entry per pair that produced records.
func (h *HistoricalCollector) Collect(ctx context.Context, sink storage.Storage) ([]types.LayerStat, error) {
	if !h.client.Authenticated() {
		if err := h.client.Login(ctx); err != nil {
			return nil, fmt.Errorf("atmo login: %w", err)
		}
	}

	var stats []types.LayerStat
	for year := h.cfg.StartYear; year <= h.cfg.EndYear; year++ {
		h.logger.Info("collecting year", "year", year)
		for _, layer := range h.cfg.Layers {
			if err := ctx.Err(); err != nil {
				return stats, err
			}

			n, err := h.collectLayer(ctx, sink, layer, year)
			if err != nil {
				h.logger.Error("layer collection failed", "layer", layer.Name, "year", year, "error", err)
				continue
			}
			h.logger.Info("layer collected", "layer", layer.Name, "year", year, "records", n)
			if n > 0 {
				stats = append(stats, types.LayerStat{Year: year, DataType: layer.Name, Count: int64(n)})
			}
		}
	}
	return stats, nil
}

func (h *HistoricalCollector) collectLayer(ctx context.Context, sink storage.Storage, layer config.LayerConfig, year int) (int, error) {
	payload, err := h.client.Layer(ctx, layer.ID, year)
	if err != nil {
		return 0, err
	}
	rows, err := payload.Rows()
	if err != nil {
		return 0, &types.APIError{Endpoint: payload.URL, Err: err}
	}

	collectedAt := h.now()
	recs := make([]*types.Record, 0, len(rows))
	for _, row := range rows {
		rec := types.NewRecord(row, payload.URL)
		rec.Year = year
		rec.DataType = layer.Name
		rec.LayerID = layer.ID
		rec.CollectedAt = collectedAt
		recs = append(recs, rec)
	}

	kept := h.pipe.ProcessAll(recs)
	stored := 0
	if sink != nil && len(kept) > 0 {
		if err := sink.Store(kept); err != nil {
			h.metrics.RecordBatch(len(recs), len(recs)-len(kept), 0)
			return 0, err
		}
		stored = len(kept)
	}
	h.metrics.RecordBatch(len(recs), len(recs)-len(kept), stored)
	return len(kept), nil
}
