// Package observability keeps per-run counters for the CLI summary.
package observability

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync/atomic"
)

// Metrics tracks what one run of the collector did. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	// API metrics
	RequestsTotal   atomic.Int64
	RequestsFailed  atomic.Int64
	Responses2xx    atomic.Int64
	Responses4xx    atomic.Int64
	Responses5xx    atomic.Int64
	BytesDownloaded atomic.Int64

	// Record metrics
	RecordsCollected atomic.Int64
	RecordsDropped   atomic.Int64
	RecordsStored    atomic.Int64

	// Scrape metrics
	Associations atomic.Int64
	Popups       atomic.Int64

	// Import metrics
	TablesImported atomic.Int64
	RowsImported   atomic.Int64

	FilesWritten atomic.Int64

	logger *slog.Logger
}

// NewMetrics creates a new Metrics instance.
func NewMetrics(logger *slog.Logger) *Metrics {
	return &Metrics{
		logger: logger.With("component", "metrics"),
	}
}

// ObserveResponse counts one HTTP exchange.
func (m *Metrics) ObserveResponse(status int, size int64, err error) {
	if m == nil {
		return
	}
	m.RequestsTotal.Add(1)
	if err != nil {
		m.RequestsFailed.Add(1)
		return
	}
	m.BytesDownloaded.Add(size)
	switch {
	case status >= 500:
		m.Responses5xx.Add(1)
	case status >= 400:
		m.Responses4xx.Add(1)
	case status >= 200 && status < 300:
		m.Responses2xx.Add(1)
	}
}

// RecordBatch counts one batch of API records through the pipeline.
func (m *Metrics) RecordBatch(collected, dropped, stored int) {
	if m == nil {
		return
	}
	m.RecordsCollected.Add(int64(collected))
	m.RecordsDropped.Add(int64(dropped))
	m.RecordsStored.Add(int64(stored))
}

// ScrapeResult counts what one extraction produced.
func (m *Metrics) ScrapeResult(associations, popups int) {
	if m == nil {
		return
	}
	m.Associations.Add(int64(associations))
	m.Popups.Add(int64(popups))
}

// TableImported counts one loaded table.
func (m *Metrics) TableImported(rows int64) {
	if m == nil {
		return
	}
	m.TablesImported.Add(1)
	m.RowsImported.Add(rows)
}

// FileWritten counts one output file.
func (m *Metrics) FileWritten() {
	if m == nil {
		return
	}
	m.FilesWritten.Add(1)
}

// Snapshot returns all metrics as a map.
func (m *Metrics) Snapshot() map[string]int64 {
	if m == nil {
		return map[string]int64{}
	}
	return map[string]int64{
		"requests_total":    m.RequestsTotal.Load(),
		"requests_failed":   m.RequestsFailed.Load(),
		"responses_2xx":     m.Responses2xx.Load(),
		"responses_4xx":     m.Responses4xx.Load(),
		"responses_5xx":     m.Responses5xx.Load(),
		"bytes_downloaded":  m.BytesDownloaded.Load(),
		"records_collected": m.RecordsCollected.Load(),
		"records_dropped":   m.RecordsDropped.Load(),
		"records_stored":    m.RecordsStored.Load(),
		"associations":      m.Associations.Load(),
		"popups":            m.Popups.Load(),
		"tables_imported":   m.TablesImported.Load(),
		"rows_imported":     m.RowsImported.Load(),
		"files_written":     m.FilesWritten.Load(),
	}
}

// WriteText writes the non-zero counters in Prometheus text exposition
// format, sorted by name.
func (m *Metrics) WriteText(w io.Writer) error {
	snap := m.Snapshot()
	names := make([]string, 0, len(snap))
	for name, v := range snap {
		if v != 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		full := "airqual_" + name
		if _, err := fmt.Fprintf(w, "# TYPE %s counter\n%s %d\n", full, full, snap[name]); err != nil {
			return err
		}
	}
	return nil
}

// Log emits the snapshot as one structured line.
func (m *Metrics) Log() {
	if m == nil {
		return
	}
	snap := m.Snapshot()
	args := make([]any, 0, len(snap)*2)
	names := make([]string, 0, len(snap))
	for name := range snap {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		args = append(args, name, snap[name])
	}
	m.logger.Info("run metrics", args...)
}
