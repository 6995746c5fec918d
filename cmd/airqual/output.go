package main

import (
	"errors"
	"io"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/IshaanNene/AirQuality-CVL/internal/dbimport"
	"github.com/IshaanNene/AirQuality-CVL/internal/observability"
	"github.com/IshaanNene/AirQuality-CVL/internal/types"
)

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(title)
	t.SetStyle(table.StyleRounded)
	return t
}

func printFiles(w io.Writer, files []string) {
	if len(files) == 0 {
		return
	}
	t := newTable(w, "Files written")
	t.AppendHeader(table.Row{"#", "Path"})
	for i, f := range files {
		t.AppendRow(table.Row{i + 1, f})
	}
	t.Render()
}

// printMetrics renders the non-zero counters of a run.
func printMetrics(w io.Writer, m *observability.Metrics) {
	snap := m.Snapshot()
	names := make([]string, 0, len(snap))
	for name, v := range snap {
		if v != 0 {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return
	}
	sort.Strings(names)

	t := newTable(w, "Run metrics")
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})
	for _, name := range names {
		t.AppendRow(table.Row{name, snap[name]})
	}
	t.Render()
}

// printLayerStats renders record counts per year and data type.
func printLayerStats(w io.Writer, stats []types.LayerStat) {
	t := newTable(w, "Collection statistics")
	t.AppendHeader(table.Row{"Year", "Data type", "Records"})
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 3, Align: text.AlignRight}})
	for _, s := range stats {
		t.AppendRow(table.Row{s.Year, s.DataType, s.Count})
	}
	t.AppendFooter(table.Row{"", "Total", totalRecords(stats)})
	t.Render()
}

// printImportResults renders one row per imported file.
func printImportResults(w io.Writer, results []dbimport.TableResult) {
	if len(results) == 0 {
		return
	}
	t := newTable(w, "CSV import")
	t.AppendHeader(table.Row{"File", "Table", "Encoding", "Delimiter", "Rows", "Skipped", "Status"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
	})
	for _, r := range results {
		t.AppendRow(table.Row{r.File, r.Table, r.Encoding, r.Delimiter, r.Rows, r.Skipped, status(r.Err)})
	}
	t.Render()
}

func status(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, types.ErrEmptyFile):
		return "empty"
	default:
		var ie *types.ImportError
		if errors.As(err, &ie) && ie.Err != nil {
			return ie.Err.Error()
		}
		return err.Error()
	}
}
