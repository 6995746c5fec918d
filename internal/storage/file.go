package storage

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/IshaanNene/AirQuality-CVL/internal/types"
)

// metadataColumns lead every CSV export, in this order.
var metadataColumns = []string{"year", "data_type", "layer_id", "collected_at"}

// recordEncoder turns records into one export format.
type recordEncoder interface {
	encode(w io.Writer, rec *types.Record) error
	// finish writes whatever the format needs after the last record.
	finish(w io.Writer) error
}

// ExportStorage writes the records of a historical collection to a single
// file, as a JSON array, JSON lines or CSV.
type ExportStorage struct {
	format string
	path   string
	file   *os.File
	w      *bufio.Writer
	enc    recordEncoder
	mu     sync.Mutex
	count  int
	logger *slog.Logger
}

// NewExportStorage creates path and prepares it for format.
func NewExportStorage(format, path string, logger *slog.Logger) (*ExportStorage, error) {
	var enc recordEncoder
	switch format {
	case "json":
		enc = &jsonArrayEncoder{}
	case "jsonl":
		enc = &jsonLinesEncoder{}
	case "csv":
		enc = &csvEncoder{}
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &types.StorageError{Backend: format, Err: fmt.Errorf("create output dir: %w", err)}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, &types.StorageError{Backend: format, Err: fmt.Errorf("create export file: %w", err)}
	}

	return &ExportStorage{
		format: format,
		path:   path,
		file:   f,
		w:      bufio.NewWriter(f),
		enc:    enc,
		logger: logger.With("component", "export_storage", "format", format),
	}, nil
}

// NewFileStorage creates an export named outputDir/<prefix>_<timestamp>.<format>.
func NewFileStorage(format, outputDir, prefix string, now time.Time, logger *slog.Logger) (Storage, error) {
	return NewExportStorage(format, filepath.Join(outputDir, FileName(prefix, "."+format, now)), logger)
}

func (s *ExportStorage) Name() string { return s.format }

// Path returns the export file.
func (s *ExportStorage) Path() string { return s.path }

func (s *ExportStorage) Store(records []*types.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return &types.StorageError{Backend: s.format, Err: fmt.Errorf("export %s already closed", s.path)}
	}
	for _, rec := range records {
		if err := s.enc.encode(s.w, rec); err != nil {
			return &types.StorageError{Backend: s.format, Err: err}
		}
		s.count++
	}
	s.logger.Debug("records exported", "count", len(records), "total", s.count)
	return nil
}

// Close completes the file. Calling it again is a no-op.
func (s *ExportStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	err := s.enc.finish(s.w)
	if err == nil {
		err = s.w.Flush()
	}
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	s.file = nil
	if err != nil {
		return &types.StorageError{Backend: s.format, Err: err}
	}

	s.logger.Info("export written", "path", s.path, "records", s.count)
	return nil
}

// jsonArrayEncoder streams one array element per line.
type jsonArrayEncoder struct {
	n int
}

func (e *jsonArrayEncoder) encode(w io.Writer, rec *types.Record) error {
	sep := ",\n"
	if e.n == 0 {
		sep = "[\n"
	}
	if _, err := io.WriteString(w, sep); err != nil {
		return err
	}
	data, err := marshalDocument(rec)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	e.n++
	return nil
}

func (e *jsonArrayEncoder) finish(w io.Writer) error {
	end := "\n]\n"
	if e.n == 0 {
		end = "[]\n"
	}
	_, err := io.WriteString(w, end)
	return err
}

type jsonLinesEncoder struct{}

func (jsonLinesEncoder) encode(w io.Writer, rec *types.Record) error {
	data, err := marshalDocument(rec)
	if err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

func (jsonLinesEncoder) finish(io.Writer) error { return nil }

// marshalDocument encodes rec without escaping HTML characters, which
// appear in French place names and units.
func marshalDocument(rec *types.Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(rec.Document()); err != nil {
		return nil, fmt.Errorf("encode %s record: %w", rec.DataType, err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// csvEncoder holds rows until finish, since layers carry different fields
// and the header must cover all of them.
type csvEncoder struct {
	rows []map[string]string
	keys map[string]bool
}

func (e *csvEncoder) encode(_ io.Writer, rec *types.Record) error {
	flat := rec.ToFlatMap()
	if e.keys == nil {
		e.keys = make(map[string]bool)
	}
	for k := range flat {
		e.keys[k] = true
	}
	e.rows = append(e.rows, flat)
	return nil
}

func (e *csvEncoder) finish(w io.Writer) error {
	header := e.header()
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write CSV header: %w", err)
	}
	row := make([]string, len(header))
	for _, flat := range e.rows {
		for i, col := range header {
			row[i] = flat[col]
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write CSV row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// header is the metadata columns followed by every other key, sorted.
func (e *csvEncoder) header() []string {
	header := append([]string(nil), metadataColumns...)
	var rest []string
	for k := range e.keys {
		if !slices.Contains(metadataColumns, k) {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(header, rest...)
}
