// Package dbimport loads a folder of CSV exports into SQL tables.
package dbimport

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/unicode/norm"

	"github.com/IshaanNene/AirQuality-CVL/internal/types"
)

// Column kinds, spelled as SQL types both PostgreSQL and SQLite accept.
const (
	KindInteger = "BIGINT"
	KindFloat   = "DOUBLE PRECISION"
	KindText    = "TEXT"
)

const maxIdentifierLen = 63

var (
	utf8BOM    = []byte{0xEF, 0xBB, 0xBF}
	delimiters = []rune{',', ';', '\t', '|'}
)

// Column is one sanitised table column.
type Column struct {
	Name string
	Kind string
}

// Table is a cleaned CSV file ready to be written.
type Table struct {
	Name      string
	Columns   []Column
	Rows      [][]string
	Encoding  string
	Delimiter rune
	Skipped   int
}

// Discover lists the .csv files of dir, matched case-insensitively and
// sorted by name. A missing dir is created and reported as empty.
func Discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
		return nil, fmt.Errorf("%s: %w", dir, types.ErrNoCSVFiles)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%s: %w", dir, types.ErrNoCSVFiles)
	}
	sort.Strings(files)
	return files, nil
}

// ReadTable reads, decodes and cleans one CSV file. The table is named after
// the file.
func ReadTable(path string, logger *slog.Logger) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	text, encoding := decode(raw)
	if strings.TrimSpace(text) == "" {
		return nil, types.ErrEmptyFile
	}

	base := filepath.Base(path)
	t := &Table{
		Name:      SanitizeIdentifier(strings.TrimSuffix(base, filepath.Ext(base))),
		Encoding:  encoding,
		Delimiter: sniffDelimiter(text),
	}

	r := csv.NewReader(strings.NewReader(text))
	r.Comma = t.Delimiter
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, types.ErrEmptyFile
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	t.Columns = columnsFor(header)

	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if len(rec) != len(header) {
			line, _ := r.FieldPos(0)
			logger.Warn("skipping malformed row", "file", base, "line", line, "fields", len(rec), "want", len(header))
			t.Skipped++
			continue
		}
		for i := range rec {
			rec[i] = cleanCell(rec[i])
		}
		t.Rows = append(t.Rows, rec)
	}

	if len(t.Rows) == 0 {
		return nil, types.ErrEmptyFile
	}
	inferKinds(t)
	return t, nil
}

// decode returns raw as text with the name of the encoding it was read as.
func decode(raw []byte) (string, string) {
	if bytes.HasPrefix(raw, utf8BOM) {
		return string(raw[len(utf8BOM):]), "utf-8-sig"
	}
	if utf8.Valid(raw) {
		return string(raw), "utf-8"
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw), "utf-8"
	}
	return string(out), "latin1"
}

// sniffDelimiter picks the candidate that appears the same non-zero number
// of times on each of the first lines, preferring the most frequent.
func sniffDelimiter(text string) rune {
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		l = strings.TrimRight(l, "\r")
		if strings.TrimSpace(l) == "" {
			continue
		}
		lines = append(lines, l)
		if len(lines) == 5 {
			break
		}
	}
	if len(lines) == 0 {
		return ','
	}

	best, bestCount := ',', 0
	for _, d := range delimiters {
		n := strings.Count(lines[0], string(d))
		if n == 0 {
			continue
		}
		consistent := true
		for _, l := range lines[1:] {
			if strings.Count(l, string(d)) != n {
				consistent = false
				break
			}
		}
		if consistent && n > bestCount {
			best, bestCount = d, n
		}
	}
	if bestCount > 0 {
		return best
	}

	// no consistent candidate: fall back to the most frequent on the header
	for _, d := range delimiters {
		if n := strings.Count(lines[0], string(d)); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

func cleanCell(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// columnsFor sanitises header names. Blank names become col_<n> and repeats
// get the first free numeric suffix, so every column name is unique.
func columnsFor(header []string) []Column {
	cols := make([]Column, len(header))
	seen := make(map[string]bool, len(header))
	for i, h := range header {
		name := SanitizeIdentifier(cleanCell(h))
		if strings.Trim(name, "_") == "" {
			name = fmt.Sprintf("col_%d", i+1)
		}
		base := name
		for n := 2; seen[name]; n++ {
			name = withSuffix(base, n)
		}
		seen[name] = true
		cols[i] = Column{Name: name, Kind: KindText}
	}
	return cols
}

// withSuffix appends _<n> to base, shortening base so the suffix survives
// the identifier length limit.
func withSuffix(base string, n int) string {
	suffix := fmt.Sprintf("_%d", n)
	if len(base)+len(suffix) > maxIdentifierLen {
		base = base[:maxIdentifierLen-len(suffix)]
	}
	return base + suffix
}

// SanitizeIdentifier turns name into a lowercase ASCII SQL identifier:
// accents are stripped, anything else outside [a-z0-9_] becomes '_', and
// the result is cut to 63 bytes.
func SanitizeIdentifier(name string) string {
	var b strings.Builder
	for _, r := range norm.NFKD.String(name) {
		switch {
		case r > unicode.MaxASCII:
			continue
		case r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteByte('_')
		}
	}
	return truncateIdentifier(b.String())
}

func truncateIdentifier(s string) string {
	if len(s) > maxIdentifierLen {
		return s[:maxIdentifierLen]
	}
	return s
}

// inferKinds narrows every column to the tightest kind all of its non-empty
// cells satisfy.
func inferKinds(t *Table) {
	for i := range t.Columns {
		isInt, isFloat, filled := true, true, false
		for _, row := range t.Rows {
			v := row[i]
			if v == "" {
				continue
			}
			filled = true
			if isInt {
				if _, err := strconv.ParseInt(v, 10, 64); err != nil {
					isInt = false
				}
			}
			if !isInt && isFloat {
				if _, err := strconv.ParseFloat(v, 64); err != nil {
					isFloat = false
					break
				}
			}
		}
		switch {
		case !filled:
			t.Columns[i].Kind = KindText
		case isInt:
			t.Columns[i].Kind = KindInteger
		case isFloat:
			t.Columns[i].Kind = KindFloat
		}
	}
}

// value converts a cleaned cell for insertion into a column of kind.
func value(kind, cell string) any {
	if cell == "" {
		return nil
	}
	switch kind {
	case KindInteger:
		if n, err := strconv.ParseInt(cell, 10, 64); err == nil {
			return n
		}
	case KindFloat:
		if f, err := strconv.ParseFloat(cell, 64); err == nil {
			return f
		}
	}
	return cell
}
