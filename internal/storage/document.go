package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/IshaanNene/AirQuality-CVL/internal/types"
)

// TimestampLayout qualifies every output filename, e.g. 20240601_1430.
const TimestampLayout = "20060102_1504"

// FileName builds "<prefix>_<timestamp><ext>".
func FileName(prefix, ext string, now time.Time) string {
	return prefix + "_" + now.Format(TimestampLayout) + ext
}

// WriteDocument encodes v as indented UTF-8 JSON into dir and returns the
// path written. Non-ASCII text and HTML characters are kept as is.
func WriteDocument(dir, prefix string, v any, now time.Time) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", &types.StorageError{Backend: "file", Err: fmt.Errorf("encode %s: %w", prefix, err)}
	}
	return WriteBlob(dir, prefix, ".json", buf.Bytes(), now)
}

// WriteRaw stores a response body verbatim under a .json name.
func WriteRaw(dir, prefix string, body []byte, now time.Time) (string, error) {
	return WriteBlob(dir, prefix, ".json", body, now)
}

// WriteBlob writes body to dir/<prefix>_<timestamp><ext>, creating dir.
func WriteBlob(dir, prefix, ext string, body []byte, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &types.StorageError{Backend: "file", Err: fmt.Errorf("create output dir: %w", err)}
	}
	path := filepath.Join(dir, FileName(prefix, ext, now))
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", &types.StorageError{Backend: "file", Err: fmt.Errorf("write %s: %w", path, err)}
	}
	return path, nil
}
