package types

import (
	"encoding/json"
	"strconv"
	"time"
)

// Record is a single row returned by the Atmo France data API.
type Record struct {
	// Fields stores the row exactly as the API returned it.
	Fields map[string]any

	// Year is the reporting year the row was requested for.
	Year int

	// DataType names the dataset (e.g. "emissions_regionales").
	DataType string

	// LayerID is the API layer the row came from.
	LayerID int

	// SourceURL is the endpoint the row was fetched from.
	SourceURL string

	// CollectedAt is when this record was fetched.
	CollectedAt time.Time
}

// NewRecord wraps a decoded API row.
func NewRecord(fields map[string]any, sourceURL string) *Record {
	if fields == nil {
		fields = make(map[string]any)
	}
	return &Record{
		Fields:      fields,
		SourceURL:   sourceURL,
		CollectedAt: time.Now(),
	}
}

// Set sets a field value.
func (r *Record) Set(key string, value any) {
	r.Fields[key] = value
}

// Get retrieves a field value.
func (r *Record) Get(key string) (any, bool) {
	v, ok := r.Fields[key]
	return v, ok
}

// GetString retrieves a field value as a string.
func (r *Record) GetString(key string) string {
	v, ok := r.Fields[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// Has returns true if the field exists.
func (r *Record) Has(key string) bool {
	_, ok := r.Fields[key]
	return ok
}

// Delete removes a field.
func (r *Record) Delete(key string) {
	delete(r.Fields, key)
}

// Keys returns all field names.
func (r *Record) Keys() []string {
	keys := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		keys = append(keys, k)
	}
	return keys
}

// Document returns the record as a flat document: the API fields plus the
// collection metadata. Metadata keys win over API fields of the same name.
func (r *Record) Document() map[string]any {
	doc := make(map[string]any, len(r.Fields)+4)
	for k, v := range r.Fields {
		doc[k] = v
	}
	doc["year"] = r.Year
	doc["data_type"] = r.DataType
	doc["layer_id"] = r.LayerID
	doc["collected_at"] = r.CollectedAt
	return doc
}

// ToFlatMap returns a flat string map suitable for CSV export.
func (r *Record) ToFlatMap() map[string]string {
	flat := make(map[string]string, len(r.Fields)+4)
	for k, v := range r.Fields {
		switch val := v.(type) {
		case string:
			flat[k] = val
		case []byte:
			flat[k] = string(val)
		case nil:
			flat[k] = ""
		default:
			b, _ := json.Marshal(val)
			flat[k] = string(b)
		}
	}
	flat["year"] = strconv.Itoa(r.Year)
	flat["data_type"] = r.DataType
	flat["layer_id"] = strconv.Itoa(r.LayerID)
	flat["collected_at"] = r.CollectedAt.Format(time.RFC3339)
	return flat
}

// Clone creates a copy of the record with its own field map.
func (r *Record) Clone() *Record {
	clone := *r
	clone.Fields = make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		clone.Fields[k] = v
	}
	return &clone
}
