package pipeline

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/IshaanNene/AirQuality-CVL/internal/types"
)

// DateNormalizeMiddleware rewrites date fields into one output layout.
// Values that match none of the known layouts are left alone.
type DateNormalizeMiddleware struct {
	fields    []string
	outFormat string
	inFormats []string
}

func NewDateNormalizeMiddleware(fields []string, outFormat string) *DateNormalizeMiddleware {
	if outFormat == "" {
		outFormat = time.RFC3339
	}
	return &DateNormalizeMiddleware{
		fields:    fields,
		outFormat: outFormat,
		inFormats: []string{
			time.RFC3339,
			"2006-01-02",
			"2006-01-02T15:04:05",
			"2006-01-02 15:04:05",
			"2006/01/02",
			"02/01/2006",
			"02/01/2006 15:04",
			"02-01-2006",
		},
	}
}

func (m *DateNormalizeMiddleware) Name() string { return "date_normalize" }

func (m *DateNormalizeMiddleware) Process(rec *types.Record) (*types.Record, error) {
	for _, field := range m.fields {
		s := strings.TrimSpace(rec.GetString(field))
		if s == "" {
			continue
		}

		for _, format := range m.inFormats {
			if t, err := time.Parse(format, s); err == nil {
				rec.Set(field, t.Format(m.outFormat))
				break
			}
		}
	}
	return rec, nil
}

// TypeCoercionMiddleware converts field values to target types. French
// decimal commas are accepted for floats.
type TypeCoercionMiddleware struct {
	coercions map[string]string // field -> "int", "float", "bool", "string"
}

func NewTypeCoercionMiddleware(coercions map[string]string) *TypeCoercionMiddleware {
	return &TypeCoercionMiddleware{coercions: coercions}
}

func (m *TypeCoercionMiddleware) Name() string { return "type_coercion" }

func (m *TypeCoercionMiddleware) Process(rec *types.Record) (*types.Record, error) {
	for field, targetType := range m.coercions {
		val, ok := rec.Get(field)
		if !ok || val == nil {
			continue
		}

		s := strings.TrimSpace(fmt.Sprintf("%v", val))

		switch targetType {
		case "int":
			i, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				f, ferr := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
				if ferr != nil {
					return nil, fmt.Errorf("field %q: %q is not an integer", field, s)
				}
				i = int64(f)
			}
			rec.Set(field, i)
		case "float":
			f, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
			if err != nil {
				return nil, fmt.Errorf("field %q: %q is not a number", field, s)
			}
			rec.Set(field, f)
		case "bool":
			lower := strings.ToLower(s)
			rec.Set(field, lower == "true" || lower == "1" || lower == "oui" || lower == "yes")
		case "string":
			rec.Set(field, s)
		}
	}
	return rec, nil
}
