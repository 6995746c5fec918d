// Package pipeline runs API records through a chain of clean-up steps
// before they reach storage.
package pipeline

import (
	"log/slog"
	"strings"

	"github.com/IshaanNene/AirQuality-CVL/internal/config"
	"github.com/IshaanNene/AirQuality-CVL/internal/types"
)

// Middleware processes a record and returns the (possibly modified) record.
// Return nil to drop the record from the pipeline.
type Middleware interface {
	// Name returns the middleware's identifier.
	Name() string

	// Process transforms a record. Return nil to drop it.
	Process(rec *types.Record) (*types.Record, error)
}

// Pipeline chains middleware processors together.
type Pipeline struct {
	middlewares []Middleware
	logger      *slog.Logger
}

// New creates an empty Pipeline.
func New(logger *slog.Logger) *Pipeline {
	return &Pipeline{
		logger: logger.With("component", "pipeline"),
	}
}

// FromConfig builds the pipeline described by cfg.
func FromConfig(cfg config.PipelineConfig, logger *slog.Logger) *Pipeline {
	p := New(logger)
	if cfg.Whitespace {
		p.Use(&WhitespaceMiddleware{})
	}
	if len(cfg.RequiredFields) > 0 {
		p.Use(&RequiredFieldsMiddleware{Fields: cfg.RequiredFields})
	}
	if len(cfg.Coerce) > 0 {
		p.Use(NewTypeCoercionMiddleware(cfg.Coerce))
	}
	if len(cfg.DateFields) > 0 {
		p.Use(NewDateNormalizeMiddleware(cfg.DateFields, cfg.DateFormat))
	}
	return p
}

// Use adds a middleware to the pipeline chain.
func (p *Pipeline) Use(mw Middleware) {
	p.middlewares = append(p.middlewares, mw)
	p.logger.Debug("middleware added", "name", mw.Name(), "position", len(p.middlewares))
}

// Process runs the record through all middleware in order.
func (p *Pipeline) Process(rec *types.Record) (*types.Record, error) {
	current := rec

	for _, mw := range p.middlewares {
		result, err := mw.Process(current)
		if err != nil {
			return nil, &types.PipelineError{
				Stage:  mw.Name(),
				Record: current,
				Err:    err,
			}
		}
		if result == nil {
			p.logger.Debug("record dropped", "stage", mw.Name(), "data_type", rec.DataType, "year", rec.Year)
			return nil, nil
		}
		current = result
	}

	return current, nil
}

// ProcessAll runs every record through the chain, skipping dropped records
// and logging the ones that fail.
func (p *Pipeline) ProcessAll(recs []*types.Record) []*types.Record {
	out := make([]*types.Record, 0, len(recs))
	for _, rec := range recs {
		res, err := p.Process(rec)
		if err != nil {
			p.logger.Warn("record rejected", "error", err)
			continue
		}
		if res != nil {
			out = append(out, res)
		}
	}
	return out
}

// Len returns the number of middleware in the chain.
func (p *Pipeline) Len() int {
	return len(p.middlewares)
}

// --- Built-in Middleware ---

// RequiredFieldsMiddleware drops records missing required fields.
type RequiredFieldsMiddleware struct {
	Fields []string
}

func (m *RequiredFieldsMiddleware) Name() string { return "required_fields" }

func (m *RequiredFieldsMiddleware) Process(rec *types.Record) (*types.Record, error) {
	for _, field := range m.Fields {
		val, ok := rec.Get(field)
		if !ok || val == nil {
			return nil, nil
		}
		if s, isString := val.(string); isString && s == "" {
			return nil, nil
		}
	}
	return rec, nil
}

// DefaultValueMiddleware sets default values for missing fields.
type DefaultValueMiddleware struct {
	Defaults map[string]any
}

func (m *DefaultValueMiddleware) Name() string { return "default_values" }

func (m *DefaultValueMiddleware) Process(rec *types.Record) (*types.Record, error) {
	for key, defaultVal := range m.Defaults {
		if !rec.Has(key) {
			rec.Set(key, defaultVal)
		}
	}
	return rec, nil
}

// WhitespaceMiddleware collapses runs of whitespace in string fields to a
// single space and trims both ends.
type WhitespaceMiddleware struct{}

func (m *WhitespaceMiddleware) Name() string { return "whitespace" }

func (m *WhitespaceMiddleware) Process(rec *types.Record) (*types.Record, error) {
	for _, key := range rec.Keys() {
		if s := rec.GetString(key); s != "" {
			rec.Set(key, strings.Join(strings.Fields(s), " "))
		}
	}
	return rec, nil
}
