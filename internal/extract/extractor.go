// Package extract finds evidence linking known locations to air-quality
// labels on a rendered map page.
//
// Five independent strategies run in a fixed order. Every record any of them
// produces is returned: there is no deduplication and no ranking, so two
// strategies may disagree about the same location within one run.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/IshaanNene/AirQuality-CVL/internal/config"
	"github.com/IshaanNene/AirQuality-CVL/internal/types"
)

// Result is everything one scan found.
type Result struct {
	Associations []types.Association
	Popups       []types.PopupRecord
}

// Extractor runs the heuristic strategies against a page.
type Extractor struct {
	locations []string
	labels    []string
	cfg       config.ExtractConfig
	logger    *slog.Logger

	// sleep is swapped out in tests.
	sleep func(time.Duration)
}

// New creates an Extractor for the configured locations and labels.
func New(cfg *config.Config, logger *slog.Logger) *Extractor {
	return &Extractor{
		locations: cfg.Region.Locations,
		labels:    cfg.Region.Labels,
		cfg:       cfg.Extract,
		logger:    logger.With("component", "extractor"),
		sleep:     time.Sleep,
	}
}

// strategy appends the associations it finds to out.
type strategy struct {
	name string
	run  func(snap *Snapshot, out *[]types.Association)
}

// Extract scans the session's current page. It never fails: strategies that
// cannot run contribute nothing and the rest carry on.
func (e *Extractor) Extract(ctx context.Context, s Session) *Result {
	res := &Result{}

	markup, err := s.HTML(ctx)
	if err != nil {
		e.logger.Warn("could not read page markup, skipping DOM strategies", "error", err)
	} else {
		res.Associations = e.ExtractMarkup(markup)
	}

	res.Popups = e.Markers(ctx, s)

	e.logger.Info("extraction finished",
		"associations", len(res.Associations),
		"popups", len(res.Popups),
	)
	return res
}

// ExtractMarkup runs the four DOM strategies over static markup.
func (e *Extractor) ExtractMarkup(markup string) []types.Association {
	snap, err := NewSnapshot(markup)
	if err != nil {
		e.logger.Warn("markup parse failed", "error", &types.ExtractError{Strategy: "snapshot", Err: err})
		return nil
	}

	strategies := []strategy{
		{"structural_context", e.structural},
		{types.MethodTextProximity, e.proximity},
		{types.MethodElementAttributes, e.attributes},
		{types.MethodInlineScript, e.inlineScripts},
	}

	var out []types.Association
	for _, st := range strategies {
		before := len(out)
		e.runStrategy(st, snap, &out)
		e.logger.Debug("strategy done", "strategy", st.name, "found", len(out)-before)
	}
	return out
}

// runStrategy isolates one strategy so a panic deep inside a DOM walk only
// loses that strategy's remaining work.
func (e *Extractor) runStrategy(st strategy, snap *Snapshot, out *[]types.Association) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("strategy aborted",
				"error", &types.ExtractError{Strategy: st.name, Err: fmt.Errorf("panic: %v", r)},
			)
		}
	}()
	st.run(snap, out)
}

// LocationsIn returns the known locations that appear anywhere in markup, in
// configuration order.
func (e *Extractor) LocationsIn(markup string) []string {
	found := make([]string, 0, len(e.locations))
	for _, loc := range e.locations {
		if containsAll(markup, loc) {
			found = append(found, loc)
		}
	}
	return found
}

// LabelsIn returns the known labels that appear anywhere in markup.
func (e *Extractor) LabelsIn(markup string) []string {
	var found []string
	for _, label := range e.labels {
		if containsAll(markup, label) {
			found = append(found, label)
		}
	}
	return found
}

// matchLabels returns every label contained in text, in configuration order.
func (e *Extractor) matchLabels(text string) []string {
	var found []string
	for _, label := range e.labels {
		if containsAll(text, label) {
			found = append(found, label)
		}
	}
	return found
}
