// Package ligair scrapes the Lig'Air regional air-quality map.
package ligair

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/IshaanNene/AirQuality-CVL/internal/config"
	"github.com/IshaanNene/AirQuality-CVL/internal/extract"
	"github.com/IshaanNene/AirQuality-CVL/internal/observability"
	"github.com/IshaanNene/AirQuality-CVL/internal/storage"
	"github.com/IshaanNene/AirQuality-CVL/internal/types"
)

// Page is a live browser page: everything the extractor needs plus
// navigation and capture.
type Page interface {
	extract.Session

	Navigate(ctx context.Context, url string, timeout time.Duration) error
	WaitFor(ctx context.Context, selector string, timeout time.Duration) error
	Title(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
}

// quickMarkerSelector is only used to log progress while waiting.
const quickMarkerSelector = ".leaflet-marker-icon, .leaflet-div-icon, .leaflet-marker"

// probeJS lists interesting globals and, when the site's map handler is
// present, the titled layers of its Leaflet map.
const probeJS = `() => {
	const result = {
		map_handler_exists: typeof mapHandler !== 'undefined',
		window_vars: [],
		map_layers: []
	};
	for (const prop in window) {
		try {
			const v = window[prop];
			if (typeof v !== 'object' || v === null) continue;
			const p = prop.toLowerCase();
			if (p.includes('map') || p.includes('data') || p.includes('indice')) {
				result.window_vars.push(prop);
			}
		} catch (e) {}
	}
	if (result.map_handler_exists) {
		try {
			const init = mapHandler.mapInitialization;
			if (init && init.map) {
				init.map.eachLayer(function (layer) {
					if (layer.options && (layer.options.title || layer.options.alt)) {
						result.map_layers.push({
							title: String(layer.options.title || layer.options.alt),
							type: layer.constructor.name
						});
					}
				});
			}
		} catch (e) {
			result.map_error = e.toString();
		}
	}
	return result;
}`

// Readiness describes how the wait for map data ended.
type Readiness struct {
	Attempts int
	Located  int
	Labels   []string
	Ready    bool
}

// Scraper performs one Lig'Air scrape.
type Scraper struct {
	cfg       config.LigairConfig
	region    config.RegionConfig
	extractor *extract.Extractor
	outputDir string
	metrics   *observability.Metrics
	logger    *slog.Logger

	// swapped out in tests
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// New creates a Scraper. metrics may be nil.
func New(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) *Scraper {
	return &Scraper{
		cfg:       cfg.Ligair,
		region:    cfg.Region,
		extractor: extract.New(cfg, logger),
		outputDir: cfg.Storage.OutputDir,
		metrics:   metrics,
		logger:    logger.With("component", "ligair"),
		sleep:     sleepCtx,
		now:       time.Now,
	}
}

// Run scrapes the map page already opened in page. Timeouts only make the
// result thinner; an error is returned when the page could not be reached
// at all or the context ends.
func (s *Scraper) Run(ctx context.Context, page Page) (*types.Report, error) {
	s.logger.Info("loading page", "url", s.cfg.URL)
	if err := page.Navigate(ctx, s.cfg.URL, s.cfg.NavigationTimeout); err != nil {
		if !errors.Is(err, types.ErrPageTimeout) {
			return nil, fmt.Errorf("navigate %s: %w", s.cfg.URL, err)
		}
		s.logger.Warn("page load timed out, continuing with partial content", "error", err)
	}

	ready, err := s.WaitForMap(ctx, page)
	if err != nil {
		return nil, err
	}
	s.logger.Info("map wait finished",
		"ready", ready.Ready,
		"attempts", ready.Attempts,
		"located", ready.Located,
		"labels", ready.Labels,
	)

	report := &types.Report{
		CollectedAt:       s.now(),
		Source:            s.cfg.Source,
		URL:               s.cfg.URL,
		LocationsInSource: []string{},
		Markers:           []types.PopupRecord{},
		Associations:      []types.Association{},
		JavaScript:        types.ScriptProbe{WindowVars: []string{}},
	}

	if title, err := page.Title(ctx); err != nil {
		s.logger.Warn("page title unavailable", "error", err)
	} else {
		report.PageTitle = title
	}

	if markup, err := page.HTML(ctx); err != nil {
		s.logger.Warn("page markup unavailable", "error", err)
	} else if locs := s.extractor.LocationsIn(markup); len(locs) > 0 {
		report.LocationsInSource = locs
	}

	res := s.extractor.Extract(ctx, page)
	if len(res.Associations) > 0 {
		report.Associations = res.Associations
	}
	if len(res.Popups) > 0 {
		report.Markers = res.Popups
	}
	s.metrics.ScrapeResult(len(res.Associations), len(res.Popups))

	report.JavaScript = s.Probe(ctx, page)

	if s.cfg.Screenshot {
		if path, err := s.screenshot(ctx, page); err != nil {
			s.logger.Warn("screenshot failed", "error", err)
		} else {
			report.Screenshot = path
		}
	}

	s.logger.Info("scrape finished",
		"locations", len(report.LocationsInSource),
		"markers", len(report.Markers),
		"associations", len(report.Associations),
		"window_vars", len(report.JavaScript.WindowVars),
	)
	return report, nil
}

// WaitForMap waits for the map container, lets tiles settle, then polls the
// markup until enough locations show a label nearby or attempts run out.
// Only context cancellation is an error.
func (s *Scraper) WaitForMap(ctx context.Context, page Page) (Readiness, error) {
	var r Readiness

	if err := page.WaitFor(ctx, s.cfg.MapSelector, s.cfg.MapTimeout); err != nil {
		if ctx.Err() != nil {
			return r, ctx.Err()
		}
		s.logger.Warn("map container not found, continuing", "selector", s.cfg.MapSelector, "error", err)
		return r, nil
	}
	s.logger.Debug("map container found", "selector", s.cfg.MapSelector)

	if err := s.sleep(ctx, s.cfg.SettleDelay); err != nil {
		return r, err
	}

	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		r.Attempts = attempt

		markup, err := page.HTML(ctx)
		if err != nil {
			s.logger.Debug("markup unavailable while waiting", "attempt", attempt, "error", err)
		} else {
			r.Labels = s.extractor.LabelsIn(markup)
			if len(r.Labels) > 0 {
				r.Located = countLocated(markup, s.region.Locations, r.Labels, s.cfg.ReadinessWindow)
			}
			s.logger.Debug("waiting for map data",
				"attempt", attempt,
				"max_attempts", s.cfg.MaxAttempts,
				"labels", r.Labels,
				"located", r.Located,
			)
			if r.Located >= s.cfg.MinLocated {
				r.Ready = true
				return r, nil
			}
		}

		if markers, err := page.Elements(ctx, quickMarkerSelector); err == nil && len(markers) > 0 {
			s.logger.Debug("markers present", "attempt", attempt, "count", len(markers))
		}

		if attempt < s.cfg.MaxAttempts {
			if err := s.sleep(ctx, s.cfg.PollInterval); err != nil {
				return r, err
			}
		}
	}

	s.logger.Warn("map data wait ran out of attempts, continuing", "attempts", r.Attempts, "located", r.Located)
	return r, nil
}

// countLocated counts locations whose first occurrence in markup is
// followed by one of labels within window bytes.
func countLocated(markup string, locations, labels []string, window int) int {
	n := 0
	for _, loc := range locations {
		pos := strings.Index(markup, loc)
		if pos < 0 {
			continue
		}
		for _, label := range labels {
			i := strings.Index(markup[pos:], label)
			if i >= 0 && i < window {
				n++
				break
			}
		}
	}
	return n
}

// Probe reads the page's global JavaScript scope. Any failure yields an
// empty probe.
func (s *Scraper) Probe(ctx context.Context, page Page) types.ScriptProbe {
	empty := types.ScriptProbe{WindowVars: []string{}}

	raw, err := page.Eval(ctx, probeJS)
	if err != nil {
		s.logger.Warn("script probe failed", "error", err)
		return empty
	}

	var probe types.ScriptProbe
	if err := json.Unmarshal(raw, &probe); err != nil {
		s.logger.Warn("script probe returned unexpected data", "error", err)
		return empty
	}
	if probe.WindowVars == nil {
		probe.WindowVars = []string{}
	}
	return probe
}

func (s *Scraper) screenshot(ctx context.Context, page Page) (string, error) {
	png, err := page.Screenshot(ctx)
	if err != nil {
		return "", err
	}
	path, err := storage.WriteBlob(s.outputDir, "ligair_screenshot", ".png", png, s.now())
	if err != nil {
		return "", err
	}
	s.metrics.FileWritten()
	s.logger.Info("screenshot saved", "path", path)
	return path, nil
}

// Save writes report as ligair_<timestamp>.json in the output directory.
func (s *Scraper) Save(report *types.Report) (string, error) {
	path, err := storage.WriteDocument(s.outputDir, "ligair", report, s.now())
	if err != nil {
		return "", err
	}
	s.metrics.FileWritten()
	s.logger.Info("report saved", "path", path)
	return path, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
