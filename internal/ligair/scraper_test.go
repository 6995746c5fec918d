package ligair

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/IshaanNene/AirQuality-CVL/internal/config"
	"github.com/IshaanNene/AirQuality-CVL/internal/extract"
	"github.com/IshaanNene/AirQuality-CVL/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

const loadingHTML = `<html><head><title>Lig'Air</title></head>
<body><div class="leaflet-container"><p>Chargement de la carte...</p></div></body></html>`

const readyHTML = `<html><head><title>Lig'Air - Qualité de l'air</title>
<script>var indices = {"Chartres": "Moyen"};</script></head>
<body><div class="leaflet-container">
<ul><li><span>Blois</span><span>Dégradé</span></li></ul>
<div class="leaflet-marker-icon" data-city="Tours" title="Tours : Mauvais"></div>
<p>Indice du jour à Orléans : Bon</p>
</div></body></html>`

const probeResult = `{"map_handler_exists":true,"window_vars":["mapHandler","dataLayer"],"map_layers":[{"title":"Tours","type":"Marker"}]}`

type fakeElement struct {
	key   string
	popup string
}

func (e *fakeElement) Key() string                           { return e.key }
func (e *fakeElement) ScrollIntoView(context.Context) error  { return nil }
func (e *fakeElement) Visible(context.Context) (bool, error) { return true, nil }
func (e *fakeElement) Text(context.Context) (string, error)  { return e.popup, nil }
func (e *fakeElement) Click(context.Context) error           { return nil }

// fakePage serves pages[i] on the i-th HTML call and repeats the last one.
type fakePage struct {
	pages   []string
	calls   int
	markers []*fakeElement
	open    *fakeElement

	navErr   error
	waitErr  error
	evalErr  error
	probe    string
	shot     []byte
	shotErr  error
	navURL   string
	waitSels []string
}

func (p *fakePage) Navigate(_ context.Context, url string, _ time.Duration) error {
	p.navURL = url
	return p.navErr
}

func (p *fakePage) WaitFor(_ context.Context, selector string, _ time.Duration) error {
	p.waitSels = append(p.waitSels, selector)
	return p.waitErr
}

func (p *fakePage) Title(context.Context) (string, error) { return "Lig'Air", nil }

func (p *fakePage) Screenshot(context.Context) ([]byte, error) { return p.shot, p.shotErr }

func (p *fakePage) HTML(context.Context) (string, error) {
	if len(p.pages) == 0 {
		return "", errors.New("no page")
	}
	i := p.calls
	if i >= len(p.pages) {
		i = len(p.pages) - 1
	}
	p.calls++
	return p.pages[i], nil
}

func (p *fakePage) Elements(_ context.Context, selector string) ([]extract.Element, error) {
	if selector != ".leaflet-marker-icon" {
		return nil, nil
	}
	out := make([]extract.Element, 0, len(p.markers))
	for _, m := range p.markers {
		out = append(out, &clickable{fakeElement: m, page: p})
	}
	return out, nil
}

func (p *fakePage) Element(_ context.Context, selector string) (extract.Element, error) {
	if selector == ".leaflet-popup-content" && p.open != nil {
		return &fakeElement{key: "popup", popup: p.open.popup}, nil
	}
	return nil, types.ErrElementNotFound
}

func (p *fakePage) Eval(_ context.Context, js string) (json.RawMessage, error) {
	if strings.Contains(js, "document.body.click") {
		p.open = nil
		return json.RawMessage("true"), nil
	}
	if p.evalErr != nil {
		return nil, p.evalErr
	}
	return json.RawMessage(p.probe), nil
}

// clickable opens its marker's popup on the owning page.
type clickable struct {
	*fakeElement
	page *fakePage
}

func (c *clickable) Click(context.Context) error {
	c.page.open = c.fakeElement
	return nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Storage.OutputDir = t.TempDir()
	cfg.Extract.ScrollDelay = 0
	cfg.Extract.ClickDelay = 0
	cfg.Extract.DismissDelay = 0
	return cfg
}

func newTestScraper(cfg *config.Config) (*Scraper, *[]time.Duration) {
	s := New(cfg, nil, testLogger)
	var slept []time.Duration
	s.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	s.now = func() time.Time { return time.Date(2024, 6, 1, 14, 30, 0, 0, time.UTC) }
	return s, &slept
}

func TestCountLocated(t *testing.T) {
	locations := []string{"Tours", "Blois", "Bourges"}
	labels := []string{"Bon", "Mauvais"}

	far := "Blois" + strings.Repeat(" ", 300) + "Bon"
	if got := countLocated(far, locations, labels, 200); got != 0 {
		t.Errorf("distant label: got %d, want 0", got)
	}

	near := "Tours : Mauvais / Blois : Bon / Bourges"
	if got := countLocated(near, locations, labels, 200); got != 2 {
		t.Errorf("near labels: got %d, want 2", got)
	}

	// only labels after the first occurrence count
	before := "Bon Tours"
	if got := countLocated(before, locations, labels, 200); got != 0 {
		t.Errorf("label before location: got %d, want 0", got)
	}
}

func TestWaitForMapReady(t *testing.T) {
	cfg := testConfig(t)
	s, slept := newTestScraper(cfg)
	page := &fakePage{pages: []string{loadingHTML, loadingHTML, readyHTML}}

	r, err := s.WaitForMap(context.Background(), page)
	if err != nil {
		t.Fatalf("WaitForMap() error = %v", err)
	}
	if !r.Ready {
		t.Fatal("expected map to be ready")
	}
	if r.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", r.Attempts)
	}
	if r.Located < cfg.Ligair.MinLocated {
		t.Errorf("located = %d, want at least %d", r.Located, cfg.Ligair.MinLocated)
	}
	// settle delay, then a poll interval between each failed attempt
	want := []time.Duration{cfg.Ligair.SettleDelay, cfg.Ligair.PollInterval, cfg.Ligair.PollInterval}
	if fmt.Sprint(*slept) != fmt.Sprint(want) {
		t.Errorf("sleeps = %v, want %v", *slept, want)
	}
	if len(page.waitSels) != 1 || page.waitSels[0] != ".leaflet-container" {
		t.Errorf("waited for %v", page.waitSels)
	}
}

func TestWaitForMapGivesUp(t *testing.T) {
	cfg := testConfig(t)
	cfg.Ligair.MaxAttempts = 4
	s, slept := newTestScraper(cfg)
	page := &fakePage{pages: []string{loadingHTML}}

	r, err := s.WaitForMap(context.Background(), page)
	if err != nil {
		t.Fatalf("WaitForMap() error = %v", err)
	}
	if r.Ready {
		t.Error("map should not be ready")
	}
	if r.Attempts != 4 {
		t.Errorf("attempts = %d, want 4", r.Attempts)
	}
	// no sleep after the last attempt
	if len(*slept) != 1+3 {
		t.Errorf("slept %d times, want 4", len(*slept))
	}
}

func TestWaitForMapWithoutContainer(t *testing.T) {
	cfg := testConfig(t)
	s, slept := newTestScraper(cfg)
	page := &fakePage{pages: []string{readyHTML}, waitErr: types.ErrPageTimeout}

	r, err := s.WaitForMap(context.Background(), page)
	if err != nil {
		t.Fatalf("WaitForMap() error = %v", err)
	}
	if r.Attempts != 0 || r.Ready {
		t.Errorf("got %+v, want no polling", r)
	}
	if len(*slept) != 0 {
		t.Errorf("slept %v", *slept)
	}
}

func TestWaitForMapCancelled(t *testing.T) {
	cfg := testConfig(t)
	s := New(cfg, nil, testLogger)
	page := &fakePage{pages: []string{loadingHTML}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.WaitForMap(ctx, page); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestRunReport(t *testing.T) {
	cfg := testConfig(t)
	s, _ := newTestScraper(cfg)
	page := &fakePage{
		pages:   []string{readyHTML},
		markers: []*fakeElement{{key: "m1", popup: "Tours : Mauvais"}},
		probe:   probeResult,
	}

	report, err := s.Run(context.Background(), page)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if page.navURL != cfg.Ligair.URL {
		t.Errorf("navigated to %q", page.navURL)
	}
	if report.Source != "ligair_browser" || report.URL != cfg.Ligair.URL {
		t.Errorf("source/url = %q %q", report.Source, report.URL)
	}
	if report.PageTitle != "Lig'Air" {
		t.Errorf("title = %q", report.PageTitle)
	}
	want := []string{"Chartres", "Tours", "Blois", "Orléans"}
	if fmt.Sprint(report.LocationsInSource) != fmt.Sprint(want) {
		t.Errorf("locations = %v, want %v", report.LocationsInSource, want)
	}
	if len(report.Associations) == 0 {
		t.Error("expected associations")
	}
	if len(report.Markers) != 1 || report.Markers[0].Text != "Tours : Mauvais" || report.Markers[0].Marker != 1 {
		t.Errorf("markers = %+v", report.Markers)
	}
	if !report.JavaScript.MapHandlerExists || len(report.JavaScript.WindowVars) != 2 {
		t.Errorf("probe = %+v", report.JavaScript)
	}
	if len(report.JavaScript.MapLayers) != 1 || report.JavaScript.MapLayers[0].Title != "Tours" {
		t.Errorf("layers = %+v", report.JavaScript.MapLayers)
	}
	if report.Screenshot != "" {
		t.Errorf("unexpected screenshot %q", report.Screenshot)
	}

	path, err := s.Save(report)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if filepath.Base(path) != "ligair_20240601_1430.json" {
		t.Errorf("saved as %s", filepath.Base(path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("report is not JSON: %v", err)
	}
	for _, key := range []string{"collected_at", "source", "url", "javascript", "markers"} {
		if _, ok := doc[key]; !ok {
			t.Errorf("report missing %q", key)
		}
	}
}

func TestRunToleratesNavigationTimeout(t *testing.T) {
	cfg := testConfig(t)
	s, _ := newTestScraper(cfg)
	page := &fakePage{
		pages:  []string{readyHTML},
		navErr: fmt.Errorf("navigate: %w", types.ErrPageTimeout),
		probe:  probeResult,
	}

	report, err := s.Run(context.Background(), page)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(report.LocationsInSource) == 0 {
		t.Error("expected partial content to be used")
	}
}

func TestRunNavigationFailure(t *testing.T) {
	cfg := testConfig(t)
	s, _ := newTestScraper(cfg)
	page := &fakePage{pages: []string{readyHTML}, navErr: errors.New("net::ERR_NAME_NOT_RESOLVED")}

	if _, err := s.Run(context.Background(), page); err == nil {
		t.Fatal("expected error")
	}
}

func TestRunEmptyPage(t *testing.T) {
	cfg := testConfig(t)
	s, _ := newTestScraper(cfg)
	page := &fakePage{pages: []string{loadingHTML}, evalErr: errors.New("script blocked")}

	report, err := s.Run(context.Background(), page)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.LocationsInSource == nil || report.Markers == nil || report.Associations == nil {
		t.Error("empty collections must not be nil")
	}
	if report.JavaScript.MapHandlerExists || report.JavaScript.WindowVars == nil {
		t.Errorf("probe = %+v, want empty", report.JavaScript)
	}

	path, err := s.Save(report)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), `"markers": []`) {
		t.Errorf("markers should serialise as an empty list:\n%s", data)
	}
}

func TestRunScreenshot(t *testing.T) {
	cfg := testConfig(t)
	cfg.Ligair.Screenshot = true
	s, _ := newTestScraper(cfg)
	page := &fakePage{pages: []string{readyHTML}, probe: probeResult, shot: []byte("\x89PNG")}

	report, err := s.Run(context.Background(), page)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if filepath.Base(report.Screenshot) != "ligair_screenshot_20240601_1430.png" {
		t.Errorf("screenshot = %q", report.Screenshot)
	}
	if _, err := os.Stat(report.Screenshot); err != nil {
		t.Errorf("screenshot not written: %v", err)
	}
}

func TestProbeBadResult(t *testing.T) {
	cfg := testConfig(t)
	s, _ := newTestScraper(cfg)
	page := &fakePage{probe: `"not an object"`}

	probe := s.Probe(context.Background(), page)
	if probe.MapHandlerExists || len(probe.WindowVars) != 0 {
		t.Errorf("probe = %+v, want empty", probe)
	}
}
