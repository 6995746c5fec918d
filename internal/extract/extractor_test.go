package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/IshaanNene/AirQuality-CVL/internal/config"
	"github.com/IshaanNene/AirQuality-CVL/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

const mapHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Lig'Air - Qualité de l'air</title>
    <script>
    var indices = {"Chartres": "Moyen", "updated": "2024-06-01"};
    </script>
    <script src="/static/leaflet.js"></script>
</head>
<body>
    <div class="leaflet-container">
        <ul class="cities">
            <li><span class="name">Blois</span><span class="idx">Dégradé</span></li>
        </ul>
        <div class="leaflet-marker-icon" data-city="Tours" title="Tours : Mauvais"></div>
        <p class="note">Indice du jour à Orléans : Bon</p>
    </div>
</body>
</html>`

const noLocationHTML = `<!DOCTYPE html>
<html>
<head><title>Maintenance</title><script>var state = "Bon";</script></head>
<body>
    <div class="leaflet-container"><p>Indice Moyen partout, carte indisponible.</p></div>
</body>
</html>`

func newTestExtractor() *Extractor {
	e := New(config.DefaultConfig(), testLogger)
	e.sleep = func(time.Duration) {}
	return e
}

func methodsFor(recs []types.Association, loc string) map[string][]string {
	out := make(map[string][]string)
	for _, r := range recs {
		if r.Location == loc {
			out[r.Method] = append(out[r.Method], r.Label)
		}
	}
	return out
}

// --- fake browser session ---

type fakeElement struct {
	key       string
	text      string
	visible   bool
	scrollErr error
	clickErr  error
	onClick   func()
}

func (f *fakeElement) Key() string { return f.key }

func (f *fakeElement) ScrollIntoView(context.Context) error { return f.scrollErr }

func (f *fakeElement) Click(context.Context) error {
	if f.clickErr != nil {
		return f.clickErr
	}
	if f.onClick != nil {
		f.onClick()
	}
	return nil
}

func (f *fakeElement) Visible(context.Context) (bool, error) { return f.visible, nil }

func (f *fakeElement) Text(context.Context) (string, error) { return f.text, nil }

// fakeSession models a map with markers that each open one popup.
type fakeSession struct {
	html    string
	htmlErr error

	markers map[string][]*fakeElement
	open    string

	closeBroken bool
	evalBroken  bool
	closes      int
	evals       int
}

func (s *fakeSession) HTML(context.Context) (string, error) { return s.html, s.htmlErr }

func (s *fakeSession) Elements(_ context.Context, selector string) ([]Element, error) {
	var out []Element
	for _, el := range s.markers[selector] {
		out = append(out, el)
	}
	return out, nil
}

func (s *fakeSession) Element(_ context.Context, selector string) (Element, error) {
	switch selector {
	case ".leaflet-popup-content":
		if s.open == "" {
			return nil, types.ErrElementNotFound
		}
		return &fakeElement{key: "popup", text: "  " + s.open + "\n", visible: true}, nil
	case config.DefaultConfig().Extract.CloseSelector:
		if s.closeBroken || s.open == "" {
			return nil, types.ErrElementNotFound
		}
		return &fakeElement{key: "close", visible: true, onClick: func() {
			s.closes++
			s.open = ""
		}}, nil
	}
	return nil, types.ErrElementNotFound
}

func (s *fakeSession) Eval(context.Context, string) (json.RawMessage, error) {
	s.evals++
	if s.evalBroken {
		return nil, errors.New("evaluation failed")
	}
	s.open = ""
	return json.RawMessage("true"), nil
}

func (s *fakeSession) addMarker(selector, key, popup string) *fakeElement {
	if s.markers == nil {
		s.markers = make(map[string][]*fakeElement)
	}
	el := &fakeElement{key: key, visible: true}
	el.onClick = func() { s.open = popup }
	s.markers[selector] = append(s.markers[selector], el)
	return el
}

// --- DOM strategies ---

func TestProximityFindsNearbyLabel(t *testing.T) {
	e := newTestExtractor()
	markup := `<div><h3>Orléans</h3><p>` + strings.Repeat("x", 80) + ` qualité Bon</p></div>`

	var recs []types.Association
	snap, err := NewSnapshot(markup)
	if err != nil {
		t.Fatalf("NewSnapshot error: %v", err)
	}
	e.proximity(snap, &recs)

	if len(recs) == 0 {
		t.Fatal("expected at least one text_proximity record")
	}
	for _, r := range recs {
		if r.Method != types.MethodTextProximity {
			t.Errorf("method = %q, want %q", r.Method, types.MethodTextProximity)
		}
		if r.Location != "Orléans" || r.Label != "Bon" {
			t.Errorf("got %s/%s, want Orléans/Bon", r.Location, r.Label)
		}
		if strings.Contains(r.Context, "\n") {
			t.Errorf("context should be flattened: %q", r.Context)
		}
	}
}

func TestProximityIgnoresDistantLabel(t *testing.T) {
	e := newTestExtractor()
	markup := `<div><h3>Orléans</h3><p>` + strings.Repeat("x", 400) + ` Bon</p></div>`

	var recs []types.Association
	snap, _ := NewSnapshot(markup)
	e.proximity(snap, &recs)

	if len(recs) != 0 {
		t.Errorf("expected no records, got %+v", recs)
	}
}

func TestExtractMarkupStrategies(t *testing.T) {
	e := newTestExtractor()
	recs := e.ExtractMarkup(mapHTML)

	blois := methodsFor(recs, "Blois")
	if got := blois[types.MethodStructuralParent]; len(got) != 1 || got[0] != "Dégradé" {
		t.Errorf("Blois structural_parent = %v, want [Dégradé]", got)
	}
	if got := blois[types.MethodStructuralSibling]; len(got) != 1 || got[0] != "Dégradé" {
		t.Errorf("Blois structural_sibling = %v, want [Dégradé]", got)
	}
	if len(blois[types.MethodTextProximity]) == 0 {
		t.Error("expected a text_proximity record for Blois")
	}

	tours := methodsFor(recs, "Tours")
	if got := tours[types.MethodElementAttributes]; len(got) != 1 || got[0] != "Mauvais" {
		t.Errorf("Tours element_attributes = %v, want [Mauvais]", got)
	}

	chartres := methodsFor(recs, "Chartres")
	if got := chartres[types.MethodInlineScript]; len(got) != 1 || got[0] != "Moyen" {
		t.Errorf("Chartres inline_script = %v, want [Moyen]", got)
	}

	orleans := methodsFor(recs, "Orléans")
	if len(orleans[types.MethodStructuralParent]) == 0 {
		t.Error("expected a structural_parent record for Orléans")
	}
}

func TestExtractMarkupStrategyOrder(t *testing.T) {
	e := newTestExtractor()
	recs := e.ExtractMarkup(mapHTML)

	rank := map[string]int{
		types.MethodStructuralParent:  0,
		types.MethodStructuralSibling: 0,
		types.MethodTextProximity:     1,
		types.MethodElementAttributes: 2,
		types.MethodInlineScript:      3,
	}
	last := 0
	for i, r := range recs {
		if rank[r.Method] < last {
			t.Fatalf("record %d (%s) out of strategy order", i, r.Method)
		}
		last = rank[r.Method]
	}
}

func TestAttributeRecordCarriesElement(t *testing.T) {
	e := newTestExtractor()
	var recs []types.Association
	snap, _ := NewSnapshot(mapHTML)
	e.attributes(snap, &recs)

	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	r := recs[0]
	if r.Attributes["data-city"] != "Tours" {
		t.Errorf("data-city = %q", r.Attributes["data-city"])
	}
	want := `div[class="leaflet-marker-icon" data-city="Tours" title="Tours : Mauvais"]`
	if r.Context != want {
		t.Errorf("context = %q, want %q", r.Context, want)
	}
}

func TestNoLocationNoRecords(t *testing.T) {
	e := newTestExtractor()
	s := &fakeSession{html: noLocationHTML}

	res := e.Extract(context.Background(), s)
	if res == nil {
		t.Fatal("Extract returned nil")
	}
	if len(res.Associations) != 0 {
		t.Errorf("expected no associations, got %+v", res.Associations)
	}
	if len(res.Popups) != 0 {
		t.Errorf("expected no popups, got %+v", res.Popups)
	}
	if got := e.LocationsIn(noLocationHTML); len(got) != 0 {
		t.Errorf("LocationsIn = %v, want none", got)
	}
}

func TestExtractMarkupDeterministic(t *testing.T) {
	e := newTestExtractor()
	first := e.ExtractMarkup(mapHTML)
	second := e.ExtractMarkup(mapHTML)

	if len(first) == 0 {
		t.Fatal("fixture produced no records")
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("second run differs (-first +second):\n%s", diff)
	}
}

func TestRunStrategyRecoversPanic(t *testing.T) {
	e := newTestExtractor()
	snap, _ := NewSnapshot(mapHTML)

	var out []types.Association
	e.runStrategy(strategy{name: "broken", run: func(_ *Snapshot, out *[]types.Association) {
		*out = append(*out, types.Association{Location: "Tours", Label: "Bon", Method: "broken"})
		panic("walk failed")
	}}, snap, &out)
	e.runStrategy(strategy{name: types.MethodTextProximity, run: e.proximity}, snap, &out)

	if len(out) < 2 {
		t.Fatalf("expected partial and following results, got %d", len(out))
	}
	if out[0].Method != "broken" {
		t.Errorf("partial record lost: %+v", out[0])
	}
}

func TestExtractWithoutMarkup(t *testing.T) {
	e := newTestExtractor()
	s := &fakeSession{htmlErr: errors.New("page crashed")}
	s.addMarker(".leaflet-marker-icon", "m1", "Tours : Bon")

	res := e.Extract(context.Background(), s)
	if len(res.Associations) != 0 {
		t.Errorf("expected no associations, got %d", len(res.Associations))
	}
	if len(res.Popups) != 1 {
		t.Errorf("expected marker scan to still run, got %d popups", len(res.Popups))
	}
}

func TestLocationsAndLabelsIn(t *testing.T) {
	e := newTestExtractor()
	locs := e.LocationsIn(mapHTML)
	want := []string{"Chartres", "Tours", "Blois", "Orléans"}
	if diff := cmp.Diff(want, locs); diff != "" {
		t.Errorf("LocationsIn mismatch (-want +got):\n%s", diff)
	}

	labels := e.LabelsIn(mapHTML)
	for _, l := range []string{"Bon", "Moyen", "Mauvais", "Dégradé"} {
		found := false
		for _, got := range labels {
			if got == l {
				found = true
			}
		}
		if !found {
			t.Errorf("label %q not found in %v", l, labels)
		}
	}
}

// --- marker popups ---

func TestMarkersOnePopupEach(t *testing.T) {
	e := newTestExtractor()
	s := &fakeSession{}
	for i, city := range []string{"Bourges", "Tours", "Blois"} {
		el := s.addMarker(".leaflet-marker-icon", fmt.Sprintf("m%d", i), city+" : Bon")
		// Matched again by a broader selector; must not be clicked twice.
		s.markers["[class*='marker']"] = append(s.markers["[class*='marker']"], el)
	}

	got := e.Markers(context.Background(), s)
	want := []types.PopupRecord{
		{Marker: 1, Text: "Bourges : Bon", Selector: ".leaflet-popup-content"},
		{Marker: 2, Text: "Tours : Bon", Selector: ".leaflet-popup-content"},
		{Marker: 3, Text: "Blois : Bon", Selector: ".leaflet-popup-content"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("popups mismatch (-want +got):\n%s", diff)
	}
	if s.closes != 3 {
		t.Errorf("closes = %d, want 3", s.closes)
	}
	if s.evals != 0 {
		t.Errorf("fallback dismiss used %d times, want 0", s.evals)
	}
}

func TestMarkersContinueWhenPopupStaysOpen(t *testing.T) {
	e := newTestExtractor()
	s := &fakeSession{closeBroken: true, evalBroken: true}
	for i, city := range []string{"Chartres", "Orléans", "Châteauroux"} {
		s.addMarker(".leaflet-marker-icon", fmt.Sprintf("m%d", i), city+" : Moyen")
	}

	got := e.Markers(context.Background(), s)
	if len(got) != 3 {
		t.Fatalf("expected 3 popups, got %d: %+v", len(got), got)
	}
	seen := make(map[string]bool)
	for _, p := range got {
		if seen[p.Text] {
			t.Errorf("duplicate popup text %q", p.Text)
		}
		seen[p.Text] = true
	}
	if s.evals != 3 {
		t.Errorf("fallback dismiss attempted %d times, want 3", s.evals)
	}
}

func TestMarkersSkipFailedClick(t *testing.T) {
	e := newTestExtractor()
	s := &fakeSession{}
	s.addMarker(".leaflet-marker-icon", "a", "Bourges : Bon")
	broken := s.addMarker(".leaflet-marker-icon", "b", "Tours : Bon")
	broken.clickErr = errors.New("element detached")
	s.addMarker(".leaflet-div-icon", "c", "Blois : Mauvais")

	got := e.Markers(context.Background(), s)
	if len(got) != 2 {
		t.Fatalf("expected 2 popups, got %+v", got)
	}
	if got[0].Marker != 1 || got[1].Marker != 3 {
		t.Errorf("marker indices = %d,%d, want 1,3", got[0].Marker, got[1].Marker)
	}
	if got[1].Text != "Blois : Mauvais" {
		t.Errorf("third popup = %q", got[1].Text)
	}
}

func TestMarkersWithoutPopup(t *testing.T) {
	e := newTestExtractor()
	s := &fakeSession{}
	s.addMarker(".leaflet-marker-icon", "a", "")

	if got := e.Markers(context.Background(), s); len(got) != 0 {
		t.Errorf("expected no popups, got %+v", got)
	}
}

// --- helpers ---

func TestXPathLiteral(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Tours", `"Tours"`},
		{"L'Île", `"L'Île"`},
		{`say "hi"`, `'say "hi"'`},
		{`a"b'c`, `concat("a", '"', "b'c")`},
	}
	for _, tt := range tests {
		if got := xpathLiteral(tt.in); got != tt.want {
			t.Errorf("xpathLiteral(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestWindow(t *testing.T) {
	if got := window("abcdef", 3, 2); got != "bcde" {
		t.Errorf("window = %q, want bcde", got)
	}
	if got := window("abc", 1, 10); got != "abc" {
		t.Errorf("window clamps = %q, want abc", got)
	}
	s := "ééééé"
	pos := strings.Index(s, "é") + 4
	if got := window(s, pos, 1); got != "éé" {
		t.Errorf("rune window = %q, want éé", got)
	}
}

func TestOccurrences(t *testing.T) {
	if diff := cmp.Diff([]int{0, 1}, occurrences("aaa", "aa")); diff != "" {
		t.Errorf("occurrences mismatch:\n%s", diff)
	}
	if got := occurrences("abc", ""); got != nil {
		t.Errorf("empty needle = %v, want nil", got)
	}
}

func TestVisibleTextSkipsScripts(t *testing.T) {
	snap, _ := NewSnapshot(`<div>Tours <script>var x = "Bon";</script><b>Moyen</b></div>`)
	div := snap.Document().Find("div").Get(0)
	if got := visibleText(div); got != "Tours Moyen" {
		t.Errorf("visibleText = %q, want %q", got, "Tours Moyen")
	}
}
