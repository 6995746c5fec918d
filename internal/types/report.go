package types

import "time"

// Detection method tags carried by Association.Method.
const (
	MethodStructuralParent  = "structural_parent"
	MethodStructuralSibling = "structural_sibling"
	MethodTextProximity     = "text_proximity"
	MethodElementAttributes = "element_attributes"
	MethodInlineScript      = "inline_script"
)

// Association links a known location to a category label found near it.
// Associations are never merged: the same pair may appear many times.
type Association struct {
	Location string `json:"location"`
	Label    string `json:"label"`
	Method   string `json:"method"`

	// Context is the text snapshot the label was found in.
	Context string `json:"context"`

	// Attributes and ElementText are only set by the attribute strategy.
	Attributes  map[string]string `json:"attributes,omitempty"`
	ElementText string            `json:"element_text,omitempty"`
}

// PopupRecord is the text revealed by clicking one map marker.
type PopupRecord struct {
	Marker   int    `json:"marker"`
	Text     string `json:"text"`
	Selector string `json:"selector"`
}

// MapLayer is a titled Leaflet layer found on the page's map object.
type MapLayer struct {
	Title string `json:"title"`
	Type  string `json:"type"`
}

// ScriptProbe holds what could be read from the page's global JS scope.
type ScriptProbe struct {
	MapHandlerExists bool       `json:"map_handler_exists"`
	WindowVars       []string   `json:"window_vars"`
	MapLayers        []MapLayer `json:"map_layers,omitempty"`
	MapError         string     `json:"map_error,omitempty"`
}

// Report is the single JSON document written per scrape run.
type Report struct {
	CollectedAt       time.Time     `json:"collected_at"`
	Source            string        `json:"source"`
	URL               string        `json:"url"`
	PageTitle         string        `json:"page_title"`
	LocationsInSource []string      `json:"locations_in_source"`
	Markers           []PopupRecord `json:"markers"`
	Associations      []Association `json:"associations"`
	JavaScript        ScriptProbe   `json:"javascript"`
	Screenshot        string        `json:"screenshot,omitempty"`
}

// LayerStat is one row of the per-year, per-dataset record count.
type LayerStat struct {
	Year     int    `json:"year"     bson:"year"`
	DataType string `json:"data_type" bson:"data_type"`
	Count    int64  `json:"count"    bson:"count"`
}
