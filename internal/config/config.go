package config

import (
	"time"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Config is the root configuration for airqual.
type Config struct {
	Region   RegionConfig   `mapstructure:"region"   yaml:"region"`
	Atmo     AtmoConfig     `mapstructure:"atmo"     yaml:"atmo"`
	Ligair   LigairConfig   `mapstructure:"ligair"   yaml:"ligair"`
	Extract  ExtractConfig  `mapstructure:"extract"  yaml:"extract"`
	Browser  BrowserConfig  `mapstructure:"browser"  yaml:"browser"`
	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline"`
	Storage  StorageConfig  `mapstructure:"storage"  yaml:"storage"`
	Mongo    MongoConfig    `mapstructure:"mongo"    yaml:"mongo"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"  yaml:"logging"`
}

// RegionConfig lists the search terms the scraper looks for.
type RegionConfig struct {
	Locations []string `mapstructure:"locations" yaml:"locations"`
	Labels    []string `mapstructure:"labels"    yaml:"labels"`
}

// AtmoConfig controls the Atmo France API collectors.
type AtmoConfig struct {
	BaseURL        string        `mapstructure:"base_url"        yaml:"base_url"`
	Username       string        `mapstructure:"username"        yaml:"username"`
	Password       string        `mapstructure:"password"        yaml:"password"`
	Year           int           `mapstructure:"year"            yaml:"year"`
	StartYear      int           `mapstructure:"start_year"      yaml:"start_year"`
	EndYear        int           `mapstructure:"end_year"        yaml:"end_year"`
	EmissionsLayer int           `mapstructure:"emissions_layer" yaml:"emissions_layer"`
	Layers         []LayerConfig `mapstructure:"layers"          yaml:"layers"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"      yaml:"user_agent"`
}

// LayerConfig names one dataset endpoint of the data API.
type LayerConfig struct {
	ID   int    `mapstructure:"id"   yaml:"id"`
	Name string `mapstructure:"name" yaml:"name"`
}

// LigairConfig controls one scrape of the Lig'Air map page.
type LigairConfig struct {
	URL               string        `mapstructure:"url"                yaml:"url"`
	Source            string        `mapstructure:"source"             yaml:"source"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	MapTimeout        time.Duration `mapstructure:"map_timeout"        yaml:"map_timeout"`
	MapSelector       string        `mapstructure:"map_selector"       yaml:"map_selector"`
	SettleDelay       time.Duration `mapstructure:"settle_delay"       yaml:"settle_delay"`
	PollInterval      time.Duration `mapstructure:"poll_interval"      yaml:"poll_interval"`
	MaxAttempts       int           `mapstructure:"max_attempts"       yaml:"max_attempts"`
	MinLocated        int           `mapstructure:"min_located"        yaml:"min_located"`
	ReadinessWindow   int           `mapstructure:"readiness_window"   yaml:"readiness_window"`
	Screenshot        bool          `mapstructure:"screenshot"         yaml:"screenshot"`
}

// ExtractConfig tunes the heuristic extractor.
type ExtractConfig struct {
	ProximityRadius int           `mapstructure:"proximity_radius" yaml:"proximity_radius"`
	ScriptRadius    int           `mapstructure:"script_radius"    yaml:"script_radius"`
	CityAttribute   string        `mapstructure:"city_attribute"   yaml:"city_attribute"`
	MarkerSelectors []string      `mapstructure:"marker_selectors" yaml:"marker_selectors"`
	PopupSelectors  []string      `mapstructure:"popup_selectors"  yaml:"popup_selectors"`
	CloseSelector   string        `mapstructure:"close_selector"   yaml:"close_selector"`
	ScrollDelay     time.Duration `mapstructure:"scroll_delay"     yaml:"scroll_delay"`
	ClickDelay      time.Duration `mapstructure:"click_delay"      yaml:"click_delay"`
	DismissDelay    time.Duration `mapstructure:"dismiss_delay"    yaml:"dismiss_delay"`
}

// BrowserConfig controls the headless browser launch.
type BrowserConfig struct {
	Headless   bool   `mapstructure:"headless"    yaml:"headless"`
	Stealth    bool   `mapstructure:"stealth"     yaml:"stealth"`
	WindowSize string `mapstructure:"window_size" yaml:"window_size"`
	UserAgent  string `mapstructure:"user_agent"  yaml:"user_agent"`
	Bin        string `mapstructure:"bin"         yaml:"bin"`
}

// PipelineConfig selects the middleware applied to API records.
type PipelineConfig struct {
	Whitespace     bool              `mapstructure:"whitespace"      yaml:"whitespace"`
	RequiredFields []string          `mapstructure:"required_fields" yaml:"required_fields"`
	Coerce         map[string]string `mapstructure:"coerce"          yaml:"coerce"`
	DateFields     []string          `mapstructure:"date_fields"     yaml:"date_fields"`
	DateFormat     string            `mapstructure:"date_format"     yaml:"date_format"`
}

// StorageConfig controls output files.
type StorageConfig struct {
	OutputDir string `mapstructure:"output_dir" yaml:"output_dir"`
	Type      string `mapstructure:"type"       yaml:"type"`
}

// MongoConfig controls the MongoDB sink used by the historical collector.
type MongoConfig struct {
	Enabled    bool          `mapstructure:"enabled"    yaml:"enabled"`
	URI        string        `mapstructure:"uri"        yaml:"uri"`
	Database   string        `mapstructure:"database"   yaml:"database"`
	Collection string        `mapstructure:"collection" yaml:"collection"`
	Timeout    time.Duration `mapstructure:"timeout"    yaml:"timeout"`
}

// DatabaseConfig controls the CSV import target.
type DatabaseConfig struct {
	Driver         string        `mapstructure:"driver"          yaml:"driver"`
	DSN            string        `mapstructure:"dsn"             yaml:"dsn"`
	Host           string        `mapstructure:"host"            yaml:"host"`
	Port           int           `mapstructure:"port"            yaml:"port"`
	User           string        `mapstructure:"user"            yaml:"user"`
	Password       string        `mapstructure:"password"        yaml:"password"`
	Name           string        `mapstructure:"name"            yaml:"name"`
	SSLMode        string        `mapstructure:"sslmode"         yaml:"sslmode"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	CSVDir         string        `mapstructure:"csv_dir"         yaml:"csv_dir"`
	ChunkSize      int           `mapstructure:"chunk_size"      yaml:"chunk_size"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Region: RegionConfig{
			Locations: []string{"Bourges", "Chartres", "Châteauroux", "Tours", "Blois", "Orléans"},
			Labels: []string{
				"Bon", "Moyen", "Mauvais", "Dégradé",
				"Très bon", "Très mauvais", "Extrêmement mauvais",
			},
		},
		Atmo: AtmoConfig{
			BaseURL:        "https://admindata.atmo-france.org",
			Year:           2024,
			StartYear:      2020,
			EndYear:        2024,
			EmissionsLayer: 119,
			Layers: []LayerConfig{
				{ID: 119, Name: "emissions_regionales"},
				{ID: 120, Name: "concentrations_horaires"},
				{ID: 121, Name: "indices_qualite_air"},
			},
			RequestTimeout: 30 * time.Second,
			UserAgent:      "airqual/" + Version,
		},
		Ligair: LigairConfig{
			URL:               "https://www.ligair.fr/",
			Source:            "ligair_browser",
			NavigationTimeout: 60 * time.Second,
			MapTimeout:        60 * time.Second,
			MapSelector:       ".leaflet-container",
			SettleDelay:       8 * time.Second,
			PollInterval:      5 * time.Second,
			MaxAttempts:       12,
			MinLocated:        3,
			ReadinessWindow:   200,
		},
		Extract: ExtractConfig{
			ProximityRadius: 150,
			ScriptRadius:    200,
			CityAttribute:   "data-city",
			MarkerSelectors: []string{
				".leaflet-marker-icon",
				".leaflet-div-icon",
				".leaflet-marker",
				"[class*='marker']",
				"[class*='leaflet-marker']",
			},
			PopupSelectors: []string{
				".leaflet-popup-content",
				".leaflet-popup",
				"[class*='popup']",
				"[class*='tooltip']",
			},
			CloseSelector: ".leaflet-popup-close-button, .popup-close, [class*='close']",
			ScrollDelay:   500 * time.Millisecond,
			ClickDelay:    2 * time.Second,
			DismissDelay:  1 * time.Second,
		},
		Browser: BrowserConfig{
			Headless:   true,
			Stealth:    false,
			WindowSize: "1920,1080",
			UserAgent:  "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		},
		Pipeline: PipelineConfig{
			Whitespace: true,
			DateFormat: "2006-01-02",
		},
		Storage: StorageConfig{
			OutputDir: "./data_output",
			Type:      "json",
		},
		Mongo: MongoConfig{
			Enabled:    true,
			URI:        "mongodb://localhost:27017/",
			Database:   "atmo_big_data",
			Collection: "pollution_data",
			Timeout:    10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:         "pgx",
			Port:           5432,
			SSLMode:        "disable",
			ConnectTimeout: 10 * time.Second,
			CSVDir:         "./data_output/databases/CSV_to_import",
			ChunkSize:      1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}
