package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// AppName is used for the env prefix and the config search path.
const AppName = "airqual"

// legacyEnv maps config keys to the variable names the collection scripts
// have always read from .env. They are checked after the AIRQUAL_ variable.
var legacyEnv = map[string][]string{
	"atmo.username":     {"ATMO_USERNAME"},
	"atmo.password":     {"ATMO_PASSWORD"},
	"atmo.year":         {"ANNEE"},
	"database.user":     {"DB_USER"},
	"database.password": {"DB_PASSWORD", "PASSWORD"},
	"database.host":     {"DB_HOST", "HOST"},
	"database.port":     {"DB_PORT", "PORT"},
	"database.name":     {"DB"},
}

// Load reads configuration from a .env file, a config file and the environment.
// Priority (highest to lowest): env vars > config file > defaults.
// Variables already present in the process environment are not overwritten by
// the .env file.
func Load(configPath, envFile string) (*Config, error) {
	if err := loadDotEnv(envFile); err != nil {
		return nil, err
	}

	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v, cfg)

	v.SetEnvPrefix(strings.ToUpper(AppName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(AppName)
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath(filepath.Join(xdg.ConfigHome, AppName))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// loadDotEnv loads KEY=VALUE pairs into the process environment. A missing
// file is not an error.
func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func bindLegacyEnv(v *viper.Viper) error {
	prefix := strings.ToUpper(AppName) + "_"
	for key, names := range legacyEnv {
		own := prefix + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		args := append([]string{key, own}, names...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}

// setDefaults registers default values in viper so AutomaticEnv can see them.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("region.locations", cfg.Region.Locations)
	v.SetDefault("region.labels", cfg.Region.Labels)

	v.SetDefault("atmo.base_url", cfg.Atmo.BaseURL)
	v.SetDefault("atmo.username", cfg.Atmo.Username)
	v.SetDefault("atmo.password", cfg.Atmo.Password)
	v.SetDefault("atmo.year", cfg.Atmo.Year)
	v.SetDefault("atmo.start_year", cfg.Atmo.StartYear)
	v.SetDefault("atmo.end_year", cfg.Atmo.EndYear)
	v.SetDefault("atmo.emissions_layer", cfg.Atmo.EmissionsLayer)
	v.SetDefault("atmo.request_timeout", cfg.Atmo.RequestTimeout)
	v.SetDefault("atmo.user_agent", cfg.Atmo.UserAgent)

	v.SetDefault("ligair.url", cfg.Ligair.URL)
	v.SetDefault("ligair.source", cfg.Ligair.Source)
	v.SetDefault("ligair.navigation_timeout", cfg.Ligair.NavigationTimeout)
	v.SetDefault("ligair.map_timeout", cfg.Ligair.MapTimeout)
	v.SetDefault("ligair.map_selector", cfg.Ligair.MapSelector)
	v.SetDefault("ligair.settle_delay", cfg.Ligair.SettleDelay)
	v.SetDefault("ligair.poll_interval", cfg.Ligair.PollInterval)
	v.SetDefault("ligair.max_attempts", cfg.Ligair.MaxAttempts)
	v.SetDefault("ligair.min_located", cfg.Ligair.MinLocated)
	v.SetDefault("ligair.readiness_window", cfg.Ligair.ReadinessWindow)
	v.SetDefault("ligair.screenshot", cfg.Ligair.Screenshot)

	v.SetDefault("extract.proximity_radius", cfg.Extract.ProximityRadius)
	v.SetDefault("extract.script_radius", cfg.Extract.ScriptRadius)
	v.SetDefault("extract.city_attribute", cfg.Extract.CityAttribute)
	v.SetDefault("extract.marker_selectors", cfg.Extract.MarkerSelectors)
	v.SetDefault("extract.popup_selectors", cfg.Extract.PopupSelectors)
	v.SetDefault("extract.close_selector", cfg.Extract.CloseSelector)
	v.SetDefault("extract.scroll_delay", cfg.Extract.ScrollDelay)
	v.SetDefault("extract.click_delay", cfg.Extract.ClickDelay)
	v.SetDefault("extract.dismiss_delay", cfg.Extract.DismissDelay)

	v.SetDefault("browser.headless", cfg.Browser.Headless)
	v.SetDefault("browser.stealth", cfg.Browser.Stealth)
	v.SetDefault("browser.window_size", cfg.Browser.WindowSize)
	v.SetDefault("browser.user_agent", cfg.Browser.UserAgent)
	v.SetDefault("browser.bin", cfg.Browser.Bin)

	v.SetDefault("pipeline.whitespace", cfg.Pipeline.Whitespace)
	v.SetDefault("pipeline.required_fields", cfg.Pipeline.RequiredFields)
	v.SetDefault("pipeline.coerce", cfg.Pipeline.Coerce)
	v.SetDefault("pipeline.date_fields", cfg.Pipeline.DateFields)
	v.SetDefault("pipeline.date_format", cfg.Pipeline.DateFormat)

	v.SetDefault("storage.output_dir", cfg.Storage.OutputDir)
	v.SetDefault("storage.type", cfg.Storage.Type)

	v.SetDefault("mongo.enabled", cfg.Mongo.Enabled)
	v.SetDefault("mongo.uri", cfg.Mongo.URI)
	v.SetDefault("mongo.database", cfg.Mongo.Database)
	v.SetDefault("mongo.collection", cfg.Mongo.Collection)
	v.SetDefault("mongo.timeout", cfg.Mongo.Timeout)

	v.SetDefault("database.driver", cfg.Database.Driver)
	v.SetDefault("database.dsn", cfg.Database.DSN)
	v.SetDefault("database.host", cfg.Database.Host)
	v.SetDefault("database.port", cfg.Database.Port)
	v.SetDefault("database.user", cfg.Database.User)
	v.SetDefault("database.password", cfg.Database.Password)
	v.SetDefault("database.name", cfg.Database.Name)
	v.SetDefault("database.sslmode", cfg.Database.SSLMode)
	v.SetDefault("database.connect_timeout", cfg.Database.ConnectTimeout)
	v.SetDefault("database.csv_dir", cfg.Database.CSVDir)
	v.SetDefault("database.chunk_size", cfg.Database.ChunkSize)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.output", cfg.Logging.Output)
}

// HomeConfigPath returns the per-user config file location.
func HomeConfigPath() string {
	return filepath.Join(xdg.ConfigHome, AppName, AppName+".yaml")
}

