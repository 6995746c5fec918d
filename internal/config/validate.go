package config

import (
	"fmt"
	"net/url"
)

// Validate checks the configuration for invalid values.
func Validate(cfg *Config) error {
	if len(cfg.Region.Locations) == 0 {
		return fmt.Errorf("region.locations must not be empty")
	}
	if len(cfg.Region.Labels) == 0 {
		return fmt.Errorf("region.labels must not be empty")
	}

	if err := ValidateURL(cfg.Atmo.BaseURL); err != nil {
		return fmt.Errorf("atmo.base_url: %w", err)
	}
	if cfg.Atmo.Year < 1990 || cfg.Atmo.Year > 2100 {
		return fmt.Errorf("atmo.year must be between 1990 and 2100, got %d", cfg.Atmo.Year)
	}
	if cfg.Atmo.StartYear > cfg.Atmo.EndYear {
		return fmt.Errorf("atmo.start_year (%d) must be <= atmo.end_year (%d)", cfg.Atmo.StartYear, cfg.Atmo.EndYear)
	}
	if cfg.Atmo.RequestTimeout <= 0 {
		return fmt.Errorf("atmo.request_timeout must be > 0")
	}
	for _, layer := range cfg.Atmo.Layers {
		if layer.ID <= 0 || layer.Name == "" {
			return fmt.Errorf("atmo.layers entries need a positive id and a name, got %+v", layer)
		}
	}

	if err := ValidateURL(cfg.Ligair.URL); err != nil {
		return fmt.Errorf("ligair.url: %w", err)
	}
	if cfg.Ligair.MaxAttempts < 1 {
		return fmt.Errorf("ligair.max_attempts must be >= 1, got %d", cfg.Ligair.MaxAttempts)
	}
	if cfg.Ligair.PollInterval < 0 || cfg.Ligair.SettleDelay < 0 {
		return fmt.Errorf("ligair delays must be >= 0")
	}
	if cfg.Ligair.NavigationTimeout <= 0 || cfg.Ligair.MapTimeout <= 0 {
		return fmt.Errorf("ligair timeouts must be > 0")
	}

	if cfg.Extract.ProximityRadius < 1 || cfg.Extract.ScriptRadius < 1 {
		return fmt.Errorf("extract radii must be >= 1, got %d and %d", cfg.Extract.ProximityRadius, cfg.Extract.ScriptRadius)
	}
	if cfg.Extract.CityAttribute == "" {
		return fmt.Errorf("extract.city_attribute must not be empty")
	}

	for field, kind := range cfg.Pipeline.Coerce {
		switch kind {
		case "int", "float", "bool", "string":
		default:
			return fmt.Errorf("pipeline.coerce[%s] must be int/float/bool/string, got %q", field, kind)
		}
	}
	if len(cfg.Pipeline.DateFields) > 0 && cfg.Pipeline.DateFormat == "" {
		return fmt.Errorf("pipeline.date_format is required when date_fields are set")
	}

	validStorageTypes := map[string]bool{
		"json": true, "jsonl": true, "csv": true,
	}
	if !validStorageTypes[cfg.Storage.Type] {
		return fmt.Errorf("storage.type %q is not supported (valid: json, jsonl, csv)", cfg.Storage.Type)
	}
	if cfg.Storage.OutputDir == "" {
		return fmt.Errorf("storage.output_dir must not be empty")
	}

	if cfg.Mongo.Enabled && cfg.Mongo.URI == "" {
		return fmt.Errorf("mongo.uri is required when mongo is enabled")
	}

	switch cfg.Database.Driver {
	case "pgx", "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be 'pgx', 'postgres' or 'sqlite', got %q", cfg.Database.Driver)
	}
	if cfg.Database.ChunkSize < 1 {
		return fmt.Errorf("database.chunk_size must be >= 1, got %d", cfg.Database.ChunkSize)
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug/info/warn/error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json', got %q", cfg.Logging.Format)
	}

	return nil
}

// ValidateURL checks that a URL is absolute http(s).
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// DatabaseDSN builds a connection string for the configured driver. An
// explicit dsn wins.
func (d DatabaseConfig) DatabaseDSN() string {
	if d.DSN != "" {
		return d.DSN
	}
	if d.Driver == "sqlite" {
		return d.Name
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   "/" + d.Name,
	}
	q := u.Query()
	if d.SSLMode != "" {
		q.Set("sslmode", d.SSLMode)
	}
	if d.ConnectTimeout > 0 {
		q.Set("connect_timeout", fmt.Sprintf("%d", int(d.ConnectTimeout.Seconds())))
	}
	u.RawQuery = q.Encode()
	return u.String()
}
