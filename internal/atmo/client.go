// Package atmo talks to the Atmo France open-data API.
package atmo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/IshaanNene/AirQuality-CVL/internal/config"
	"github.com/IshaanNene/AirQuality-CVL/internal/observability"
	"github.com/IshaanNene/AirQuality-CVL/internal/types"
)

const (
	loginPath    = "/api/login"
	episodesPath = "/api/v2/data/episodes/historique"
)

// Client is an authenticated Atmo France API client. Login must succeed
// before any data call.
type Client struct {
	http    *resty.Client
	cfg     config.AtmoConfig
	metrics *observability.Metrics
	logger  *slog.Logger
	token   string
}

// NewClient creates a client for cfg. metrics may be nil.
func NewClient(cfg config.AtmoConfig, metrics *observability.Metrics, logger *slog.Logger) *Client {
	c := &Client{
		cfg:     cfg,
		metrics: metrics,
		logger:  logger.With("component", "atmo_client"),
	}

	h := resty.New()
	h.SetTransport(newTransport())
	h.SetBaseURL(strings.TrimRight(cfg.BaseURL, "/"))
	h.SetTimeout(cfg.RequestTimeout)
	h.SetHeader("accept", "application/json")
	if cfg.UserAgent != "" {
		h.SetHeader("user-agent", cfg.UserAgent)
	}
	h.OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
		c.metrics.ObserveResponse(resp.StatusCode(), resp.Size(), nil)
		return nil
	})
	h.OnError(func(_ *resty.Request, err error) {
		c.metrics.ObserveResponse(0, 0, err)
	})
	c.http = h

	return c
}

// Payload is one API response body.
type Payload struct {
	URL  string
	Body []byte
}

// Rows decodes the body into row objects. Plain JSON arrays and GeoJSON
// feature collections (one row per feature's properties) are understood.
func (p *Payload) Rows() ([]map[string]any, error) {
	trimmed := strings.TrimSpace(string(p.Body))
	if strings.HasPrefix(trimmed, "[") {
		var rows []map[string]any
		if err := json.Unmarshal(p.Body, &rows); err != nil {
			return nil, fmt.Errorf("decode rows: %w", err)
		}
		return rows, nil
	}

	var fc struct {
		Features []struct {
			Properties map[string]any `json:"properties"`
			Geometry   any            `json:"geometry"`
		} `json:"features"`
	}
	if err := json.Unmarshal(p.Body, &fc); err != nil {
		return nil, fmt.Errorf("decode feature collection: %w", err)
	}
	rows := make([]map[string]any, 0, len(fc.Features))
	for _, f := range fc.Features {
		row := f.Properties
		if row == nil {
			row = make(map[string]any)
		}
		if f.Geometry != nil {
			row["geometry"] = f.Geometry
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Login exchanges the configured credentials for a bearer token.
func (c *Client) Login(ctx context.Context) error {
	var out struct {
		Token string `json:"token"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("content-type", "application/json").
		SetBody(map[string]string{
			"username": c.cfg.Username,
			"password": c.cfg.Password,
		}).
		Post(loginPath)
	if err != nil {
		return &types.APIError{Endpoint: loginPath, Err: err}
	}
	if resp.IsError() {
		return &types.APIError{Endpoint: loginPath, StatusCode: resp.StatusCode(), Err: fmt.Errorf("login rejected: %s", resp.Status())}
	}
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return &types.APIError{Endpoint: loginPath, StatusCode: resp.StatusCode(), Err: fmt.Errorf("decode login response: %w", err)}
	}
	if out.Token == "" {
		return &types.APIError{Endpoint: loginPath, StatusCode: resp.StatusCode(), Err: types.ErrNoToken}
	}

	c.token = out.Token
	c.http.SetAuthToken(out.Token)
	c.logger.Info("authenticated", "base_url", c.cfg.BaseURL)
	return nil
}

// Authenticated reports whether Login has succeeded.
func (c *Client) Authenticated() bool {
	return c.token != ""
}

// LayerPath returns the data path for layerID filtered on year. The JSON
// filter is a single percent-encoded path segment.
func LayerPath(layerID, year int) string {
	filter := fmt.Sprintf(`{"annee": {"operator": "=", "value": "%d"}}`, year)
	return fmt.Sprintf("/api/data/%d/%s", layerID, url.PathEscape(filter))
}

// Layer fetches one dataset layer for a year.
func (c *Client) Layer(ctx context.Context, layerID, year int) (*Payload, error) {
	return c.get(ctx, LayerPath(layerID, year), nil)
}

// Episodes fetches the pollution episode history for a year as GeoJSON.
func (c *Client) Episodes(ctx context.Context, year int) (*Payload, error) {
	y := strconv.Itoa(year)
	return c.get(ctx, episodesPath, map[string]string{
		"format":          "geojson",
		"date":            y + "-12-31",
		"date_historique": y + "-01-01",
	})
}

func (c *Client) get(ctx context.Context, path string, query map[string]string) (*Payload, error) {
	if c.token == "" {
		return nil, &types.APIError{Endpoint: path, Err: types.ErrNoToken}
	}

	req := c.http.R().SetContext(ctx)
	if len(query) > 0 {
		req.SetQueryParams(query)
	}
	resp, err := req.Get(path)
	if err != nil {
		return nil, &types.APIError{Endpoint: path, Err: err}
	}
	if resp.IsError() {
		return nil, &types.APIError{Endpoint: path, StatusCode: resp.StatusCode(), Err: fmt.Errorf("unexpected status %s", resp.Status())}
	}

	c.logger.Debug("fetched", "path", path, "status", resp.StatusCode(), "bytes", len(resp.Body()))
	return &Payload{URL: resp.Request.URL, Body: resp.Body()}, nil
}
