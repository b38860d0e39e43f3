// Package kowalski provides a client for a Kowalski catalog query service:
// cone searches, field source listings, and per-source light curves.
package kowalski

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/skyward-obs/features-cli/internal/resilience"
)

// Record is one catalog document with the projected fields requested by a
// query.
type Record map[string]any

// Float extracts a numeric field from a record. ok is false when the field
// is absent or not a number.
func (r Record) Float(key string) (float64, bool) {
	v, ok := r[key]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

// Coordinates extracts the GeoJSON (lon, dec) pair from the record's
// nested coordinates document.
func (r Record) Coordinates() (lon, dec float64, ok bool) {
	coords, ok := r["coordinates"].(map[string]any)
	if !ok {
		return 0, 0, false
	}
	geo, ok := coords["radec_geojson"].(map[string]any)
	if !ok {
		return 0, 0, false
	}
	pair, ok := geo["coordinates"].([]any)
	if !ok || len(pair) != 2 {
		return 0, 0, false
	}
	lon, lok := pair[0].(float64)
	dec, dok := pair[1].(float64)
	return lon, dec, lok && dok
}

// ConeSearchRequest describes one batched cone search: a set of positions
// keyed by source id, a radius, a target catalog, an optional filter
// predicate, and a projection of requested fields.
type ConeSearchRequest struct {
	Positions    map[string][2]float64
	RadiusArcsec float64
	Catalog      string
	Filter       map[string]any
	Projection   map[string]int
}

// Epoch is one raw photometric sample of a light curve.
type Epoch struct {
	HJD      float64 `json:"hjd"`
	Mag      float64 `json:"mag"`
	MagErr   float64 `json:"magerr"`
	CatFlags int     `json:"catflags"`
}

// Lightcurve is the full per-epoch record set for one source.
type Lightcurve struct {
	ID     uint64  `json:"_id"`
	Filter int     `json:"filter"`
	Data   []Epoch `json:"data"`
}

// FieldSource is one (id, position) pair from a field/ccd/quad listing.
// Lon uses the GeoJSON convention (RA - 180).
type FieldSource struct {
	ID  uint64
	Lon float64
	Dec float64
}

// Client defines the catalog service operations the pipeline uses.
type Client interface {
	// ConeSearch runs one batched cone search and returns, per input id,
	// the matching records ordered by the service.
	ConeSearch(ctx context.Context, req ConeSearchRequest) (map[string][]Record, error)
	// FieldSources pages through all sources of one field/ccd/quad unit.
	// stopEarly returns after the first page, for small test runs.
	FieldSources(ctx context.Context, catalog string, field, ccd, quad, pageSize, minObs int, stopEarly bool) ([]FieldSource, error)
	// Lightcurves retrieves raw light curves for the given ids, batched by
	// batchSize ids per request.
	Lightcurves(ctx context.Context, catalog string, ids []uint64, batchSize int) ([]Lightcurve, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.baseURL = u }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithRateLimit caps outgoing queries per second. Zero disables limiting.
func WithRateLimit(qps float64) Option {
	return func(c *httpClient) {
		if qps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(qps), 1)
		}
	}
}

type httpClient struct {
	token   string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a Kowalski client for the given instance URL and API
// token.
func NewClient(baseURL, token string, opts ...Option) Client {
	c := &httpClient{
		token:   token,
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 300 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// postQuery sends one query payload with exponential backoff on transient
// failures and decodes the service envelope.
func (c *httpClient) postQuery(ctx context.Context, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "kowalski: marshal query")
	}

	retry := resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 2 * time.Second,
		OnRetry:        resilience.RetryLogger("kowalski", "query"),
	}
	return resilience.Do(ctx, retry, func(ctx context.Context) error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/queries", bytes.NewReader(body))
		if err != nil {
			return eris.Wrap(err, "kowalski: create request")
		}
		req.Header.Set("Authorization", c.token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return resilience.NewTransientError(eris.Wrap(err, "kowalski: send query"), 0)
		}
		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return eris.Wrap(readErr, "kowalski: read response body")
		}
		if resp.StatusCode != http.StatusOK {
			statusErr := eris.Errorf("kowalski: status %d: %s", resp.StatusCode, string(respBody))
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return resilience.NewTransientError(statusErr, resp.StatusCode)
			}
			return statusErr
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return eris.Wrap(err, "kowalski: unmarshal response")
		}
		return nil
	})
}
