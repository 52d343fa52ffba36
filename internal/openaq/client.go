// Package openaq looks up live air-quality measurements from the
// OpenAQ v3 API. Lookups degrade instead of failing: every upstream
// problem turns into an empty fallback result so callers stay
// functional without air-quality data.
package openaq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/geoinsight/backend/internal/aqi"
	"github.com/geoinsight/backend/internal/model"
)

const (
	// searchRadius is the API's maximum coordinate search radius in meters.
	searchRadius = 25000
	searchLimit  = 10

	maxResponseBytes = 4 << 20
)

// statusError is a non-2xx upstream response.
type statusError struct {
	Code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("openaq: unexpected status %d", e.Code)
}

func isAuthError(err error) bool {
	var se *statusError
	return errors.As(err, &se) && (se.Code == http.StatusUnauthorized || se.Code == http.StatusForbidden)
}

// Query identifies the place to look up. Coordinates are preferred;
// country code (ISO 3166-1 alpha-2) with an optional city is the
// fallback.
type Query struct {
	Lat     string
	Lon     string
	City    string
	Country string
}

// LocationInfo describes the monitoring station a result came from.
type LocationInfo struct {
	Name        string             `json:"name,omitempty"`
	City        string             `json:"city,omitempty"`
	Country     string             `json:"country,omitempty"`
	Coordinates *model.Coordinates `json:"coordinates,omitempty"`
}

// Result is the lookup outcome handed back to API callers verbatim.
// Results may be empty; Fallback marks degraded or secondary-strategy
// answers.
type Result struct {
	Results        []model.Measurement `json:"results"`
	Fallback       bool                `json:"fallback"`
	Message        string              `json:"message,omitempty"`
	Location       *LocationInfo       `json:"location,omitempty"`
	RequiresAPIKey bool                `json:"requiresApiKey,omitempty"`
	Error          string              `json:"error,omitempty"`
}

// Wire types for the v3 API.

type locationsResponse struct {
	Results []location `json:"results"`
}

type location struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Locality string `json:"locality"`
	Country  struct {
		Code string `json:"code"`
		Name string `json:"name"`
	} `json:"country"`
	Coordinates *model.Coordinates `json:"coordinates"`
	Sensors     []sensor           `json:"sensors"`
}

type sensor struct {
	ID        int `json:"id"`
	Parameter struct {
		Name  string `json:"name"`
		Units string `json:"units"`
	} `json:"parameter"`
}

type latestResponse struct {
	Results []latestEntry `json:"results"`
}

type latestEntry struct {
	SensorsID int      `json:"sensorsId"`
	Value     *float64 `json:"value"`
	Datetime  struct {
		UTC string `json:"utc"`
	} `json:"datetime"`
}

// Client talks to the OpenAQ v3 API behind a circuit breaker.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

func NewClient(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "openaq",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
		logger: logger.With("component", "openaq"),
	}
}

// Lookup resolves a monitoring station for the query and returns its
// latest measurements. It never returns an error: degraded outcomes
// are encoded in the Result.
func (c *Client) Lookup(ctx context.Context, q Query) *Result {
	hasKey := c.apiKey != ""

	var loc *location
	var latest []latestEntry
	fallback := false

	if q.Lat != "" && q.Lon != "" {
		locations, err := c.searchCoordinates(ctx, q.Lat, q.Lon)
		switch {
		case isAuthError(err):
			return authRequiredResult()
		case err != nil:
			c.logger.Warn("coordinate search failed", "error", err)
			fallback = true
		case len(locations) > 0:
			loc = &locations[0]
			latest = c.fetchLatest(ctx, loc.ID)
		}
	}

	if len(latest) == 0 && q.Country != "" {
		locations, err := c.searchCountry(ctx, q.Country)
		switch {
		case isAuthError(err):
			return authRequiredResult()
		case err != nil:
			c.logger.Warn("country search failed", "country", q.Country, "error", err)
		case len(locations) > 0:
			loc = pickByCity(locations, q.City)
			fallback = true
			latest = c.fetchLatest(ctx, loc.ID)
		}
	}

	measurements := transform(latest, loc, q.City)

	if len(measurements) == 0 {
		msg := "No air quality monitoring stations found for this location"
		if !hasKey {
			msg = "OpenAQ API key not configured - air quality data unavailable"
		}
		return &Result{
			Results:        []model.Measurement{},
			Fallback:       true,
			Message:        msg,
			Location:       locationInfo(loc, q),
			RequiresAPIKey: !hasKey,
		}
	}

	return &Result{
		Results:  measurements,
		Fallback: fallback,
		Location: locationInfo(loc, q),
	}
}

func (c *Client) searchCoordinates(ctx context.Context, lat, lon string) ([]location, error) {
	query := url.Values{
		"coordinates": {lat + "," + lon},
		"radius":      {fmt.Sprint(searchRadius)},
		"limit":       {fmt.Sprint(searchLimit)},
	}
	var resp locationsResponse
	if err := c.getJSON(ctx, "/locations", query, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

func (c *Client) searchCountry(ctx context.Context, iso string) ([]location, error) {
	query := url.Values{
		"iso":   {strings.ToUpper(iso)},
		"limit": {fmt.Sprint(searchLimit)},
	}
	var resp locationsResponse
	if err := c.getJSON(ctx, "/locations", query, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// fetchLatest returns the station's latest sensor values. Failures are
// logged and yield nil; the caller falls through to its next strategy.
func (c *Client) fetchLatest(ctx context.Context, locationID int) []latestEntry {
	var resp latestResponse
	if err := c.getJSON(ctx, fmt.Sprintf("/locations/%d/latest", locationID), nil, &resp); err != nil {
		c.logger.Warn("latest measurements fetch failed", "location_id", locationID, "error", err)
		return nil
	}
	return resp.Results
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	body, err := c.breaker.Execute(func() (any, error) {
		u := c.baseURL + path
		if len(query) > 0 {
			u += "?" + query.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			req.Header.Set("X-API-Key", c.apiKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("openaq request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, &statusError{Code: resp.StatusCode}
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		return data, nil
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(body.([]byte), out)
}

// pickByCity prefers a station whose locality or name contains the
// city, case-insensitively. Falls back to the first station.
func pickByCity(locations []location, city string) *location {
	if city != "" {
		needle := strings.ToLower(city)
		for i := range locations {
			if strings.Contains(strings.ToLower(locations[i].Locality), needle) ||
				strings.Contains(strings.ToLower(locations[i].Name), needle) {
				return &locations[i]
			}
		}
	}
	return &locations[0]
}

func transform(entries []latestEntry, loc *location, city string) []model.Measurement {
	if len(entries) == 0 {
		return nil
	}

	sensors := map[int]sensor{}
	locationName := city
	var coords *model.Coordinates
	if loc != nil {
		for _, s := range loc.Sensors {
			sensors[s.ID] = s
		}
		if loc.Name != "" {
			locationName = loc.Name
		} else if loc.Locality != "" {
			locationName = loc.Locality
		}
		coords = loc.Coordinates
	}
	if locationName == "" {
		locationName = "Unknown Location"
	}

	var out []model.Measurement
	for _, e := range entries {
		if e.Value == nil {
			continue
		}

		parameter := "pm25"
		unit := "µg/m³"
		if s, ok := sensors[e.SensorsID]; ok && s.Parameter.Name != "" {
			parameter = s.Parameter.Name
			if s.Parameter.Units != "" {
				unit = s.Parameter.Units
			}
		}

		measuredAt := time.Now().UTC()
		if ts, err := time.Parse(time.RFC3339, e.Datetime.UTC); err == nil {
			measuredAt = ts
		}

		out = append(out, model.Measurement{
			Parameter:    parameter,
			Value:        *e.Value,
			Unit:         unit,
			Status:       aqi.Classify(*e.Value, parameter),
			MeasuredAt:   measuredAt,
			LocationName: locationName,
			Coordinates:  coords,
		})
	}
	return out
}

func locationInfo(loc *location, q Query) *LocationInfo {
	if loc == nil {
		return nil
	}
	info := &LocationInfo{
		Name:        loc.Name,
		City:        loc.Locality,
		Country:     loc.Country.Name,
		Coordinates: loc.Coordinates,
	}
	if info.City == "" {
		info.City = q.City
	}
	if info.Country == "" {
		info.Country = loc.Country.Code
	}
	if info.Country == "" {
		info.Country = q.Country
	}
	return info
}

func authRequiredResult() *Result {
	return &Result{
		Results:        []model.Measurement{},
		Fallback:       true,
		Message:        "OpenAQ API authentication required. Please configure OPENAQ_API_KEY.",
		RequiresAPIKey: true,
		Error:          "Authentication failed",
	}
}

// DegradedResult is the generic unavailable payload used when the
// lookup cannot even be attempted.
func DegradedResult(err error) *Result {
	r := &Result{
		Results:  []model.Measurement{},
		Fallback: true,
		Message:  "Air quality data temporarily unavailable",
	}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}
