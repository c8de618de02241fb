package opensky

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"skywatch/internal/config"
	"skywatch/internal/model"
)

// Positional layout of a state row in the upstream payload. The indices are
// a wire contract with the feed and must not change.
const (
	stateICAO24        = 0
	stateCallsign      = 1
	stateOriginCountry = 2
	stateLastContact   = 4
	stateLongitude     = 5
	stateLatitude      = 6
	stateGeoAltitude   = 13
)

// Client queries the flight-state feed for aircraft inside a bounding box.
// It holds no mutable state of its own; the token cache does.
type Client struct {
	apiURL string
	tokens *TokenSource
	client *http.Client
}

func NewClient(cfg config.OpenSkyConfig) *Client {
	httpClient := &http.Client{Timeout: cfg.Timeout}
	return &Client{
		apiURL: strings.TrimSuffix(cfg.APIURL, "/"),
		tokens: NewTokenSource(cfg.AuthURL, cfg.ClientID, cfg.ClientSecret, httpClient),
		client: httpClient,
	}
}

// States returns the aircraft currently reported inside box. Rows without a
// callsign or altitude are dropped; an empty slice is a valid outcome.
func (c *Client) States(ctx context.Context, box model.BoundingBox) ([]model.AircraftRecord, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("lamin", formatCoord(box.LatMin))
	params.Set("lamax", formatCoord(box.LatMax))
	params.Set("lomin", formatCoord(box.LonMin))
	params.Set("lomax", formatCoord(box.LonMax))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/states/all?"+params.Encode(), nil)
	if err != nil {
		return nil, &FeedError{Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &FeedError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FeedError{Err: fmt.Errorf("state query returned %s", resp.Status)}
	}

	var body struct {
		Time   int64   `json:"time"`
		States [][]any `json:"states"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &FeedError{Err: err}
	}

	records := make([]model.AircraftRecord, 0, len(body.States))
	for _, row := range body.States {
		if rec, ok := decodeRow(row); ok {
			records = append(records, rec)
		}
	}
	return records, nil
}

// decodeRow maps one positional state row into a typed record. Rows missing
// required fields are skipped rather than failing the whole query.
func decodeRow(row []any) (model.AircraftRecord, bool) {
	callsign := strings.TrimSpace(stringAt(row, stateCallsign))
	if callsign == "" {
		return model.AircraftRecord{}, false
	}
	altitude, ok := floatAt(row, stateGeoAltitude)
	if !ok {
		return model.AircraftRecord{}, false
	}

	rec := model.AircraftRecord{
		ICAO24:        stringAt(row, stateICAO24),
		Callsign:      callsign,
		OriginCountry: stringAt(row, stateOriginCountry),
		Altitude:      altitude,
		Latitude:      math.NaN(),
		Longitude:     math.NaN(),
	}
	if lat, ok := floatAt(row, stateLatitude); ok {
		rec.Latitude = lat
	}
	if lon, ok := floatAt(row, stateLongitude); ok {
		rec.Longitude = lon
	}
	if seen, ok := floatAt(row, stateLastContact); ok {
		rec.LastContact = time.Unix(int64(seen), 0).UTC()
	}
	return rec, true
}

func stringAt(row []any, idx int) string {
	if idx >= len(row) {
		return ""
	}
	s, _ := row[idx].(string)
	return s
}

func floatAt(row []any, idx int) (float64, bool) {
	if idx >= len(row) {
		return 0, false
	}
	switch v := row[idx].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
