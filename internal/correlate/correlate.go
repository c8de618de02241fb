// Package correlate decides whether a detection signal lines up with a known
// aircraft reported by the public flight feed.
package correlate

import (
	"context"
	"log/slog"
	"sort"

	"skywatch/internal/config"
	"skywatch/internal/model"
)

// Feed is the flight-state query surface the engine consumes.
type Feed interface {
	States(ctx context.Context, box model.BoundingBox) ([]model.AircraftRecord, error)
}

const (
	msgNoSensorLocation = "no sensor location found"
	msgCorroborated     = "aircraft detected nearby, signal aligns with a known flight"
	msgUnexplained      = "no matching public flight nearby"
)

// Engine is a pure function over its inputs plus the feed; it holds no
// mutable state.
type Engine struct {
	feed         Feed
	logger       *slog.Logger
	matchRadius  float64
	nearbyRadius float64
}

func NewEngine(feed Feed, logger *slog.Logger, cfg config.CorrelationConfig) *Engine {
	return &Engine{
		feed:         feed,
		logger:       logger,
		matchRadius:  cfg.MatchRadius,
		nearbyRadius: cfg.NearbyRadius,
	}
}

// Corroborate classifies one detection against live traffic around the
// sensor. It never returns an error: a missing location or a failed feed
// query degrades to an unexplained alert so the detection is still
// acknowledged.
func (e *Engine) Corroborate(ctx context.Context, sig model.DetectionSignal, loc *model.SensorLocation) model.Alert {
	if loc == nil {
		return model.Alert{Status: model.AlertUnexplained, Message: msgNoSensorLocation}
	}

	box := model.BoxAround(loc.Latitude, loc.Longitude, e.matchRadius)
	records, err := e.feed.States(ctx, box)
	if err != nil {
		if e.logger != nil {
			e.logger.Warn("corroboration unavailable",
				"signal_id", sig.ID,
				"confidence", sig.Confidence,
				"err", err,
			)
		}
		return model.Alert{Status: model.AlertUnexplained, Message: "corroboration unavailable: " + err.Error()}
	}

	for _, rec := range records {
		if rec.HasPosition() {
			return model.Alert{Status: model.AlertCorroborated, Message: msgCorroborated}
		}
	}
	return model.Alert{Status: model.AlertUnexplained, Message: msgUnexplained}
}

// RecentNearby lists the most recently seen aircraft around the sensor,
// newest contact first, at most limit records. Unlike Corroborate, feed
// failures surface as errors here; this is an informational view, not part
// of the detection pipeline.
func (e *Engine) RecentNearby(ctx context.Context, loc model.SensorLocation, limit int) ([]model.AircraftRecord, error) {
	records, err := e.FlightsWithin(ctx, loc.Latitude, loc.Longitude, e.nearbyRadius)
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].LastContact.After(records[j].LastContact)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// FlightsWithin queries the feed for an arbitrary point and radius.
func (e *Engine) FlightsWithin(ctx context.Context, lat, lon, radius float64) ([]model.AircraftRecord, error) {
	return e.feed.States(ctx, model.BoxAround(lat, lon, radius))
}
