// Package service wires persistence, correlation, and broadcast together for
// each incoming detection or sensor update.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"skywatch/internal/correlate"
	"skywatch/internal/hub"
	"skywatch/internal/model"
	"skywatch/internal/storage"
)

// ErrValidation marks malformed input rejected before any persistence or
// network work.
var ErrValidation = errors.New("validation")

// ErrNoSensorLocation is returned by views that need a configured sensor
// position when none was ever reported.
var ErrNoSensorLocation = errors.New("no sensor location available")

// SignalEvent is the broadcast payload for a processed detection.
type SignalEvent struct {
	Signal model.DetectionSignal `json:"signal"`
	Alert  model.Alert           `json:"alert"`
}

type Service struct {
	store       storage.Store
	engine      *correlate.Engine
	hub         *hub.Hub
	logger      *slog.Logger
	recentLimit int
}

func New(store storage.Store, engine *correlate.Engine, h *hub.Hub, logger *slog.Logger, recentLimit int) *Service {
	if recentLimit <= 0 {
		recentLimit = 5
	}
	return &Service{
		store:       store,
		engine:      engine,
		hub:         h,
		logger:      logger,
		recentLimit: recentLimit,
	}
}

// HandleDetection runs one detection through persist, corroborate, and
// broadcast. A persistence failure aborts the pipeline and no event is
// published; a corroboration failure does not, the signal is acknowledged
// with an unexplained alert instead.
func (s *Service) HandleDetection(ctx context.Context, confidence int, detectedAt time.Time) (model.DetectionSignal, model.Alert, error) {
	if confidence < 0 || confidence > 100 {
		return model.DetectionSignal{}, model.Alert{}, fmt.Errorf("%w: confidence %d outside [0,100]", ErrValidation, confidence)
	}
	if detectedAt.IsZero() {
		detectedAt = time.Now().UTC()
	}

	sig, err := s.store.InsertSignal(ctx, confidence, detectedAt)
	if err != nil {
		return model.DetectionSignal{}, model.Alert{}, fmt.Errorf("persist signal: %w", err)
	}

	loc, err := s.store.LatestSensorLocation(ctx)
	if err != nil {
		// The signal is already durable; treat an unreadable location like a
		// missing one rather than failing the acknowledged detection.
		if s.logger != nil {
			s.logger.Warn("read sensor location", "err", err)
		}
		loc = nil
	}

	alert := s.engine.Corroborate(ctx, sig, loc)
	if s.logger != nil {
		s.logger.Info("detection processed",
			"signal_id", sig.ID,
			"confidence", sig.Confidence,
			"status", alert.Status,
		)
	}

	s.hub.Publish(hub.EventSignalDetected, SignalEvent{Signal: sig, Alert: alert})
	return sig, alert, nil
}

func (s *Service) ListSignals(ctx context.Context) ([]model.DetectionSignal, error) {
	return s.store.ListSignals(ctx)
}

// ClearSignals empties the store and tells every observer once.
func (s *Service) ClearSignals(ctx context.Context) error {
	if err := s.store.DeleteAllSignals(ctx); err != nil {
		return fmt.Errorf("clear signals: %w", err)
	}
	s.hub.Publish(hub.EventSignalsCleared, nil)
	return nil
}

// UpdateSensorLocation replaces the sensor position wholesale and broadcasts
// the new location.
func (s *Service) UpdateSensorLocation(ctx context.Context, lat, lon float64) (model.SensorLocation, error) {
	if lat < -90 || lat > 90 {
		return model.SensorLocation{}, fmt.Errorf("%w: latitude %v outside [-90,90]", ErrValidation, lat)
	}
	if lon < -180 || lon > 180 {
		return model.SensorLocation{}, fmt.Errorf("%w: longitude %v outside [-180,180]", ErrValidation, lon)
	}

	loc, err := s.store.UpsertSensorLocation(ctx, lat, lon)
	if err != nil {
		return model.SensorLocation{}, fmt.Errorf("persist sensor location: %w", err)
	}
	s.hub.Publish(hub.EventSensorLocationUpdated, loc)
	return loc, nil
}

func (s *Service) SensorLocation(ctx context.Context) (*model.SensorLocation, error) {
	return s.store.LatestSensorLocation(ctx)
}

// FlightsNearby lists aircraft around an arbitrary point, for the map view.
func (s *Service) FlightsNearby(ctx context.Context, lat, lon, radius float64) ([]model.AircraftRecord, error) {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return nil, fmt.Errorf("%w: coordinates out of range", ErrValidation)
	}
	if radius <= 0 {
		return nil, fmt.Errorf("%w: radius must be > 0", ErrValidation)
	}
	return s.engine.FlightsWithin(ctx, lat, lon, radius)
}

// RecentFlights lists the most recently seen aircraft around the current
// sensor location.
func (s *Service) RecentFlights(ctx context.Context) ([]model.AircraftRecord, error) {
	loc, err := s.store.LatestSensorLocation(ctx)
	if err != nil {
		return nil, fmt.Errorf("read sensor location: %w", err)
	}
	if loc == nil {
		return nil, ErrNoSensorLocation
	}
	return s.engine.RecentNearby(ctx, *loc, s.recentLimit)
}
