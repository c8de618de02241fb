package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"skywatch/internal/config"
	"skywatch/internal/correlate"
	"skywatch/internal/hub"
	"skywatch/internal/model"
)

type fakeStore struct {
	signals    []model.DetectionSignal
	location   *model.SensorLocation
	nextID     int64
	insertErr  error
	deleteErr  error
	upsertErr  error
	locReadErr error
}

func (f *fakeStore) Init(context.Context) error { return nil }
func (f *fakeStore) Close() error               { return nil }

func (f *fakeStore) InsertSignal(_ context.Context, confidence int, detectedAt time.Time) (model.DetectionSignal, error) {
	if f.insertErr != nil {
		return model.DetectionSignal{}, f.insertErr
	}
	f.nextID++
	sig := model.DetectionSignal{ID: f.nextID, Confidence: confidence, DetectedAt: detectedAt}
	f.signals = append(f.signals, sig)
	return sig, nil
}

func (f *fakeStore) ListSignals(context.Context) ([]model.DetectionSignal, error) {
	out := make([]model.DetectionSignal, len(f.signals))
	for i := range f.signals {
		out[len(f.signals)-1-i] = f.signals[i]
	}
	return out, nil
}

func (f *fakeStore) DeleteAllSignals(context.Context) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.signals = nil
	return nil
}

func (f *fakeStore) LatestSensorLocation(context.Context) (*model.SensorLocation, error) {
	if f.locReadErr != nil {
		return nil, f.locReadErr
	}
	return f.location, nil
}

func (f *fakeStore) UpsertSensorLocation(_ context.Context, lat, lon float64) (model.SensorLocation, error) {
	if f.upsertErr != nil {
		return model.SensorLocation{}, f.upsertErr
	}
	loc := model.SensorLocation{Latitude: lat, Longitude: lon, ObservedAt: time.Now().UTC()}
	f.location = &loc
	return loc, nil
}

type fakeFeed struct {
	records []model.AircraftRecord
	err     error
	calls   int
}

func (f *fakeFeed) States(context.Context, model.BoundingBox) ([]model.AircraftRecord, error) {
	f.calls++
	return f.records, f.err
}

type frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func drainFrames(t *testing.T, sess *hub.Session) []frame {
	t.Helper()
	var out []frame
	for {
		select {
		case raw, ok := <-sess.Send:
			if !ok {
				return out
			}
			var f frame
			if err := json.Unmarshal(raw, &f); err != nil {
				t.Fatalf("unmarshal frame: %v", err)
			}
			out = append(out, f)
		default:
			return out
		}
	}
}

func newService(store *fakeStore, feed *fakeFeed) (*Service, *hub.Session) {
	h := hub.New(nil)
	sess := h.Subscribe()
	eng := correlate.NewEngine(feed, nil, config.CorrelationConfig{MatchRadius: 0.01, NearbyRadius: 0.5})
	return New(store, eng, h, nil, 5), sess
}

func TestDetectionCorroboratedAndBroadcastOnce(t *testing.T) {
	store := &fakeStore{location: &model.SensorLocation{Latitude: 40.0, Longitude: -74.0}}
	feed := &fakeFeed{records: []model.AircraftRecord{{
		ICAO24: "abc123", Callsign: "UAL42",
		Latitude: 40.001, Longitude: -74.002, Altitude: 10668,
		LastContact: time.Now(),
	}}}
	svc, sess := newService(store, feed)

	sig, alert, err := svc.HandleDetection(context.Background(), 85, time.Time{})
	if err != nil {
		t.Fatalf("HandleDetection: %v", err)
	}
	if sig.ID == 0 || sig.Confidence != 85 {
		t.Fatalf("signal = %+v", sig)
	}
	if alert.Status != model.AlertCorroborated {
		t.Fatalf("alert = %+v, want corroborated", alert)
	}

	frames := drainFrames(t, sess)
	if len(frames) != 1 || frames[0].Event != hub.EventSignalDetected {
		t.Fatalf("frames = %+v, want one signal-detected", frames)
	}
	var ev SignalEvent
	if err := json.Unmarshal(frames[0].Payload, &ev); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if ev.Signal.ID != sig.ID || ev.Alert.Status != model.AlertCorroborated {
		t.Fatalf("payload = %+v", ev)
	}
}

func TestDetectionWithoutSensorLocationStillAcknowledged(t *testing.T) {
	store := &fakeStore{}
	feed := &fakeFeed{}
	svc, sess := newService(store, feed)

	sig, alert, err := svc.HandleDetection(context.Background(), 50, time.Time{})
	if err != nil {
		t.Fatalf("HandleDetection: %v", err)
	}
	if alert.Status != model.AlertUnexplained || alert.Message != "no sensor location found" {
		t.Fatalf("alert = %+v", alert)
	}
	if feed.calls != 0 {
		t.Fatalf("feed calls = %d, want 0", feed.calls)
	}
	if len(store.signals) != 1 || store.signals[0].ID != sig.ID {
		t.Fatalf("signal not persisted: %+v", store.signals)
	}
	if frames := drainFrames(t, sess); len(frames) != 1 || frames[0].Event != hub.EventSignalDetected {
		t.Fatalf("frames = %+v", frames)
	}
}

func TestDetectionFeedFailureFailsOpen(t *testing.T) {
	store := &fakeStore{location: &model.SensorLocation{Latitude: 40, Longitude: -74}}
	feed := &fakeFeed{err: errors.New("feed down")}
	svc, sess := newService(store, feed)

	_, alert, err := svc.HandleDetection(context.Background(), 70, time.Time{})
	if err != nil {
		t.Fatalf("HandleDetection: %v", err)
	}
	if alert.Status != model.AlertUnexplained {
		t.Fatalf("alert = %+v", alert)
	}
	if len(store.signals) != 1 {
		t.Fatal("signal not persisted")
	}
	if frames := drainFrames(t, sess); len(frames) != 1 {
		t.Fatalf("frames = %d, want 1", len(frames))
	}
}

func TestDetectionPersistenceFailureSuppressesBroadcast(t *testing.T) {
	store := &fakeStore{insertErr: errors.New("store unavailable")}
	feed := &fakeFeed{}
	svc, sess := newService(store, feed)

	_, _, err := svc.HandleDetection(context.Background(), 60, time.Time{})
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrValidation) {
		t.Fatal("persistence failure misreported as validation")
	}
	if frames := drainFrames(t, sess); len(frames) != 0 {
		t.Fatalf("frames = %+v, want none", frames)
	}
	if feed.calls != 0 {
		t.Fatalf("feed calls = %d, want 0", feed.calls)
	}
}

func TestDetectionValidation(t *testing.T) {
	store := &fakeStore{}
	svc, _ := newService(store, &fakeFeed{})

	for _, confidence := range []int{-1, 101} {
		_, _, err := svc.HandleDetection(context.Background(), confidence, time.Time{})
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("confidence %d: err = %v, want validation", confidence, err)
		}
	}
	if len(store.signals) != 0 {
		t.Fatal("invalid detection persisted")
	}
}

func TestClearSignalsBroadcastsOnce(t *testing.T) {
	store := &fakeStore{}
	svc, sess := newService(store, &fakeFeed{})
	if _, _, err := svc.HandleDetection(context.Background(), 30, time.Time{}); err != nil {
		t.Fatalf("HandleDetection: %v", err)
	}
	drainFrames(t, sess)

	if err := svc.ClearSignals(context.Background()); err != nil {
		t.Fatalf("ClearSignals: %v", err)
	}
	if len(store.signals) != 0 {
		t.Fatal("store not emptied")
	}
	frames := drainFrames(t, sess)
	if len(frames) != 1 || frames[0].Event != hub.EventSignalsCleared {
		t.Fatalf("frames = %+v, want one signals-cleared", frames)
	}
}

func TestClearSignalsFailureSuppressesBroadcast(t *testing.T) {
	store := &fakeStore{deleteErr: errors.New("store unavailable")}
	svc, sess := newService(store, &fakeFeed{})

	if err := svc.ClearSignals(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if frames := drainFrames(t, sess); len(frames) != 0 {
		t.Fatalf("frames = %+v, want none", frames)
	}
}

func TestUpdateSensorLocation(t *testing.T) {
	store := &fakeStore{}
	svc, sess := newService(store, &fakeFeed{})

	loc, err := svc.UpdateSensorLocation(context.Background(), 40.0, -74.0)
	if err != nil {
		t.Fatalf("UpdateSensorLocation: %v", err)
	}
	if loc.Latitude != 40.0 || loc.Longitude != -74.0 {
		t.Fatalf("loc = %+v", loc)
	}
	frames := drainFrames(t, sess)
	if len(frames) != 1 || frames[0].Event != hub.EventSensorLocationUpdated {
		t.Fatalf("frames = %+v", frames)
	}

	if _, err := svc.UpdateSensorLocation(context.Background(), 91, 0); !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
	if _, err := svc.UpdateSensorLocation(context.Background(), 0, -181); !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
}

func TestRecentFlightsRequiresSensorLocation(t *testing.T) {
	svc, _ := newService(&fakeStore{}, &fakeFeed{})
	_, err := svc.RecentFlights(context.Background())
	if !errors.Is(err, ErrNoSensorLocation) {
		t.Fatalf("err = %v, want ErrNoSensorLocation", err)
	}
}

func TestRecentFlightsUsesConfiguredLimit(t *testing.T) {
	base := time.Unix(1700000000, 0)
	records := make([]model.AircraftRecord, 8)
	for i := range records {
		records[i] = model.AircraftRecord{
			Callsign:    "FLT",
			Altitude:    9000,
			LastContact: base.Add(time.Duration(i) * time.Minute),
		}
	}
	store := &fakeStore{location: &model.SensorLocation{Latitude: 40, Longitude: -74}}
	svc, _ := newService(store, &fakeFeed{records: records})

	out, err := svc.RecentFlights(context.Background())
	if err != nil {
		t.Fatalf("RecentFlights: %v", err)
	}
	if len(out) != 5 {
		t.Fatalf("records = %d, want 5", len(out))
	}
	if !out[0].LastContact.After(out[4].LastContact) {
		t.Fatal("not sorted newest first")
	}
}
