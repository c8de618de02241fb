package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"skywatch/internal/model"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:skywatch.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS signals (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			confidence INTEGER NOT NULL,
			detected_at TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_detected_at ON signals(detected_at)`,
		`CREATE TABLE IF NOT EXISTS sensor_location (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			latitude REAL NOT NULL,
			longitude REAL NOT NULL,
			observed_at TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteStore) InsertSignal(ctx context.Context, confidence int, detectedAt time.Time) (model.DetectionSignal, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO signals (confidence, detected_at, created_at) VALUES (?, ?, ?)`,
		confidence,
		encodeTime(detectedAt),
		encodeTime(nowUTC()),
	)
	if err != nil {
		return model.DetectionSignal{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.DetectionSignal{}, err
	}
	return model.DetectionSignal{ID: id, Confidence: confidence, DetectedAt: detectedAt.UTC()}, nil
}

func (s *sqliteStore) ListSignals(ctx context.Context) ([]model.DetectionSignal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, confidence, detected_at FROM signals ORDER BY detected_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.DetectionSignal, 0)
	for rows.Next() {
		var sig model.DetectionSignal
		var detectedAt string
		if err := rows.Scan(&sig.ID, &sig.Confidence, &detectedAt); err != nil {
			return nil, err
		}
		if sig.DetectedAt, err = decodeTime(detectedAt); err != nil {
			return nil, err
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteAllSignals(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM signals`)
	return err
}

func (s *sqliteStore) LatestSensorLocation(ctx context.Context) (*model.SensorLocation, error) {
	var loc model.SensorLocation
	var observedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT latitude, longitude, observed_at FROM sensor_location WHERE id = 1`).
		Scan(&loc.Latitude, &loc.Longitude, &observedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if loc.ObservedAt, err = decodeTime(observedAt); err != nil {
		return nil, err
	}
	return &loc, nil
}

func (s *sqliteStore) UpsertSensorLocation(ctx context.Context, lat, lon float64) (model.SensorLocation, error) {
	observedAt := nowUTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sensor_location (id, latitude, longitude, observed_at) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET latitude = excluded.latitude,
			longitude = excluded.longitude, observed_at = excluded.observed_at`,
		lat, lon, encodeTime(observedAt),
	)
	if err != nil {
		return model.SensorLocation{}, err
	}
	return model.SensorLocation{Latitude: lat, Longitude: lon, ObservedAt: observedAt}, nil
}

func encodeTime(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339Nano)
}

func decodeTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
