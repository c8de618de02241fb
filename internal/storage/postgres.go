package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"skywatch/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/skywatch?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS signals (
			id BIGSERIAL PRIMARY KEY,
			confidence INTEGER NOT NULL,
			detected_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_detected_at ON signals(detected_at)`,
		`CREATE TABLE IF NOT EXISTS sensor_location (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			observed_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *postgresStore) InsertSignal(ctx context.Context, confidence int, detectedAt time.Time) (model.DetectionSignal, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO signals (confidence, detected_at, created_at) VALUES ($1, $2, $3) RETURNING id`,
		confidence, detectedAt.UTC(), nowUTC(),
	).Scan(&id)
	if err != nil {
		return model.DetectionSignal{}, err
	}
	return model.DetectionSignal{ID: id, Confidence: confidence, DetectedAt: detectedAt.UTC()}, nil
}

func (s *postgresStore) ListSignals(ctx context.Context) ([]model.DetectionSignal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, confidence, detected_at FROM signals ORDER BY detected_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.DetectionSignal, 0)
	for rows.Next() {
		var sig model.DetectionSignal
		if err := rows.Scan(&sig.ID, &sig.Confidence, &sig.DetectedAt); err != nil {
			return nil, err
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

func (s *postgresStore) DeleteAllSignals(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM signals`)
	return err
}

func (s *postgresStore) LatestSensorLocation(ctx context.Context) (*model.SensorLocation, error) {
	var loc model.SensorLocation
	err := s.db.QueryRowContext(ctx,
		`SELECT latitude, longitude, observed_at FROM sensor_location WHERE id = 1`).
		Scan(&loc.Latitude, &loc.Longitude, &loc.ObservedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &loc, nil
}

func (s *postgresStore) UpsertSensorLocation(ctx context.Context, lat, lon float64) (model.SensorLocation, error) {
	observedAt := nowUTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sensor_location (id, latitude, longitude, observed_at) VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude, observed_at = EXCLUDED.observed_at`,
		lat, lon, observedAt,
	)
	if err != nil {
		return model.SensorLocation{}, err
	}
	return model.SensorLocation{Latitude: lat, Longitude: lon, ObservedAt: observedAt}, nil
}
