package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"skywatch/internal/config"
	"skywatch/internal/model"
)

// Store is the persistence collaborator for detection signals and the single
// sensor location row.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	InsertSignal(ctx context.Context, confidence int, detectedAt time.Time) (model.DetectionSignal, error)
	ListSignals(ctx context.Context) ([]model.DetectionSignal, error)
	DeleteAllSignals(ctx context.Context) error
	LatestSensorLocation(ctx context.Context) (*model.SensorLocation, error)
	UpsertSensorLocation(ctx context.Context, lat, lon float64) (model.SensorLocation, error)
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
