package model

import (
	"encoding/json"
	"math"
	"time"
)

type AlertStatus string

const (
	AlertCorroborated AlertStatus = "corroborated"
	AlertUnexplained  AlertStatus = "unexplained"
)

// DetectionSignal is a confidence reading reported by the field sensor.
// The ID is assigned by the store; a signal is never mutated after insert.
type DetectionSignal struct {
	ID         int64     `json:"id"`
	Confidence int       `json:"confidence"`
	DetectedAt time.Time `json:"detected_at"`
}

// SensorLocation is the latest known position of the field sensor. There is
// one logical instance; every report replaces it wholesale.
type SensorLocation struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	ObservedAt time.Time `json:"observed_at"`
}

// AircraftRecord is a typed view of one state row from the flight feed.
// Records are produced fresh per query and never stored.
type AircraftRecord struct {
	ICAO24        string    `json:"icao24"`
	Callsign      string    `json:"callsign"`
	OriginCountry string    `json:"origin_country"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	Altitude      float64   `json:"altitude"`
	LastContact   time.Time `json:"last_contact"`
}

// HasPosition reports whether the feed supplied coordinates for this record.
// Latitude and Longitude are NaN when the upstream row carried nulls.
func (a AircraftRecord) HasPosition() bool {
	return !math.IsNaN(a.Latitude) && !math.IsNaN(a.Longitude)
}

// MarshalJSON renders missing coordinates as null; NaN is not valid JSON.
func (a AircraftRecord) MarshalJSON() ([]byte, error) {
	type wire struct {
		ICAO24        string    `json:"icao24"`
		Callsign      string    `json:"callsign"`
		OriginCountry string    `json:"origin_country"`
		Latitude      *float64  `json:"latitude"`
		Longitude     *float64  `json:"longitude"`
		Altitude      float64   `json:"altitude"`
		LastContact   time.Time `json:"last_contact"`
	}
	out := wire{
		ICAO24:        a.ICAO24,
		Callsign:      a.Callsign,
		OriginCountry: a.OriginCountry,
		Altitude:      a.Altitude,
		LastContact:   a.LastContact,
	}
	if !math.IsNaN(a.Latitude) {
		out.Latitude = &a.Latitude
	}
	if !math.IsNaN(a.Longitude) {
		out.Longitude = &a.Longitude
	}
	return json.Marshal(out)
}

// Alert is the outcome of corroborating one detection. It exists only for
// the duration of a response and a broadcast.
type Alert struct {
	Status  AlertStatus `json:"status"`
	Message string      `json:"message"`
}

type BoundingBox struct {
	LatMin float64 `json:"lamin"`
	LatMax float64 `json:"lamax"`
	LonMin float64 `json:"lomin"`
	LonMax float64 `json:"lomax"`
}

// BoxAround builds the query box for a center point and a radius in degrees.
func BoxAround(lat, lon, radius float64) BoundingBox {
	return BoundingBox{
		LatMin: lat - radius,
		LatMax: lat + radius,
		LonMin: lon - radius,
		LonMax: lon + radius,
	}
}
