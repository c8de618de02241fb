// Package ingest feeds detections from streaming sources (Kafka, MQTT) into
// the same pipeline the HTTP API uses.
package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"skywatch/internal/model"
)

// Sink is the detection pipeline entry point, implemented by the correlation
// service.
type Sink interface {
	HandleDetection(ctx context.Context, confidence int, detectedAt time.Time) (model.DetectionSignal, model.Alert, error)
}

// DetectionPayload is the wire form a field sensor publishes on a stream.
type DetectionPayload struct {
	Confidence int       `json:"confidence"`
	DetectedAt time.Time `json:"detected_at,omitempty"`
}

// dispatch decodes one raw message and runs it through the pipeline.
// Malformed or rejected messages are logged and skipped; a stream source
// never stops over one bad payload.
func dispatch(ctx context.Context, sink Sink, raw []byte, source string, logger *slog.Logger) {
	var payload DetectionPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		if logger != nil {
			logger.Warn("decode detection payload", "source", source, "err", err)
		}
		return
	}
	if _, _, err := sink.HandleDetection(ctx, payload.Confidence, payload.DetectedAt); err != nil {
		if logger != nil {
			logger.Warn("handle detection", "source", source, "err", err)
		}
	}
}
