package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"skywatch/internal/config"
	"skywatch/internal/hub"
	"skywatch/internal/service"
)

type Server struct {
	cfg     *config.Manager
	svc     *service.Service
	hub     *hub.Hub
	logger  *slog.Logger
	version string
}

type statusResponse struct {
	Status      string  `json:"status"`
	Time        string  `json:"time"`
	Version     string  `json:"version"`
	ConfigPath  string  `json:"config_path,omitempty"`
	Observers   int     `json:"observers"`
	MatchRadius float64 `json:"match_radius"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

func NewServer(cfg *config.Manager, svc *service.Service, h *hub.Hub, logger *slog.Logger, version string) *Server {
	return &Server{
		cfg:     cfg,
		svc:     svc,
		hub:     h,
		logger:  logger,
		version: version,
	}
}

func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/signals", s.handleSignals)
	mux.HandleFunc("/sensors", s.handleSensors)
	mux.HandleFunc("/sensor-location", s.handleSensorLocation)
	mux.HandleFunc("/api/flights-nearby", s.handleFlightsNearby)
	mux.HandleFunc("/api/recent-flights", s.handleRecentFlights)
	mux.HandleFunc("/ws", s.handleObserver)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

func Start(ctx context.Context, cfg *config.Manager, svc *service.Service, h *hub.Hub, logger *slog.Logger, version string) *http.Server {
	server := NewServer(cfg, svc, h, logger, version)
	mux := server.Routes()

	addr := cfg.Get().API.Addr
	if logger != nil {
		logger.Info("api enabled", "addr", addr)
	}
	httpServer := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmitSignal(w, r)
	case http.MethodGet:
		signals, err := s.svc.ListSignals(r.Context())
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, signals)
	case http.MethodDelete:
		if err := s.svc.ClearSignals(r.Context()); err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "all signals cleared"})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSubmitSignal(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var req struct {
		Confidence *int      `json:"confidence"`
		DetectedAt time.Time `json:"detected_at"`
	}
	if err := json.Unmarshal(body, &req); err != nil || req.Confidence == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "confidence is required"})
		return
	}

	sig, alert, err := s.svc.HandleDetection(r.Context(), *req.Confidence, req.DetectedAt)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"signal": sig,
		"alert":  alert,
	})
}

func (s *Server) handleSensors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var req struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
	}
	if err := json.Unmarshal(body, &req); err != nil || req.Latitude == nil || req.Longitude == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "latitude and longitude are required"})
		return
	}

	loc, err := s.svc.UpdateSensorLocation(r.Context(), *req.Latitude, *req.Longitude)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, loc)
}

func (s *Server) handleSensorLocation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	loc, err := s.svc.SensorLocation(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

func (s *Server) handleFlightsNearby(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	lat, latErr := strconv.ParseFloat(q.Get("latitude"), 64)
	lon, lonErr := strconv.ParseFloat(q.Get("longitude"), 64)
	radius, radErr := strconv.ParseFloat(q.Get("radius"), 64)
	if latErr != nil || lonErr != nil || radErr != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "latitude, longitude and radius are required"})
		return
	}

	flights, err := s.svc.FlightsNearby(r.Context(), lat, lon, radius)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"flights": flights})
}

func (s *Server) handleRecentFlights(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	flights, err := s.svc.RecentFlights(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"flights": flights})
}

// handleObserver upgrades the connection and bridges one hub session onto
// it. Delivery is fire and forget; when the session is evicted or the peer
// goes away the connection is torn down.
func (s *Server) handleObserver(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		}
		return
	}
	sess := s.hub.Subscribe()
	if s.logger != nil {
		s.logger.Info("observer connected", "remote", r.RemoteAddr)
	}

	// Reader only detects disconnect; observers never send anything we use.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.hub.Unsubscribe(sess)
				return
			}
		}
	}()

	for frame := range sess.Send {
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			s.hub.Unsubscribe(sess)
			break
		}
	}
	_ = conn.Close()
	if s.logger != nil {
		s.logger.Info("observer disconnected", "remote", r.RemoteAddr)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	writeJSON(w, http.StatusOK, statusResponse{
		Status:      "ok",
		Time:        time.Now().UTC().Format(time.RFC3339Nano),
		Version:     s.version,
		ConfigPath:  s.cfg.Path(),
		Observers:   s.hub.SessionCount(),
		MatchRadius: cfg.Correlation.MatchRadius,
	})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, service.ErrNoSensorLocation):
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "no sensor location available"})
	default:
		if s.logger != nil {
			s.logger.Error("request failed", "err", err)
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
