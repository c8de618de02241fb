package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel    string            `json:"log_level" yaml:"log_level"`
	API         APIConfig         `json:"api" yaml:"api"`
	OpenSky     OpenSkyConfig     `json:"opensky" yaml:"opensky"`
	Correlation CorrelationConfig `json:"correlation" yaml:"correlation"`
	Storage     StorageConfig     `json:"storage" yaml:"storage"`
	Ingest      IngestConfig      `json:"ingest" yaml:"ingest"`
}

type APIConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

type OpenSkyConfig struct {
	AuthURL      string        `json:"auth_url" yaml:"auth_url"`
	APIURL       string        `json:"api_url" yaml:"api_url"`
	ClientID     string        `json:"client_id" yaml:"client_id"`
	ClientSecret string        `json:"client_secret" yaml:"client_secret"`
	Timeout      time.Duration `json:"timeout" yaml:"timeout"`
}

type CorrelationConfig struct {
	// MatchRadius is the half-width in degrees of the box used to corroborate
	// a detection. Tight on purpose: an aircraft merely in the region must
	// not count as overhead.
	MatchRadius float64 `json:"match_radius" yaml:"match_radius"`
	// NearbyRadius is the half-width in degrees of the recent-flights box.
	NearbyRadius float64 `json:"nearby_radius" yaml:"nearby_radius"`
	RecentLimit  int     `json:"recent_limit" yaml:"recent_limit"`
}

type StorageConfig struct {
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn"`
}

type IngestConfig struct {
	ChannelBuffer int         `json:"channel_buffer" yaml:"channel_buffer"`
	Kafka         KafkaConfig `json:"kafka" yaml:"kafka"`
	MQTT          MQTTConfig  `json:"mqtt" yaml:"mqtt"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type MQTTConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Broker   string `json:"broker" yaml:"broker"`
	ClientID string `json:"client_id" yaml:"client_id"`
	Topic    string `json:"topic" yaml:"topic"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		API:      APIConfig{Addr: ":8080"},
		OpenSky: OpenSkyConfig{
			AuthURL: "https://auth.opensky-network.org/auth/realms/opensky-network/protocol/openid-connect/token",
			APIURL:  "https://opensky-network.org/api",
			Timeout: 5 * time.Second,
		},
		Correlation: CorrelationConfig{
			MatchRadius:  0.01,
			NearbyRadius: 0.5,
			RecentLimit:  5,
		},
		Storage: StorageConfig{Driver: "sqlite", DSN: "file:skywatch.db?_pragma=busy_timeout(5000)"},
		Ingest: IngestConfig{
			ChannelBuffer: 1000,
			Kafka:         KafkaConfig{Enabled: false},
			MQTT:          MQTTConfig{Enabled: false, Broker: "tcp://localhost:1883", ClientID: "skywatch", Topic: "sensor/+/detection"},
		},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	ApplyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides feed credentials from the environment so secrets can
// stay out of the config file.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv("OPENSKY_CLIENT_ID"); v != "" {
		cfg.OpenSky.ClientID = v
	}
	if v := os.Getenv("OPENSKY_CLIENT_SECRET"); v != "" {
		cfg.OpenSky.ClientSecret = v
	}
	if v := os.Getenv("SKYWATCH_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.API.Addr == "" {
		cfg.API.Addr = def.API.Addr
	}
	if cfg.OpenSky.AuthURL == "" {
		cfg.OpenSky.AuthURL = def.OpenSky.AuthURL
	}
	if cfg.OpenSky.APIURL == "" {
		cfg.OpenSky.APIURL = def.OpenSky.APIURL
	}
	if cfg.OpenSky.Timeout <= 0 {
		cfg.OpenSky.Timeout = def.OpenSky.Timeout
	}
	if cfg.Correlation.MatchRadius <= 0 {
		cfg.Correlation.MatchRadius = def.Correlation.MatchRadius
	}
	if cfg.Correlation.NearbyRadius <= 0 {
		cfg.Correlation.NearbyRadius = def.Correlation.NearbyRadius
	}
	if cfg.Correlation.RecentLimit <= 0 {
		cfg.Correlation.RecentLimit = def.Correlation.RecentLimit
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = def.Storage.Driver
	}
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = def.Ingest.ChannelBuffer
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Addr == "" {
		return errors.New("api.addr is required")
	}
	if cfg.OpenSky.AuthURL == "" || cfg.OpenSky.APIURL == "" {
		return errors.New("opensky.auth_url and opensky.api_url are required")
	}
	if cfg.Correlation.MatchRadius <= 0 {
		return errors.New("correlation.match_radius must be > 0")
	}
	if cfg.Correlation.NearbyRadius < cfg.Correlation.MatchRadius {
		return fmt.Errorf("correlation.nearby_radius %v must be >= match_radius %v",
			cfg.Correlation.NearbyRadius, cfg.Correlation.MatchRadius)
	}
	switch strings.ToLower(cfg.Storage.Driver) {
	case "sqlite", "postgres", "postgresql":
	default:
		return fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Ingest.MQTT.Enabled {
		if cfg.Ingest.MQTT.Broker == "" || cfg.Ingest.MQTT.Topic == "" {
			return errors.New("ingest.mqtt requires broker and topic")
		}
	}
	return nil
}

type Manager struct {
	path string
	cfg  atomic.Value
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	return m, nil
}

// NewDefaultManager serves the built-in defaults (plus env overrides) when no
// config file was given.
func NewDefaultManager() *Manager {
	cfg := DefaultConfig()
	ApplyEnv(cfg)
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	return cfg, nil
}

func ResolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
