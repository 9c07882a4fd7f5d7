// Package config centralises runtime configuration for Perpscope services.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment identifies the runtime environment where Perpscope operates.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// VenueSettings configures the venue's REST and websocket surfaces.
type VenueSettings struct {
	InfoURL          string
	WebsocketURL     string
	HTTPTimeout      time.Duration
	HandshakeTimeout time.Duration
	RequestsPerSec   float64
	RequestBurst     int
}

// StreamSettings bounds the websocket reconnection policy.
type StreamSettings struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	WriteTimeout time.Duration
}

// FeedSettings sizes the in-memory session trade feed.
type FeedSettings struct {
	Capacity int
}

// APIServerConfig configures the dashboard's HTTP surface.
type APIServerConfig struct {
	Addr string
}

// TelemetryConfig configures OTLP metric export.
type TelemetryConfig struct {
	OTLPEndpoint  string
	ServiceName   string
	OTLPInsecure  bool
	EnableMetrics bool
}

// Settings contains the Perpscope configuration tree loaded from defaults and overrides.
type Settings struct {
	Environment Environment
	Venue       VenueSettings
	Stream      StreamSettings
	Feed        FeedSettings
	APIServer   APIServerConfig
	Telemetry   TelemetryConfig
}

// Default returns the default Perpscope configuration.
func Default() Settings {
	return Settings{
		Environment: EnvProd,
		Venue: VenueSettings{
			InfoURL:          "https://api.hyperliquid.xyz/info",
			WebsocketURL:     "wss://api.hyperliquid.xyz/ws",
			HTTPTimeout:      10 * time.Second,
			HandshakeTimeout: 10 * time.Second,
			RequestsPerSec:   10,
			RequestBurst:     20,
		},
		Stream: StreamSettings{
			MaxAttempts:  5,
			BaseDelay:    time.Second,
			MaxDelay:     30 * time.Second,
			WriteTimeout: 5 * time.Second,
		},
		Feed: FeedSettings{
			Capacity: 500,
		},
		APIServer: APIServerConfig{
			Addr: ":8787",
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint:  "",
			ServiceName:   "perpscope",
			OTLPInsecure:  false,
			EnableMetrics: true,
		},
	}
}

type settingsYAML struct {
	Environment string `yaml:"environment"`
	Venue       struct {
		InfoURL          string  `yaml:"info_url"`
		WebsocketURL     string  `yaml:"websocket_url"`
		HTTPTimeout      string  `yaml:"http_timeout"`
		HandshakeTimeout string  `yaml:"handshake_timeout"`
		RequestsPerSec   float64 `yaml:"requests_per_sec"`
		RequestBurst     int     `yaml:"request_burst"`
	} `yaml:"venue"`
	Stream struct {
		MaxAttempts  int    `yaml:"max_attempts"`
		BaseDelay    string `yaml:"base_delay"`
		MaxDelay     string `yaml:"max_delay"`
		WriteTimeout string `yaml:"write_timeout"`
	} `yaml:"stream"`
	Feed struct {
		Capacity int `yaml:"capacity"`
	} `yaml:"feed"`
	APIServer struct {
		Addr string `yaml:"addr"`
	} `yaml:"apiServer"`
	Telemetry struct {
		OTLPEndpoint  string `yaml:"otlpEndpoint"`
		ServiceName   string `yaml:"serviceName"`
		OTLPInsecure  bool   `yaml:"otlpInsecure"`
		EnableMetrics *bool  `yaml:"enableMetrics"`
	} `yaml:"telemetry"`
}

// Load builds Settings with precedence: code defaults, then YAML, then env vars.
// A missing configuration file is not an error; the second return value reports
// whether the file contributed overrides.
func Load(path string) (Settings, bool, error) {
	cfg := Default()

	loaded := false
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := cfg.applyYAML(raw); err != nil {
				return Settings{}, false, fmt.Errorf("parse config %s: %w", path, err)
			}
			loaded = true
		case os.IsNotExist(err):
			// Defaults stand.
		default:
			return Settings{}, false, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, loaded, nil
}

func (s *Settings) applyYAML(raw []byte) error {
	var doc settingsYAML
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}

	if env := strings.TrimSpace(doc.Environment); env != "" {
		s.Environment = Environment(strings.ToLower(env))
	}
	if v := strings.TrimSpace(doc.Venue.InfoURL); v != "" {
		s.Venue.InfoURL = v
	}
	if v := strings.TrimSpace(doc.Venue.WebsocketURL); v != "" {
		s.Venue.WebsocketURL = v
	}
	if err := overrideDuration(&s.Venue.HTTPTimeout, doc.Venue.HTTPTimeout); err != nil {
		return fmt.Errorf("venue.http_timeout: %w", err)
	}
	if err := overrideDuration(&s.Venue.HandshakeTimeout, doc.Venue.HandshakeTimeout); err != nil {
		return fmt.Errorf("venue.handshake_timeout: %w", err)
	}
	if doc.Venue.RequestsPerSec > 0 {
		s.Venue.RequestsPerSec = doc.Venue.RequestsPerSec
	}
	if doc.Venue.RequestBurst > 0 {
		s.Venue.RequestBurst = doc.Venue.RequestBurst
	}
	if doc.Stream.MaxAttempts > 0 {
		s.Stream.MaxAttempts = doc.Stream.MaxAttempts
	}
	if err := overrideDuration(&s.Stream.BaseDelay, doc.Stream.BaseDelay); err != nil {
		return fmt.Errorf("stream.base_delay: %w", err)
	}
	if err := overrideDuration(&s.Stream.MaxDelay, doc.Stream.MaxDelay); err != nil {
		return fmt.Errorf("stream.max_delay: %w", err)
	}
	if err := overrideDuration(&s.Stream.WriteTimeout, doc.Stream.WriteTimeout); err != nil {
		return fmt.Errorf("stream.write_timeout: %w", err)
	}
	if doc.Feed.Capacity > 0 {
		s.Feed.Capacity = doc.Feed.Capacity
	}
	if v := strings.TrimSpace(doc.APIServer.Addr); v != "" {
		s.APIServer.Addr = v
	}
	if v := strings.TrimSpace(doc.Telemetry.OTLPEndpoint); v != "" {
		s.Telemetry.OTLPEndpoint = v
	}
	if v := strings.TrimSpace(doc.Telemetry.ServiceName); v != "" {
		s.Telemetry.ServiceName = v
	}
	s.Telemetry.OTLPInsecure = doc.Telemetry.OTLPInsecure
	if doc.Telemetry.EnableMetrics != nil {
		s.Telemetry.EnableMetrics = *doc.Telemetry.EnableMetrics
	}
	return nil
}

func (s *Settings) applyEnv() {
	if env := strings.TrimSpace(os.Getenv("PERPSCOPE_ENV")); env != "" {
		s.Environment = Environment(strings.ToLower(env))
	}
	if v := strings.TrimSpace(os.Getenv("PERPSCOPE_INFO_URL")); v != "" {
		s.Venue.InfoURL = v
	}
	if v := strings.TrimSpace(os.Getenv("PERPSCOPE_WS_URL")); v != "" {
		s.Venue.WebsocketURL = v
	}
	if v := strings.TrimSpace(os.Getenv("PERPSCOPE_HTTP_TIMEOUT")); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			s.Venue.HTTPTimeout = dur
		}
	}
	if v := strings.TrimSpace(os.Getenv("PERPSCOPE_API_ADDR")); v != "" {
		s.APIServer.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("PERPSCOPE_STREAM_MAX_ATTEMPTS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			s.Stream.MaxAttempts = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("PERPSCOPE_OTLP_ENDPOINT")); v != "" {
		s.Telemetry.OTLPEndpoint = v
	}
}

// Option mutates Settings when applied via Apply.
type Option func(*Settings)

// Apply applies the provided Option set to a copy of the base Settings.
func Apply(base Settings, opts ...Option) Settings {
	cfg := base
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// WithEnvironment configures the top-level environment.
func WithEnvironment(env Environment) Option {
	return func(s *Settings) {
		if env != "" {
			s.Environment = env
		}
	}
}

// WithVenueEndpoints overrides the venue REST and websocket endpoints.
func WithVenueEndpoints(infoURL, wsURL string) Option {
	infoURL = strings.TrimSpace(infoURL)
	wsURL = strings.TrimSpace(wsURL)
	return func(s *Settings) {
		if infoURL != "" {
			s.Venue.InfoURL = infoURL
		}
		if wsURL != "" {
			s.Venue.WebsocketURL = wsURL
		}
	}
}

// WithStreamPolicy overrides the reconnection bounds.
func WithStreamPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) Option {
	return func(s *Settings) {
		if maxAttempts > 0 {
			s.Stream.MaxAttempts = maxAttempts
		}
		if baseDelay > 0 {
			s.Stream.BaseDelay = baseDelay
		}
		if maxDelay > 0 {
			s.Stream.MaxDelay = maxDelay
		}
	}
}

// WithFeedCapacity overrides the session feed size.
func WithFeedCapacity(capacity int) Option {
	return func(s *Settings) {
		if capacity > 0 {
			s.Feed.Capacity = capacity
		}
	}
}

func overrideDuration(dst *time.Duration, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}
	if dur <= 0 {
		return fmt.Errorf("duration must be positive, got %s", dur)
	}
	*dst = dur
	return nil
}
