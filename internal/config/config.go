// Package config loads the gaze daemon configuration from a YAML file and
// the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-gaze/pkg/blink"
	"github.com/teslashibe/go-gaze/pkg/calibration"
	"github.com/teslashibe/go-gaze/pkg/filter"
	"github.com/teslashibe/go-gaze/pkg/gaze"
	"github.com/teslashibe/go-gaze/pkg/overlay"
	"github.com/teslashibe/go-gaze/pkg/session"
	"github.com/teslashibe/go-gaze/pkg/trail"
	"github.com/teslashibe/go-gaze/pkg/transport"
	"github.com/teslashibe/go-gaze/pkg/web"
)

// Environment variables that override the file.
const (
	EnvTransportAddr = "GAZE_TRANSPORT_ADDR"
	EnvWebAddr       = "GAZE_WEB_ADDR"
	EnvMarker        = "GAZE_MARKER"
	EnvDB            = "GAZE_DB"
	EnvLogLevel      = "GAZE_LOG_LEVEL"
	EnvInvertX       = "GAZE_INVERT_X"
)

// Config holds all configuration for the gaze daemon.
// Flag parsing is done in cmd/gaze; this struct is data only.
type Config struct {
	Transport   transport.Config  `yaml:"transport"`
	Web         web.Config        `yaml:"web"`
	Filter      filter.Config     `yaml:"filter"`
	Overlay     overlay.Config    `yaml:"overlay"`
	Blink       blink.Config      `yaml:"blink"`
	Session     SessionConfig     `yaml:"session"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Store       StoreConfig       `yaml:"store"`
	Log         LogConfig         `yaml:"log"`
}

// SessionConfig tunes the session controller.
type SessionConfig struct {
	// MarkerPath is where the owner PID is recorded.
	MarkerPath string `yaml:"marker_path"`

	// TerminateTimeout bounds preemption of a previous owner.
	TerminateTimeout time.Duration `yaml:"terminate_timeout"`

	// TrailWindow is how long trail points stay visible.
	TrailWindow time.Duration `yaml:"trail_window"`

	// PredictionMaxAge is the oldest estimate usable for calibration.
	PredictionMaxAge time.Duration `yaml:"prediction_max_age"`

	// InvertX mirrors incoming x against the viewport width.
	InvertX bool `yaml:"invert_x"`

	// BlinkAcknowledges lets a blink acknowledge the calibration target.
	BlinkAcknowledges bool `yaml:"blink_acknowledges"`
}

// CalibrationConfig holds the calibration sequence.
type CalibrationConfig struct {
	// Points are [xRatio, yRatio] pairs in order.
	Points [][2]float64 `yaml:"points"`

	// Viewport is assumed until an overlay client reports its size.
	Viewport gaze.Viewport `yaml:"viewport"`
}

// StoreConfig locates the session database.
type StoreConfig struct {
	// Path of the sqlite database. Empty disables persistence.
	Path string `yaml:"path"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns sensible defaults for the gaze daemon.
func Default() Config {
	def := session.DefaultOptions()
	points := make([][2]float64, len(def.Points))
	for i, p := range def.Points {
		points[i] = [2]float64{p.XRatio, p.YRatio}
	}
	return Config{
		Transport: transport.DefaultConfig(),
		Web:       web.DefaultConfig(),
		Filter:    filter.DefaultConfig(),
		Overlay:   overlay.DefaultConfig(),
		Blink:     blink.DefaultConfig(),
		Session: SessionConfig{
			MarkerPath:       session.DefaultMarkerPath(),
			TerminateTimeout: session.DefaultTerminateTimeout,
			TrailWindow:      trail.DefaultWindow,
			PredictionMaxAge: def.PredictionMaxAge,
		},
		Calibration: CalibrationConfig{Points: points},
		Log:         LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults and applies environment overrides. A
// missing file is not an error when path is empty.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.LoadEnvConfig(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadOptional is Load for a default location that may not exist.
func LoadOptional(path string) (Config, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return Load("")
	}
	return Load(path)
}

// LoadEnvConfig applies environment overrides.
func (c *Config) LoadEnvConfig() error {
	if addr := os.Getenv(EnvTransportAddr); addr != "" {
		c.Transport.Addr = addr
	}
	if addr := os.Getenv(EnvWebAddr); addr != "" {
		c.Web.Addr = addr
	}
	if path := os.Getenv(EnvMarker); path != "" {
		c.Session.MarkerPath = path
	}
	if path, ok := os.LookupEnv(EnvDB); ok {
		c.Store.Path = path
	}
	if level := os.Getenv(EnvLogLevel); level != "" {
		c.Log.Level = level
	}
	if v := os.Getenv(EnvInvertX); v != "" {
		invert, err := strconv.ParseBool(v)
		if err != nil {
			return &ConfigError{Field: "InvertX", Message: fmt.Sprintf("%s must be a boolean, got %q", EnvInvertX, v)}
		}
		c.Session.InvertX = invert
	}
	return nil
}

// Validate checks that the configuration can run a session.
func (c *Config) Validate() error {
	if c.Transport.Addr == "" {
		return &ConfigError{Field: "Transport.Addr", Message: "transport address is required"}
	}
	if c.Web.Addr == "" {
		return &ConfigError{Field: "Web.Addr", Message: "web address is required"}
	}
	if c.Web.Addr == c.Transport.Addr {
		return &ConfigError{Field: "Web.Addr", Message: "web and transport must listen on different addresses"}
	}
	if err := c.Filter.Validate(); err != nil {
		return &ConfigError{Field: "Filter", Message: err.Error()}
	}
	if c.Overlay.FrameRate <= 0 {
		return &ConfigError{Field: "Overlay.FrameRate", Message: fmt.Sprintf("frame rate must be positive, got %v", c.Overlay.FrameRate)}
	}
	if c.Session.MarkerPath == "" {
		return &ConfigError{Field: "Session.MarkerPath", Message: "marker path is required"}
	}
	if c.Session.TrailWindow <= 0 {
		return &ConfigError{Field: "Session.TrailWindow", Message: "trail window must be positive"}
	}
	if len(c.Calibration.Points) == 0 {
		return &ConfigError{Field: "Calibration.Points", Message: "at least one calibration point is required"}
	}
	if _, err := calibration.PointsFromPairs(c.Calibration.Points); err != nil {
		return &ConfigError{Field: "Calibration.Points", Message: err.Error()}
	}
	return nil
}

// SessionOptions converts the configuration for session.NewController.
func (c *Config) SessionOptions() (session.Options, error) {
	points, err := calibration.PointsFromPairs(c.Calibration.Points)
	if err != nil {
		return session.Options{}, err
	}
	return session.Options{
		Transport:         c.Transport,
		Filter:            c.Filter,
		Overlay:           c.Overlay,
		Blink:             c.Blink,
		TrailWindow:       c.Session.TrailWindow,
		MarkerPath:        c.Session.MarkerPath,
		TerminateTimeout:  c.Session.TerminateTimeout,
		PredictionMaxAge:  c.Session.PredictionMaxAge,
		InvertX:           c.Session.InvertX,
		BlinkAcknowledges: c.Session.BlinkAcknowledges,
		Points:            points,
		Viewport:          c.Calibration.Viewport,
	}, nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config: " + e.Field + ": " + e.Message
}
