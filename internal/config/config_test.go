package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-gaze/pkg/calibration"
	"github.com/teslashibe/go-gaze/pkg/filter"
	"github.com/teslashibe/go-gaze/pkg/gaze"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gaze.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault_Valid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Len(t, cfg.Calibration.Points, 9)
	assert.False(t, cfg.Session.InvertX)
	assert.Equal(t, 3*time.Second, cfg.Session.TrailWindow)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
transport:
  addr: 127.0.0.1:9001
filter:
  kind: kalman
  process_noise: 0.05
  measurement_noise: 2
session:
  trail_window: 1500ms
  invert_x: true
calibration:
  points:
    - [0.2, 0.2]
    - [0.8, 0.8]
  viewport:
    width: 1920
    height: 1080
store:
  path: /tmp/gaze.db
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "127.0.0.1:9001", cfg.Transport.Addr)
	assert.Equal(t, "/ws/gaze", cfg.Transport.GazePath, "unset fields keep defaults")
	assert.Equal(t, filter.KindKalman, cfg.Filter.Kind)
	assert.Equal(t, 1500*time.Millisecond, cfg.Session.TrailWindow)
	assert.True(t, cfg.Session.InvertX)
	assert.Equal(t, gaze.Viewport{Width: 1920, Height: 1080}, cfg.Calibration.Viewport)

	opts, err := cfg.SessionOptions()
	require.NoError(t, err)
	want := []calibration.Point{{XRatio: 0.2, YRatio: 0.2}, {XRatio: 0.8, YRatio: 0.8}}
	if diff := cmp.Diff(want, opts.Points); diff != "" {
		t.Errorf("points mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, cfg.Session.MarkerPath, opts.MarkerPath)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "transport: [not a map"))
	assert.Error(t, err)
}

func TestLoadOptional_Missing(t *testing.T) {
	cfg, err := LoadOptional(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Transport, cfg.Transport)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvTransportAddr, "127.0.0.1:7001")
	t.Setenv(EnvWebAddr, "127.0.0.1:7002")
	t.Setenv(EnvMarker, "/tmp/other.pid")
	t.Setenv(EnvDB, "/tmp/other.db")
	t.Setenv(EnvLogLevel, "debug")
	t.Setenv(EnvInvertX, "true")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7001", cfg.Transport.Addr)
	assert.Equal(t, "127.0.0.1:7002", cfg.Web.Addr)
	assert.Equal(t, "/tmp/other.pid", cfg.Session.MarkerPath)
	assert.Equal(t, "/tmp/other.db", cfg.Store.Path)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Session.InvertX)

	t.Setenv(EnvInvertX, "sideways")
	_, err = Load("")
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "InvertX", cfgErr.Field)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"no transport", func(c *Config) { c.Transport.Addr = "" }, "Transport.Addr"},
		{"same address", func(c *Config) { c.Web.Addr = c.Transport.Addr }, "Web.Addr"},
		{"bad alpha", func(c *Config) { c.Filter.Alpha = 0 }, "Filter"},
		{"unknown filter", func(c *Config) { c.Filter.Kind = "median" }, "Filter"},
		{"no frame rate", func(c *Config) { c.Overlay.FrameRate = 0 }, "Overlay.FrameRate"},
		{"no points", func(c *Config) { c.Calibration.Points = nil }, "Calibration.Points"},
		{"point outside", func(c *Config) { c.Calibration.Points = [][2]float64{{1.2, 0.5}} }, "Calibration.Points"},
		{"no trail", func(c *Config) { c.Session.TrailWindow = 0 }, "Session.TrailWindow"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr), "err = %v", err)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}
