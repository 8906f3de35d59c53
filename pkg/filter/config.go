package filter

import "fmt"

// Kind selects the smoothing strategy.
type Kind string

const (
	KindExponential Kind = "exponential"
	KindKalman      Kind = "kalman"
)

// Config holds all tunable parameters for gaze smoothing
type Config struct {
	Kind Kind `yaml:"kind" json:"kind"`

	// Exponential
	Alpha float64 `yaml:"alpha" json:"alpha"` // weight of the new sample, (0,1]

	// Kalman
	ProcessNoise      float64 `yaml:"process_noise" json:"process_noise"`           // Q
	MeasurementNoise  float64 `yaml:"measurement_noise" json:"measurement_noise"`   // R
	InitialCovariance float64 `yaml:"initial_covariance" json:"initial_covariance"` // P0

	// Seed is the initial state of both strategies.
	Seed float64 `yaml:"seed" json:"seed"`
}

// DefaultConfig returns exponential smoothing at the alpha the overlay was tuned with.
func DefaultConfig() Config {
	return Config{
		Kind:              KindExponential,
		Alpha:             0.2,  // 20% new, 80% old
		ProcessNoise:      0.01, // Q
		MeasurementNoise:  1.0,  // R
		InitialCovariance: 1.0,
	}
}

// KalmanConfig returns the scalar Kalman variant with default noise terms.
func KalmanConfig() Config {
	cfg := DefaultConfig()
	cfg.Kind = KindKalman
	return cfg
}

// SmoothConfig trades latency for stability.
func SmoothConfig() Config {
	cfg := DefaultConfig()
	cfg.Alpha = 0.15
	return cfg
}

// ResponsiveConfig trusts new readings more.
func ResponsiveConfig() Config {
	cfg := DefaultConfig()
	cfg.Alpha = 0.5
	return cfg
}

// Validate checks that the configuration can build a smoother.
func (c Config) Validate() error {
	switch c.Kind {
	case KindExponential:
		if !(c.Alpha > 0 && c.Alpha <= 1) {
			return fmt.Errorf("%w: got %v", ErrInvalidAlpha, c.Alpha)
		}
	case KindKalman:
		if c.ProcessNoise < 0 {
			return fmt.Errorf("%w: process noise %v", ErrInvalidNoise, c.ProcessNoise)
		}
		if c.MeasurementNoise <= 0 {
			return fmt.Errorf("%w: measurement noise %v", ErrInvalidNoise, c.MeasurementNoise)
		}
		if c.InitialCovariance < 0 {
			return fmt.Errorf("%w: initial covariance %v", ErrInvalidNoise, c.InitialCovariance)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, c.Kind)
	}
	return nil
}
