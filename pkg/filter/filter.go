// Package filter smooths gaze coordinate streams.
//
// Two interchangeable strategies implement Smoother: exponential smoothing
// and a scalar Kalman filter. Point runs one smoother per axis.
package filter

import (
	"errors"
	"time"

	"github.com/teslashibe/go-gaze/pkg/gaze"
)

// Sentinel errors for configuration problems.
var (
	// ErrUnknownKind is returned for an unrecognised strategy name.
	ErrUnknownKind = errors.New("filter: unknown kind")

	// ErrInvalidAlpha is returned when alpha is outside (0,1].
	ErrInvalidAlpha = errors.New("filter: alpha must be in (0,1]")

	// ErrInvalidNoise is returned for negative noise or covariance terms.
	ErrInvalidNoise = errors.New("filter: invalid noise parameter")
)

// Smoother filters a stream of scalar measurements.
type Smoother interface {
	// Update feeds one measurement and returns the filtered value.
	Update(z float64) float64

	// Value returns the current filtered value without updating.
	Value() float64

	// Reset returns the smoother to its seed state.
	Reset()
}

// Exponential implements x_i = α·z_i + (1-α)·x_{i-1}.
type Exponential struct {
	alpha float64
	seed  float64
	x     float64
}

// NewExponential creates an exponential smoother seeded at seed.
func NewExponential(alpha, seed float64) *Exponential {
	return &Exponential{alpha: clamp(alpha, 0, 1), seed: seed, x: seed}
}

// Update applies one smoothing step.
func (e *Exponential) Update(z float64) float64 {
	e.x = e.alpha*z + (1-e.alpha)*e.x
	return e.x
}

// Value returns the last output.
func (e *Exponential) Value() float64 { return e.x }

// Reset restores the seed.
func (e *Exponential) Reset() { e.x = e.seed }

// Alpha returns the smoothing factor.
func (e *Exponential) Alpha() float64 { return e.alpha }

// Kalman is a one-dimensional Kalman filter with A = H = 1.
type Kalman struct {
	// Q is the process noise, R the measurement noise.
	Q, R float64
	A, H float64

	x, p   float64
	x0, p0 float64
}

// NewKalman creates a scalar Kalman filter.
func NewKalman(q, r, p0, seed float64) *Kalman {
	return &Kalman{Q: q, R: r, A: 1, H: 1, x: seed, p: p0, x0: seed, p0: p0}
}

// Update runs one predict/correct cycle.
func (k *Kalman) Update(z float64) float64 {
	// Predict
	k.x = k.A * k.x
	k.p = k.A*k.p*k.A + k.Q

	// Correct
	gain := k.p * k.H / (k.H*k.p*k.H + k.R)
	k.x = k.x + gain*(z-k.H*k.x)
	k.p = (1 - gain*k.H) * k.p
	return k.x
}

// Value returns the state estimate.
func (k *Kalman) Value() float64 { return k.x }

// Covariance returns the current error covariance P.
func (k *Kalman) Covariance() float64 { return k.p }

// Reset restores the seed state and initial covariance.
func (k *Kalman) Reset() {
	k.x = k.x0
	k.p = k.p0
}

// New builds a smoother from config.
func New(cfg Config) (Smoother, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Kind {
	case KindKalman:
		return NewKalman(cfg.ProcessNoise, cfg.MeasurementNoise, cfg.InitialCovariance, cfg.Seed), nil
	default:
		return NewExponential(cfg.Alpha, cfg.Seed), nil
	}
}

// Point smooths x and y independently.
type Point struct {
	x, y Smoother
}

// NewPoint builds a two-axis filter with one smoother per axis.
func NewPoint(cfg Config) (*Point, error) {
	x, err := New(cfg)
	if err != nil {
		return nil, err
	}
	y, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return &Point{x: x, y: y}, nil
}

// Update filters one sample into a smoothed point.
// The output carries the sample's timestamp.
func (p *Point) Update(s gaze.Sample) gaze.SmoothedPoint {
	return p.UpdateXY(s.X, s.Y, s.Timestamp)
}

// UpdateXY filters a raw coordinate pair.
func (p *Point) UpdateXY(x, y float64, ts time.Time) gaze.SmoothedPoint {
	return gaze.SmoothedPoint{
		X:         p.x.Update(x),
		Y:         p.y.Update(y),
		Timestamp: ts,
	}
}

// Reset discards both axes' state.
func (p *Point) Reset() {
	p.x.Reset()
	p.y.Reset()
}

// clamp limits a value to a range
func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
