// Package blink detects blinks from the eye aspect ratio (EAR).
//
// EAR = (|p2-p6| + |p3-p5|) / (2·|p1-p4|) over the six eye-contour
// landmarks. It stays roughly constant while the eye is open and drops
// towards zero when it closes.
package blink

import (
	"errors"
	"math"
)

// Defaults tuned for 30 fps landmark streams.
const (
	DefaultThreshold      = 0.21
	DefaultConsecutiveMin = 2
)

// ErrDegenerateEye is returned when the horizontal eye span is zero.
var ErrDegenerateEye = errors.New("blink: degenerate eye landmarks")

// Landmark is one 2D facial landmark.
type Landmark struct {
	X, Y float64
}

// EyeAspectRatio computes the EAR of six landmarks ordered p1..p6
// clockwise from the outer corner.
func EyeAspectRatio(eye [6]Landmark) (float64, error) {
	horizontal := dist(eye[0], eye[3])
	if horizontal == 0 {
		return 0, ErrDegenerateEye
	}
	vertical := dist(eye[1], eye[5]) + dist(eye[2], eye[4])
	return vertical / (2 * horizontal), nil
}

func dist(a, b Landmark) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// Config holds detector tuning.
type Config struct {
	Threshold      float64 `yaml:"threshold" json:"threshold"`             // EAR below this counts as closed
	ConsecutiveMin int     `yaml:"consecutive_min" json:"consecutive_min"` // closed frames needed for a blink
}

// DefaultConfig returns the standard detector tuning.
func DefaultConfig() Config {
	return Config{
		Threshold:      DefaultThreshold,
		ConsecutiveMin: DefaultConsecutiveMin,
	}
}

// Detector counts blinks from a stream of EAR values.
// A blink is reported on the frame the eye reopens after at least
// ConsecutiveMin closed frames.
type Detector struct {
	cfg    Config
	closed int
	total  int
}

// NewDetector creates a detector. Zero fields take defaults.
func NewDetector(cfg Config) *Detector {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.ConsecutiveMin <= 0 {
		cfg.ConsecutiveMin = DefaultConsecutiveMin
	}
	return &Detector{cfg: cfg}
}

// Observe feeds one EAR value and reports whether a blink just completed.
func (d *Detector) Observe(ear float64) bool {
	if ear < d.cfg.Threshold {
		d.closed++
		return false
	}
	blinked := d.closed >= d.cfg.ConsecutiveMin
	d.closed = 0
	if blinked {
		d.total++
	}
	return blinked
}

// Total returns the number of blinks seen.
func (d *Detector) Total() int {
	return d.total
}

// Reset clears all state.
func (d *Detector) Reset() {
	d.closed = 0
	d.total = 0
}
