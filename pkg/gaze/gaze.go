// Package gaze defines the core value types of the gaze pipeline.
package gaze

import (
	"math"
	"time"
)

// Sample is one raw gaze estimate as received from the tracker.
type Sample struct {
	X         float64
	Y         float64
	Blink     bool
	Timestamp time.Time // receive instant on this host

	// SourceTime is the producer's own timestamp, zero if it sent none.
	SourceTime time.Time
}

// SmoothedPoint is the filtered position derived from exactly one Sample.
type SmoothedPoint struct {
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Timestamp time.Time `json:"timestamp"`
}

// Viewport is the overlay surface size in pixels.
type Viewport struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Known reports whether both dimensions are positive.
func (v Viewport) Known() bool {
	return v.Width > 0 && v.Height > 0
}

// Resolve converts a ratio pair in [0,1]² to pixels.
func (v Viewport) Resolve(xRatio, yRatio float64) (float64, float64) {
	return xRatio * v.Width, yRatio * v.Height
}

// MirrorX reflects x about the vertical center line.
func (v Viewport) MirrorX(x float64) float64 {
	return v.Width - x
}

// Distance is the Euclidean distance between two points.
func Distance(x1, y1, x2, y2 float64) float64 {
	return math.Hypot(x2-x1, y2-y1)
}

// Finite reports whether every value is a finite number.
func Finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
