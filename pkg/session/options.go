package session

import (
	"context"
	"time"

	"github.com/teslashibe/go-gaze/internal/clock"
	"github.com/teslashibe/go-gaze/pkg/blink"
	"github.com/teslashibe/go-gaze/pkg/calibration"
	"github.com/teslashibe/go-gaze/pkg/filter"
	"github.com/teslashibe/go-gaze/pkg/gaze"
	"github.com/teslashibe/go-gaze/pkg/overlay"
	"github.com/teslashibe/go-gaze/pkg/store"
	"github.com/teslashibe/go-gaze/pkg/trail"
	"github.com/teslashibe/go-gaze/pkg/transport"
)

// Options configures a Controller.
type Options struct {
	Transport transport.Config
	Filter    filter.Config
	Overlay   overlay.Config
	Blink     blink.Config

	// TrailWindow is how long trail entries live.
	TrailWindow time.Duration

	// MarkerPath is where the owner PID is recorded.
	MarkerPath string

	// TerminateTimeout bounds preemption of a previous owner.
	TerminateTimeout time.Duration

	// PredictionMaxAge is the oldest estimate usable for calibration.
	PredictionMaxAge time.Duration

	// InvertX mirrors incoming x against the viewport width.
	InvertX bool

	// BlinkAcknowledges lets a blink acknowledge the current target.
	BlinkAcknowledges bool

	// Points is the calibration sequence used when none is given.
	Points []calibration.Point

	// Viewport is assumed until an overlay client reports its size.
	Viewport gaze.Viewport
}

// DefaultOptions returns the standard settings.
func DefaultOptions() Options {
	return Options{
		Transport:        transport.DefaultConfig(),
		Filter:           filter.DefaultConfig(),
		Overlay:          overlay.DefaultConfig(),
		Blink:            blink.DefaultConfig(),
		TrailWindow:      trail.DefaultWindow,
		MarkerPath:       DefaultMarkerPath(),
		TerminateTimeout: DefaultTerminateTimeout,
		PredictionMaxAge: time.Second,
		Points:           calibration.DefaultPoints(),
	}
}

// Service is an auxiliary local server bound and served alongside the
// transport for the session's lifetime.
type Service interface {
	// Listen binds the server's address.
	Listen() error

	// Run serves until ctx is cancelled.
	Run(ctx context.Context) error

	// Close releases a bound listener that was never served.
	Close() error
}

// StatusLog receives user-visible status lines.
type StatusLog interface {
	AddLog(logType, message string)
}

// Recorder persists sessions and calibration entries.
type Recorder interface {
	CreateSession(ctx context.Context, rec store.SessionRecord) error
	EndSession(ctx context.Context, id string, endedAt time.Time, reason string) error
	AppendEntry(ctx context.Context, sessionID string, e calibration.Entry) error
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(ctrl *Controller) { ctrl.clock = c }
}

// WithProcessTable replaces the OS process table.
func WithProcessTable(pt ProcessTable) Option {
	return func(ctrl *Controller) { ctrl.procs = pt }
}

// WithPID sets the identity written to the marker.
func WithPID(pid int) Option {
	return func(ctrl *Controller) { ctrl.pid = pid }
}

// WithRecorder persists sessions and calibration entries.
func WithRecorder(r Recorder) Option {
	return func(ctrl *Controller) { ctrl.recorder = r }
}

// WithStatusLog routes user-visible status lines.
func WithStatusLog(l StatusLog) Option {
	return func(ctrl *Controller) { ctrl.status = l }
}

// WithServices adds auxiliary servers bound on every Start.
func WithServices(svcs ...Service) Option {
	return func(ctrl *Controller) { ctrl.services = append(ctrl.services, svcs...) }
}
