// Package overlay drives the overlay render tick: it samples the active
// session at a fixed rate and broadcasts frames to overlay clients.
package overlay

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-gaze/internal/clock"
	"github.com/teslashibe/go-gaze/internal/log"
	"github.com/teslashibe/go-gaze/internal/metrics"
	"github.com/teslashibe/go-gaze/pkg/protocol"
)

// FrameSource builds the frame for an instant. ok is false when there is
// nothing to draw.
type FrameSource interface {
	Frame(now time.Time) (frame protocol.Frame, ok bool)
}

// Publisher delivers an envelope to every overlay client.
type Publisher interface {
	Publish(msg *protocol.Message) error
}

// Config holds renderer settings.
type Config struct {
	// FrameRate in frames per second.
	FrameRate float64 `yaml:"frame_rate" json:"frame_rate"`
}

// DefaultConfig returns a 30 Hz renderer.
func DefaultConfig() Config {
	return Config{FrameRate: 30}
}

// Interval returns the tick period.
func (c Config) Interval() time.Duration {
	if c.FrameRate <= 0 {
		c = DefaultConfig()
	}
	return time.Duration(float64(time.Second) / c.FrameRate)
}

// Renderer ticks a FrameSource into a Publisher.
type Renderer struct {
	src   FrameSource
	pub   Publisher
	cfg   Config
	clock clock.Clock
	log   *slog.Logger

	frames atomic.Uint64
	errors atomic.Uint64
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clock.Clock) Option {
	return func(r *Renderer) { r.clock = c }
}

// NewRenderer creates a renderer.
func NewRenderer(src FrameSource, pub Publisher, cfg Config, opts ...Option) *Renderer {
	r := &Renderer{
		src:   src,
		pub:   pub,
		cfg:   cfg,
		clock: clock.Real{},
		log:   log.Component("overlay"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run ticks until ctx is cancelled. Publish failures are logged and the
// loop carries on.
func (r *Renderer) Run(ctx context.Context) error {
	ticker := r.clock.NewTicker(r.cfg.Interval())
	defer ticker.Stop()

	r.log.Debug("renderer started", "interval", r.cfg.Interval())
	for {
		select {
		case <-ctx.Done():
			r.log.Debug("renderer stopped", "frames", r.frames.Load())
			return nil
		case now := <-ticker.C():
			r.Tick(now)
		}
	}
}

// Tick renders and publishes one frame, reporting whether one was sent.
func (r *Renderer) Tick(now time.Time) bool {
	frame, ok := r.src.Frame(now)
	if !ok {
		return false
	}

	msg, err := protocol.NewFrameMessage(frame)
	if err == nil {
		err = r.pub.Publish(msg)
	}
	if err != nil {
		// Log the first failure and every 100th after it.
		if n := r.errors.Add(1); n%100 == 1 {
			r.log.Warn("frame publish failed", "err", err, "failures", n)
		}
		return false
	}

	r.frames.Add(1)
	metrics.RecordFrame()
	return true
}

// Frames returns how many frames were published.
func (r *Renderer) Frames() uint64 {
	return r.frames.Load()
}

// Errors returns how many frames failed to publish.
func (r *Renderer) Errors() uint64 {
	return r.errors.Load()
}
