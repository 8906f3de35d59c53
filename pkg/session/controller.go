// Package session runs at most one gaze session per machine. The Controller
// owns the session's listeners, renderer and marker file, and moves through
// IDLE → STARTING → ACTIVE ⇄ CALIBRATING → STOPPING → IDLE.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-gaze/internal/clock"
	"github.com/teslashibe/go-gaze/internal/log"
	"github.com/teslashibe/go-gaze/internal/metrics"
	"github.com/teslashibe/go-gaze/pkg/calibration"
	"github.com/teslashibe/go-gaze/pkg/gaze"
	"github.com/teslashibe/go-gaze/pkg/overlay"
	"github.com/teslashibe/go-gaze/pkg/protocol"
	"github.com/teslashibe/go-gaze/pkg/store"
	"github.com/teslashibe/go-gaze/pkg/transport"
)

// State is a controller state.
type State string

const (
	StateIdle        State = "idle"
	StateStarting    State = "starting"
	StateActive      State = "active"
	StateCalibrating State = "calibrating"
	StateStopping    State = "stopping"
)

// Reasons a session ends.
const (
	ReasonStopped       = "stopped"
	ReasonRestarted     = "restarted"
	ReasonChannelClosed = "channel closed"
	ReasonTrackerFailed = "tracker failed"
	ReasonPreempted     = "preempted"
	ReasonServerFailed  = "server failed"
)

// Controller drives the session lifecycle.
type Controller struct {
	opts     Options
	clock    clock.Clock
	procs    ProcessTable
	marker   *Marker
	pid      int
	recorder Recorder
	status   StatusLog
	services []Service
	log      *slog.Logger

	// opMu serialises Start, Stop and unsolicited session ends.
	opMu sync.Mutex

	mu            sync.RWMutex
	state         State
	session       *Session
	transport     *transport.Server
	cancel        context.CancelFunc
	group         *errgroup.Group
	done          chan struct{}
	lastEnd       string
	lastErr       error
	lastSessionID string
	lastLog       []calibration.Entry
}

// NewController creates an idle controller. Zero option fields take the
// values of DefaultOptions.
func NewController(opts Options, options ...Option) *Controller {
	def := DefaultOptions()
	if opts.MarkerPath == "" {
		opts.MarkerPath = def.MarkerPath
	}
	if opts.TerminateTimeout <= 0 {
		opts.TerminateTimeout = def.TerminateTimeout
	}
	if opts.TrailWindow <= 0 {
		opts.TrailWindow = def.TrailWindow
	}
	if opts.Filter.Kind == "" {
		opts.Filter = def.Filter
	}
	if opts.Overlay.FrameRate <= 0 {
		opts.Overlay = def.Overlay
	}
	if opts.Points == nil {
		opts.Points = def.Points
	}

	done := make(chan struct{})
	close(done)

	c := &Controller{
		opts:  opts,
		clock: clock.Real{},
		procs: OSProcessTable{},
		pid:   os.Getpid(),
		log:   log.Component("session"),
		state: StateIdle,
		done:  done,
	}
	for _, opt := range options {
		opt(c)
	}
	c.marker = NewMarker(opts.MarkerPath)
	metrics.SetState(string(StateIdle))
	return c
}

// Marker returns the session marker.
func (c *Controller) Marker() *Marker {
	return c.marker
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Done is closed when the session begun by the last successful Start
// ends, for any reason. Before any Start it is already closed.
func (c *Controller) Done() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.done
}

// Start begins a new session, stopping the current one first. A live
// previous owner recorded in the marker is terminated; a marker whose PID
// now belongs to another program is treated as stale. A port or marker
// that cannot be taken is a *ResourceBusyError.
func (c *Controller) Start(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.State() != StateIdle {
		c.log.Info("restarting session")
		c.stopLocked(ReasonRestarted, nil)
	}
	c.setState(StateStarting, "", "")

	if err := c.preempt(ctx); err != nil {
		return c.failStart(err)
	}
	if err := c.marker.Write(c.pid); err != nil {
		return c.failStart(&ResourceBusyError{Resource: "marker " + c.marker.Path(), Err: err})
	}

	srv := transport.NewServer(c.opts.Transport)
	if err := srv.Listen(); err != nil {
		c.releaseMarker()
		return c.failStart(&ResourceBusyError{Resource: "transport " + c.opts.Transport.Addr, Err: err})
	}
	bound := []Service{srv}
	for _, svc := range c.services {
		if err := svc.Listen(); err != nil {
			closeAll(bound)
			c.releaseMarker()
			return c.failStart(&ResourceBusyError{Resource: "auxiliary server", Err: err})
		}
		bound = append(bound, svc)
	}

	sess, err := newSession(uuid.NewString(), c.clock.Now(), c.opts)
	if err != nil {
		closeAll(bound)
		c.releaseMarker()
		return c.failStart(err)
	}
	c.wire(srv, sess)

	gctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(gctx)
	for _, svc := range bound {
		svc := svc
		g.Go(func() error { return svc.Run(gctx) })
	}
	renderer := overlay.NewRenderer(c, srv.Publisher(), c.opts.Overlay, overlay.WithClock(c.clock))
	g.Go(func() error { return renderer.Run(gctx) })
	watcher := NewWatcher(c.marker, c.pid, func(owner int) {
		go c.end(sess.ID, ReasonPreempted, fmt.Errorf("marker taken by pid %d", owner))
	})
	g.Go(func() error { return watcher.Run(gctx) })

	c.mu.Lock()
	c.session = sess
	c.transport = srv
	c.cancel = cancel
	c.group = g
	c.done = make(chan struct{})
	c.lastErr = nil
	c.mu.Unlock()

	go func() {
		if err := g.Wait(); err != nil {
			c.end(sess.ID, ReasonServerFailed, err)
		}
	}()

	if c.recorder != nil {
		rec := store.SessionRecord{ID: sess.ID, PID: c.pid, StartedAt: sess.StartedAt}
		if err := c.recorder.CreateSession(ctx, rec); err != nil {
			c.log.Warn("failed to record session", "err", err)
		}
	}

	c.setState(StateActive, sess.ID, "")
	c.log.Info("session started", "session", sess.ID, "transport", srv.Addr())
	c.statusLog("session", fmt.Sprintf("session %s started on %s", sess.ID, srv.Addr()))
	return nil
}

// Stop ends the current session and returns to IDLE. It is a no-op when
// already idle.
func (c *Controller) Stop(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.stopLocked(ReasonStopped, nil)
	return nil
}

// end stops session id for reason unless it has already been replaced.
func (c *Controller) end(id, reason string, cause error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.RLock()
	current := c.session
	c.mu.RUnlock()
	if current == nil || current.ID != id {
		return
	}
	if cause != nil {
		c.log.Warn("session ending", "session", id, "reason", reason, "err", cause)
		c.statusLog("error", fmt.Sprintf("session %s ending (%s): %v", id, reason, cause))
	}
	c.stopLocked(reason, cause)
}

// stopLocked tears the session down. opMu must be held.
func (c *Controller) stopLocked(reason string, cause error) {
	c.mu.RLock()
	sess, cancel, g, done := c.session, c.cancel, c.group, c.done
	c.mu.RUnlock()
	if sess == nil {
		return
	}
	c.setState(StateStopping, sess.ID, reason)

	cancel()
	if err := g.Wait(); err != nil {
		c.log.Warn("session services stopped with error", "err", err)
	}
	c.releaseMarker()

	if c.recorder != nil {
		if err := c.recorder.EndSession(context.Background(), sess.ID, c.clock.Now(), reason); err != nil {
			c.log.Warn("failed to record session end", "err", err)
		}
	}
	metrics.RecordSessionEnd(reason)

	c.mu.Lock()
	c.lastSessionID = sess.ID
	c.lastLog = sess.CalibrationLog()
	c.lastEnd = reason
	if cause != nil {
		c.lastErr = cause
	}
	c.session = nil
	c.transport = nil
	c.cancel = nil
	c.group = nil
	c.mu.Unlock()

	c.setState(StateIdle, sess.ID, reason)
	c.log.Info("session stopped", "session", sess.ID, "reason", reason)
	c.statusLog("session", fmt.Sprintf("session %s stopped: %s", sess.ID, reason))
	close(done)
}

func (c *Controller) failStart(err error) error {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	c.setState(StateIdle, "", err.Error())
	c.log.Error("start failed", "err", err)
	c.statusLog("error", err.Error())
	return err
}

// preempt terminates a live previous owner recorded in the marker.
func (c *Controller) preempt(ctx context.Context) error {
	owner, err := c.marker.Read()
	switch {
	case errors.Is(err, ErrNoMarker):
		return nil
	case err != nil:
		c.log.Warn("ignoring unreadable marker", "path", c.marker.Path(), "err", err)
		return nil
	case owner == c.pid:
		return nil
	}

	alive, err := c.procs.Alive(owner)
	if err != nil {
		return &ResourceBusyError{Resource: "marker " + c.marker.Path(), PID: owner, Err: err}
	}
	if !alive {
		c.log.Info("stale marker", "pid", owner)
		return nil
	}
	owned, err := c.procs.SameProgram(owner)
	if err != nil {
		return &ResourceBusyError{Resource: "marker " + c.marker.Path(), PID: owner, Err: err}
	}
	if !owned {
		c.log.Warn("stale marker names another program", "pid", owner)
		return nil
	}

	c.log.Warn("terminating previous session owner", "pid", owner)
	c.statusLog("session", fmt.Sprintf("terminating previous session owner (pid %d)", owner))
	err = Terminate(ctx, c.procs, owner, c.opts.TerminateTimeout)
	metrics.RecordPreemption(err == nil)
	if err != nil {
		return &ResourceBusyError{Resource: "marker " + c.marker.Path(), PID: owner, Err: err}
	}
	return nil
}

func (c *Controller) releaseMarker() {
	if _, err := c.marker.RemoveIfOwner(c.pid); err != nil {
		c.log.Warn("failed to remove marker", "err", err)
	}
}

func closeAll(svcs []Service) {
	for _, svc := range svcs {
		svc.Close()
	}
}

// wire connects the transport's callbacks to sess.
func (c *Controller) wire(srv *transport.Server, sess *Session) {
	srv.OnRecord(func(r protocol.Record) {
		c.handleRecord(sess, r)
	})
	srv.OnReject(func(err error) {
		c.statusLog("warn", err.Error())
	})
	srv.OnProducerClosed(func(err error) {
		// The handler must return before the transport can shut down.
		go c.end(sess.ID, ReasonChannelClosed, nil)
	})
	srv.OnViewport(func(vp gaze.Viewport) {
		if vp.Known() {
			sess.SetViewport(vp)
		}
	})
}

// HandleRecord feeds one record to the active session.
func (c *Controller) HandleRecord(r protocol.Record) error {
	c.mu.RLock()
	sess := c.session
	c.mu.RUnlock()
	if sess == nil {
		return ErrNotActive
	}
	if err := r.Validate(); err != nil {
		return err
	}
	c.handleRecord(sess, r)
	return nil
}

func (c *Controller) handleRecord(sess *Session, r protocol.Record) {
	if r.IsError() {
		err := &InitializationError{Message: r.Error}
		c.log.Error("tracker failed", "session", sess.ID, "err", err)
		c.statusLog("error", err.Error())
		go c.end(sess.ID, ReasonTrackerFailed, err)
		return
	}

	_, blinked := sess.Ingest(r.Sample(c.clock.Now()), r.EAR)
	if !blinked {
		return
	}
	metrics.RecordBlink()
	if !c.opts.BlinkAcknowledges || c.State() != StateCalibrating {
		return
	}
	if _, err := c.AcknowledgeCurrent(); err != nil && !errors.Is(err, calibration.ErrPredictionUnavailable) {
		c.log.Debug("blink acknowledge failed", "err", err)
	}
}

// BeginCalibration starts (or restarts) a calibration run over points, or
// the configured points when nil. A known vp replaces the session's
// viewport first.
func (c *Controller) BeginCalibration(points []calibration.Point, vp gaze.Viewport) (calibration.Target, error) {
	if points == nil {
		points = c.opts.Points
	}

	c.mu.Lock()
	if c.state != StateActive && c.state != StateCalibrating {
		c.mu.Unlock()
		return calibration.Target{}, ErrNotActive
	}
	sess := c.session
	if vp.Known() {
		sess.SetViewport(vp)
	}
	target, err := sess.beginCalibration(points)
	if err != nil {
		c.mu.Unlock()
		return calibration.Target{}, err
	}
	c.state = StateCalibrating
	c.mu.Unlock()

	c.announce(StateCalibrating, sess.ID, "")
	c.publishCalibration(protocolTarget(target), false)
	c.statusLog("calibration", fmt.Sprintf("calibration started with %d points", target.Total))
	return target, nil
}

// Acknowledge records p, which must be the current target, against the
// latest estimate and advances. A *calibration.PredictionUnavailableError
// is returned with the recorded entry when no estimate was usable.
func (c *Controller) Acknowledge(p calibration.Point) (calibration.Entry, error) {
	return c.acknowledge(&p)
}

// AcknowledgeCurrent is Acknowledge for whichever target is current when
// the call takes effect.
func (c *Controller) AcknowledgeCurrent() (calibration.Entry, error) {
	return c.acknowledge(nil)
}

// acknowledge records p, or the current target when p is nil.
func (c *Controller) acknowledge(p *calibration.Point) (calibration.Entry, error) {
	c.mu.Lock()
	if c.state != StateCalibrating {
		c.mu.Unlock()
		return calibration.Entry{}, ErrNotCalibrating
	}
	sess := c.session
	if p == nil {
		t, ok := sess.Target()
		if !ok {
			c.mu.Unlock()
			return calibration.Entry{}, ErrNotCalibrating
		}
		p = &t.Point
	}
	now := c.clock.Now()
	entry, next, finished, err := sess.acknowledge(*p, sess.Prediction(now, c.opts.PredictionMaxAge), now)
	if errors.Is(err, calibration.ErrOutOfSequence) || errors.Is(err, ErrNotCalibrating) {
		c.mu.Unlock()
		return entry, err
	}
	if finished {
		c.state = StateActive
	}
	c.mu.Unlock()

	if c.recorder != nil {
		if rerr := c.recorder.AppendEntry(context.Background(), sess.ID, entry); rerr != nil {
			c.log.Warn("failed to record calibration entry", "err", rerr)
		}
	}
	metrics.RecordCalibration(entry.Distance)

	if err != nil {
		c.log.Warn("calibration point without prediction", "err", err)
		c.statusLog("warn", err.Error())
	} else {
		c.statusLog("calibration", fmt.Sprintf("point %d: %.1fpx", entry.Seq, *entry.Distance))
	}

	var nextTarget *protocol.Target
	if next != nil {
		nextTarget = protocolTarget(*next)
	}
	c.publishCalibration(nextTarget, finished)
	if finished {
		c.announce(StateActive, sess.ID, "calibration finished")
		c.statusLog("calibration", "calibration finished")
	}
	return entry, err
}

// SetViewport records the overlay surface size for the active session and
// any later one.
func (c *Controller) SetViewport(vp gaze.Viewport) {
	c.mu.Lock()
	c.opts.Viewport = vp
	sess := c.session
	c.mu.Unlock()
	if sess != nil {
		sess.SetViewport(vp)
	}
}

// Frame implements overlay.FrameSource.
func (c *Controller) Frame(now time.Time) (protocol.Frame, bool) {
	c.mu.RLock()
	sess, state := c.session, c.state
	c.mu.RUnlock()
	if sess == nil || (state != StateActive && state != StateCalibrating) {
		return protocol.Frame{}, false
	}
	return sess.Frame(now, state), true
}

// CalibrationLog returns the entries of the active session, or of the last
// session once idle.
func (c *Controller) CalibrationLog() (sessionID string, entries []calibration.Entry) {
	c.mu.RLock()
	sess := c.session
	sessionID, entries = c.lastSessionID, c.lastLog
	c.mu.RUnlock()
	if sess != nil {
		return sess.ID, sess.CalibrationLog()
	}
	return sessionID, append([]calibration.Entry(nil), entries...)
}

// CalibrationStatus describes a calibration in progress.
type CalibrationStatus struct {
	Index  int              `json:"index"`
	Total  int              `json:"total"`
	Target *protocol.Target `json:"target,omitempty"`
}

// Status is a snapshot of the controller.
type Status struct {
	State         State              `json:"state"`
	SessionID     string             `json:"session_id,omitempty"`
	PID           int                `json:"pid"`
	StartedAt     *time.Time         `json:"started_at,omitempty"`
	TransportAddr string             `json:"transport_addr,omitempty"`
	Viewport      gaze.Viewport      `json:"viewport"`
	Samples       uint64             `json:"samples"`
	Blinks        uint64             `json:"blinks"`
	TrailLength   int                `json:"trail_length"`
	Entries       int                `json:"calibration_entries"`
	Calibration   *CalibrationStatus `json:"calibration,omitempty"`
	Transport     *transport.Stats   `json:"transport,omitempty"`
	LastEnd       string             `json:"last_end,omitempty"`
	LastError     string             `json:"last_error,omitempty"`
}

// Status returns a snapshot of the controller.
func (c *Controller) Status() Status {
	c.mu.RLock()
	st := Status{
		State:   c.state,
		PID:     c.pid,
		LastEnd: c.lastEnd,
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	sess, srv := c.session, c.transport
	c.mu.RUnlock()

	if sess == nil {
		return st
	}
	st.SessionID = sess.ID
	started := sess.StartedAt
	st.StartedAt = &started
	st.Viewport = sess.Viewport()
	st.Samples, st.Blinks, st.TrailLength = sess.Counts()
	st.Entries = len(sess.CalibrationLog())
	if t, ok := sess.Target(); ok {
		st.Calibration = &CalibrationStatus{Index: t.Index, Total: t.Total, Target: protocolTarget(t)}
	}
	if srv != nil {
		stats := srv.GetStats()
		st.Transport = &stats
		st.TransportAddr = srv.Addr()
	}
	return st
}

func (c *Controller) setState(state State, sessionID, reason string) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
	c.announce(state, sessionID, reason)
}

// announce publishes a state change to metrics and overlay clients.
func (c *Controller) announce(state State, sessionID, reason string) {
	metrics.SetState(string(state))
	c.log.Debug("state", "state", state, "session", sessionID, "reason", reason)
	if msg, err := protocol.NewStatusMessage(sessionID, string(state), reason); err == nil {
		c.publish(msg)
	}
}

func (c *Controller) publishCalibration(target *protocol.Target, finished bool) {
	if msg, err := protocol.NewCalibrationMessage(target, finished); err == nil {
		c.publish(msg)
	}
}

func (c *Controller) publish(msg *protocol.Message) {
	c.mu.RLock()
	srv := c.transport
	c.mu.RUnlock()
	if srv != nil {
		srv.Publisher().Publish(msg)
	}
}

func (c *Controller) statusLog(logType, message string) {
	if c.status != nil {
		c.status.AddLog(logType, message)
	}
}
