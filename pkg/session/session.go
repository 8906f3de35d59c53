package session

import (
	"errors"
	"sync"
	"time"

	"github.com/teslashibe/go-gaze/internal/log"
	"github.com/teslashibe/go-gaze/pkg/blink"
	"github.com/teslashibe/go-gaze/pkg/calibration"
	"github.com/teslashibe/go-gaze/pkg/filter"
	"github.com/teslashibe/go-gaze/pkg/gaze"
	"github.com/teslashibe/go-gaze/pkg/protocol"
	"github.com/teslashibe/go-gaze/pkg/trail"
)

// Session is one run of the pipeline. It owns the filter, the trail, the
// latest estimate and the calibration state; all of it is discarded when
// the session ends.
type Session struct {
	ID        string
	StartedAt time.Time

	invertX bool

	mu             sync.Mutex
	filter         *filter.Point
	trail          *trail.Buffer
	blink          *blink.Detector
	estimate       *gaze.SmoothedPoint
	viewport       gaze.Viewport
	warnedViewport bool
	calLog         *calibration.Log
	run            *calibration.Run
	samples        uint64
	blinks         uint64

	// eyeClosed is the previous record's blink flag; flagged is set once
	// the tracker has sent any blink flag, after which EAR is not used
	// for blink events.
	eyeClosed bool
	flagged   bool
}

func newSession(id string, startedAt time.Time, opts Options) (*Session, error) {
	fp, err := filter.NewPoint(opts.Filter)
	if err != nil {
		return nil, err
	}
	return &Session{
		ID:        id,
		StartedAt: startedAt,
		invertX:   opts.InvertX,
		filter:    fp,
		trail:     trail.New(opts.TrailWindow),
		blink:     blink.NewDetector(opts.Blink),
		viewport:  opts.Viewport,
		calLog:    calibration.NewLog(),
	}, nil
}

// Ingest filters one sample into the estimate and the trail. blinked is
// true once per blink: on the record where the blink flag rises, or, for
// trackers that only send ear, when the detector sees the eye reopen.
func (s *Session) Ingest(sample gaze.Sample, ear *float64) (p gaze.SmoothedPoint, blinked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.invertX {
		if s.viewport.Known() {
			sample.X = s.viewport.MirrorX(sample.X)
		} else if !s.warnedViewport {
			s.warnedViewport = true
			log.Warn("invert_x skipped until the viewport is known", "session", s.ID)
		}
	}

	p = s.filter.Update(sample)
	s.estimate = &p
	s.trail.Insert(p, sample.Timestamp)
	s.samples++

	if sample.Blink {
		s.flagged = true
	}
	blinked = sample.Blink && !s.eyeClosed
	s.eyeClosed = sample.Blink
	if ear != nil && s.blink.Observe(*ear) && !s.flagged {
		blinked = true
	}
	if blinked {
		s.blinks++
	}
	return p, blinked
}

// Prediction returns the latest estimate unless it is missing or older
// than maxAge. A non-positive maxAge accepts any age.
func (s *Session) Prediction(now time.Time, maxAge time.Duration) calibration.Prediction {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.estimate == nil {
		return calibration.Prediction{Reason: "no estimate"}
	}
	if maxAge > 0 && now.Sub(s.estimate.Timestamp) > maxAge {
		return calibration.Prediction{Reason: "stale estimate"}
	}
	p := *s.estimate
	return calibration.Prediction{Point: &p}
}

// Estimate returns the latest smoothed point, if any.
func (s *Session) Estimate() (gaze.SmoothedPoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.estimate == nil {
		return gaze.SmoothedPoint{}, false
	}
	return *s.estimate, true
}

// SetViewport records the overlay surface size.
func (s *Session) SetViewport(vp gaze.Viewport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewport = vp
	if s.run != nil {
		s.run.SetViewport(vp)
	}
}

// Viewport returns the overlay surface size.
func (s *Session) Viewport() gaze.Viewport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewport
}

// beginCalibration replaces any run in progress with a fresh one.
func (s *Session) beginCalibration(points []calibration.Point) (calibration.Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, err := calibration.NewRun(points, s.viewport, s.calLog)
	if err != nil {
		return calibration.Target{}, err
	}
	s.run = run
	target, _ := run.Current()
	return target, nil
}

// acknowledge records p against pred. finished reports the end of the run.
func (s *Session) acknowledge(p calibration.Point, pred calibration.Prediction, now time.Time) (entry calibration.Entry, next *calibration.Target, finished bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run == nil {
		return calibration.Entry{}, nil, false, ErrNotCalibrating
	}
	entry, err = s.run.Acknowledge(p, pred, now)
	if errors.Is(err, calibration.ErrOutOfSequence) {
		return entry, nil, false, err
	}
	if t, ok := s.run.Current(); ok {
		next = &t
	} else {
		s.run = nil
		finished = true
	}
	return entry, next, finished, err
}

// Target returns the calibration target awaiting acknowledgement.
func (s *Session) Target() (calibration.Target, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return calibration.Target{}, false
	}
	return s.run.Current()
}

// CalibrationLog returns every entry recorded in this session.
func (s *Session) CalibrationLog() []calibration.Entry {
	return s.calLog.Entries()
}

// Frame renders the overlay state at now. Rendering prunes the trail.
func (s *Session) Frame(now time.Time, state State) protocol.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()

	frame := protocol.Frame{
		SessionID: s.ID,
		State:     string(state),
		Trail:     s.trail.Render(now),
	}
	if s.estimate != nil {
		frame.Cursor = &protocol.Point{X: s.estimate.X, Y: s.estimate.Y}
	}
	if s.run != nil {
		if t, ok := s.run.Current(); ok {
			frame.Target = protocolTarget(t)
		}
	}
	return frame
}

// Counts returns samples ingested, blinks seen and the trail length.
func (s *Session) Counts() (samples, blinks uint64, trailLen int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.samples, s.blinks, s.trail.Len()
}

func protocolTarget(t calibration.Target) *protocol.Target {
	return &protocol.Target{
		Index:  t.Index,
		Total:  t.Total,
		XRatio: t.Point.XRatio,
		YRatio: t.Point.YRatio,
		X:      t.X,
		Y:      t.Y,
	}
}
