// Package calibration runs fixed sequences of on-screen targets and logs how
// far the filtered gaze estimate was from each target when it was
// acknowledged.
package calibration

import (
	"fmt"
	"sync"
	"time"

	"github.com/teslashibe/go-gaze/pkg/gaze"
)

// Point is a target position as a fraction of the viewport.
type Point struct {
	XRatio float64 `json:"x_ratio" yaml:"x_ratio"`
	YRatio float64 `json:"y_ratio" yaml:"y_ratio"`
}

// Validate checks that both ratios lie in [0,1].
func (p Point) Validate() error {
	if !gaze.Finite(p.XRatio, p.YRatio) ||
		p.XRatio < 0 || p.XRatio > 1 || p.YRatio < 0 || p.YRatio > 1 {
		return fmt.Errorf("%w: (%v, %v)", ErrInvalidPoint, p.XRatio, p.YRatio)
	}
	return nil
}

// DefaultPoints returns the 9-point grid at 0.1, 0.5 and 0.9, row by row.
func DefaultPoints() []Point {
	ratios := []float64{0.1, 0.5, 0.9}
	points := make([]Point, 0, 9)
	for _, y := range ratios {
		for _, x := range ratios {
			points = append(points, Point{XRatio: x, YRatio: y})
		}
	}
	return points
}

// PointsFromPairs converts [x, y] ratio pairs, as written in config files.
func PointsFromPairs(pairs [][2]float64) ([]Point, error) {
	points := make([]Point, len(pairs))
	for i, pair := range pairs {
		points[i] = Point{XRatio: pair[0], YRatio: pair[1]}
		if err := points[i].Validate(); err != nil {
			return nil, fmt.Errorf("point %d: %w", i, err)
		}
	}
	return points, nil
}

// Entry is one acknowledged target. Gaze and Distance are nil when no
// prediction was available.
type Entry struct {
	Seq       int       `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	TargetX   float64   `json:"target_x"`
	TargetY   float64   `json:"target_y"`
	GazeX     *float64  `json:"gaze_x"`
	GazeY     *float64  `json:"gaze_y"`
	Distance  *float64  `json:"distance"`
}

// Missing reports whether the entry has no distance.
func (e Entry) Missing() bool {
	return e.Distance == nil
}

// Log accumulates entries across every run of a session.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewLog creates an empty log.
func NewLog() *Log {
	return &Log{}
}

// Append adds an entry, numbering it.
func (l *Log) Append(e Entry) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.Seq = len(l.entries)
	l.entries = append(l.entries, e)
	return e
}

// Entries returns a copy of the logged entries.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Entry(nil), l.entries...)
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Target is the current point resolved against the viewport.
type Target struct {
	Index int     `json:"index"`
	Total int     `json:"total"`
	Point Point   `json:"point"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

// Run is one pass through an ordered point sequence. It is not safe for
// concurrent use; the session serialises access.
type Run struct {
	points   []Point
	viewport gaze.Viewport
	index    int
	log      *Log
}

// NewRun starts a sequence at index 0, logging into log.
func NewRun(points []Point, vp gaze.Viewport, log *Log) (*Run, error) {
	if len(points) == 0 {
		return nil, ErrEmptySequence
	}
	for i, p := range points {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("point %d: %w", i, err)
		}
	}
	if log == nil {
		log = NewLog()
	}
	return &Run{
		points:   append([]Point(nil), points...),
		viewport: vp,
		log:      log,
	}, nil
}

// SetViewport changes the surface targets are resolved against.
func (r *Run) SetViewport(vp gaze.Viewport) {
	r.viewport = vp
}

// Index returns the position of the current target.
func (r *Run) Index() int { return r.index }

// Total returns the sequence length.
func (r *Run) Total() int { return len(r.points) }

// Finished reports whether every point has been acknowledged.
func (r *Run) Finished() bool { return r.index >= len(r.points) }

// Current returns the current target, false once finished.
func (r *Run) Current() (Target, bool) {
	if r.Finished() {
		return Target{}, false
	}
	p := r.points[r.index]
	x, y := r.viewport.Resolve(p.XRatio, p.YRatio)
	return Target{Index: r.index, Total: len(r.points), Point: p, X: x, Y: y}, true
}

// Prediction is the gaze estimate offered at acknowledgement. A nil
// Point with a Reason means no estimate was usable.
type Prediction struct {
	Point  *gaze.SmoothedPoint
	Reason string
}

// Acknowledge records the current target against the prediction and
// advances. p must equal the current target. With no usable prediction, or
// no known viewport to place the target on, the entry is still recorded
// without a distance and a *PredictionUnavailableError is returned
// alongside it.
func (r *Run) Acknowledge(p Point, pred Prediction, now time.Time) (Entry, error) {
	target, ok := r.Current()
	if !ok {
		return Entry{}, fmt.Errorf("%w: sequence finished", ErrOutOfSequence)
	}
	if p != target.Point {
		return Entry{}, fmt.Errorf("%w: got (%v, %v), want (%v, %v)",
			ErrOutOfSequence, p.XRatio, p.YRatio, target.Point.XRatio, target.Point.YRatio)
	}

	entry := Entry{
		Timestamp: now,
		TargetX:   target.X,
		TargetY:   target.Y,
	}

	var err error
	switch {
	case pred.Point == nil:
		reason := pred.Reason
		if reason == "" {
			reason = "no estimate"
		}
		err = &PredictionUnavailableError{Index: target.Index, Point: p, Reason: reason}
	case !r.viewport.Known():
		// The target has no screen position, so there is nothing to measure against.
		gx, gy := pred.Point.X, pred.Point.Y
		entry.GazeX, entry.GazeY = &gx, &gy
		err = &PredictionUnavailableError{Index: target.Index, Point: p, Reason: ReasonViewportUnknown}
	default:
		gx, gy := pred.Point.X, pred.Point.Y
		d := gaze.Distance(gx, gy, target.X, target.Y)
		entry.GazeX, entry.GazeY, entry.Distance = &gx, &gy, &d
	}

	entry = r.log.Append(entry)
	r.index++
	return entry, err
}
