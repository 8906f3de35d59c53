package calibration

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	// ErrEmptySequence is returned when a run is started with no points.
	ErrEmptySequence = errors.New("calibration: empty point sequence")

	// ErrInvalidPoint is returned for a ratio outside [0,1].
	ErrInvalidPoint = errors.New("calibration: point ratio outside [0,1]")

	// ErrOutOfSequence is returned when the acknowledged point is not the
	// current target, or the run has finished.
	ErrOutOfSequence = errors.New("calibration: point acknowledged out of sequence")

	// ErrPredictionUnavailable is matched by every PredictionUnavailableError.
	ErrPredictionUnavailable = errors.New("calibration: no gaze prediction available")

	// ErrUnknownFormat is returned for an unsupported export format.
	ErrUnknownFormat = errors.New("calibration: unknown export format")
)

// ReasonViewportUnknown is the PredictionUnavailableError reason for a
// target acknowledged before any viewport size was known.
const ReasonViewportUnknown = "viewport unknown"

// PredictionUnavailableError reports an acknowledgement that was recorded
// without a distance because no usable gaze estimate existed. It is not
// fatal: the run has already advanced when it is returned.
type PredictionUnavailableError struct {
	// Index is the position of the acknowledged point in the sequence.
	Index int

	// Point is the acknowledged target.
	Point Point

	// Reason says why no distance was recorded, e.g. "no estimate",
	// "stale estimate" or ReasonViewportUnknown.
	Reason string
}

// Error implements the error interface.
func (e *PredictionUnavailableError) Error() string {
	return fmt.Sprintf("calibration: point %d (%.2f, %.2f): no gaze prediction (%s)",
		e.Index, e.Point.XRatio, e.Point.YRatio, e.Reason)
}

// Is makes errors.Is(err, ErrPredictionUnavailable) true.
func (e *PredictionUnavailableError) Is(target error) bool {
	return target == ErrPredictionUnavailable
}
