package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/teslashibe/go-gaze/pkg/gaze"
)

// Sentinel errors for malformed gaze records.
var (
	// ErrMissingCoordinate is returned when x or y is absent.
	ErrMissingCoordinate = errors.New("protocol: record missing x or y")

	// ErrNonFinite is returned when a coordinate is NaN or infinite.
	ErrNonFinite = errors.New("protocol: non-finite coordinate")
)

// Record is the flat key-value object the browser tracker sends per sample:
//
//	{"x": 512.3, "y": 300.1, "blink": false}
//
// ear and t are optional extensions; a record carrying error reports that
// the tracker failed to initialise and carries no coordinates.
type Record struct {
	X     *float64 `json:"x,omitempty"`
	Y     *float64 `json:"y,omitempty"`
	Blink *bool    `json:"blink,omitempty"`
	EAR   *float64 `json:"ear,omitempty"` // eye aspect ratio
	T     *int64   `json:"t,omitempty"`   // producer clock, Unix ms
	Error string   `json:"error,omitempty"`
}

// NewRecord builds a coordinate record.
func NewRecord(x, y float64) Record {
	return Record{X: &x, Y: &y}
}

// WithBlink returns a copy with the blink flag set.
func (r Record) WithBlink(blink bool) Record {
	r.Blink = &blink
	return r
}

// WithEAR returns a copy carrying an eye aspect ratio.
func (r Record) WithEAR(ear float64) Record {
	r.EAR = &ear
	return r
}

// IsError reports whether the record signals a tracker failure.
func (r Record) IsError() bool {
	return r.Error != ""
}

// Validate checks the coordinates of a non-error record.
func (r Record) Validate() error {
	if r.IsError() {
		return nil
	}
	if r.X == nil || r.Y == nil {
		return ErrMissingCoordinate
	}
	if !gaze.Finite(*r.X, *r.Y) {
		return ErrNonFinite
	}
	if r.EAR != nil && !gaze.Finite(*r.EAR) {
		return ErrNonFinite
	}
	return nil
}

// Sample converts a valid record into a gaze sample received at now.
func (r Record) Sample(now time.Time) gaze.Sample {
	s := gaze.Sample{Timestamp: now}
	if r.X != nil {
		s.X = *r.X
	}
	if r.Y != nil {
		s.Y = *r.Y
	}
	if r.Blink != nil {
		s.Blink = *r.Blink
	}
	if r.T != nil {
		s.SourceTime = time.UnixMilli(*r.T)
	}
	return s
}

// Bytes returns the JSON encoding of the record.
func (r Record) Bytes() ([]byte, error) {
	return json.Marshal(r)
}

// RecordError describes one rejected line of a frame.
type RecordError struct {
	Line int
	Err  error
}

// Error implements the error interface.
func (e *RecordError) Error() string {
	return fmt.Sprintf("protocol: record %d: %v", e.Line, e.Err)
}

// Unwrap returns the underlying error.
func (e *RecordError) Unwrap() error {
	return e.Err
}

// ParseRecords decodes a frame holding one record per line.
// Valid records are returned in order even when some lines fail; the
// failures are returned alongside.
func ParseRecords(data []byte) ([]Record, []error) {
	var (
		records []Record
		errs    []error
	)
	for i, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(line, &r); err != nil {
			errs = append(errs, &RecordError{Line: i, Err: err})
			continue
		}
		if err := r.Validate(); err != nil {
			errs = append(errs, &RecordError{Line: i, Err: err})
			continue
		}
		records = append(records, r)
	}
	return records, errs
}
