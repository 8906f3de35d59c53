package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-gaze/pkg/gaze"
)

func TestSession_BlinkFlagIsEdgeTriggered(t *testing.T) {
	s, err := newSession("s1", time.Now(), DefaultOptions())
	require.NoError(t, err)

	flags := []bool{false, true, true, true, false, true, false}
	want := []bool{false, true, false, false, false, true, false}
	for i, flag := range flags {
		_, blinked := s.Ingest(gaze.Sample{X: 1, Y: 1, Blink: flag, Timestamp: time.Now()}, nil)
		assert.Equal(t, want[i], blinked, "record %d", i)
	}
	_, blinks, _ := s.Counts()
	assert.Equal(t, uint64(2), blinks)
}

func TestSession_BlinkFromEAR(t *testing.T) {
	s, err := newSession("s1", time.Now(), DefaultOptions())
	require.NoError(t, err)

	ears := []float64{0.3, 0.1, 0.1, 0.1, 0.3}
	var got int
	for _, ear := range ears {
		ear := ear
		if _, blinked := s.Ingest(gaze.Sample{X: 1, Y: 1, Timestamp: time.Now()}, &ear); blinked {
			got++
		}
	}
	assert.Equal(t, 1, got)
}

func TestSession_BlinkFlagTakesPrecedenceOverEAR(t *testing.T) {
	s, err := newSession("s1", time.Now(), DefaultOptions())
	require.NoError(t, err)

	records := []struct {
		ear   float64
		blink bool
	}{
		{0.3, false}, {0.1, true}, {0.1, true}, {0.1, true}, {0.3, false},
	}
	var got int
	for _, r := range records {
		ear := r.ear
		if _, blinked := s.Ingest(gaze.Sample{X: 1, Y: 1, Blink: r.blink, Timestamp: time.Now()}, &ear); blinked {
			got++
		}
	}
	assert.Equal(t, 1, got, "one blink, reported by the flag only")
}
