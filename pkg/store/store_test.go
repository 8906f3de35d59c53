package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-gaze/pkg/calibration"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "gaze.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_Migrates(t *testing.T) {
	s := openTestStore(t)

	version, dirty, err := s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	// Idempotent.
	require.NoError(t, s.MigrateUp())
}

func TestSessionLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	started := time.Unix(1700000000, 123)

	require.NoError(t, s.CreateSession(ctx, SessionRecord{ID: "a", PID: 42, StartedAt: started}))
	require.NoError(t, s.CreateSession(ctx, SessionRecord{ID: "b", PID: 43, StartedAt: started.Add(time.Minute)}))

	latest, err := s.LatestSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", latest.ID)
	assert.Nil(t, latest.EndedAt)

	ended := started.Add(2 * time.Minute)
	require.NoError(t, s.EndSession(ctx, "a", ended, "stopped"))

	rec, err := s.Session(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 42, rec.PID)
	assert.True(t, rec.StartedAt.Equal(started))
	require.NotNil(t, rec.EndedAt)
	assert.True(t, rec.EndedAt.Equal(ended))
	assert.Equal(t, "stopped", rec.EndReason)

	all, err := s.Sessions(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = s.Session(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.EndSession(ctx, "missing", ended, "x"), ErrNotFound)
}

func TestLatestSession_Empty(t *testing.T) {
	s := openTestStore(t)
	_, err := s.LatestSession(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEntries_RoundTripWithMissing(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, SessionRecord{ID: "s", PID: 1, StartedAt: time.Now()}))

	gx, gy, d := 103.0, 54.0, 5.0
	ts := time.Unix(1700000000, 0)
	want := []calibration.Entry{
		{Seq: 0, Timestamp: ts, TargetX: 100, TargetY: 50, GazeX: &gx, GazeY: &gy, Distance: &d},
		{Seq: 1, Timestamp: ts.Add(time.Second), TargetX: 500, TargetY: 250},
	}
	for _, e := range want {
		require.NoError(t, s.AppendEntry(ctx, "s", e))
	}

	got, err := s.Entries(ctx, "s")
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}

	none, err := s.Entries(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestAppendEntry_DuplicateSeq(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, SessionRecord{ID: "s", PID: 1, StartedAt: time.Now()}))

	e := calibration.Entry{Seq: 0, Timestamp: time.Now()}
	require.NoError(t, s.AppendEntry(ctx, "s", e))
	assert.Error(t, s.AppendEntry(ctx, "s", e))
}
