package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_DetectsTakeover(t *testing.T) {
	m := NewMarker(filepath.Join(t.TempDir(), "gaze.pid"))
	require.NoError(t, m.Write(1))

	preempted := make(chan int, 1)
	w := NewWatcher(m, 1, func(pid int) { preempted <- pid })

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()
	time.Sleep(100 * time.Millisecond)

	// Rewriting our own PID is not a takeover.
	require.NoError(t, m.Write(1))
	// Neither is an unrelated file in the same directory.
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(m.Path()), "other"), []byte("2\n"), 0o644))

	select {
	case pid := <-preempted:
		t.Fatalf("unexpected preemption by %d", pid)
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, m.Write(2))

	select {
	case pid := <-preempted:
		assert.Equal(t, 2, pid)
	case <-time.After(2 * time.Second):
		t.Fatal("takeover not detected")
	}
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after takeover")
	}
}

func TestWatcher_StopsOnCancel(t *testing.T) {
	m := NewMarker(filepath.Join(t.TempDir(), "gaze.pid"))
	w := NewWatcher(m, 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
