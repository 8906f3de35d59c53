package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultMarkerPath is the well-known location of the session marker.
func DefaultMarkerPath() string {
	return filepath.Join(os.TempDir(), "go-gaze.pid")
}

// Marker is the file recording which process owns the active session. It
// holds the owner's PID in decimal followed by a newline.
type Marker struct {
	path string
}

// NewMarker returns a marker at path.
func NewMarker(path string) *Marker {
	return &Marker{path: path}
}

// Path returns the marker location.
func (m *Marker) Path() string {
	return m.path
}

// Read returns the recorded PID, or ErrNoMarker.
func (m *Marker) Read() (int, error) {
	data, err := os.ReadFile(m.path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, ErrNoMarker
	}
	if err != nil {
		return 0, fmt.Errorf("session: read marker: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("session: corrupt marker %q", strings.TrimSpace(string(data)))
	}
	return pid, nil
}

// Write atomically replaces the marker with pid.
func (m *Marker) Write(pid int) error {
	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("session: marker dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(m.path)+".*")
	if err != nil {
		return fmt.Errorf("session: write marker: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(strconv.Itoa(pid) + "\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("session: write marker: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("session: write marker: %w", err)
	}
	if err := os.Rename(tmp.Name(), m.path); err != nil {
		return fmt.Errorf("session: write marker: %w", err)
	}
	return nil
}

// RemoveIfOwner deletes the marker only while it still records pid.
func (m *Marker) RemoveIfOwner(pid int) (bool, error) {
	owner, err := m.Read()
	if errors.Is(err, ErrNoMarker) {
		return false, nil
	}
	if err != nil || owner != pid {
		return false, err
	}
	if err := os.Remove(m.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("session: remove marker: %w", err)
	}
	return true, nil
}
