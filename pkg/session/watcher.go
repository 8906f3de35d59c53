package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/teslashibe/go-gaze/internal/log"
)

// Watcher reports when another process takes over the marker.
type Watcher struct {
	marker    *Marker
	pid       int
	onPreempt func(pid int)
	log       *slog.Logger
}

// NewWatcher watches marker on behalf of pid. onPreempt runs on the
// watcher goroutine with the new owner's PID.
func NewWatcher(marker *Marker, pid int, onPreempt func(pid int)) *Watcher {
	return &Watcher{
		marker:    marker,
		pid:       pid,
		onPreempt: onPreempt,
		log:       log.Component("marker"),
	}
}

// Run watches until ctx is cancelled or a preemption is seen.
// The marker's directory is watched since the file is replaced by rename.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("session: marker watcher: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(w.marker.Path())
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("session: watch %s: %w", dir, err)
	}
	w.log.Debug("watching marker", "path", w.marker.Path())

	name := filepath.Clean(w.marker.Path())
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if owner, ok := w.check(); ok {
				w.log.Warn("marker taken over", "owner", owner)
				if w.onPreempt != nil {
					w.onPreempt(owner)
				}
				return nil
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("marker watcher error", "err", err)
		}
	}
}

// check reads the marker and reports a foreign owner.
func (w *Watcher) check() (int, bool) {
	owner, err := w.marker.Read()
	if errors.Is(err, ErrNoMarker) {
		return 0, false
	}
	if err != nil {
		// Partially written or corrupt; the next event settles it.
		return 0, false
	}
	return owner, owner != w.pid
}
