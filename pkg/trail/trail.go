// Package trail keeps a time-windowed history of smoothed gaze points
// for fading-trail rendering.
package trail

import (
	"sync"
	"time"

	"github.com/teslashibe/go-gaze/pkg/gaze"
)

// DefaultWindow is how long a point stays visible.
const DefaultWindow = 3000 * time.Millisecond

// Entry is one point in the trail.
type Entry struct {
	X          float64
	Y          float64
	InsertedAt time.Time
}

// Dot is an entry ready to draw.
type Dot struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Alpha float64 `json:"alpha"`
}

// Buffer holds exactly the entries inserted within the last window, in
// insertion order, as long as Prune or Render is called each tick.
// Nothing evicts entries otherwise.
type Buffer struct {
	mu      sync.Mutex
	window  time.Duration
	entries []Entry
	head    int // index of the oldest live entry
}

// New creates a buffer with the given window. Non-positive means DefaultWindow.
func New(window time.Duration) *Buffer {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Buffer{window: window}
}

// Window returns the fade window.
func (b *Buffer) Window() time.Duration {
	return b.window
}

// Insert appends a point.
func (b *Buffer) Insert(p gaze.SmoothedPoint, now time.Time) {
	b.mu.Lock()
	b.entries = append(b.entries, Entry{X: p.X, Y: p.Y, InsertedAt: now})
	b.mu.Unlock()
}

// Prune drops every entry whose age is at least the window and returns how many were removed.
func (b *Buffer) Prune(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.prune(now)
}

func (b *Buffer) prune(now time.Time) int {
	start := b.head
	for b.head < len(b.entries) && now.Sub(b.entries[b.head].InsertedAt) >= b.window {
		b.head++
	}
	removed := b.head - start

	// Compact once the dead prefix dominates the slice
	if b.head > 0 && b.head >= len(b.entries)/2 {
		n := copy(b.entries, b.entries[b.head:])
		clear(b.entries[n:])
		b.entries = b.entries[:n]
		b.head = 0
	}
	return removed
}

// Render prunes and returns the surviving entries with their opacity,
// oldest first. Opacity falls linearly from 1 to 0 over the window.
func (b *Buffer) Render(now time.Time) []Dot {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.prune(now)
	live := b.entries[b.head:]
	dots := make([]Dot, 0, len(live))
	for _, e := range live {
		age := now.Sub(e.InsertedAt)
		alpha := 1 - float64(age)/float64(b.window)
		dots = append(dots, Dot{X: e.X, Y: e.Y, Alpha: clamp(alpha, 0, 1)})
	}
	return dots
}

// Entries returns a copy of the live entries without pruning.
func (b *Buffer) Entries() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Entry(nil), b.entries[b.head:]...)
}

// Len returns the number of live entries.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries) - b.head
}

// Reset empties the buffer.
func (b *Buffer) Reset() {
	b.mu.Lock()
	b.entries = nil
	b.head = 0
	b.mu.Unlock()
}

func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
