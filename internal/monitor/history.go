package monitor

import (
	"sync"
	"time"

	"github.com/banshee-data/splatstream/internal/splat"
	"github.com/banshee-data/splatstream/internal/splat/framecache"
)

// StatsSource is the cache view the monitor reads.
type StatsSource interface {
	Stats() framecache.Stats
}

// Sample is one recorded cache snapshot.
type Sample struct {
	At    time.Time        `json:"at"`
	Stats framecache.Stats `json:"stats"`
}

// History keeps the most recent cache snapshots in arrival order.
type History struct {
	mu      sync.Mutex
	max     int
	samples []Sample
}

// NewHistory returns a history holding at most max samples.
func NewHistory(max int) *History {
	if max < 1 {
		max = 1
	}
	return &History{max: max}
}

// Add appends a sample, dropping the oldest when full.
func (h *History) Add(at time.Time, st framecache.Stats) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.samples) == h.max {
		copy(h.samples, h.samples[1:])
		h.samples = h.samples[:h.max-1]
	}
	h.samples = append(h.samples, Sample{At: at, Stats: st})
}

// Samples returns a copy of the recorded samples.
func (h *History) Samples() []Sample {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Sample(nil), h.samples...)
}

// LatestFrame is a framecache.Renderer that keeps the last presented frame
// for inspection.
type LatestFrame struct {
	mu    sync.RWMutex
	index int
	frame *splat.Frame
}

// Present records f as the latest frame.
func (l *LatestFrame) Present(index int, f *splat.Frame) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.index, l.frame = index, f
}

// Latest returns the last presented frame, if any.
func (l *LatestFrame) Latest() (int, *splat.Frame, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.index, l.frame, l.frame != nil
}
