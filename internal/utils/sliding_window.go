package utils

import (
	"sync"
	"time"
)

// SlidingWindow counts occurrences over a trailing window. Entries at or
// before now-window are never counted.
type SlidingWindow struct {
	mu     sync.Mutex
	window time.Duration
	hits   []time.Time
}

func NewSlidingWindow(window time.Duration) *SlidingWindow {
	return &SlidingWindow{window: window}
}

func (w *SlidingWindow) Add(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.evictLocked(now.Add(-w.window))
	w.hits = append(w.hits, now)
	return len(w.hits)
}

// TryAdd records now only while fewer than limit hits are in the window.
func (w *SlidingWindow) TryAdd(now time.Time, limit int) (int, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.evictLocked(now.Add(-w.window))
	if len(w.hits) >= limit {
		return len(w.hits), false
	}
	w.hits = append(w.hits, now)
	return len(w.hits), true
}

func (w *SlidingWindow) Count(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.evictLocked(now.Add(-w.window))
	return len(w.hits)
}

// Evict drops every hit at or before cutoff and returns what remains.
func (w *SlidingWindow) Evict(cutoff time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.evictLocked(cutoff)
	return len(w.hits)
}

func (w *SlidingWindow) Reset() {
	w.mu.Lock()
	w.hits = nil
	w.mu.Unlock()
}

// evictLocked filters instead of trimming a prefix so that a late,
// out-of-order timestamp cannot keep older hits alive.
func (w *SlidingWindow) evictLocked(cutoff time.Time) {
	kept := w.hits[:0]
	for _, hit := range w.hits {
		if hit.After(cutoff) {
			kept = append(kept, hit)
		}
	}
	for i := len(kept); i < len(w.hits); i++ {
		w.hits[i] = time.Time{}
	}
	w.hits = kept
}
