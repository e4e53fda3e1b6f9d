package utils

import (
	"sync"
	"time"
)

// KeyedWindow keeps one SlidingWindow per key. The window length is fixed
// when a key is first seen.
type KeyedWindow struct {
	mu      sync.Mutex
	windows map[string]*SlidingWindow
}

func NewKeyedWindow() *KeyedWindow {
	return &KeyedWindow{windows: make(map[string]*SlidingWindow)}
}

func (k *KeyedWindow) Record(key string, window time.Duration, now time.Time) int {
	return k.get(key, window).Add(now)
}

func (k *KeyedWindow) TryRecord(key string, window time.Duration, limit int, now time.Time) bool {
	_, ok := k.get(key, window).TryAdd(now, limit)
	return ok
}

func (k *KeyedWindow) Count(key string, now time.Time) int {
	k.mu.Lock()
	w := k.windows[key]
	k.mu.Unlock()
	if w == nil {
		return 0
	}
	return w.Count(now)
}

func (k *KeyedWindow) Reset(key string) {
	k.mu.Lock()
	delete(k.windows, key)
	k.mu.Unlock()
}

// Sweep drops entries older than maxAge from every key, whatever the key's
// own window, and forgets keys left empty. It returns the keys removed.
func (k *KeyedWindow) Sweep(now time.Time, maxAge time.Duration) int {
	cutoff := now.Add(-maxAge)
	k.mu.Lock()
	defer k.mu.Unlock()

	removed := 0
	for key, w := range k.windows {
		if w.Evict(cutoff) == 0 {
			delete(k.windows, key)
			removed++
		}
	}
	return removed
}

func (k *KeyedWindow) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.windows)
}

func (k *KeyedWindow) get(key string, window time.Duration) *SlidingWindow {
	k.mu.Lock()
	defer k.mu.Unlock()
	w := k.windows[key]
	if w == nil {
		w = NewSlidingWindow(window)
		k.windows[key] = w
	}
	return w
}
