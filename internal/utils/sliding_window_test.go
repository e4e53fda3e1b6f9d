package utils

import (
	"testing"
	"time"
)

func TestSlidingWindowAdd(t *testing.T) {
	window := NewSlidingWindow(2 * time.Second)
	now := time.Now()
	if count := window.Add(now); count != 1 {
		t.Fatalf("expected 1, got %d", count)
	}
	window.Add(now.Add(500 * time.Millisecond))
	if count := window.Count(now.Add(1 * time.Second)); count != 2 {
		t.Fatalf("expected 2, got %d", count)
	}
	if count := window.Count(now.Add(3 * time.Second)); count != 0 {
		t.Fatalf("expected 0, got %d", count)
	}
}

func TestSlidingWindowExcludesBoundary(t *testing.T) {
	window := NewSlidingWindow(5 * time.Second)
	start := time.Unix(100, 0)
	window.Add(start)
	if count := window.Add(start.Add(5 * time.Second)); count != 1 {
		t.Fatalf("entry exactly one window old must not count, got %d", count)
	}
}

func TestSlidingWindowOutOfOrder(t *testing.T) {
	window := NewSlidingWindow(10 * time.Second)
	start := time.Unix(100, 0)
	window.Add(start.Add(8 * time.Second))
	window.Add(start)
	if count := window.Count(start.Add(12 * time.Second)); count != 1 {
		t.Fatalf("expected stale out-of-order hit evicted, got %d", count)
	}
}

func TestSlidingWindowTryAdd(t *testing.T) {
	window := NewSlidingWindow(time.Second)
	now := time.Unix(0, 0)
	for i := 0; i < 3; i++ {
		if _, ok := window.TryAdd(now.Add(time.Duration(i)*time.Millisecond), 3); !ok {
			t.Fatalf("attempt %d should be recorded", i)
		}
	}
	if count, ok := window.TryAdd(now.Add(10*time.Millisecond), 3); ok || count != 3 {
		t.Fatalf("expected refusal at limit, got ok=%v count=%d", ok, count)
	}
	if _, ok := window.TryAdd(now.Add(1100*time.Millisecond), 3); !ok {
		t.Fatalf("expected room once the window moved")
	}
}

func TestKeyedWindowSweep(t *testing.T) {
	keyed := NewKeyedWindow()
	now := time.Unix(1000, 0)
	keyed.Record("a", 15*time.Second, now)
	keyed.Record("a", 15*time.Second, now.Add(12*time.Second))
	keyed.Record("b", 5*time.Second, now)

	removed := keyed.Sweep(now.Add(14*time.Second), 10*time.Second)
	if removed != 1 {
		t.Fatalf("expected one key removed, got %d", removed)
	}
	if keyed.Len() != 1 {
		t.Fatalf("expected one key left, got %d", keyed.Len())
	}
	if count := keyed.Count("a", now.Add(14*time.Second)); count != 1 {
		t.Fatalf("sweep should drop entries older than max age, got %d", count)
	}
}

func TestRingNewestFirst(t *testing.T) {
	ring := NewRing[int](3)
	for i := 1; i <= 5; i++ {
		ring.Push(i)
	}
	items := ring.Items()
	if len(items) != 3 || items[0] != 5 || items[2] != 3 {
		t.Fatalf("unexpected ring contents %v", items)
	}
	if ring.Len() != 3 || ring.Cap() != 3 {
		t.Fatalf("unexpected size %d/%d", ring.Len(), ring.Cap())
	}
}

func TestMatchKeyword(t *testing.T) {
	if kw, ok := MatchKeyword("Server-NUKER", []string{"raid", "nuke"}); !ok || kw != "nuke" {
		t.Fatalf("expected nuke match, got %q %v", kw, ok)
	}
	if _, ok := MatchKeyword("general-chat", []string{"nuke", "raid"}); ok {
		t.Fatalf("unexpected match")
	}
}
