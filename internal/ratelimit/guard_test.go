package ratelimit

import (
	"testing"
	"time"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

func TestGuardSuppressesAfterThreeCalls(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	guard := New(3, time.Second)
	guard.WithClock(clock)

	for i := 0; i < 3; i++ {
		if guard.ShouldSuppress("u1", "ban") {
			t.Fatalf("call %d should pass", i)
		}
		clock.now = clock.now.Add(100 * time.Millisecond)
	}
	if !guard.ShouldSuppress("u1", "ban") {
		t.Fatalf("fourth call within a second should be suppressed")
	}
	if guard.ShouldSuppress("u1", "kick") {
		t.Fatalf("different action should not share the budget")
	}

	clock.now = clock.now.Add(time.Second)
	if guard.ShouldSuppress("u1", "ban") {
		t.Fatalf("budget should recover after the window")
	}
}

func TestGuardPurge(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	guard := New(3, time.Second)
	guard.WithClock(clock)
	guard.ShouldSuppress("u1", "ban")
	guard.ShouldSuppress("u2", "ban")

	clock.now = clock.now.Add(2 * time.Second)
	if removed := guard.Purge(); removed != 2 {
		t.Fatalf("expected 2 purged, got %d", removed)
	}
}
