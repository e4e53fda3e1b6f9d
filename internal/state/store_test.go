package state

import (
	"fmt"
	"testing"
	"time"
)

func TestGuildCreatedOnce(t *testing.T) {
	store := New(0, 0)
	a := store.Guild("g1")
	b := store.Guild("g1")
	if a != b {
		t.Fatalf("expected the same guild record")
	}
	if _, ok := store.Lookup("g2"); ok {
		t.Fatalf("lookup must not create guilds")
	}
	if store.Len() != 1 {
		t.Fatalf("expected 1 guild, got %d", store.Len())
	}
}

func TestActivityLogBounded(t *testing.T) {
	store := New(DefaultLogCapacity, time.Second)
	g := store.Guild("g1")
	base := time.Unix(0, 0)
	for i := 0; i < 150; i++ {
		g.Append(LogEntry{Type: "TEST", Description: fmt.Sprintf("e%d", i), Timestamp: base.Add(time.Duration(i) * time.Second)})
	}
	log := g.Log()
	if len(log) != 100 {
		t.Fatalf("expected 100 entries, got %d", len(log))
	}
	if log[0].Description != "e149" || log[99].Description != "e50" {
		t.Fatalf("expected newest-first with oldest evicted, got %s..%s", log[0].Description, log[99].Description)
	}
	if log[0].ID == "" {
		t.Fatalf("expected generated id")
	}
}

func TestTaggedSince(t *testing.T) {
	g := New(0, 0).Guild("g1")
	now := time.Unix(1000, 0)
	g.Append(LogEntry{Type: "BAN", Tag: TagNuke, Timestamp: now})
	g.Append(LogEntry{Type: "NOTE", Timestamp: now.Add(time.Minute)})
	if !g.TaggedSince(now.Add(-time.Second)) {
		t.Fatalf("expected tagged entry")
	}
	if g.TaggedSince(now) {
		t.Fatalf("untagged entries must not count")
	}
}

func TestTimeoutInvariant(t *testing.T) {
	g := New(0, 0).Guild("g1")
	now := time.Unix(1000, 0)
	if g.TrackTimeout(TimeoutRecord{UserID: "u1", StartedAt: now, ReleaseAt: now}) {
		t.Fatalf("release must be after start")
	}
	g.TrackTimeout(TimeoutRecord{UserID: "u1", StartedAt: now, ReleaseAt: now.Add(time.Minute)})
	g.TrackTimeout(TimeoutRecord{UserID: "u2", StartedAt: now, ReleaseAt: now.Add(time.Hour)})

	expired := g.ExpireTimeouts(now.Add(2 * time.Minute))
	if len(expired) != 1 || expired[0].UserID != "u1" {
		t.Fatalf("expected u1 expired, got %+v", expired)
	}
	if g.TimeoutCount() != 1 {
		t.Fatalf("expected one remaining timeout")
	}
	if _, ok := g.DropTimeout("u1"); ok {
		t.Fatalf("u1 is no longer tracked")
	}
}

func TestWhitelistSnapshotIsCopy(t *testing.T) {
	g := New(0, 0).Guild("g1")
	g.AddBot("b1")
	if g.AddBot("b1") {
		t.Fatalf("duplicate add should report false")
	}
	snapshot := g.Whitelist()
	g.RemoveBot("b1")
	if !snapshot.HasBot("b1") {
		t.Fatalf("snapshot must not change after mutation")
	}
	if g.HasBot("b1") {
		t.Fatalf("bot should be removed")
	}
}

func TestAllowRefreshThrottle(t *testing.T) {
	g := New(0, time.Second).Guild("g1")
	now := time.Unix(1000, 0)
	if !g.AllowRefresh(now) {
		t.Fatalf("first refresh allowed")
	}
	if g.AllowRefresh(now.Add(200 * time.Millisecond)) {
		t.Fatalf("second refresh inside a second must be throttled")
	}
	if !g.AllowRefresh(now.Add(1100 * time.Millisecond)) {
		t.Fatalf("refresh allowed after a second")
	}
	if !g.LastRefresh().Equal(now.Add(1100 * time.Millisecond)) {
		t.Fatalf("unexpected last refresh %s", g.LastRefresh())
	}
}

func TestMassActionCounters(t *testing.T) {
	g := New(0, 0).Guild("g1")
	now := time.Unix(1000, 0)
	g.RecordAction("a", "ROLE_CREATE", 5*time.Second, now)
	if count := g.RecordAction("a", "ROLE_CREATE", 5*time.Second, now.Add(time.Second)); count != 2 {
		t.Fatalf("expected 2, got %d", count)
	}
	if count := g.RecordAction("b", "ROLE_CREATE", 5*time.Second, now.Add(time.Second)); count != 1 {
		t.Fatalf("actors must be counted separately, got %d", count)
	}
	g.SweepCounters(now.Add(30*time.Second), 10*time.Second)
	if count := g.RecordAction("a", "ROLE_CREATE", 5*time.Second, now.Add(30*time.Second)); count != 1 {
		t.Fatalf("expected fresh count after sweep, got %d", count)
	}
}
