package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("NUKESHIELD_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("NUKESHIELD_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	store, err := New(ctx, url)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func TestAuditLogRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	guildID := "g-" + uuid.NewString()
	entry := AuditLog{
		EntryID:    uuid.NewString(),
		GuildID:    guildID,
		Level:      "CRIT",
		Event:      "BAN",
		Tag:        "nuke",
		ExecutorID: "self",
		TargetID:   "u1",
		Details:    "MASS BAN ATTEMPT",
		CreatedAt:  time.Now().UTC(),
	}
	if err := store.AddAuditLog(ctx, entry); err != nil {
		t.Fatalf("add audit log: %v", err)
	}
	if err := store.AddAuditLog(ctx, entry); err != nil {
		t.Fatalf("duplicate entry should be ignored: %v", err)
	}

	logs, err := store.ListAuditLogs(ctx, guildID, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}
	if len(logs) != 1 || logs[0].Details != "MASS BAN ATTEMPT" {
		t.Fatalf("unexpected logs %+v", logs)
	}
}

func TestRecordInfractionAccumulates(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	guildID := "g-" + uuid.NewString()
	now := time.Now().UTC()
	for i := 0; i < 2; i++ {
		if err := store.RecordInfraction(ctx, guildID, "u1", "BAN", "ban", now); err != nil {
			t.Fatalf("record infraction: %v", err)
		}
	}
	inf, err := store.GetInfraction(ctx, guildID, "u1", "BAN")
	if err != nil {
		t.Fatalf("get infraction: %v", err)
	}
	if inf.CountTotal != 2 {
		t.Fatalf("expected 2, got %d", inf.CountTotal)
	}
}
