package bot

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"testing"
	"time"

	"nukeshield/internal/config"
	"nukeshield/internal/engine"
	"nukeshield/internal/policy"

	"github.com/bwmarrin/discordgo"
)

const discordEpochMillis = 1420070400000

func snowflakeAt(t time.Time) string {
	return strconv.FormatInt((t.UnixMilli()-discordEpochMillis)<<22, 10)
}

func TestMatchEntry(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	entries := []*discordgo.AuditLogEntry{
		nil,
		{ID: snowflakeAt(now.Add(-2 * time.Second)), TargetID: "other", UserID: "u1"},
		{ID: snowflakeAt(now.Add(-30 * time.Second)), TargetID: "target", UserID: "stale"},
		{ID: snowflakeAt(now.Add(-3 * time.Second)), TargetID: "target", UserID: "u2"},
	}

	got := matchEntry(entries, "target", now, 10*time.Second)
	if got == nil || got.UserID != "u2" {
		t.Fatalf("expected u2, got %+v", got)
	}
	if got := matchEntry(entries, "missing", now, 10*time.Second); got != nil {
		t.Fatalf("expected no entry, got %+v", got)
	}
	if got := matchEntry(entries[2:3], "target", now, 10*time.Second); got != nil {
		t.Fatalf("stale entry must not be trusted, got %+v", got)
	}
	if got := matchEntry(entries, "", now, 10*time.Second); got == nil || got.UserID != "u1" {
		t.Fatalf("empty target should match the first fresh entry, got %+v", got)
	}
}

func TestDangerousRoles(t *testing.T) {
	roles := []*discordgo.Role{
		{ID: "admin", Permissions: discordgo.PermissionAdministrator},
		{ID: "mod", Permissions: discordgo.PermissionBanMembers},
		{ID: "chat", Permissions: discordgo.PermissionSendMessages},
		{ID: "integration", Permissions: discordgo.PermissionAdministrator, Managed: true},
	}
	got := dangerousRoles(roles, []string{"chat", "admin", "integration", "unknown", "mod"})
	if len(got) != 2 || got[0] != "admin" || got[1] != "mod" {
		t.Fatalf("unexpected dangerous roles: %v", got)
	}
}

func TestAuditActionsCoverResolvableKinds(t *testing.T) {
	kinds := []policy.Category{
		policy.ChannelCreate, policy.ChannelDelete, policy.ChannelUpdate, policy.WebhookCreate,
		policy.RoleCreate, policy.RoleUpdate, policy.RoleDelete, policy.BotAdd,
		policy.MemberBan, policy.MemberKick, engine.MemberUpdate,
	}
	for _, kind := range kinds {
		if _, ok := auditActions[kind]; !ok {
			t.Fatalf("no audit action for %s", kind)
		}
	}
	if _, ok := auditActions[engine.MemberJoin]; ok {
		t.Fatalf("joins have no executor to resolve")
	}
}

func TestPermanentREST(t *testing.T) {
	forbidden := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusForbidden}}
	if !permanentREST(fmt.Errorf("audit log: %w", forbidden)) {
		t.Fatalf("403 should not be retried")
	}
	busy := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusBadGateway}}
	if permanentREST(busy) {
		t.Fatalf("502 should be retried")
	}
	if permanentREST(errors.New("timeout")) {
		t.Fatalf("transport errors should be retried")
	}
}

func TestChannelDiff(t *testing.T) {
	cache := newEntityCache()
	before := &discordgo.Channel{ID: "c1", Name: "general", Position: 1, PermissionOverwrites: []*discordgo.PermissionOverwrite{
		{ID: "r1", Allow: 1}, {ID: "r2", Deny: 2},
	}}
	if _, ok := cache.putChannel(before); ok {
		t.Fatalf("first put should report no previous snapshot")
	}

	reordered := &discordgo.Channel{ID: "c1", Name: "general", Position: 1, PermissionOverwrites: []*discordgo.PermissionOverwrite{
		{ID: "r2", Deny: 2}, {ID: "r1", Allow: 1},
	}}
	prev, ok := cache.putChannel(reordered)
	if !ok {
		t.Fatalf("expected previous snapshot")
	}
	diff := channelDiff(prev, snapshotChannel(reordered))
	if diff.NameChanged() || diff.PositionChanged || diff.OverwritesChanged {
		t.Fatalf("overwrite order alone is not a change: %+v", diff)
	}

	renamed := &discordgo.Channel{ID: "c1", Name: "nuked", Position: 4}
	prev, _ = cache.putChannel(renamed)
	diff = channelDiff(prev, snapshotChannel(renamed))
	if diff.OldName != "general" || diff.NewName != "nuked" || !diff.PositionChanged || !diff.OverwritesChanged {
		t.Fatalf("unexpected diff: %+v", diff)
	}

	if _, ok := cache.dropChannel("c1"); !ok {
		t.Fatalf("expected snapshot on delete")
	}
	if _, ok := cache.dropChannel("c1"); ok {
		t.Fatalf("snapshot should be gone")
	}
}

func TestRoleDiff(t *testing.T) {
	cache := newEntityCache()
	cache.putRole(&discordgo.Role{ID: "r1", Name: "Member", Permissions: discordgo.PermissionSendMessages})
	prev, ok := cache.putRole(&discordgo.Role{ID: "r1", Name: "Member", Permissions: discordgo.PermissionSendMessages | discordgo.PermissionAdministrator})
	if !ok {
		t.Fatalf("expected previous snapshot")
	}
	diff := roleDiff(prev, roleSnapshot{name: "Member", permissions: discordgo.PermissionSendMessages | discordgo.PermissionAdministrator})
	if diff.AddedPermissions() != discordgo.PermissionAdministrator {
		t.Fatalf("expected administrator to be added, got %d", diff.AddedPermissions())
	}
	deleted, ok := cache.dropRole("r1")
	if !ok || deleted.name != "Member" {
		t.Fatalf("expected deleted role name, got %+v", deleted)
	}
}

func TestNewWebhooks(t *testing.T) {
	cache := newEntityCache()
	cache.seedWebhooks("g1", []*discordgo.Webhook{{ID: "w1", ChannelID: "c1"}})

	fresh := cache.newWebhooks("g1", "c1", []*discordgo.Webhook{{ID: "w1", ChannelID: "c1"}, {ID: "w2", ChannelID: "c1"}})
	if len(fresh) != 1 || fresh[0].ID != "w2" {
		t.Fatalf("expected only w2 to be new, got %+v", fresh)
	}
	if fresh := cache.newWebhooks("g1", "c1", []*discordgo.Webhook{{ID: "w2", ChannelID: "c1"}}); len(fresh) != 0 {
		t.Fatalf("deletion is not a creation, got %+v", fresh)
	}

	if fresh := cache.newWebhooks("g2", "c9", []*discordgo.Webhook{{ID: "w9", ChannelID: "c9"}}); len(fresh) != 0 {
		t.Fatalf("unseeded guild must not report webhooks, got %+v", fresh)
	}
	if fresh := cache.newWebhooks("g2", "c9", []*discordgo.Webhook{{ID: "w9", ChannelID: "c9"}, {ID: "w10", ChannelID: "c9"}}); len(fresh) != 1 {
		t.Fatalf("expected w10 after first listing, got %+v", fresh)
	}
}

func TestParseID(t *testing.T) {
	cases := map[string]string{
		"123456789012345678":      "123456789012345678",
		" <@&123456789012345678>": "123456789012345678",
		"<@!123456789012345678>":  "123456789012345678",
		"<@123456789012345678>":   "123456789012345678",
		"<#123456789012345678>":   "123456789012345678",
		"<@&broken":               "<@&broken",
	}
	for in, want := range cases {
		if got := parseID(in); got != want {
			t.Fatalf("parseID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestOptionString(t *testing.T) {
	options := []*discordgo.ApplicationCommandInteractionDataOption{
		{Name: "count", Type: discordgo.ApplicationCommandOptionInteger, Value: float64(3)},
		{Name: "user", Type: discordgo.ApplicationCommandOptionUser, Value: "42"},
	}
	if got := optionString(options, "user"); got != "42" {
		t.Fatalf("expected 42, got %q", got)
	}
	if got := optionString(options, "count"); got != "" {
		t.Fatalf("non-string values are ignored, got %q", got)
	}
}

func TestFindChannel(t *testing.T) {
	channels := []*discordgo.Channel{
		{ID: "v", Name: "security-logs", Type: discordgo.ChannelTypeGuildVoice},
		{ID: "t", Name: "Security-Logs", Type: discordgo.ChannelTypeGuildText},
	}
	if got := findChannel(channels, "security-logs"); got != "t" {
		t.Fatalf("expected text channel, got %q", got)
	}
	if got := findChannel(channels, ""); got != "" {
		t.Fatalf("empty name matches nothing, got %q", got)
	}
}

func TestStatusEmbedColor(t *testing.T) {
	colors := config.DefaultConfig().Notifications.EmbedColors
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		snap engine.Snapshot
		want int
	}{
		{"calm", engine.Snapshot{At: at}, colors.OK},
		{"timeouts", engine.Snapshot{At: at, ActiveTimeouts: 2}, colors.Error},
		{"emergency", engine.Snapshot{At: at, ActiveTimeouts: 2, EmergencyMode: true}, colors.Warning},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			embed := statusEmbed("guild", tc.snap, colors)
			if embed.Color != tc.want {
				t.Fatalf("expected color %x, got %x", tc.want, embed.Color)
			}
			if len(embed.Fields) != 3 {
				t.Fatalf("expected 3 fields, got %d", len(embed.Fields))
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Fatalf("unexpected %q", got)
	}
	if got := truncate("ééééééé", 5); got != "éé..." {
		t.Fatalf("unexpected %q", got)
	}
}

func TestCommandsDefined(t *testing.T) {
	seen := make(map[string]bool)
	for _, cmd := range commands() {
		if seen[cmd.Name] {
			t.Fatalf("duplicate command %s", cmd.Name)
		}
		seen[cmd.Name] = true
	}
	for _, name := range []string{"monitoring", "whitelist", "release", "shield", "report", "help"} {
		if !seen[name] {
			t.Fatalf("missing command %s", name)
		}
	}
}

func TestFormatCounts(t *testing.T) {
	counts := map[string]int{"ban": 3, "kick": 3, "timeout": 5, "revert": 1}
	if got := formatCounts(counts, 3); got != "timeout: **5**\nban: **3**\nkick: **3**" {
		t.Fatalf("unexpected %q", got)
	}
	if got := formatCounts(nil, 3); got != "None" {
		t.Fatalf("unexpected %q", got)
	}
}

func TestOptionInt(t *testing.T) {
	options := []*discordgo.ApplicationCommandInteractionDataOption{
		{Name: "hours", Type: discordgo.ApplicationCommandOptionInteger, Value: float64(6)},
	}
	if got := optionInt(options, "hours", 24); got != 6 {
		t.Fatalf("expected 6, got %d", got)
	}
	if got := optionInt(nil, "hours", 24); got != 24 {
		t.Fatalf("expected fallback, got %d", got)
	}
}

func TestAttemptsFor(t *testing.T) {
	cfg := config.DefaultConfig().Resolver
	if got := attemptsFor(cfg, policy.MemberKick); got != 1 {
		t.Fatalf("departures get a single lookup, got %d", got)
	}
	if got := attemptsFor(cfg, policy.ChannelDelete); got != 5 {
		t.Fatalf("expected 5 attempts, got %d", got)
	}
	if got := attemptsFor(config.ResolverConfig{}, policy.RoleCreate); got != 1 {
		t.Fatalf("zero attempts still tries once, got %d", got)
	}
}
