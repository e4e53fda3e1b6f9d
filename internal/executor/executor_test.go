package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"nukeshield/internal/config"
	"nukeshield/internal/modules/audit"
	"nukeshield/internal/playbook"
	"nukeshield/internal/policy"
	"nukeshield/internal/ratelimit"
	"nukeshield/internal/state"

	"go.uber.org/zap"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

type fakePlatform struct {
	calls   []string
	banErr  error
	kickErr error
	timeout time.Duration
}

func (f *fakePlatform) Ban(ctx context.Context, guildID, userID, reason string) error {
	f.calls = append(f.calls, "ban:"+userID)
	return f.banErr
}

func (f *fakePlatform) Kick(ctx context.Context, guildID, userID, reason string) error {
	f.calls = append(f.calls, "kick:"+userID)
	return f.kickErr
}

func (f *fakePlatform) Timeout(ctx context.Context, guildID, userID string, d time.Duration, reason string) error {
	f.calls = append(f.calls, "timeout:"+userID)
	f.timeout = d
	return nil
}

func (f *fakePlatform) RevertRole(ctx context.Context, guildID, roleID string, permissions int64, name string) error {
	f.calls = append(f.calls, "revert:"+roleID)
	return nil
}

func (f *fakePlatform) DeleteEntity(ctx context.Context, guildID string, ref EntityRef, reason string) error {
	f.calls = append(f.calls, "delete:"+ref.ID)
	return nil
}

func (f *fakePlatform) RemoveRoles(ctx context.Context, guildID, userID string, roleIDs []string, reason string) error {
	f.calls = append(f.calls, "strip:"+userID)
	return nil
}

func newExecutor(cfg Config, platform Platform) (*Executor, *state.Store, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	guilds := state.New(0, 0)
	auditLogger := audit.NewLogger(guilds, nil, zap.NewNop())
	pb := playbook.New(playbook.Config{}, auditLogger)
	pb.WithClock(clock)
	exec := New(cfg, platform, ratelimit.New(3, time.Second), guilds, pb, auditLogger, nil, zap.NewNop())
	exec.WithClock(clock)
	return exec, guilds, clock
}

func channelCreateBan() Action {
	return Action{
		GuildID:  "g1",
		Category: policy.ChannelCreate,
		Decision: policy.Decision{
			Verdict: policy.Ban,
			Reason:  `UNAUTHORIZED CHANNEL CREATION: "spam"`,
			Effects: []policy.Effect{policy.EffectDeleteTarget, policy.EffectSanction},
		},
		Actor:            &policy.Actor{ID: "x", Tag: "x#0001"},
		DangerousRoleIDs: []string{"r1"},
		Target:           policy.Target{ID: "c1", Name: "spam"},
		Entity:           EntityRef{Kind: EntityChannel, ID: "c1", Name: "spam"},
		EventKey:         "evt-1",
	}
}

func TestApplyOrder(t *testing.T) {
	platform := &fakePlatform{}
	exec, guilds, _ := newExecutor(Config{}, platform)

	report := exec.Apply(context.Background(), channelCreateBan())
	want := []string{"delete:c1", "strip:x", "ban:x"}
	if len(platform.calls) != len(want) {
		t.Fatalf("expected calls %v, got %v", want, platform.calls)
	}
	for i := range want {
		if platform.calls[i] != want[i] {
			t.Fatalf("expected calls %v, got %v", want, platform.calls)
		}
	}
	if res, ok := report.Result(policy.EffectSanction); !ok || res.Err != nil {
		t.Fatalf("expected successful sanction, got %+v", res)
	}
	g := guilds.Guild("g1")
	if s := g.Stats(); s.Bans != 1 || s.NukeAttempts != 1 {
		t.Fatalf("unexpected stats %+v", s)
	}
	if !g.Emergency() {
		t.Fatalf("sanction should escalate emergency")
	}
}

func TestApplyIdempotentPerEvent(t *testing.T) {
	platform := &fakePlatform{}
	exec, _, _ := newExecutor(Config{}, platform)

	exec.Apply(context.Background(), channelCreateBan())
	before := len(platform.calls)
	report := exec.Apply(context.Background(), channelCreateBan())
	if len(platform.calls) != before {
		t.Fatalf("duplicate event issued calls: %v", platform.calls[before:])
	}
	if res, _ := report.Result(policy.EffectSanction); !res.Suppressed {
		t.Fatalf("expected sanction to be suppressed, got %+v", res)
	}
}

func TestRateGuardCapsCalls(t *testing.T) {
	platform := &fakePlatform{}
	exec, _, _ := newExecutor(Config{}, platform)

	for i := 0; i < 5; i++ {
		a := channelCreateBan()
		a.EventKey = ""
		a.Decision.Effects = []policy.Effect{policy.EffectSanction}
		a.DangerousRoleIDs = nil
		exec.Apply(context.Background(), a)
	}
	bans := 0
	for _, c := range platform.calls {
		if c == "ban:x" {
			bans++
		}
	}
	if bans != 3 {
		t.Fatalf("expected 3 bans within the guard window, got %d", bans)
	}
}

func TestBanFailureFallsBackToTimeout(t *testing.T) {
	platform := &fakePlatform{banErr: errors.New("missing permissions")}
	exec, guilds, _ := newExecutor(Config{
		BanFallbackTimeout: true,
		MaxTimeout:         28 * 24 * time.Hour,
		Timeouts:           map[policy.Category]time.Duration{policy.ChannelCreate: time.Hour},
	}, platform)

	report := exec.Apply(context.Background(), channelCreateBan())
	res, _ := report.Result(policy.EffectSanction)
	if !errors.Is(res.Err, ErrAction) {
		t.Fatalf("expected ErrAction, got %v", res.Err)
	}
	if !report.Fallback || platform.timeout != time.Hour {
		t.Fatalf("expected 1h fallback timeout, got %v (fallback=%v)", platform.timeout, report.Fallback)
	}
	g := guilds.Guild("g1")
	if _, ok := g.Timeout("x"); !ok {
		t.Fatalf("fallback timeout must be tracked")
	}
	if s := g.Stats(); s.Bans != 1 {
		t.Fatalf("failed ban still counts, got %+v", s)
	}
}

func TestRemoveBot(t *testing.T) {
	platform := &fakePlatform{}
	exec, guilds, _ := newExecutor(Config{}, platform)

	exec.Apply(context.Background(), Action{
		GuildID:  "g1",
		Category: policy.BotAdd,
		Decision: policy.Decision{Verdict: policy.Allow, Effects: []policy.Effect{policy.EffectRemoveBot}},
		Actor:    &policy.Actor{ID: "owner"},
		Target:   policy.Target{ID: "b1", Name: "evil", Bot: true},
	})
	if len(platform.calls) != 1 || platform.calls[0] != "kick:b1" {
		t.Fatalf("expected bot kick, got %v", platform.calls)
	}
	g := guilds.Guild("g1")
	if g.Stats().BlockedBots != 1 || g.FlaggedBots() != 1 {
		t.Fatalf("bot removal not recorded")
	}
	log := g.Log()
	if len(log) != 1 || log[0].Tag != state.TagBlocked {
		t.Fatalf("expected one blocked entry, got %+v", log)
	}
	if g.Emergency() {
		t.Fatalf("allowing the adder must not escalate")
	}
}

func TestAuditOnlySkipsPlatform(t *testing.T) {
	platform := &fakePlatform{}
	exec, guilds, _ := newExecutor(Config{AuditOnly: true}, platform)

	exec.Apply(context.Background(), channelCreateBan())
	if len(platform.calls) != 0 {
		t.Fatalf("audit mode issued calls: %v", platform.calls)
	}
	found := false
	for _, e := range guilds.Guild("g1").Log() {
		if e.Type == "AUDIT_ONLY" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected AUDIT_ONLY entries")
	}
}

func TestTimeoutForCapsAtMax(t *testing.T) {
	exec, _, _ := newExecutor(Config{
		MaxTimeout: 24 * time.Hour,
		Timeouts:   map[policy.Category]time.Duration{policy.BotAdd: 72 * time.Hour},
	}, &fakePlatform{})
	if d := exec.TimeoutFor(policy.BotAdd); d != 24*time.Hour {
		t.Fatalf("expected cap at 24h, got %v", d)
	}
	if d := exec.TimeoutFor(policy.RoleDelete); d != 24*time.Hour {
		t.Fatalf("expected default duration, got %v", d)
	}
}

func TestConfigFromTimeouts(t *testing.T) {
	cfg := config.DefaultConfig()
	exec, _, _ := newExecutor(ConfigFrom(cfg), &fakePlatform{})
	cases := map[policy.Category]time.Duration{
		policy.MemberKick:    48 * time.Hour,
		policy.MemberBan:     7 * 24 * time.Hour,
		policy.BotAdd:        28 * 24 * time.Hour,
		policy.ChannelUpdate: 28 * 24 * time.Hour,
	}
	for category, want := range cases {
		if got := exec.TimeoutFor(category); got != want {
			t.Fatalf("%s: expected %v, got %v", category, want, got)
		}
	}

	cfg.Mode = "audit"
	if !ConfigFrom(cfg).AuditOnly {
		t.Fatalf("audit mode should disable platform calls")
	}
}
