package policy

import (
	"strings"
	"testing"

	"nukeshield/internal/config"
)

func newEvaluator() *Evaluator {
	return New(RulesFromConfig(config.DefaultConfig()))
}

func whitelist(bots, roles []string) Whitelist {
	w := Whitelist{Bots: map[string]struct{}{}, Roles: map[string]struct{}{}}
	for _, id := range bots {
		w.Bots[id] = struct{}{}
	}
	for _, id := range roles {
		w.Roles[id] = struct{}{}
	}
	return w
}

func TestOwnerAlwaysAllowed(t *testing.T) {
	e := newEvaluator()
	categories := []Category{ChannelCreate, ChannelDelete, ChannelUpdate, WebhookCreate, RoleCreate, RoleUpdate, RoleDelete, MemberBan, MemberKick}
	for _, category := range categories {
		d := e.Evaluate(Input{
			Category:  category,
			Actor:     &Actor{ID: "owner"},
			OwnerID:   "owner",
			Target:    Target{ID: "t", Name: "nuke-admin", Permissions: PermAdministrator},
			Diff:      Diff{OldName: "a", NewName: "nuke", NewPermissions: PermAdministrator, PositionChanged: true},
			Count:     50,
			Whitelist: whitelist(nil, nil),
		})
		if d.Verdict != Allow {
			t.Fatalf("%s: owner got %s", category, d.Verdict)
		}
	}
}

func TestSelfAllowed(t *testing.T) {
	d := newEvaluator().Evaluate(Input{Category: ChannelDelete, Actor: &Actor{ID: "me"}, SelfID: "me", OwnerID: "owner", Whitelist: whitelist(nil, nil)})
	if d.Verdict != Allow {
		t.Fatalf("expected allow for self, got %s", d.Verdict)
	}
}

func TestChannelCreateBansUnknownUser(t *testing.T) {
	d := newEvaluator().Evaluate(Input{
		Category:  ChannelCreate,
		Actor:     &Actor{ID: "a"},
		OwnerID:   "owner",
		Target:    Target{ID: "c1", Name: "general-chat"},
		Whitelist: whitelist(nil, nil),
	})
	if d.Verdict != Ban {
		t.Fatalf("expected ban, got %s", d.Verdict)
	}
	if !strings.Contains(d.Reason, "UNAUTHORIZED CHANNEL CREATION") {
		t.Fatalf("unexpected reason %q", d.Reason)
	}
	if len(d.Effects) != 2 || d.Effects[0] != EffectDeleteTarget || d.Effects[1] != EffectSanction {
		t.Fatalf("expected delete then sanction, got %v", d.Effects)
	}
}

func TestWhitelistedRoleNeverBanned(t *testing.T) {
	e := newEvaluator()
	actor := &Actor{ID: "b", RoleIDs: []string{"trusted"}}
	inputs := []Input{
		{Category: ChannelDelete, Target: Target{Name: "rules"}},
		{Category: ChannelCreate, Target: Target{Name: "x"}},
		{Category: WebhookCreate, Target: Target{Name: "x"}},
		{Category: RoleCreate, Target: Target{Name: "nuke"}},
		{Category: RoleDelete, Count: 3},
		{Category: MemberBan, Count: 3},
		{Category: BotAdd, Target: Target{ID: "bot", Name: "evil#0001", Bot: true}},
		{Category: RoleUpdate, Diff: Diff{OldName: "r", NewName: "r", NewPermissions: PermBanMembers}},
	}
	for _, in := range inputs {
		in.Actor = actor
		in.OwnerID = "owner"
		in.Whitelist = whitelist(nil, []string{"trusted"})
		d := e.Evaluate(in)
		if d.Verdict != Kick {
			t.Fatalf("%s: expected kick, got %s", in.Category, d.Verdict)
		}
	}
}

func TestUnknownExecutorRevertsDestructive(t *testing.T) {
	e := newEvaluator()
	d := e.Evaluate(Input{Category: ChannelCreate, OwnerID: "owner", Target: Target{ID: "c", Name: "spam"}, Whitelist: whitelist(nil, nil)})
	if d.Verdict != Revert || !d.Has(EffectDeleteTarget) || d.Has(EffectSanction) {
		t.Fatalf("expected revert with delete and no sanction, got %+v", d)
	}
	d = e.Evaluate(Input{Category: RoleDelete, OwnerID: "owner", Target: Target{ID: "r", Name: "mods"}, Whitelist: whitelist(nil, nil)})
	if d.Verdict != Revert || len(d.Effects) != 0 {
		t.Fatalf("expected unrestorable revert, got %+v", d)
	}
	d = e.Evaluate(Input{Category: ChannelUpdate, OwnerID: "owner", Diff: Diff{OldName: "a", NewName: "b"}, Whitelist: whitelist(nil, nil)})
	if d.Verdict != Allow {
		t.Fatalf("expected allow for non-destructive unknown change, got %s", d.Verdict)
	}
}

func TestWhitelistedBotAllowed(t *testing.T) {
	d := newEvaluator().Evaluate(Input{
		Category:  ChannelDelete,
		Actor:     &Actor{ID: "bot1", Bot: true},
		OwnerID:   "owner",
		Whitelist: whitelist([]string{"bot1"}, nil),
	})
	if d.Verdict != Allow {
		t.Fatalf("expected allow, got %s", d.Verdict)
	}
}

func TestRoleCreateTriggers(t *testing.T) {
	e := newEvaluator()
	base := Input{Category: RoleCreate, Actor: &Actor{ID: "a"}, OwnerID: "owner", Whitelist: whitelist(nil, nil), Count: 1}

	plain := base
	plain.Target = Target{Name: "Members"}
	if d := e.Evaluate(plain); d.Verdict != Allow {
		t.Fatalf("plain role should be allowed, got %s", d.Verdict)
	}

	named := base
	named.Target = Target{Name: "Server Admin"}
	if d := e.Evaluate(named); d.Verdict != Ban {
		t.Fatalf("suspicious name should ban, got %s", d.Verdict)
	}

	perms := base
	perms.Target = Target{Name: "Helpers", Permissions: PermManageWebhooks}
	if d := e.Evaluate(perms); d.Verdict != Ban || !strings.Contains(d.Reason, "dangerous permissions") {
		t.Fatalf("dangerous permission should ban, got %+v", d)
	}

	mass := base
	mass.Target = Target{Name: "Members"}
	mass.Count = 2
	if d := e.Evaluate(mass); d.Verdict != Ban || !strings.Contains(d.Reason, "mass creation") {
		t.Fatalf("second creation should ban, got %+v", d)
	}
}

func TestRoleUpdateRevertsThenSanctions(t *testing.T) {
	e := newEvaluator()
	for _, roles := range [][]string{nil, {"trusted"}} {
		d := e.Evaluate(Input{
			Category:  RoleUpdate,
			Actor:     &Actor{ID: "a", RoleIDs: roles},
			OwnerID:   "owner",
			Diff:      Diff{OldName: "Members", NewName: "Members", OldPermissions: 1 << 10, NewPermissions: 1<<10 | PermAdministrator},
			Whitelist: whitelist(nil, []string{"trusted"}),
		})
		if !d.Sanctions() {
			t.Fatalf("expected sanction, got %s", d.Verdict)
		}
		if len(d.Effects) != 2 || d.Effects[0] != EffectRevert || d.Effects[1] != EffectSanction {
			t.Fatalf("expected revert before sanction, got %v", d.Effects)
		}
	}
}

func TestRoleUpdateIgnoresExistingDangerousBits(t *testing.T) {
	d := newEvaluator().Evaluate(Input{
		Category:  RoleUpdate,
		Actor:     &Actor{ID: "a"},
		OwnerID:   "owner",
		Diff:      Diff{OldName: "Admin", NewName: "Admin team", OldPermissions: PermAdministrator, NewPermissions: PermAdministrator | 1<<10},
		Whitelist: whitelist(nil, nil),
	})
	if d.Verdict != Allow {
		t.Fatalf("no newly added danger and name already suspicious, got %s", d.Verdict)
	}
}

func TestRoleDeleteNeedsSecondDeletion(t *testing.T) {
	e := newEvaluator()
	in := Input{Category: RoleDelete, Actor: &Actor{ID: "a"}, OwnerID: "owner", Target: Target{Name: "r"}, Whitelist: whitelist(nil, nil), Count: 1}
	if d := e.Evaluate(in); d.Verdict != Allow {
		t.Fatalf("single deletion should be allowed, got %s", d.Verdict)
	}
	in.Count = 2
	if d := e.Evaluate(in); d.Verdict != Ban {
		t.Fatalf("second deletion should ban, got %s", d.Verdict)
	}
}

func TestMassBanThreshold(t *testing.T) {
	e := newEvaluator()
	in := Input{Category: MemberBan, Actor: &Actor{ID: "a"}, OwnerID: "owner", Whitelist: whitelist(nil, nil), Count: 2}
	if d := e.Evaluate(in); d.Verdict != Allow {
		t.Fatalf("two bans should be tolerated, got %s", d.Verdict)
	}
	in.Count = 3
	if d := e.Evaluate(in); d.Verdict != Ban || d.Reason != "MASS BAN ATTEMPT" {
		t.Fatalf("third ban should sanction, got %+v", d)
	}
}

func TestBotAddRemovesBotAlways(t *testing.T) {
	e := newEvaluator()
	bot := Target{ID: "bot9", Name: "evil#0001", Bot: true}

	d := e.Evaluate(Input{Category: BotAdd, Actor: &Actor{ID: "owner"}, OwnerID: "owner", Target: bot, Whitelist: whitelist(nil, nil)})
	if d.Verdict != Allow || !d.Has(EffectRemoveBot) {
		t.Fatalf("owner-added bot should still be removed, got %+v", d)
	}

	d = e.Evaluate(Input{Category: BotAdd, Actor: &Actor{ID: "a"}, OwnerID: "owner", Target: bot, Whitelist: whitelist(nil, nil)})
	if d.Verdict != Ban || d.Effects[0] != EffectRemoveBot || d.Effects[len(d.Effects)-1] != EffectSanction {
		t.Fatalf("expected bot removal then adder ban, got %+v", d)
	}

	d = e.Evaluate(Input{Category: BotAdd, OwnerID: "owner", Target: bot, Whitelist: whitelist(nil, nil)})
	if d.Verdict != Revert || !d.Has(EffectRemoveBot) {
		t.Fatalf("unknown adder should still remove bot, got %+v", d)
	}

	d = e.Evaluate(Input{Category: BotAdd, Actor: &Actor{ID: "a"}, OwnerID: "owner", Target: bot, Whitelist: whitelist([]string{"bot9"}, nil)})
	if d.Verdict != Allow || len(d.Effects) != 0 {
		t.Fatalf("whitelisted bot should be left alone, got %+v", d)
	}
}

func TestChannelReorderSeverity(t *testing.T) {
	in := Input{Category: ChannelUpdate, Actor: &Actor{ID: "a"}, OwnerID: "owner", Diff: Diff{OldName: "x", NewName: "x", PositionChanged: true}, Whitelist: whitelist(nil, nil)}
	if d := newEvaluator().Evaluate(in); d.Verdict != Ban {
		t.Fatalf("reorder is sanctioned by default, got %s", d.Verdict)
	}
	rules := RulesFromConfig(config.DefaultConfig())
	rules.IgnoreReorder = true
	if d := New(rules).Evaluate(in); d.Verdict != Allow {
		t.Fatalf("reorder should be ignored, got %s", d.Verdict)
	}
	in.Diff.OverwritesChanged = true
	if d := New(rules).Evaluate(in); d.Verdict != Ban {
		t.Fatalf("overwrite change still sanctioned, got %s", d.Verdict)
	}
}
