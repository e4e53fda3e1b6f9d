// Package policy decides what to do about a single administrative event.
// It performs no I/O: callers supply the actor, the structural diff, the
// mass-action count for the event's category and a whitelist snapshot.
package policy

import (
	"fmt"

	"nukeshield/internal/config"
	"nukeshield/internal/utils"
)

type Category string

const (
	ChannelCreate Category = "CHANNEL_CREATE"
	ChannelDelete Category = "CHANNEL_DELETE"
	ChannelUpdate Category = "CHANNEL_UPDATE"
	WebhookCreate Category = "WEBHOOK_CREATE"
	RoleCreate    Category = "ROLE_CREATE"
	RoleUpdate    Category = "ROLE_UPDATE"
	RoleDelete    Category = "ROLE_DELETE"
	BotAdd        Category = "BOT_ADD"
	MemberBan     Category = "MEMBER_BAN"
	MemberKick    Category = "MEMBER_KICK"
)

// Destructive categories are reverted even when the executor is unknown.
func (c Category) Destructive() bool {
	switch c {
	case ChannelCreate, ChannelDelete, RoleCreate, RoleDelete:
		return true
	}
	return false
}

type Verdict int

const (
	Allow Verdict = iota
	Revert
	Kick
	Ban
)

func (v Verdict) String() string {
	switch v {
	case Revert:
		return "REVERT"
	case Kick:
		return "KICK"
	case Ban:
		return "BAN"
	default:
		return "ALLOW"
	}
}

// Effect is one side effect of a decision. Effects run in slice order and
// each one fails independently.
type Effect int

const (
	EffectRevert Effect = iota + 1
	EffectDeleteTarget
	EffectRemoveBot
	EffectSanction
)

func (e Effect) String() string {
	switch e {
	case EffectRevert:
		return "revert"
	case EffectDeleteTarget:
		return "delete_target"
	case EffectRemoveBot:
		return "remove_bot"
	case EffectSanction:
		return "sanction"
	default:
		return "unknown"
	}
}

// Discord permission bits treated as dangerous.
const (
	PermKickMembers    int64 = 1 << 1
	PermBanMembers     int64 = 1 << 2
	PermAdministrator  int64 = 1 << 3
	PermManageChannels int64 = 1 << 4
	PermManageGuild    int64 = 1 << 5
	PermManageRoles    int64 = 1 << 28
	PermManageWebhooks int64 = 1 << 29

	DangerousPermissions = PermKickMembers | PermBanMembers | PermAdministrator |
		PermManageChannels | PermManageGuild | PermManageRoles | PermManageWebhooks
)

func Dangerous(permissions int64) bool {
	return permissions&DangerousPermissions != 0
}

type Actor struct {
	ID      string
	Tag     string
	Bot     bool
	RoleIDs []string
}

type Target struct {
	ID          string
	Name        string
	Bot         bool
	Permissions int64
}

type Diff struct {
	OldName           string
	NewName           string
	OldPermissions    int64
	NewPermissions    int64
	PositionChanged   bool
	OverwritesChanged bool
}

func (d Diff) NameChanged() bool { return d.OldName != d.NewName }

// AddedPermissions are the bits present after the change but not before.
func (d Diff) AddedPermissions() int64 { return d.NewPermissions &^ d.OldPermissions }

type Whitelist struct {
	Bots  map[string]struct{}
	Roles map[string]struct{}
}

func (w Whitelist) HasBot(id string) bool {
	_, ok := w.Bots[id]
	return ok
}

func (w Whitelist) HasAnyRole(roleIDs []string) bool {
	for _, id := range roleIDs {
		if _, ok := w.Roles[id]; ok {
			return true
		}
	}
	return false
}

type Input struct {
	Category  Category
	Actor     *Actor
	OwnerID   string
	SelfID    string
	Target    Target
	Diff      Diff
	Count     int
	Whitelist Whitelist
}

type Decision struct {
	Verdict Verdict
	Reason  string
	Effects []Effect
}

func (d Decision) Has(effect Effect) bool {
	for _, e := range d.Effects {
		if e == effect {
			return true
		}
	}
	return false
}

func (d Decision) Sanctions() bool {
	return d.Verdict == Kick || d.Verdict == Ban
}

type Rules struct {
	RoleKeywords    []string
	ChannelKeywords []string
	RoleCreate      config.Limit
	RoleDelete      config.Limit
	MemberBan       config.Limit
	MemberKick      config.Limit
	IgnoreReorder   bool
}

func RulesFromConfig(cfg config.Config) Rules {
	return Rules{
		RoleKeywords:    cfg.Policy.RoleKeywords,
		ChannelKeywords: cfg.Policy.ChannelKeywords,
		RoleCreate:      cfg.Limits.RoleCreate,
		RoleDelete:      cfg.Limits.RoleDelete,
		MemberBan:       cfg.Limits.MemberBan,
		MemberKick:      cfg.Limits.MemberKick,
		IgnoreReorder:   cfg.Policy.ChannelReorder == "ignore",
	}
}

type Evaluator struct {
	rules Rules
}

func New(rules Rules) *Evaluator {
	return &Evaluator{rules: rules}
}

// Evaluate applies the rule ladder: owner or self, unknown executor,
// whitelisted bot, then the category trigger with whitelisted roles
// downgrading BAN to KICK.
func (e *Evaluator) Evaluate(in Input) Decision {
	var base []Effect
	if in.Category == BotAdd {
		if in.Whitelist.HasBot(in.Target.ID) {
			return Decision{Verdict: Allow, Reason: "whitelisted bot joined"}
		}
		base = []Effect{EffectRemoveBot}
	}

	actor := in.Actor
	if actor != nil && actor.ID != "" && (actor.ID == in.OwnerID || actor.ID == in.SelfID) {
		return Decision{Verdict: Allow, Reason: "trusted executor", Effects: base}
	}

	triggered, reason, structural := e.trigger(in)

	if actor == nil || actor.ID == "" {
		if in.Category.Destructive() {
			return Decision{Verdict: Revert, Reason: "unknown executor: " + e.unknownReason(in), Effects: append(base, e.unknownEffects(in)...)}
		}
		if triggered && len(structural) > 0 {
			return Decision{Verdict: Revert, Reason: "unknown executor: " + reason, Effects: append(base, structural...)}
		}
		if len(base) > 0 {
			return Decision{Verdict: Revert, Reason: "unknown executor: " + reason, Effects: base}
		}
		return Decision{Verdict: Allow, Reason: "unknown executor"}
	}

	if in.Whitelist.HasBot(actor.ID) {
		return Decision{Verdict: Allow, Reason: "whitelisted bot", Effects: base}
	}

	if !triggered {
		return Decision{Verdict: Allow, Reason: "below threshold", Effects: base}
	}

	verdict := Ban
	if in.Whitelist.HasAnyRole(actor.RoleIDs) {
		verdict = Kick
	}
	effects := append(base, structural...)
	effects = append(effects, EffectSanction)
	return Decision{Verdict: verdict, Reason: reason, Effects: effects}
}

// trigger reports whether the category condition holds, the reason naming
// the category, and the structural effects to run before any sanction.
func (e *Evaluator) trigger(in Input) (bool, string, []Effect) {
	name := in.Target.Name
	switch in.Category {
	case ChannelCreate:
		reason := fmt.Sprintf("UNAUTHORIZED CHANNEL CREATION: %q", name)
		if kw, ok := utils.MatchKeyword(name, e.rules.ChannelKeywords); ok {
			reason += fmt.Sprintf(" (suspicious name: %s)", kw)
		}
		return true, reason, []Effect{EffectDeleteTarget}
	case ChannelDelete:
		return true, fmt.Sprintf("UNAUTHORIZED CHANNEL DELETION: Deleted %q", name), nil
	case ChannelUpdate:
		d := in.Diff
		changed := d.NameChanged() || d.OverwritesChanged || (d.PositionChanged && !e.rules.IgnoreReorder)
		return changed, fmt.Sprintf("UNAUTHORIZED CHANNEL MODIFICATION: #%s → #%s", d.OldName, d.NewName), nil
	case WebhookCreate:
		return true, fmt.Sprintf("UNAUTHORIZED WEBHOOK CREATION IN: #%s", name), []Effect{EffectDeleteTarget}
	case RoleCreate:
		why := ""
		switch {
		case e.suspiciousRole(name):
			why = "suspicious name"
		case Dangerous(in.Target.Permissions):
			why = "dangerous permissions"
		case e.rules.RoleCreate.Breached(in.Count):
			why = "mass creation"
		default:
			return false, "", nil
		}
		return true, fmt.Sprintf("MALICIOUS ROLE CREATION: %q (%s)", name, why), []Effect{EffectDeleteTarget}
	case RoleUpdate:
		d := in.Diff
		escalated := Dangerous(d.AddedPermissions())
		renamed := e.suspiciousRole(d.NewName) && !e.suspiciousRole(d.OldName)
		if !escalated && !renamed {
			return false, "", nil
		}
		return true, fmt.Sprintf("MALICIOUS ROLE MODIFICATION: %s → %s", d.OldName, d.NewName), []Effect{EffectRevert}
	case RoleDelete:
		reason := fmt.Sprintf("ROLE MASS DELETION: Deleted multiple roles including %q", name)
		return e.rules.RoleDelete.Breached(in.Count), reason, nil
	case BotAdd:
		return true, fmt.Sprintf("UNAUTHORIZED BOT ADDITION: Added bot %q", name), nil
	case MemberBan:
		return e.rules.MemberBan.Breached(in.Count), "MASS BAN ATTEMPT", nil
	case MemberKick:
		return e.rules.MemberKick.Breached(in.Count), "MASS KICK ATTEMPT", nil
	}
	return false, "", nil
}

func (e *Evaluator) unknownReason(in Input) string {
	switch in.Category {
	case ChannelCreate:
		return fmt.Sprintf("UNAUTHORIZED CHANNEL CREATION: %q", in.Target.Name)
	case ChannelDelete:
		return fmt.Sprintf("UNAUTHORIZED CHANNEL DELETION: Deleted %q", in.Target.Name)
	case RoleCreate:
		return fmt.Sprintf("UNAUTHORIZED ROLE CREATION: %q", in.Target.Name)
	default:
		return fmt.Sprintf("UNAUTHORIZED ROLE DELETION: Deleted %q", in.Target.Name)
	}
}

// unknownEffects reverts what can be reverted. Deletions cannot be restored
// and are only logged.
func (e *Evaluator) unknownEffects(in Input) []Effect {
	switch in.Category {
	case ChannelCreate, RoleCreate:
		return []Effect{EffectDeleteTarget}
	}
	return nil
}

func (e *Evaluator) suspiciousRole(name string) bool {
	_, ok := utils.MatchKeyword(name, e.rules.RoleKeywords)
	return ok
}
