package engine

import (
	"context"
	"fmt"
	"strconv"

	"nukeshield/internal/enforcement"
	"nukeshield/internal/executor"
	"nukeshield/internal/modules/antinuke"
	"nukeshield/internal/modules/audit"
	"nukeshield/internal/policy"
	"nukeshield/internal/state"

	"go.uber.org/zap"
)

// Breaches of these guild-wide counters raise emergency on their own.
var massSignals = map[policy.Category]string{
	policy.ChannelDelete: "mass channel deletion",
	policy.ChannelCreate: "mass channel creation",
	policy.BotAdd:        "mass bot addition",
}

// Handle is the single entry point for platform events. It never returns
// an error: collaborator failures are logged where they happen.
func (e *Engine) Handle(ctx context.Context, ev Event) {
	if ev.GuildID == "" {
		return
	}
	if ev.At.IsZero() {
		ev.At = e.clock.Now()
	}
	if ev.OwnerID == "" {
		ev.OwnerID = e.owner(ctx, ev.GuildID)
	}
	guild := e.deps.Guilds.Guild(ev.GuildID)

	switch ev.Kind {
	case MemberJoin:
		if ev.Target.Bot {
			ev.Kind = policy.BotAdd
			e.handleAdministrative(ctx, guild, ev)
		} else {
			e.handleJoin(ctx, ev)
		}
	case MemberRemove:
		e.handleRemove(ctx, guild, ev)
	case MemberUpdate:
		e.handleMemberUpdate(ctx, ev)
	case policy.MemberBan:
		e.handleBan(ctx, guild, ev)
	default:
		e.handleAdministrative(ctx, guild, ev)
	}
	e.publish(ctx, guild)
}

func (e *Engine) handleAdministrative(ctx context.Context, guild *state.Guild, ev Event) {
	if ev.Kind == policy.BotAdd {
		if guild.HasBot(ev.Target.ID) {
			e.deps.Metrics.Event(string(ev.Kind), policy.Allow.String())
			return
		}
		e.removeBot(ctx, ev)
	}
	actor := e.resolve(ctx, ev)
	res := e.deps.Nuke.Track(guild, string(ev.Kind), actorID(actor))
	if res.Breached && !e.trusted(guild, ev, actor) {
		e.massSignal(ctx, guild, ev, res)
	}
	e.decide(ctx, guild, ev, actor, res.Count)
}

// removeBot kicks a bot that is not whitelisted before its adder is looked
// up. decide then only judges the adder.
func (e *Engine) removeBot(ctx context.Context, ev Event) {
	e.deps.Executor.Apply(ctx, executor.Action{
		GuildID:  ev.GuildID,
		Category: ev.Kind,
		Decision: policy.Decision{
			Verdict: policy.Revert,
			Reason:  fmt.Sprintf("UNAUTHORIZED BOT ADDITION: Added bot %q", ev.Target.Name),
			Effects: []policy.Effect{policy.EffectRemoveBot},
		},
		Target:   ev.Target,
		Entity:   ev.Entity,
		EventKey: eventKey(ev),
	})
}

// trusted reports whether the rule ladder always allows actor.
func (e *Engine) trusted(guild *state.Guild, ev Event, actor *Identity) bool {
	if actor == nil || actor.ID == "" {
		return false
	}
	return actor.ID == ev.OwnerID || actor.ID == e.SelfID() || guild.HasBot(actor.ID)
}

func actorID(actor *Identity) string {
	if actor == nil {
		return ""
	}
	return actor.ID
}

func (e *Engine) decide(ctx context.Context, guild *state.Guild, ev Event, actor *Identity, count int) {
	decision := e.deps.Policy.Evaluate(policy.Input{
		Category:  ev.Kind,
		Actor:     actor.actor(),
		OwnerID:   ev.OwnerID,
		SelfID:    e.SelfID(),
		Target:    ev.Target,
		Diff:      ev.Diff,
		Count:     count,
		Whitelist: guild.Whitelist(),
	})
	e.deps.Metrics.Event(string(ev.Kind), decision.Verdict.String())
	e.deps.Logger.Debug("decision",
		zap.String("guild_id", ev.GuildID),
		zap.String("kind", string(ev.Kind)),
		zap.String("verdict", decision.Verdict.String()),
		zap.String("reason", decision.Reason),
	)

	if ev.Kind == policy.BotAdd {
		decision.Effects = without(decision.Effects, policy.EffectRemoveBot)
	}

	if decision.Verdict == policy.Revert && actor.actor() == nil && ev.Kind != policy.BotAdd {
		e.deps.Audit.Log(ctx, audit.LevelWarn, ev.GuildID, state.LogEntry{
			Type:        "UNKNOWN_EXECUTOR",
			Description: decision.Reason,
			TargetID:    ev.Target.ID,
			TargetTag:   ev.Target.Name,
			Timestamp:   ev.At,
		})
	}
	if len(decision.Effects) == 0 {
		return
	}

	action := executor.Action{
		GuildID:  ev.GuildID,
		Category: ev.Kind,
		Decision: decision,
		Actor:    actor.actor(),
		Target:   ev.Target,
		Entity:   ev.Entity,
		Diff:     ev.Diff,
		EventKey: eventKey(ev),
	}
	if actor != nil {
		action.DangerousRoleIDs = actor.DangerousRoleIDs
	}
	e.deps.Executor.Apply(ctx, action)
}

func (e *Engine) massSignal(ctx context.Context, guild *state.Guild, ev Event, res antinuke.Result) {
	reason, ok := massSignals[ev.Kind]
	if !ok {
		return
	}
	e.deps.Audit.Log(ctx, audit.LevelCrit, ev.GuildID, state.LogEntry{
		Type:        "MASS_ACTION_DETECTED",
		Tag:         state.TagMass,
		Description: fmt.Sprintf("%s: %d within %s", reason, res.Count, res.Limit.Window()),
		TargetID:    ev.Target.ID,
		TargetTag:   ev.Target.Name,
		Timestamp:   ev.At,
	})
	e.deps.Playbook.Escalate(ctx, guild, reason)
}

// handleBan counts bans guild-wide and only looks up the banning actor once
// the mass-ban threshold is crossed.
func (e *Engine) handleBan(ctx context.Context, guild *state.Guild, ev Event) {
	res := e.deps.Nuke.Track(guild, string(policy.MemberBan), "")
	if !res.Breached {
		e.deps.Metrics.Event(string(ev.Kind), policy.Allow.String())
		return
	}
	e.decide(ctx, guild, ev, e.resolve(ctx, ev), res.Count)
}

func (e *Engine) handleJoin(ctx context.Context, ev Event) {
	out := e.deps.Raid.HandleJoin(ctx, ev.GuildID, ev.Target.ID, ev.Target.Name)
	if !out.Activated {
		return
	}
	e.deps.Metrics.Raid()
	if e.deps.Notifier == nil {
		return
	}
	if err := e.deps.Notifier.RaidActivated(ctx, ev.GuildID, ev.OwnerID, out); err != nil {
		e.deps.Logger.Warn("raid notification failed", zap.String("guild_id", ev.GuildID), zap.Error(err))
	}
}

// handleRemove feeds the mass-removal signal and, when the departure was a
// kick, the per-kicker mass-kick counter.
func (e *Engine) handleRemove(ctx context.Context, guild *state.Guild, ev Event) {
	if ev.Target.Bot {
		return
	}
	res := e.deps.Nuke.Track(guild, antinuke.MemberRemove, "")
	if res.Breached {
		guild.UpdateStats(func(s *state.Stats) { s.NukeAttempts++ })
		e.deps.Metrics.NukeAttempt()
		e.deps.Audit.Log(ctx, audit.LevelCrit, ev.GuildID, state.LogEntry{
			Type:        "MASS_REMOVAL_DETECTED",
			Tag:         state.TagMass,
			Description: fmt.Sprintf("mass removal detected: %s", ev.Target.Name),
			TargetID:    ev.Target.ID,
			TargetTag:   ev.Target.Name,
			Timestamp:   ev.At,
		})
		e.deps.Playbook.Escalate(ctx, guild, "mass member removal")
	}

	kick := ev
	kick.Kind = policy.MemberKick
	kicker := e.resolve(ctx, kick)
	if kicker == nil {
		return
	}
	counted := e.deps.Nuke.Track(guild, string(policy.MemberKick), kicker.ID)
	e.decide(ctx, guild, kick, kicker, counted.Count)
}

func (e *Engine) handleMemberUpdate(ctx context.Context, ev Event) {
	lifter := func(ctx context.Context) (string, error) {
		if e.deps.Resolver == nil {
			return "", ErrResolution
		}
		id, err := e.deps.Resolver.ResolveExecutor(ctx, ev.GuildID, MemberUpdate, ev.Target.ID, e.cfg.ResolveWithin)
		if err != nil || id == nil {
			return "", err
		}
		return id.ID, nil
	}
	e.deps.Enforcement.HandleMemberUpdate(ctx, enforcement.Update{
		GuildID:         ev.GuildID,
		OwnerID:         ev.OwnerID,
		SelfID:          e.SelfID(),
		UserID:          ev.Target.ID,
		UserTag:         ev.Target.Name,
		RestrictedUntil: ev.RestrictedUntil,
	}, lifter)
}

// resolve returns the event's actor, consulting the audit trail when the
// platform did not report one. Failure yields an unknown actor.
func (e *Engine) resolve(ctx context.Context, ev Event) *Identity {
	if ev.Actor != nil {
		return ev.Actor
	}
	if e.deps.Resolver == nil {
		return nil
	}
	id, err := e.deps.Resolver.ResolveExecutor(ctx, ev.GuildID, ev.Kind, ev.Target.ID, e.cfg.ResolveWithin)
	if err != nil || id == nil || id.ID == "" {
		e.deps.Metrics.Resolution(false)
		if err != nil {
			e.deps.Logger.Debug("executor unresolved",
				zap.String("guild_id", ev.GuildID),
				zap.String("kind", string(ev.Kind)),
				zap.Error(err),
			)
		}
		return nil
	}
	e.deps.Metrics.Resolution(true)
	return id
}

func (e *Engine) owner(ctx context.Context, guildID string) string {
	if e.deps.Directory == nil {
		return ""
	}
	id, err := e.deps.Directory.GuildOwner(ctx, guildID)
	if err != nil {
		e.deps.Logger.Warn("guild owner lookup failed", zap.String("guild_id", guildID), zap.Error(err))
		return ""
	}
	return id
}

func without(effects []policy.Effect, drop policy.Effect) []policy.Effect {
	out := make([]policy.Effect, 0, len(effects))
	for _, effect := range effects {
		if effect != drop {
			out = append(out, effect)
		}
	}
	return out
}

func eventKey(ev Event) string {
	if ev.ID != "" {
		return ev.ID
	}
	return string(ev.Kind) + ":" + ev.Target.ID + ":" + ev.Entity.ID + ":" + ev.Diff.NewName + ":" +
		strconv.FormatInt(ev.Diff.NewPermissions, 10)
}
