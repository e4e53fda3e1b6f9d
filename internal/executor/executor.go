// Package executor turns policy decisions into platform calls. Every call is
// fire-and-forget: failures are logged and reported, never returned to the
// event dispatcher.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"nukeshield/internal/config"
	"nukeshield/internal/metrics"
	"nukeshield/internal/modules/audit"
	"nukeshield/internal/playbook"
	"nukeshield/internal/policy"
	"nukeshield/internal/ratelimit"
	"nukeshield/internal/state"
	"nukeshield/internal/utils"

	"go.uber.org/zap"
)

// ErrAction wraps every failed platform call.
var ErrAction = errors.New("mitigation action failed")

// ErrSuppressed marks a call dropped by the rate guard.
var ErrSuppressed = errors.New("suppressed by rate guard")

type EntityKind string

const (
	EntityChannel EntityKind = "channel"
	EntityRole    EntityKind = "role"
	EntityWebhook EntityKind = "webhook"
)

type EntityRef struct {
	Kind EntityKind
	ID   string
	Name string
}

type Platform interface {
	Ban(ctx context.Context, guildID, userID, reason string) error
	Kick(ctx context.Context, guildID, userID, reason string) error
	// Timeout restricts the member for d. A zero d clears the restriction.
	Timeout(ctx context.Context, guildID, userID string, d time.Duration, reason string) error
	RevertRole(ctx context.Context, guildID, roleID string, permissions int64, name string) error
	DeleteEntity(ctx context.Context, guildID string, ref EntityRef, reason string) error
	RemoveRoles(ctx context.Context, guildID, userID string, roleIDs []string, reason string) error
}

type Config struct {
	AuditOnly          bool
	BanFallbackTimeout bool
	MaxTimeout         time.Duration
	DefaultTimeout     time.Duration
	Timeouts           map[policy.Category]time.Duration
	DedupWindow        time.Duration
}

// ConfigFrom maps the configured restriction lengths onto categories.
// Channel and webhook changes share one length, role changes another.
func ConfigFrom(cfg config.Config) Config {
	hours := func(h int) time.Duration { return time.Duration(h) * time.Hour }
	t := cfg.Timeouts
	return Config{
		AuditOnly:          cfg.AuditOnly(),
		BanFallbackTimeout: cfg.Actions.BanFallbackTimeout,
		MaxTimeout:         cfg.MaxTimeout(),
		DefaultTimeout:     hours(t.NukeAttemptHours),
		DedupWindow:        time.Second,
		Timeouts: map[policy.Category]time.Duration{
			policy.BotAdd:        hours(t.BotAdditionHours),
			policy.MemberKick:    hours(t.MemberKickHours),
			policy.MemberBan:     hours(t.MemberBanHours),
			policy.ChannelCreate: hours(t.ChannelModificationHours),
			policy.ChannelDelete: hours(t.ChannelModificationHours),
			policy.ChannelUpdate: hours(t.ChannelModificationHours),
			policy.WebhookCreate: hours(t.ChannelModificationHours),
			policy.RoleCreate:    hours(t.UnauthorizedActionHours),
			policy.RoleUpdate:    hours(t.UnauthorizedActionHours),
			policy.RoleDelete:    hours(t.UnauthorizedActionHours),
		},
	}
}

// Action is one decision ready to execute.
type Action struct {
	GuildID          string
	Category         policy.Category
	Decision         policy.Decision
	Actor            *policy.Actor
	DangerousRoleIDs []string
	Target           policy.Target
	Entity           EntityRef
	Diff             policy.Diff
	// EventKey identifies the triggering event so that duplicate deliveries
	// cause at most one call per effect.
	EventKey string
}

type Result struct {
	Effect     policy.Effect
	Attempted  bool
	Suppressed bool
	Err        error
}

type Report struct {
	Results  []Result
	Fallback bool
}

func (r Report) Result(effect policy.Effect) (Result, bool) {
	for _, res := range r.Results {
		if res.Effect == effect {
			return res, true
		}
	}
	return Result{}, false
}

type Executor struct {
	cfg      Config
	platform Platform
	guard    *ratelimit.Guard
	dedup    *ratelimit.Guard
	guilds   *state.Store
	playbook *playbook.Engine
	audit    *audit.Logger
	metrics  *metrics.Metrics
	logger   *zap.Logger
	clock    utils.Clock
}

func New(cfg Config, platform Platform, guard *ratelimit.Guard, guilds *state.Store, playbookEngine *playbook.Engine, auditLogger *audit.Logger, m *metrics.Metrics, logger *zap.Logger) *Executor {
	if cfg.MaxTimeout <= 0 {
		cfg.MaxTimeout = 28 * 24 * time.Hour
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = cfg.MaxTimeout
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		cfg:      cfg,
		platform: platform,
		guard:    guard,
		dedup:    ratelimit.New(1, cfg.DedupWindow),
		guilds:   guilds,
		playbook: playbookEngine,
		audit:    auditLogger,
		metrics:  m,
		logger:   logger,
		clock:    utils.RealClock{},
	}
}

func (e *Executor) WithClock(clock utils.Clock) {
	e.clock = clock
	e.guard.WithClock(clock)
	e.dedup.WithClock(clock)
}

// Apply runs the decision's effects in order. Revert and delete effects
// always precede the sanction, and each effect fails on its own.
func (e *Executor) Apply(ctx context.Context, a Action) Report {
	var report Report
	for _, effect := range a.Decision.Effects {
		var res Result
		switch effect {
		case policy.EffectRevert:
			res = e.revert(ctx, a)
		case policy.EffectDeleteTarget:
			res = e.deleteTarget(ctx, a)
		case policy.EffectRemoveBot:
			res = e.removeBot(ctx, a)
		case policy.EffectSanction:
			var fallback bool
			res, fallback = e.sanction(ctx, a)
			report.Fallback = fallback
		default:
			continue
		}
		res.Effect = effect
		report.Results = append(report.Results, res)
	}
	return report
}

func (e *Executor) revert(ctx context.Context, a Action) Result {
	return e.call(ctx, a, "revert", a.Target.ID, func() error {
		return e.platform.RevertRole(ctx, a.GuildID, a.Target.ID, a.Diff.OldPermissions, a.Diff.OldName)
	}, func(err error) {
		e.log(ctx, a, audit.LevelWarn, "ROLE_REVERTED", state.TagNone, fmt.Sprintf("restored %q permissions and name", a.Diff.OldName), err)
	})
}

func (e *Executor) deleteTarget(ctx context.Context, a Action) Result {
	return e.call(ctx, a, "delete", a.Entity.ID, func() error {
		return e.platform.DeleteEntity(ctx, a.GuildID, a.Entity, "ANTI-NUKE: "+a.Decision.Reason)
	}, func(err error) {
		e.log(ctx, a, audit.LevelWarn, strings.ToUpper(string(a.Entity.Kind))+"_DELETED", state.TagNone, fmt.Sprintf("removed %s %q", a.Entity.Kind, a.Entity.Name), err)
	})
}

func (e *Executor) removeBot(ctx context.Context, a Action) Result {
	guild := e.guilds.Guild(a.GuildID)
	res := e.call(ctx, a, "kick", a.Target.ID, func() error {
		return e.platform.Kick(ctx, a.GuildID, a.Target.ID, "UNAUTHORIZED BOT - NOT WHITELISTED")
	}, nil)
	if res.Suppressed {
		return res
	}
	guild.FlagBot(a.Target.ID)
	guild.UpdateStats(func(s *state.Stats) { s.BlockedBots++ })
	e.metrics.BlockedBot()
	entry := state.LogEntry{
		Type:        "UNAUTHORIZED_BOT",
		Tag:         state.TagBlocked,
		Description: fmt.Sprintf("removed bot %q", a.Target.Name),
		TargetID:    a.Target.ID,
		TargetTag:   a.Target.Name,
	}
	if a.Actor != nil {
		entry.ExecutorID, entry.ExecutorTag = a.Actor.ID, a.Actor.Tag
	}
	e.logEntry(ctx, a.GuildID, audit.LevelCrit, entry, res.Err)
	return res
}

// sanction bans or kicks the actor. A ban first strips roles carrying
// dangerous permissions so a failed or delayed ban cannot leave them usable.
func (e *Executor) sanction(ctx context.Context, a Action) (Result, bool) {
	if a.Actor == nil || a.Actor.ID == "" {
		return Result{}, false
	}
	guild := e.guilds.Guild(a.GuildID)

	var res Result
	fallback := false
	switch a.Decision.Verdict {
	case policy.Ban:
		res = e.call(ctx, a, "ban", a.Actor.ID, func() error {
			e.stripRoles(ctx, a)
			return e.platform.Ban(ctx, a.GuildID, a.Actor.ID, "ANTI-NUKE PROTECTION - "+a.Decision.Reason)
		}, nil)
		if res.Suppressed {
			return res, false
		}
		guild.UpdateStats(func(s *state.Stats) {
			s.Bans++
			s.NukeAttempts++
		})
		e.sanctionEntry(ctx, a, "BAN", res.Err)
		if res.Err != nil && e.cfg.BanFallbackTimeout && !e.cfg.AuditOnly {
			fallback = e.fallbackTimeout(ctx, a) == nil
		}
	case policy.Kick:
		res = e.call(ctx, a, "kick", a.Actor.ID, func() error {
			return e.platform.Kick(ctx, a.GuildID, a.Actor.ID, "WHITELISTED USER - "+a.Decision.Reason)
		}, nil)
		if res.Suppressed {
			return res, false
		}
		guild.UpdateStats(func(s *state.Stats) {
			s.Kicks++
			s.NukeAttempts++
		})
		e.sanctionEntry(ctx, a, "KICK", res.Err)
	default:
		return Result{}, false
	}

	e.metrics.NukeAttempt()
	e.playbook.Escalate(ctx, guild, a.Decision.Verdict.String()+" executed: "+audit.Category(a.Decision.Reason))
	return res, fallback
}

func (e *Executor) stripRoles(ctx context.Context, a Action) {
	if len(a.DangerousRoleIDs) == 0 {
		return
	}
	err := e.platform.RemoveRoles(ctx, a.GuildID, a.Actor.ID, a.DangerousRoleIDs, "EMERGENCY: Removing dangerous roles - "+a.Decision.Reason)
	e.metrics.Action("strip_roles", err)
	if err != nil {
		e.logger.Warn("strip dangerous roles failed", zap.String("guild_id", a.GuildID), zap.String("user_id", a.Actor.ID), zap.Error(err))
	}
}

// fallbackTimeout contains an actor whose ban failed. It is a different
// action, not a retry of the ban.
func (e *Executor) fallbackTimeout(ctx context.Context, a Action) error {
	d := e.TimeoutFor(a.Category)
	err := e.Restrict(ctx, a.GuildID, a.Actor.ID, d, a.Decision.Reason)
	if err != nil {
		return err
	}
	now := e.clock.Now()
	guild := e.guilds.Guild(a.GuildID)
	guild.TrackTimeout(state.TimeoutRecord{UserID: a.Actor.ID, Reason: a.Decision.Reason, StartedAt: now, ReleaseAt: now.Add(d)})
	guild.UpdateStats(func(s *state.Stats) { s.Timeouts++ })
	e.logEntry(ctx, a.GuildID, audit.LevelCrit, state.LogEntry{
		Type:        "TIMEOUT",
		Tag:         state.TagNuke,
		Description: a.Decision.Reason,
		TargetID:    a.Actor.ID,
		TargetTag:   a.Actor.Tag,
	}, nil)
	return nil
}

// Restrict applies a platform timeout capped at the configured maximum.
func (e *Executor) Restrict(ctx context.Context, guildID, userID string, d time.Duration, reason string) error {
	if d > e.cfg.MaxTimeout {
		d = e.cfg.MaxTimeout
	}
	if e.guard.ShouldSuppress(userID, "timeout") {
		e.metrics.Suppressed("timeout")
		return ErrSuppressed
	}
	if e.cfg.AuditOnly {
		return nil
	}
	err := e.platform.Timeout(ctx, guildID, userID, d, "ANTI-NUKE: "+reason)
	e.metrics.Action("timeout", err)
	if err != nil {
		e.logger.Warn("timeout failed", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.Error(err))
		return fmt.Errorf("%w: timeout %s: %v", ErrAction, userID, err)
	}
	return nil
}

// Lift clears a platform timeout.
func (e *Executor) Lift(ctx context.Context, guildID, userID, reason string) error {
	if e.cfg.AuditOnly {
		return nil
	}
	err := e.platform.Timeout(ctx, guildID, userID, 0, reason)
	e.metrics.Action("lift_timeout", err)
	if err != nil {
		return fmt.Errorf("%w: lift timeout %s: %v", ErrAction, userID, err)
	}
	return nil
}

// TimeoutFor is the restriction length used for category.
func (e *Executor) TimeoutFor(category policy.Category) time.Duration {
	d, ok := e.cfg.Timeouts[category]
	if !ok || d <= 0 {
		d = e.cfg.DefaultTimeout
	}
	if d > e.cfg.MaxTimeout {
		d = e.cfg.MaxTimeout
	}
	return d
}

func (e *Executor) MaxTimeout() time.Duration { return e.cfg.MaxTimeout }

// call runs fn unless the event was already handled or the subject's
// budget is spent. In audit mode fn is skipped and the call is logged.
func (e *Executor) call(ctx context.Context, a Action, action, subject string, fn func() error, after func(error)) Result {
	if a.EventKey != "" && e.dedup.ShouldSuppress(a.EventKey, action+":"+subject) {
		e.metrics.Suppressed(action)
		return Result{Suppressed: true}
	}
	if e.guard.ShouldSuppress(subject, action) {
		e.metrics.Suppressed(action)
		e.logger.Debug("action suppressed", zap.String("guild_id", a.GuildID), zap.String("action", action), zap.String("subject", subject))
		return Result{Suppressed: true}
	}
	if e.cfg.AuditOnly {
		e.logEntry(ctx, a.GuildID, audit.LevelInfo, state.LogEntry{
			Type:        "AUDIT_ONLY",
			Description: fmt.Sprintf("would %s %s: %s", action, subject, a.Decision.Reason),
			TargetID:    subject,
		}, nil)
		return Result{Attempted: false}
	}
	err := fn()
	e.metrics.Action(action, err)
	if err != nil {
		err = fmt.Errorf("%w: %s %s: %v", ErrAction, action, subject, err)
		e.logger.Warn("action failed", zap.String("guild_id", a.GuildID), zap.String("action", action), zap.String("subject", subject), zap.Error(err))
	}
	if after != nil {
		after(err)
	}
	return Result{Attempted: true, Err: err}
}

func (e *Executor) sanctionEntry(ctx context.Context, a Action, kind string, err error) {
	e.logEntry(ctx, a.GuildID, audit.LevelCrit, state.LogEntry{
		Type:        kind,
		Tag:         state.TagNuke,
		Description: a.Decision.Reason,
		TargetID:    a.Actor.ID,
		TargetTag:   a.Actor.Tag,
	}, err)
}

func (e *Executor) log(ctx context.Context, a Action, level, kind string, tag state.Tag, description string, err error) {
	entry := state.LogEntry{Type: kind, Tag: tag, Description: description, TargetID: a.Target.ID, TargetTag: a.Target.Name}
	if a.Actor != nil {
		entry.ExecutorID, entry.ExecutorTag = a.Actor.ID, a.Actor.Tag
	}
	e.logEntry(ctx, a.GuildID, level, entry, err)
}

func (e *Executor) logEntry(ctx context.Context, guildID, level string, entry state.LogEntry, err error) {
	if err != nil {
		entry.Type += "_FAILED"
		entry.Description += " (" + err.Error() + ")"
	}
	entry.Timestamp = e.clock.Now()
	e.audit.Log(ctx, level, guildID, entry)
}
