package engine

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"nukeshield/internal/enforcement"
	"nukeshield/internal/modules/audit"
	"nukeshield/internal/state"

	"go.uber.org/zap"
)

var snowflake = regexp.MustCompile(`^\d{17,20}$`)

// Outcome is the human-readable result of an operator command.
type Outcome struct {
	OK      bool
	Message string
}

func ok(format string, args ...any) Outcome {
	return Outcome{OK: true, Message: "✅ " + fmt.Sprintf(format, args...)}
}

func fail(format string, args ...any) Outcome {
	return Outcome{Message: "❌ " + fmt.Sprintf(format, args...)}
}

// authorize checks that operatorID owns the guild.
func (e *Engine) authorize(ctx context.Context, guildID, operatorID string) (*state.Guild, bool) {
	owner := e.owner(ctx, guildID)
	if owner == "" || owner != operatorID {
		return nil, false
	}
	return e.deps.Guilds.Guild(guildID), true
}

func denied() Outcome {
	return fail("Only the server owner can use this command.")
}

func (e *Engine) ToggleMonitoring(ctx context.Context, guildID, operatorID string) Outcome {
	g, allowed := e.authorize(ctx, guildID, operatorID)
	if !allowed {
		return denied()
	}
	on := g.ToggleMonitoring()
	word := "deactivated"
	if on {
		word = "activated"
	}
	e.operatorLog(ctx, guildID, operatorID, "MONITORING_TOGGLE", "monitoring "+word, "")
	e.publish(ctx, g)
	return ok("**24/7 MONITORING %s**", strings.ToUpper(word))
}

func (e *Engine) AddBotToWhitelist(ctx context.Context, guildID, operatorID, botID string) Outcome {
	g, allowed := e.authorize(ctx, guildID, operatorID)
	if !allowed {
		return denied()
	}
	if !snowflake.MatchString(botID) {
		return fail("Invalid bot ID.")
	}
	if e.deps.Directory == nil {
		return fail("Invalid bot or bot not found.")
	}
	isBot, err := e.deps.Directory.IsBot(ctx, botID)
	if err != nil || !isBot {
		return fail("Invalid bot or bot not found.")
	}
	if !g.AddBot(botID) {
		return ok("Bot %s already whitelisted.", botID)
	}
	e.operatorLog(ctx, guildID, operatorID, "BOT_WHITELISTED", "whitelisted bot", botID)
	e.publish(ctx, g)
	return ok("**WHITELISTED** %s", botID)
}

// RemoveBotFromWhitelist also kicks the bot when it is still present.
func (e *Engine) RemoveBotFromWhitelist(ctx context.Context, guildID, operatorID, botID string) Outcome {
	g, allowed := e.authorize(ctx, guildID, operatorID)
	if !allowed {
		return denied()
	}
	if !g.RemoveBot(botID) {
		return fail("Bot not whitelisted.")
	}
	if e.deps.Platform != nil {
		if err := e.deps.Platform.Kick(ctx, guildID, botID, "REMOVED FROM WHITELIST"); err != nil {
			e.deps.Logger.Debug("unwhitelisted bot not kicked", zap.String("guild_id", guildID), zap.String("bot_id", botID), zap.Error(err))
		}
	}
	e.operatorLog(ctx, guildID, operatorID, "BOT_UNWHITELISTED", "removed bot from whitelist", botID)
	e.publish(ctx, g)
	return ok("**REMOVED FROM WHITELIST** %s", botID)
}

func (e *Engine) AddRoleToWhitelist(ctx context.Context, guildID, operatorID, roleID string) Outcome {
	g, allowed := e.authorize(ctx, guildID, operatorID)
	if !allowed {
		return denied()
	}
	if !snowflake.MatchString(roleID) {
		return fail("Invalid role mention. Please use `@role` or `role_id`.")
	}
	if !g.AddRole(roleID) {
		return ok("Role %s is already whitelisted.", roleID)
	}
	e.operatorLog(ctx, guildID, operatorID, "ROLE_WHITELISTED", "whitelisted role", roleID)
	e.publish(ctx, g)
	return ok("**WHITELISTED ROLE:** %s", roleID)
}

func (e *Engine) RemoveRoleFromWhitelist(ctx context.Context, guildID, operatorID, roleID string) Outcome {
	g, allowed := e.authorize(ctx, guildID, operatorID)
	if !allowed {
		return denied()
	}
	if !g.RemoveRole(roleID) {
		return fail("Role not found in whitelist.")
	}
	e.operatorLog(ctx, guildID, operatorID, "ROLE_UNWHITELISTED", "removed role from whitelist", roleID)
	e.publish(ctx, g)
	return ok("**REMOVED ROLE FROM WHITELIST:** %s", roleID)
}

// ReleaseTimeout lifts a tracked timeout. Releasing an untracked user
// changes nothing.
func (e *Engine) ReleaseTimeout(ctx context.Context, guildID, operatorID, userID string) Outcome {
	g, allowed := e.authorize(ctx, guildID, operatorID)
	if !allowed {
		return denied()
	}
	rec, err := e.deps.Enforcement.Release(ctx, guildID, userID, operatorID)
	switch {
	case errors.Is(err, enforcement.ErrNotTracked):
		return fail("User not in timeout system")
	case err != nil:
		e.deps.Logger.Warn("timeout release failed", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.Error(err))
		return fail("User is not currently timed out or cannot be found.")
	}
	e.publish(ctx, g)
	return ok("**RELEASED** <@%s>\n**Reason:** %s", userID, rec.Reason)
}

// ReleaseRaid ends raid protection early. Emergency mode is left to the
// sweep.
func (e *Engine) ReleaseRaid(ctx context.Context, guildID, operatorID string) Outcome {
	g, allowed := e.authorize(ctx, guildID, operatorID)
	if !allowed {
		return fail("Only the server owner can release invites.")
	}
	if !e.deps.Raid.Release(ctx, guildID, operatorID) {
		return fail("No raid protection is active.")
	}
	e.publish(ctx, g)
	return ok("**Invite restrictions have been lifted!** Normal operations resumed.")
}

func (e *Engine) operatorLog(ctx context.Context, guildID, operatorID, kind, description, targetID string) {
	e.deps.Audit.Log(ctx, audit.LevelInfo, guildID, state.LogEntry{
		Type:        kind,
		Description: description,
		ExecutorID:  operatorID,
		TargetID:    targetID,
		Timestamp:   e.clock.Now(),
	})
}
