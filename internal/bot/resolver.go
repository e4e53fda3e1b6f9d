package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"nukeshield/internal/config"
	"nukeshield/internal/engine"
	"nukeshield/internal/policy"

	"github.com/bwmarrin/discordgo"
	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

var errNoEntry = errors.New("no matching audit entry")

var auditActions = map[policy.Category]discordgo.AuditLogAction{
	policy.ChannelCreate: discordgo.AuditLogActionChannelCreate,
	policy.ChannelDelete: discordgo.AuditLogActionChannelDelete,
	policy.ChannelUpdate: discordgo.AuditLogActionChannelUpdate,
	policy.WebhookCreate: discordgo.AuditLogActionWebhookCreate,
	policy.RoleCreate:    discordgo.AuditLogActionRoleCreate,
	policy.RoleUpdate:    discordgo.AuditLogActionRoleUpdate,
	policy.RoleDelete:    discordgo.AuditLogActionRoleDelete,
	policy.BotAdd:        discordgo.AuditLogActionBotAdd,
	policy.MemberBan:     discordgo.AuditLogActionMemberBanAdd,
	policy.MemberKick:    discordgo.AuditLogActionMemberKick,
	engine.MemberUpdate:  discordgo.AuditLogActionMemberUpdate,
}

// ResolveExecutor finds who performed kind on targetID by reading the
// guild's audit log. Entries older than within are not trusted.
func (b *Bot) ResolveExecutor(ctx context.Context, guildID string, kind policy.Category, targetID string, within time.Duration) (*engine.Identity, error) {
	action, ok := auditActions[kind]
	if !ok {
		return nil, fmt.Errorf("%w: no audit action for %s", engine.ErrResolution, kind)
	}

	attempts := attemptsFor(b.cfg.Resolver, kind)
	interval := time.Duration(b.cfg.Resolver.BackoffMillis) * time.Millisecond

	entry, err := backoff.Retry(ctx, func() (*discordgo.AuditLogEntry, error) {
		log, err := b.session.GuildAuditLog(guildID, "", "", int(action), 5, discordgo.WithContext(ctx))
		if err != nil {
			if permanentREST(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		if entry := matchEntry(log.AuditLogEntries, targetID, time.Now(), within); entry != nil {
			return entry, nil
		}
		return nil, errNoEntry
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(interval)),
		backoff.WithMaxTries(uint(attempts)),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %s on %s: %v", engine.ErrResolution, kind, targetID, err)
	}
	return b.identity(ctx, guildID, entry.UserID), nil
}

func attemptsFor(cfg config.ResolverConfig, kind policy.Category) int {
	attempts := cfg.Attempts
	if kind == policy.MemberKick {
		attempts = cfg.KickAttempts
	}
	if attempts <= 0 {
		return 1
	}
	return attempts
}

// identity describes the actor. A member that already left is still
// returned by id.
func (b *Bot) identity(ctx context.Context, guildID, userID string) *engine.Identity {
	id := &engine.Identity{ID: userID}
	member, err := b.member(ctx, guildID, userID)
	if err != nil || member == nil {
		b.logger.Debug("actor not in guild", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.Error(err))
		return id
	}
	if member.User != nil {
		id.Tag = member.User.String()
		id.Bot = member.User.Bot
	}
	id.RoleIDs = append([]string(nil), member.Roles...)
	if roles, err := b.guildRoles(ctx, guildID); err == nil {
		id.DangerousRoleIDs = dangerousRoles(roles, member.Roles)
	}
	return id
}

// matchEntry returns the first entry for targetID younger than within.
func matchEntry(entries []*discordgo.AuditLogEntry, targetID string, now time.Time, within time.Duration) *discordgo.AuditLogEntry {
	for _, entry := range entries {
		if entry == nil || entry.UserID == "" {
			continue
		}
		if targetID != "" && entry.TargetID != targetID {
			continue
		}
		ts, err := discordgo.SnowflakeTimestamp(entry.ID)
		if err != nil || now.Sub(ts) > within {
			continue
		}
		return entry
	}
	return nil
}

// dangerousRoles returns the ids in held whose role carries a dangerous
// permission. The managed roles of integrations cannot be removed and are
// skipped.
func dangerousRoles(roles []*discordgo.Role, held []string) []string {
	byID := make(map[string]*discordgo.Role, len(roles))
	for _, role := range roles {
		if role != nil {
			byID[role.ID] = role
		}
	}
	var out []string
	for _, id := range held {
		role := byID[id]
		if role == nil || role.Managed {
			continue
		}
		if policy.Dangerous(role.Permissions) {
			out = append(out, id)
		}
	}
	return out
}

func permanentREST(err error) bool {
	var rest *discordgo.RESTError
	if !errors.As(err, &rest) || rest.Response == nil {
		return false
	}
	switch rest.Response.StatusCode {
	case http.StatusForbidden, http.StatusNotFound, http.StatusUnauthorized:
		return true
	}
	return false
}
