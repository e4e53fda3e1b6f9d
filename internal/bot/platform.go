package bot

import (
	"context"
	"fmt"
	"time"

	"nukeshield/internal/executor"
	"nukeshield/internal/modules/antiraid"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/multierr"
)

func (b *Bot) Ban(ctx context.Context, guildID, userID, reason string) error {
	return b.session.GuildBanCreateWithReason(guildID, userID, reason, b.cfg.Actions.DeleteMessageDays, discordgo.WithContext(ctx))
}

func (b *Bot) Kick(ctx context.Context, guildID, userID, reason string) error {
	return b.session.GuildMemberDeleteWithReason(guildID, userID, reason, discordgo.WithContext(ctx))
}

// Timeout restricts the member for d from now. A zero d lifts the
// restriction.
func (b *Bot) Timeout(ctx context.Context, guildID, userID string, d time.Duration, reason string) error {
	var until *time.Time
	if d > 0 {
		t := time.Now().Add(d)
		until = &t
	}
	return b.session.GuildMemberTimeout(guildID, userID, until, discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason))
}

func (b *Bot) RevertRole(ctx context.Context, guildID, roleID string, permissions int64, name string) error {
	params := &discordgo.RoleParams{Name: name, Permissions: &permissions}
	_, err := b.session.GuildRoleEdit(guildID, roleID, params,
		discordgo.WithContext(ctx),
		discordgo.WithAuditLogReason("ANTI-NUKE: Reverted malicious role modification"),
	)
	return err
}

func (b *Bot) DeleteEntity(ctx context.Context, guildID string, ref executor.EntityRef, reason string) error {
	opts := []discordgo.RequestOption{discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason)}
	switch ref.Kind {
	case executor.EntityChannel:
		_, err := b.session.ChannelDelete(ref.ID, opts...)
		return err
	case executor.EntityRole:
		return b.session.GuildRoleDelete(guildID, ref.ID, opts...)
	case executor.EntityWebhook:
		return b.session.WebhookDelete(ref.ID, opts...)
	default:
		return fmt.Errorf("delete %s %s: unsupported entity", ref.Kind, ref.ID)
	}
}

// RemoveRoles attempts every role and reports all failures together.
func (b *Bot) RemoveRoles(ctx context.Context, guildID, userID string, roleIDs []string, reason string) error {
	var err error
	for _, roleID := range roleIDs {
		err = multierr.Append(err, b.session.GuildMemberRoleRemove(guildID, userID, roleID,
			discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason)))
	}
	return err
}

func (b *Bot) ListInvites(ctx context.Context, guildID string) ([]antiraid.Invite, error) {
	invites, err := b.session.GuildInvites(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	out := make([]antiraid.Invite, 0, len(invites))
	for _, inv := range invites {
		if inv == nil {
			continue
		}
		out = append(out, antiraid.Invite{Code: inv.Code, MaxAge: inv.MaxAge})
	}
	return out, nil
}

func (b *Bot) DeleteInvite(ctx context.Context, code, reason string) error {
	_, err := b.session.InviteDelete(code, discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason))
	return err
}

func (b *Bot) GuildOwner(ctx context.Context, guildID string) (string, error) {
	if guild, err := b.session.State.Guild(guildID); err == nil && guild.OwnerID != "" {
		return guild.OwnerID, nil
	}
	guild, err := b.session.Guild(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return "", err
	}
	return guild.OwnerID, nil
}

func (b *Bot) IsBot(ctx context.Context, userID string) (bool, error) {
	user, err := b.session.User(userID, discordgo.WithContext(ctx))
	if err != nil {
		return false, err
	}
	return user.Bot, nil
}

// member prefers the state cache over a REST lookup.
func (b *Bot) member(ctx context.Context, guildID, userID string) (*discordgo.Member, error) {
	if member, err := b.session.State.Member(guildID, userID); err == nil && member != nil {
		return member, nil
	}
	return b.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
}

func (b *Bot) guildRoles(ctx context.Context, guildID string) ([]*discordgo.Role, error) {
	if guild, err := b.session.State.Guild(guildID); err == nil && len(guild.Roles) > 0 {
		return guild.Roles, nil
	}
	return b.session.GuildRoles(guildID, discordgo.WithContext(ctx))
}
