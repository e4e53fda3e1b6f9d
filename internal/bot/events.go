package bot

import (
	"context"

	"nukeshield/internal/engine"
	"nukeshield/internal/executor"
	"nukeshield/internal/policy"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

func (b *Bot) onChannelCreate(session *discordgo.Session, event *discordgo.ChannelCreate) {
	if event.Channel == nil || event.Channel.GuildID == "" {
		return
	}
	b.entities.putChannel(event.Channel)
	b.dispatch(channelEvent(policy.ChannelCreate, event.Channel))
}

func (b *Bot) onChannelDelete(session *discordgo.Session, event *discordgo.ChannelDelete) {
	if event.Channel == nil || event.Channel.GuildID == "" {
		return
	}
	b.entities.dropChannel(event.Channel.ID)
	b.dispatch(channelEvent(policy.ChannelDelete, event.Channel))
}

// onChannelUpdate only forwards updates that touch the name, the position or
// the permission overwrites of a channel seen before.
func (b *Bot) onChannelUpdate(session *discordgo.Session, event *discordgo.ChannelUpdate) {
	if event.Channel == nil || event.Channel.GuildID == "" {
		return
	}
	prev, ok := b.entities.putChannel(event.Channel)
	if !ok {
		return
	}
	diff := channelDiff(prev, snapshotChannel(event.Channel))
	if !diff.NameChanged() && !diff.PositionChanged && !diff.OverwritesChanged {
		return
	}
	ev := channelEvent(policy.ChannelUpdate, event.Channel)
	ev.Diff = diff
	b.dispatch(ev)
}

func (b *Bot) onRoleCreate(session *discordgo.Session, event *discordgo.GuildRoleCreate) {
	if event.GuildRole == nil || event.Role == nil || event.GuildID == "" {
		return
	}
	b.entities.putRole(event.Role)
	b.dispatch(roleEvent(policy.RoleCreate, event.GuildID, event.Role.ID, event.Role.Name, event.Role.Permissions))
}

func (b *Bot) onRoleDelete(session *discordgo.Session, event *discordgo.GuildRoleDelete) {
	if event.GuildID == "" || event.RoleID == "" {
		return
	}
	prev, _ := b.entities.dropRole(event.RoleID)
	b.dispatch(roleEvent(policy.RoleDelete, event.GuildID, event.RoleID, prev.name, prev.permissions))
}

func (b *Bot) onRoleUpdate(session *discordgo.Session, event *discordgo.GuildRoleUpdate) {
	if event.GuildRole == nil || event.Role == nil || event.GuildID == "" {
		return
	}
	prev, ok := b.entities.putRole(event.Role)
	if !ok {
		return
	}
	diff := roleDiff(prev, roleSnapshot{name: event.Role.Name, permissions: event.Role.Permissions})
	if !diff.NameChanged() && diff.OldPermissions == diff.NewPermissions {
		return
	}
	ev := roleEvent(policy.RoleUpdate, event.GuildID, event.Role.ID, event.Role.Name, event.Role.Permissions)
	ev.Diff = diff
	b.dispatch(ev)
}

// onWebhooksUpdate carries only the channel, so the channel's webhooks are
// listed and compared with the ones already known.
func (b *Bot) onWebhooksUpdate(session *discordgo.Session, event *discordgo.WebhooksUpdate) {
	if event.GuildID == "" || event.ChannelID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()
	hooks, err := session.ChannelWebhooks(event.ChannelID, discordgo.WithContext(ctx))
	if err != nil {
		b.logger.Warn("webhook listing failed", zap.String("guild_id", event.GuildID), zap.String("channel_id", event.ChannelID), zap.Error(err))
		return
	}
	channelName := event.ChannelID
	if channel, err := session.State.Channel(event.ChannelID); err == nil {
		channelName = channel.Name
	}
	for _, hook := range b.entities.newWebhooks(event.GuildID, event.ChannelID, hooks) {
		b.dispatch(engine.Event{
			Kind:    policy.WebhookCreate,
			GuildID: event.GuildID,
			Target:  policy.Target{ID: hook.ID, Name: channelName},
			Entity:  executor.EntityRef{Kind: executor.EntityWebhook, ID: hook.ID, Name: hook.Name},
		})
	}
}

func (b *Bot) onGuildMemberAdd(session *discordgo.Session, event *discordgo.GuildMemberAdd) {
	if event.Member == nil || event.User == nil || event.GuildID == "" {
		return
	}
	b.dispatch(memberEvent(engine.MemberJoin, event.GuildID, event.User))
}

func (b *Bot) onGuildMemberRemove(session *discordgo.Session, event *discordgo.GuildMemberRemove) {
	if event.Member == nil || event.User == nil || event.GuildID == "" {
		return
	}
	if event.User.ID == b.selfID() {
		return
	}
	b.dispatch(memberEvent(engine.MemberRemove, event.GuildID, event.User))
}

func (b *Bot) onGuildMemberUpdate(session *discordgo.Session, event *discordgo.GuildMemberUpdate) {
	if event.Member == nil || event.User == nil || event.GuildID == "" {
		return
	}
	ev := memberEvent(engine.MemberUpdate, event.GuildID, event.User)
	ev.RestrictedUntil = event.CommunicationDisabledUntil
	b.dispatch(ev)
}

func (b *Bot) onGuildBanAdd(session *discordgo.Session, event *discordgo.GuildBanAdd) {
	if event.User == nil || event.GuildID == "" {
		return
	}
	b.dispatch(memberEvent(policy.MemberBan, event.GuildID, event.User))
}

func channelEvent(kind policy.Category, channel *discordgo.Channel) engine.Event {
	return engine.Event{
		Kind:    kind,
		GuildID: channel.GuildID,
		Target:  policy.Target{ID: channel.ID, Name: channel.Name},
		Entity:  executor.EntityRef{Kind: executor.EntityChannel, ID: channel.ID, Name: channel.Name},
	}
}

func roleEvent(kind policy.Category, guildID, roleID, name string, permissions int64) engine.Event {
	return engine.Event{
		Kind:    kind,
		GuildID: guildID,
		Target:  policy.Target{ID: roleID, Name: name, Permissions: permissions},
		Entity:  executor.EntityRef{Kind: executor.EntityRole, ID: roleID, Name: name},
	}
}

func memberEvent(kind policy.Category, guildID string, user *discordgo.User) engine.Event {
	return engine.Event{
		Kind:    kind,
		GuildID: guildID,
		Target:  policy.Target{ID: user.ID, Name: user.String(), Bot: user.Bot},
	}
}
