package bot

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"nukeshield/internal/analytics"
	"nukeshield/internal/config"
	"nukeshield/internal/engine"
	"nukeshield/internal/modules/antiraid"
	"nukeshield/internal/modules/audit"
	"nukeshield/internal/state"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const embedLimit = 4096

// PublishStatus edits the guild's status message in the security log
// channel, posting a new one when there is none yet.
func (b *Bot) PublishStatus(ctx context.Context, snap engine.Snapshot) error {
	channelID := b.logChannel(snap.GuildID)
	if channelID == "" {
		return nil
	}
	embed := statusEmbed(b.guildName(snap.GuildID), snap, b.cfg.Notifications.EmbedColors)
	components := statusComponents()

	b.mu.Lock()
	messageID := b.statusMsgs[snap.GuildID]
	b.mu.Unlock()

	if messageID != "" {
		edit := discordgo.NewMessageEdit(channelID, messageID).SetEmbeds([]*discordgo.MessageEmbed{embed})
		edit.Components = components
		if _, err := b.session.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx)); err == nil {
			return nil
		}
	}
	msg, err := b.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Embeds:     []*discordgo.MessageEmbed{embed},
		Components: components,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.statusMsgs[snap.GuildID] = msg.ID
	b.mu.Unlock()
	return nil
}

// RaidActivated alerts the log channel with a release button and, when
// configured, the owner by direct message.
func (b *Bot) RaidActivated(ctx context.Context, guildID, ownerID string, out antiraid.Outcome) error {
	embed := raidEmbed(out, b.cfg.Raid, b.cfg.Notifications.EmbedColors.Warning)
	var sendErr error
	if channelID := b.logChannel(guildID); channelID != "" {
		content := "**URGENT: Anti-raid protection activated!**"
		if ownerID != "" {
			content = "<@" + ownerID + "> " + content
		}
		_, sendErr = b.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
			Content:    content,
			Embeds:     []*discordgo.MessageEmbed{embed},
			Components: []discordgo.MessageComponent{releaseRow()},
		}, discordgo.WithContext(ctx))
	}
	if b.cfg.Notifications.DMOwner && ownerID != "" {
		if err := b.directMessage(ctx, ownerID, embed); err != nil {
			b.logger.Debug("owner dm failed", zap.String("guild_id", guildID), zap.Error(err))
		}
	}
	return sendErr
}

func (b *Bot) notifyAudit(ctx context.Context, guildID, level string, entry state.LogEntry) {
	if level == audit.LevelInfo {
		return
	}
	channelID := b.logChannel(guildID)
	if channelID == "" {
		return
	}
	if _, err := b.session.ChannelMessageSendEmbed(channelID, auditEmbed(level, entry, b.cfg.Notifications.EmbedColors), discordgo.WithContext(ctx)); err != nil {
		b.logger.Debug("audit notification failed", zap.String("guild_id", guildID), zap.Error(err))
	}
}

func (b *Bot) directMessage(ctx context.Context, userID string, embed *discordgo.MessageEmbed) error {
	channel, err := b.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return err
	}
	_, err = b.session.ChannelMessageSendEmbed(channel.ID, embed, discordgo.WithContext(ctx))
	return err
}

// logChannel resolves the configured log channel, or the guild's text
// channel carrying the configured name.
func (b *Bot) logChannel(guildID string) string {
	if b.cfg.Status.LogChannel != "" {
		return b.cfg.Status.LogChannel
	}
	b.mu.Lock()
	cached := b.logChannels[guildID]
	b.mu.Unlock()
	if cached != "" {
		return cached
	}
	guild, err := b.session.State.Guild(guildID)
	if err != nil {
		return ""
	}
	id := findChannel(guild.Channels, b.cfg.Status.ChannelName)
	if id != "" {
		b.mu.Lock()
		b.logChannels[guildID] = id
		b.mu.Unlock()
	}
	return id
}

func (b *Bot) guildName(guildID string) string {
	if guild, err := b.session.State.Guild(guildID); err == nil && guild.Name != "" {
		return guild.Name
	}
	return guildID
}

func findChannel(channels []*discordgo.Channel, name string) string {
	if name == "" {
		return ""
	}
	for _, channel := range channels {
		if channel != nil && channel.Type == discordgo.ChannelTypeGuildText && strings.EqualFold(channel.Name, name) {
			return channel.ID
		}
	}
	return ""
}

func statusEmbed(guildName string, snap engine.Snapshot, colors config.EmbedColors) *discordgo.MessageEmbed {
	color := colors.OK
	switch {
	case snap.EmergencyMode:
		color = colors.Warning
	case snap.ActiveTimeouts > 0:
		color = colors.Error
	}
	mode := "NORMAL MODE"
	if snap.EmergencyMode {
		mode = "EMERGENCY MODE"
	}
	return &discordgo.MessageEmbed{
		Title:       "⚡ NUKESHIELD STATUS",
		Description: fmt.Sprintf("🎯 **%s** | 🕐 <t:%d:T>", guildName, snap.At.Unix()),
		Color:       color,
		Timestamp:   snap.At.Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			{
				Name: "🛡️ PROTECTION",
				Value: fmt.Sprintf("⏰ Active Timeouts: **%d**\n🚨 Emergency Mode: **%s**\n🌊 Raid Protection: **%s**\n📡 Monitoring: **%s**",
					snap.ActiveTimeouts, onOff(snap.EmergencyMode, "ACTIVE", "STANDBY"), onOff(snap.RaidActive, "ACTIVE", "STANDBY"), onOff(snap.Monitoring, "ACTIVE", "MANUAL")),
				Inline: true,
			},
			{
				Name: "✅ WHITELIST",
				Value: fmt.Sprintf("🤖 Bots: **%d**\n🌐 Roles: **%d**\n🚩 Flagged Bots: **%d**",
					snap.Whitelist.Bots, snap.Whitelist.Roles, snap.FlaggedBots),
				Inline: true,
			},
			{
				Name: "📈 SECURITY STATS",
				Value: fmt.Sprintf("🔒 Timeouts: **%d**\n⚠️ Bans: **%d**\n👢 Kicks: **%d**\n🤖 Blocked: **%d**\n🚫 Nuke Attempts: **%d**",
					snap.Stats.Timeouts, snap.Stats.Bans, snap.Stats.Kicks, snap.Stats.BlockedBots, snap.Stats.NukeAttempts),
				Inline: true,
			},
		},
		Footer: &discordgo.MessageEmbedFooter{Text: "⚡ " + mode},
	}
}

func statusComponents() []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.Button{CustomID: buttonTimeouts, Label: "Timeouts", Style: discordgo.PrimaryButton, Emoji: discordgo.ComponentEmoji{Name: "⏰"}},
			discordgo.Button{CustomID: buttonBans, Label: "Bans", Style: discordgo.DangerButton, Emoji: discordgo.ComponentEmoji{Name: "⚠️"}},
			discordgo.Button{CustomID: buttonActivity, Label: "Activity", Style: discordgo.SecondaryButton, Emoji: discordgo.ComponentEmoji{Name: "📊"}},
			discordgo.Button{CustomID: buttonStats, Label: "Stats", Style: discordgo.SuccessButton, Emoji: discordgo.ComponentEmoji{Name: "📈"}},
		}},
	}
}

func releaseRow() discordgo.ActionsRow {
	return discordgo.ActionsRow{Components: []discordgo.MessageComponent{
		discordgo.Button{CustomID: buttonReleaseInvites, Label: "Release Invites", Style: discordgo.SuccessButton, Emoji: discordgo.ComponentEmoji{Name: "🔓"}},
	}}
}

func raidEmbed(out antiraid.Outcome, raid config.RaidConfig, color int) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title: "🚨 ANTI-RAID PROTECTION ACTIVATED",
		Description: fmt.Sprintf("**MASS JOIN DETECTED!**\n\n🔒 **%d members** joined within **%d seconds**\n\n"+
			"• Temporary invites deleted: **%d**\n• Emergency mode activated\n\nProtection stays active until released or expired.",
			out.Count, raid.WindowSeconds, out.InvitesDeleted),
		Color: color,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "📊 Detection", Value: fmt.Sprintf("Members: **%d**\nWindow: **%ds**\nThreshold: **%d**", out.Count, raid.WindowSeconds, raid.Joins), Inline: true},
			{Name: "⏰ Auto-Expiry", Value: fmt.Sprintf("<t:%d:R>", out.State.ExpiresAt.Unix()), Inline: true},
		},
		Timestamp: out.State.ActivatedAt.Format(time.RFC3339),
	}
}

func auditEmbed(level string, entry state.LogEntry, colors config.EmbedColors) *discordgo.MessageEmbed {
	color := colors.Action
	if level == audit.LevelCrit {
		color = colors.Warning
	}
	executor := "System"
	if entry.ExecutorID != "" {
		executor = "<@" + entry.ExecutorID + ">"
	}
	target := "N/A"
	switch {
	case entry.TargetTag != "":
		target = entry.TargetTag
	case entry.TargetID != "":
		target = entry.TargetID
	}
	return &discordgo.MessageEmbed{
		Title:       "🛡️ " + strings.ReplaceAll(entry.Type, "_", " "),
		Description: truncate(entry.Description, embedLimit),
		Color:       color,
		Timestamp:   entry.Timestamp.Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Executor", Value: executor, Inline: true},
			{Name: "Target", Value: target, Inline: true},
			{Name: "Level", Value: level, Inline: true},
		},
	}
}

func timeoutsEmbed(records []state.TimeoutRecord, color int) *discordgo.MessageEmbed {
	lines := make([]string, 0, len(records))
	for _, rec := range records {
		lines = append(lines, fmt.Sprintf("<@%s> - %s (Until: <t:%d:R>)", rec.UserID, truncate(rec.Reason, 40), rec.ReleaseAt.Unix()))
	}
	return listEmbed("⏰ ACTIVE TIMEOUTS", lines, "No users currently timed out", color)
}

func bansEmbed(entries []state.LogEntry, color int) *discordgo.MessageEmbed {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("**%s** - %s (<t:%d:R>)", nonEmpty(e.TargetTag, e.TargetID), e.Description, e.Timestamp.Unix()))
	}
	return listEmbed("⚠️ RECENT BANS", lines, "No recent bans", color)
}

func activityEmbed(entries []state.LogEntry, color int) *discordgo.MessageEmbed {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		executor := nonEmpty(e.ExecutorTag, e.ExecutorID)
		if executor == "" {
			executor = "System"
		}
		target := nonEmpty(e.TargetTag, e.TargetID)
		if target == "" {
			target = "N/A"
		}
		lines = append(lines, fmt.Sprintf("**%s** by %s → %s (<t:%d:R>)", e.Type, executor, target, e.Timestamp.Unix()))
	}
	return listEmbed("📊 RECENT ACTIVITY", lines, "No recent activity", color)
}

func statsEmbed(stats state.Stats, uptime time.Duration, color int) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title: "📈 DETAILED STATISTICS",
		Color: color,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "⏰ Timeouts", Value: fmt.Sprint(stats.Timeouts), Inline: true},
			{Name: "⚠️ Bans", Value: fmt.Sprint(stats.Bans), Inline: true},
			{Name: "👢 Kicks", Value: fmt.Sprint(stats.Kicks), Inline: true},
			{Name: "🤖 Blocked Bots", Value: fmt.Sprint(stats.BlockedBots), Inline: true},
			{Name: "🚫 Nuke Attempts", Value: fmt.Sprint(stats.NukeAttempts), Inline: true},
			{Name: "⚡ Uptime", Value: fmt.Sprintf("%dh %dm", int(uptime.Hours()), int(uptime.Minutes())%60), Inline: true},
		},
		Timestamp: time.Now().Format(time.RFC3339),
	}
}

func reportEmbed(report analytics.Report, hours int, color int) *discordgo.MessageEmbed {
	return commandEmbed("📊 SECURITY REPORT", fmt.Sprintf("Last **%dh**: **%d** entries", hours, report.Total), color, []*discordgo.MessageEmbedField{
		{Name: "By level", Value: formatCounts(report.ByLevel, 10), Inline: true},
		{Name: "By tag", Value: formatCounts(report.ByTag, 10), Inline: true},
		{Name: "Top events", Value: formatCounts(report.ByEvent, 10), Inline: false},
	})
}

// formatCounts lists the n largest counts, ties broken by name.
func formatCounts(counts map[string]int, n int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s: **%d**", k, counts[k]))
	}
	if len(lines) == 0 {
		return "None"
	}
	return strings.Join(lines, "\n")
}

func listEmbed(title string, lines []string, empty string, color int) *discordgo.MessageEmbed {
	description := strings.Join(lines, "\n")
	if description == "" {
		description = empty
	}
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: truncate(description, embedLimit),
		Color:       color,
		Timestamp:   time.Now().Format(time.RFC3339),
	}
}

func commandEmbed(title, description string, color int, fields []*discordgo.MessageEmbedField) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Timestamp:   time.Now().Format(time.RFC3339),
		Fields:      fields,
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

func onOff(on bool, yes, no string) string {
	if on {
		return yes
	}
	return no
}

func nonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
