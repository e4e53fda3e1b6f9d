package bot

import (
	"context"
	"strings"
	"time"

	"nukeshield/internal/engine"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	buttonReleaseInvites = "release_invites"
	buttonTimeouts       = "view_timeouts"
	buttonBans           = "view_bans"
	buttonActivity       = "view_activity"
	buttonStats          = "view_stats"
)

const viewSize = 10

func (b *Bot) onInteractionCreate(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	if interaction.Type != discordgo.InteractionApplicationCommand && interaction.Type != discordgo.InteractionMessageComponent {
		return
	}
	colors := b.cfg.Notifications.EmbedColors
	if interaction.GuildID == "" {
		b.respondEmbed(session, interaction, commandEmbed("🛡️ NukeShield", "❌ This command only works inside a server.", colors.Error, nil), true)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	switch interaction.Type {
	case discordgo.InteractionApplicationCommand:
		b.handleCommand(ctx, session, interaction)
	case discordgo.InteractionMessageComponent:
		b.handleButton(ctx, session, interaction)
	}
}

func (b *Bot) handleCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	data := interaction.ApplicationCommandData()
	guildID := interaction.GuildID
	operator := operatorID(interaction)
	colors := b.cfg.Notifications.EmbedColors

	switch data.Name {
	case "monitoring":
		b.respondOutcome(session, interaction, "📡 MONITORING", b.engine.ToggleMonitoring(ctx, guildID, operator))
	case "whitelist":
		if len(data.Options) == 0 {
			b.respondEmbed(session, interaction, commandEmbed("✅ WHITELIST", "❌ Unknown subcommand.", colors.Error, nil), true)
			return
		}
		sub := data.Options[0]
		id := parseID(optionString(sub.Options, "id"))
		var outcome engine.Outcome
		switch sub.Name {
		case "add-bot":
			outcome = b.engine.AddBotToWhitelist(ctx, guildID, operator, id)
		case "remove-bot":
			outcome = b.engine.RemoveBotFromWhitelist(ctx, guildID, operator, id)
		case "add-role":
			outcome = b.engine.AddRoleToWhitelist(ctx, guildID, operator, id)
		case "remove-role":
			outcome = b.engine.RemoveRoleFromWhitelist(ctx, guildID, operator, id)
		default:
			outcome = engine.Outcome{Message: "❌ Unknown subcommand."}
		}
		b.respondOutcome(session, interaction, "✅ WHITELIST", outcome)
	case "release":
		userID := parseID(optionString(data.Options, "user"))
		b.respondOutcome(session, interaction, "🔓 RELEASE", b.engine.ReleaseTimeout(ctx, guildID, operator, userID))
	case "shield":
		snap := b.engine.Snapshot(guildID)
		b.respondComplex(session, interaction, &discordgo.InteractionResponseData{
			Embeds:     []*discordgo.MessageEmbed{statusEmbed(b.guildName(guildID), snap, colors)},
			Components: statusComponents(),
			Flags:      discordgo.MessageFlagsEphemeral,
		})
	case "report":
		hours := optionInt(data.Options, "hours", 24)
		report, err := b.engine.Report(ctx, guildID, time.Duration(hours)*time.Hour)
		if err != nil {
			b.logger.Warn("report failed", zap.String("guild_id", guildID), zap.Error(err))
			b.respondEmbed(session, interaction, commandEmbed("📊 REPORT", "❌ Report unavailable.", colors.Error, nil), true)
			return
		}
		b.respondEmbed(session, interaction, reportEmbed(report, hours, colors.Action), true)
	case "help":
		b.respondEmbed(session, interaction, helpEmbed(colors.Action), true)
	}
}

func (b *Bot) handleButton(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	data := interaction.MessageComponentData()
	guildID := interaction.GuildID
	colors := b.cfg.Notifications.EmbedColors

	switch data.CustomID {
	case buttonReleaseInvites:
		outcome := b.engine.ReleaseRaid(ctx, guildID, operatorID(interaction))
		b.respondOutcome(session, interaction, "🔓 INVITES RELEASED", outcome)
		if outcome.OK {
			b.logger.Info("raid released", zap.String("guild_id", guildID), zap.String("operator_id", operatorID(interaction)))
		}
	case buttonTimeouts:
		b.respondEmbed(session, interaction, timeoutsEmbed(b.engine.ActiveTimeouts(guildID), colors.Error), true)
	case buttonBans:
		b.respondEmbed(session, interaction, bansEmbed(b.engine.RecentBans(guildID, viewSize), colors.Warning), true)
	case buttonActivity:
		b.respondEmbed(session, interaction, activityEmbed(b.engine.Activity(guildID, viewSize), colors.Action), true)
	case buttonStats:
		b.respondEmbed(session, interaction, statsEmbed(b.engine.Snapshot(guildID).Stats, time.Since(b.started), colors.OK), true)
	}
}

func (b *Bot) respondOutcome(session *discordgo.Session, interaction *discordgo.InteractionCreate, title string, outcome engine.Outcome) {
	color := b.cfg.Notifications.EmbedColors.OK
	if !outcome.OK {
		color = b.cfg.Notifications.EmbedColors.Error
	}
	b.respondEmbed(session, interaction, commandEmbed(title, outcome.Message, color, nil), true)
}

func (b *Bot) respondEmbed(session *discordgo.Session, interaction *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	b.respondComplex(session, interaction, &discordgo.InteractionResponseData{
		Embeds: []*discordgo.MessageEmbed{embed},
		Flags:  flags,
	})
}

func (b *Bot) respondComplex(session *discordgo.Session, interaction *discordgo.InteractionCreate, data *discordgo.InteractionResponseData) {
	err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	})
	if err != nil {
		b.logger.Warn("interaction response failed", zap.String("guild_id", interaction.GuildID), zap.Error(err))
	}
}

func helpEmbed(color int) *discordgo.MessageEmbed {
	return commandEmbed("🛡️ NUKESHIELD COMMANDS", "", color, []*discordgo.MessageEmbedField{
		{
			Name: "🔧 OWNER COMMANDS",
			Value: "`/monitoring` - Toggle 24/7 monitoring\n`/whitelist add-bot <bot_id>` - Whitelist bot\n" +
				"`/whitelist remove-bot <bot_id>` - Remove bot\n`/whitelist add-role <@role/role_id>` - Whitelist role\n" +
				"`/whitelist remove-role <@role/role_id>` - Remove role\n`/release <user>` - Release timeout",
		},
		{
			Name:  "⚡ PROTECTIONS",
			Value: "**BAN:** unauthorized channel and webhook changes, malicious roles, mass bans and kicks\n**REVERT:** dangerous role escalations are undone first\n**RAID:** mass joins delete temporary invites",
		},
		{
			Name:  "🤖 BOT PROTECTION",
			Value: "Only whitelisted bots may join. Others are removed and the adder is sanctioned.",
		},
		{
			Name:  "🛡️ ROLE PROTECTION",
			Value: "Members holding a whitelisted role are kicked instead of banned.",
		},
	})
}

func operatorID(interaction *discordgo.InteractionCreate) string {
	if interaction.Member != nil && interaction.Member.User != nil {
		return interaction.Member.User.ID
	}
	if interaction.User != nil {
		return interaction.User.ID
	}
	return ""
}

func optionString(options []*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	for _, opt := range options {
		if opt == nil || opt.Name != name {
			continue
		}
		if value, ok := opt.Value.(string); ok {
			return value
		}
	}
	return ""
}

func optionInt(options []*discordgo.ApplicationCommandInteractionDataOption, name string, fallback int) int {
	for _, opt := range options {
		if opt == nil || opt.Name != name {
			continue
		}
		if value, ok := opt.Value.(float64); ok && value > 0 {
			return int(value)
		}
	}
	return fallback
}

// parseID accepts a raw id or a user, role or channel mention.
func parseID(value string) string {
	value = strings.TrimSpace(value)
	for _, prefix := range []string{"<@&", "<@!", "<@", "<#"} {
		if strings.HasPrefix(value, prefix) && strings.HasSuffix(value, ">") {
			return strings.TrimSuffix(strings.TrimPrefix(value, prefix), ">")
		}
	}
	return value
}
