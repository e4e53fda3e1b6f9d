package bot

import (
	"context"
	"errors"
	"sync"
	"time"

	"nukeshield/internal/config"
	"nukeshield/internal/engine"
	"nukeshield/internal/modules/audit"
	"nukeshield/internal/state"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

var errNoEngine = errors.New("engine not attached")

const handleTimeout = 30 * time.Second

type Bot struct {
	cfg      config.Config
	logger   *zap.Logger
	session  *discordgo.Session
	engine   *engine.Engine
	entities *entityCache
	started  time.Time

	mu          sync.Mutex
	logChannels map[string]string
	statusMsgs  map[string]string
}

func New(cfg config.Config, logger *zap.Logger) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildBans |
		discordgo.IntentsGuildWebhooks

	return &Bot{
		cfg:         cfg,
		logger:      logger,
		session:     session,
		entities:    newEntityCache(),
		logChannels: make(map[string]string),
		statusMsgs:  make(map[string]string),
	}, nil
}

// SetEngine attaches the engine events are forwarded to and routes activity
// entries to the security log channel.
func (b *Bot) SetEngine(e *engine.Engine, auditLogger *audit.Logger) {
	b.engine = e
	if auditLogger != nil {
		auditLogger.SetNotifier(func(ctx context.Context, guildID, level string, entry state.LogEntry) {
			if !b.cfg.Notifications.AuditToChannel {
				return
			}
			b.notifyAudit(ctx, guildID, level, entry)
		})
	}
}

func (b *Bot) Start() error {
	if b.engine == nil {
		return errNoEngine
	}
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onGuildCreate)
	b.session.AddHandler(b.onChannelCreate)
	b.session.AddHandler(b.onChannelDelete)
	b.session.AddHandler(b.onChannelUpdate)
	b.session.AddHandler(b.onRoleCreate)
	b.session.AddHandler(b.onRoleDelete)
	b.session.AddHandler(b.onRoleUpdate)
	b.session.AddHandler(b.onWebhooksUpdate)
	b.session.AddHandler(b.onGuildMemberAdd)
	b.session.AddHandler(b.onGuildMemberRemove)
	b.session.AddHandler(b.onGuildMemberUpdate)
	b.session.AddHandler(b.onGuildBanAdd)
	b.session.AddHandler(b.onInteractionCreate)

	if err := b.session.Open(); err != nil {
		return err
	}
	b.started = time.Now()

	return b.registerCommands()
}

func (b *Bot) Close() error {
	if b.session == nil {
		return nil
	}
	return b.session.Close()
}

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.engine.SetSelf(event.User.ID)
	b.logger.Info("discord ready", zap.String("user", event.User.Username), zap.Int("guilds", len(event.Guilds)))
}

// onGuildCreate snapshots channels, roles and webhooks for later diffs and
// whitelists the bots already present.
func (b *Bot) onGuildCreate(session *discordgo.Session, event *discordgo.GuildCreate) {
	if event.Guild == nil || event.Guild.Unavailable {
		return
	}
	guild := event.Guild
	for _, channel := range guild.Channels {
		b.entities.putChannel(channel)
	}
	for _, role := range guild.Roles {
		b.entities.putRole(role)
	}

	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()
	if hooks, err := session.GuildWebhooks(guild.ID, discordgo.WithContext(ctx)); err == nil {
		b.entities.seedWebhooks(guild.ID, hooks)
	} else {
		b.logger.Warn("webhook snapshot failed", zap.String("guild_id", guild.ID), zap.Error(err))
	}

	var bots []string
	for _, member := range guild.Members {
		if member.User != nil && member.User.Bot {
			bots = append(bots, member.User.ID)
		}
	}
	b.engine.SeedBots(guild.ID, bots)
}

func (b *Bot) dispatch(ev engine.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()
	b.engine.Handle(ctx, ev)
}

func (b *Bot) selfID() string {
	if b.session.State == nil || b.session.State.User == nil {
		return ""
	}
	return b.session.State.User.ID
}
