package audit

import (
	"context"
	"strings"
	"time"

	"nukeshield/internal/state"
	"nukeshield/internal/storage"

	"go.uber.org/zap"
)

const (
	LevelInfo = "INFO"
	LevelWarn = "WARN"
	LevelCrit = "CRIT"
)

// Sink receives a copy of every entry. It must not be relied on for state.
type Sink interface {
	AddAuditLog(ctx context.Context, log storage.AuditLog) error
	RecordInfraction(ctx context.Context, guildID, userID, category, action string, at time.Time) error
}

// Entry types that count as a sanction against the entry's target.
var sanctionTypes = map[string]bool{
	"BAN":     true,
	"KICK":    true,
	"TIMEOUT": true,
}

type Notifier func(ctx context.Context, guildID, level string, entry state.LogEntry)

type Logger struct {
	guilds *state.Store
	sink   Sink
	logger *zap.Logger
	notify Notifier
}

func NewLogger(guilds *state.Store, sink Sink, logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{guilds: guilds, sink: sink, logger: logger}
}

func (l *Logger) SetNotifier(notify Notifier) {
	l.notify = notify
}

// Log appends entry to the guild's activity log, then fans it out to zap,
// the export sink and the notifier.
func (l *Logger) Log(ctx context.Context, level, guildID string, entry state.LogEntry) state.LogEntry {
	entry = l.guilds.Guild(guildID).Append(entry)

	l.logger.Info("audit",
		zap.String("level", level),
		zap.String("guild_id", guildID),
		zap.String("type", entry.Type),
		zap.String("tag", string(entry.Tag)),
		zap.String("executor_id", entry.ExecutorID),
		zap.String("target_id", entry.TargetID),
		zap.String("description", entry.Description),
	)

	if l.sink != nil {
		exportCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := l.sink.AddAuditLog(exportCtx, storage.AuditLog{
			EntryID:    entry.ID,
			GuildID:    guildID,
			Level:      level,
			Event:      entry.Type,
			Tag:        string(entry.Tag),
			ExecutorID: entry.ExecutorID,
			TargetID:   entry.TargetID,
			Details:    entry.Description,
			CreatedAt:  entry.Timestamp,
		})
		if err == nil && sanctionTypes[entry.Type] && entry.TargetID != "" {
			err = l.sink.RecordInfraction(exportCtx, guildID, entry.TargetID, Category(entry.Description), entry.Type, entry.Timestamp)
		}
		cancel()
		if err != nil {
			l.logger.Warn("audit export failed", zap.String("guild_id", guildID), zap.Error(err))
		}
	}
	if l.notify != nil {
		l.notify(ctx, guildID, level, entry)
	}
	return entry
}

// Category is the reason prefix before the first colon, e.g.
// "UNAUTHORIZED CHANNEL CREATION" for a channel creation ban.
func Category(reason string) string {
	category, _, _ := strings.Cut(reason, ":")
	return strings.TrimSpace(category)
}
