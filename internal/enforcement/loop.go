// Package enforcement keeps tracked timeouts honest. Expiry is passive
// bookkeeping; the only active step is reapplying a restriction that was
// lifted early by someone other than the owner.
package enforcement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nukeshield/internal/modules/audit"
	"nukeshield/internal/state"
	"nukeshield/internal/utils"

	"go.uber.org/zap"
)

// ErrNotTracked is returned when releasing a user with no timeout record.
var ErrNotTracked = errors.New("user not in timeout system")

type Restrictor interface {
	Restrict(ctx context.Context, guildID, userID string, d time.Duration, reason string) error
	Lift(ctx context.Context, guildID, userID, reason string) error
}

// LifterFunc resolves who lifted a restriction. An empty id means unknown.
type LifterFunc func(ctx context.Context) (string, error)

type Update struct {
	GuildID string
	OwnerID string
	// SelfID is the engine's own account. Its lifts come from a release.
	SelfID  string
	UserID  string
	UserTag string
	// RestrictedUntil is the member's platform restriction after the
	// update; nil when none is set.
	RestrictedUntil *time.Time
}

type Result int

const (
	Untouched Result = iota
	OwnerCleared
	Reapplied
	ReapplyFailed
)

type Loop struct {
	guilds     *state.Store
	restrictor Restrictor
	audit      *audit.Logger
	logger     *zap.Logger
	max        time.Duration
	clock      utils.Clock
}

func New(guilds *state.Store, restrictor Restrictor, auditLogger *audit.Logger, max time.Duration, logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	if max <= 0 {
		max = 28 * 24 * time.Hour
	}
	return &Loop{
		guilds:     guilds,
		restrictor: restrictor,
		audit:      auditLogger,
		logger:     logger,
		max:        max,
		clock:      utils.RealClock{},
	}
}

func (l *Loop) WithClock(clock utils.Clock) {
	l.clock = clock
}

// Sweep drops records past their release time and logs their completion.
func (l *Loop) Sweep(ctx context.Context) int {
	now := l.clock.Now()
	var completed int
	l.guilds.Range(func(g *state.Guild) bool {
		for _, rec := range g.ExpireTimeouts(now) {
			completed++
			l.audit.Log(ctx, audit.LevelInfo, g.ID, state.LogEntry{
				Type:        "TIMEOUT_COMPLETED",
				Description: "timeout period completed",
				TargetID:    rec.UserID,
				Timestamp:   now,
			})
		}
		return true
	})
	return completed
}

// HandleMemberUpdate reacts to a tracked member whose restriction vanished
// before its release time.
func (l *Loop) HandleMemberUpdate(ctx context.Context, u Update, lifter LifterFunc) Result {
	g, ok := l.guilds.Lookup(u.GuildID)
	if !ok {
		return Untouched
	}
	rec, ok := g.Timeout(u.UserID)
	if !ok {
		return Untouched
	}
	now := l.clock.Now()
	if !now.Before(rec.ReleaseAt) {
		return Untouched
	}
	if u.RestrictedUntil != nil && u.RestrictedUntil.After(now) {
		return Untouched
	}

	var lifterID string
	if lifter != nil {
		id, err := lifter(ctx)
		if err != nil {
			l.logger.Debug("timeout lifter unresolved", zap.String("guild_id", u.GuildID), zap.String("user_id", u.UserID), zap.Error(err))
		}
		lifterID = id
	}

	// The lookup may outlast a release of the same user.
	current, ok := g.Timeout(u.UserID)
	if !ok || !current.ReleaseAt.Equal(rec.ReleaseAt) {
		return Untouched
	}
	if lifterID != "" && lifterID == u.SelfID {
		return Untouched
	}

	if lifterID != "" && lifterID == u.OwnerID {
		g.DropTimeout(u.UserID)
		l.audit.Log(ctx, audit.LevelInfo, u.GuildID, state.LogEntry{
			Type:        "TIMEOUT_REMOVED",
			Description: "manually removed by owner",
			ExecutorID:  lifterID,
			TargetID:    u.UserID,
			TargetTag:   u.UserTag,
			Timestamp:   now,
		})
		return OwnerCleared
	}

	remaining := rec.Remaining(now)
	if remaining > l.max {
		remaining = l.max
	}
	if err := l.restrictor.Restrict(ctx, u.GuildID, u.UserID, remaining, "BYPASS PREVENTION - TIMEOUT REAPPLIED"); err != nil {
		l.logger.Warn("timeout reapply failed", zap.String("guild_id", u.GuildID), zap.String("user_id", u.UserID), zap.Error(err))
		return ReapplyFailed
	}
	l.audit.Log(ctx, audit.LevelWarn, u.GuildID, state.LogEntry{
		Type:        "TIMEOUT_BYPASS_BLOCKED",
		Tag:         state.TagBlocked,
		Description: fmt.Sprintf("bypass attempt blocked, %s remaining", remaining.Round(time.Second)),
		ExecutorID:  lifterID,
		TargetID:    u.UserID,
		TargetTag:   u.UserTag,
		Timestamp:   now,
	})
	return Reapplied
}

// Release clears the platform restriction and forgets the record. The record
// survives a failed platform call.
func (l *Loop) Release(ctx context.Context, guildID, userID, operatorID string) (state.TimeoutRecord, error) {
	g, ok := l.guilds.Lookup(guildID)
	if !ok {
		return state.TimeoutRecord{}, ErrNotTracked
	}
	rec, ok := g.Timeout(userID)
	if !ok {
		return state.TimeoutRecord{}, ErrNotTracked
	}
	if err := l.restrictor.Lift(ctx, guildID, userID, "Manual release by server owner"); err != nil {
		return rec, fmt.Errorf("release %s: %w", userID, err)
	}
	g.DropTimeout(userID)
	l.audit.Log(ctx, audit.LevelInfo, guildID, state.LogEntry{
		Type:        "TIMEOUT_RELEASED",
		Description: "manual release: " + rec.Reason,
		ExecutorID:  operatorID,
		TargetID:    userID,
		Timestamp:   l.clock.Now(),
	})
	return rec, nil
}
