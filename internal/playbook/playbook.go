// Package playbook drives the per-guild emergency mode. A guild enters
// emergency on any executed sanction or mass-removal signal and leaves it
// only when the sweep finds a quiet period with no tagged log entries.
package playbook

import (
	"context"
	"time"

	"nukeshield/internal/modules/audit"
	"nukeshield/internal/state"
	"nukeshield/internal/utils"
)

type Config struct {
	QuietPeriod time.Duration
}

type Engine struct {
	cfg   Config
	clock utils.Clock
	audit *audit.Logger
}

func New(cfg Config, auditLogger *audit.Logger) *Engine {
	if cfg.QuietPeriod <= 0 {
		cfg.QuietPeriod = 5 * time.Minute
	}
	return &Engine{cfg: cfg, clock: utils.RealClock{}, audit: auditLogger}
}

func (e *Engine) WithClock(clock utils.Clock) {
	e.clock = clock
}

// Escalate moves the guild to emergency. It returns false when the guild
// was already in emergency.
func (e *Engine) Escalate(ctx context.Context, guild *state.Guild, reason string) bool {
	if guild.SetEmergency(true) {
		return false
	}
	e.audit.Log(ctx, audit.LevelWarn, guild.ID, state.LogEntry{
		Type:        "EMERGENCY_MODE",
		Description: "emergency mode enabled: " + reason,
		Timestamp:   e.clock.Now(),
	})
	return true
}

// Relax returns the guild to normal when no nuke, mass or blocked entry was
// logged during the quiet period.
func (e *Engine) Relax(ctx context.Context, guild *state.Guild) bool {
	if !guild.Emergency() {
		return false
	}
	now := e.clock.Now()
	if guild.TaggedSince(now.Add(-e.cfg.QuietPeriod)) {
		return false
	}
	if !guild.SetEmergency(false) {
		return false
	}
	e.audit.Log(ctx, audit.LevelInfo, guild.ID, state.LogEntry{
		Type:        "EMERGENCY_MODE",
		Description: "emergency mode relaxed after quiet period",
		Timestamp:   now,
	})
	return true
}
