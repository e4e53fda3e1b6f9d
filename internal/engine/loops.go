package engine

import (
	"context"
	"time"

	"nukeshield/internal/analytics"
	"nukeshield/internal/modules/antiraid"
	"nukeshield/internal/state"

	"go.uber.org/zap"
)

// Snapshot is what the status display shows for one guild.
type Snapshot struct {
	GuildID        string
	Stats          state.Stats
	EmergencyMode  bool
	RaidActive     bool
	Raid           antiraid.RaidState
	ActiveTimeouts int
	Whitelist      state.Sizes
	FlaggedBots    int
	Monitoring     bool
	At             time.Time
}

type SweepReport struct {
	CountersEvicted   int
	GuardPurged       int
	Relaxed           []string
	RaidsExpired      []string
	TimeoutsCompleted int
}

func (e *Engine) Snapshot(guildID string) Snapshot {
	g := e.deps.Guilds.Guild(guildID)
	raid := e.deps.Raid.State(guildID)
	return Snapshot{
		GuildID:        guildID,
		Stats:          g.Stats(),
		EmergencyMode:  g.Emergency(),
		RaidActive:     raid.Active,
		Raid:           raid,
		ActiveTimeouts: g.TimeoutCount(),
		Whitelist:      g.WhitelistSizes(),
		FlaggedBots:    g.FlaggedBots(),
		Monitoring:     g.Monitoring(),
		At:             e.clock.Now(),
	}
}

// AnyRaidActive scans every guild's raid state.
func (e *Engine) AnyRaidActive() bool {
	return e.deps.Raid.AnyActive()
}

func (e *Engine) Activity(guildID string, n int) []state.LogEntry {
	return e.deps.Analytics.Recent(guildID, n)
}

func (e *Engine) RecentBans(guildID string, n int) []state.LogEntry {
	return e.deps.Analytics.RecentBans(guildID, n)
}

func (e *Engine) ActiveTimeouts(guildID string) []state.TimeoutRecord {
	return e.deps.Analytics.ActiveTimeouts(guildID)
}

// Report summarizes the guild's activity over the last period.
func (e *Engine) Report(ctx context.Context, guildID string, period time.Duration) (analytics.Report, error) {
	return e.deps.Analytics.Report(ctx, guildID, e.clock.Now().Add(-period))
}

// SeedBots whitelists the bots already present when the guild becomes
// available.
func (e *Engine) SeedBots(guildID string, botIDs []string) int {
	g := e.deps.Guilds.Guild(guildID)
	added := 0
	for _, id := range botIDs {
		if g.AddBot(id) {
			added++
		}
	}
	if added > 0 {
		e.deps.Logger.Info("initial bot whitelist", zap.String("guild_id", guildID), zap.Int("bots", added))
	}
	return added
}

// Sweep is the periodic maintenance pass.
func (e *Engine) Sweep(ctx context.Context) SweepReport {
	var report SweepReport
	report.CountersEvicted = e.deps.Nuke.Sweep(e.deps.Guilds, e.cfg.CounterMaxAge)
	if e.deps.Guard != nil {
		report.GuardPurged = e.deps.Guard.Purge()
	}
	e.deps.Guilds.Range(func(g *state.Guild) bool {
		if e.deps.Playbook.Relax(ctx, g) {
			report.Relaxed = append(report.Relaxed, g.ID)
		}
		return true
	})
	report.RaidsExpired = e.deps.Raid.Expire(ctx)
	report.TimeoutsCompleted = e.deps.Enforcement.Sweep(ctx)

	changed := append(append([]string{}, report.Relaxed...), report.RaidsExpired...)
	for _, id := range changed {
		e.publish(ctx, e.deps.Guilds.Guild(id))
	}
	e.deps.Logger.Debug("sweep",
		zap.Int("counters_evicted", report.CountersEvicted),
		zap.Int("guard_purged", report.GuardPurged),
		zap.Int("relaxed", len(report.Relaxed)),
		zap.Int("raids_expired", len(report.RaidsExpired)),
		zap.Int("timeouts_completed", report.TimeoutsCompleted),
	)
	return report
}

// RefreshStatus republishes the status of every monitored guild.
func (e *Engine) RefreshStatus(ctx context.Context) int {
	published := 0
	e.deps.Guilds.Range(func(g *state.Guild) bool {
		if g.Monitoring() && e.publish(ctx, g) {
			published++
		}
		return true
	})
	return published
}

// Run drives the sweep and status loops until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	sweep := time.NewTicker(e.cfg.SweepInterval)
	defer sweep.Stop()
	status := time.NewTicker(e.cfg.StatusInterval)
	defer status.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sweep.C:
			e.Sweep(ctx)
		case <-status.C:
			e.RefreshStatus(ctx)
		}
	}
}

// publish pushes a snapshot, at most once per throttle interval per guild.
func (e *Engine) publish(ctx context.Context, g *state.Guild) bool {
	if e.deps.Status == nil {
		return false
	}
	if !g.AllowRefresh(e.clock.Now()) {
		return false
	}
	if err := e.deps.Status.PublishStatus(ctx, e.Snapshot(g.ID)); err != nil {
		e.deps.Logger.Warn("status publish failed", zap.String("guild_id", g.ID), zap.Error(err))
		return false
	}
	return true
}
