package antiraid

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"nukeshield/internal/modules/audit"
	"nukeshield/internal/playbook"
	"nukeshield/internal/state"
	"nukeshield/internal/utils"

	"go.uber.org/zap"
)

type Config struct {
	Joins     int
	Window    time.Duration
	Duration  time.Duration
	AuditOnly bool
}

type Invite struct {
	Code   string
	MaxAge int
}

// Permanent invites never expire on their own and survive a raid purge.
func (i Invite) Permanent() bool { return i.MaxAge == 0 }

type Invites interface {
	ListInvites(ctx context.Context, guildID string) ([]Invite, error)
	DeleteInvite(ctx context.Context, code, reason string) error
}

// RaidState is a copy of one guild's raid record.
type RaidState struct {
	GuildID     string
	Active      bool
	ActivatedAt time.Time
	ExpiresAt   time.Time
}

type Outcome struct {
	Count          int
	Activated      bool
	DuringRaid     bool
	Expired        bool
	InvitesDeleted int
	InvitesFailed  int
	State          RaidState
}

type raid struct {
	joins       *utils.SlidingWindow
	active      bool
	activatedAt time.Time
	expiresAt   time.Time
}

type Module struct {
	mu       sync.Mutex
	raids    map[string]*raid
	cfg      Config
	clock    utils.Clock
	invites  Invites
	guilds   *state.Store
	playbook *playbook.Engine
	audit    *audit.Logger
	logger   *zap.Logger
}

func New(cfg Config, invites Invites, guilds *state.Store, playbookEngine *playbook.Engine, auditLogger *audit.Logger, logger *zap.Logger) *Module {
	if cfg.Joins <= 0 {
		cfg.Joins = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = 10 * time.Second
	}
	if cfg.Duration <= 0 {
		cfg.Duration = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Module{
		raids:    make(map[string]*raid),
		cfg:      cfg,
		clock:    utils.RealClock{},
		invites:  invites,
		guilds:   guilds,
		playbook: playbookEngine,
		audit:    auditLogger,
		logger:   logger,
	}
}

func (m *Module) WithClock(clock utils.Clock) {
	m.clock = clock
}

// HandleJoin counts a join and activates raid mode when the window fills.
// A breach while a raid is already active changes nothing.
func (m *Module) HandleJoin(ctx context.Context, guildID, userID, userTag string) Outcome {
	now := m.clock.Now()

	m.mu.Lock()
	r := m.getLocked(guildID)
	var out Outcome
	if r.active && now.After(r.expiresAt) {
		r.active = false
		out.Expired = true
	}
	expired := m.snapshotLocked(guildID, r)
	out.Count = r.joins.Add(now)
	switch {
	case r.active:
		out.DuringRaid = true
	case out.Count >= m.cfg.Joins:
		r.active = true
		r.activatedAt = now
		r.expiresAt = now.Add(m.cfg.Duration)
		out.Activated = true
	}
	out.State = m.snapshotLocked(guildID, r)
	m.mu.Unlock()

	if out.Expired {
		m.logExpiry(ctx, expired, now)
	}

	switch {
	case out.Activated:
		out.InvitesDeleted, out.InvitesFailed = m.purgeInvites(ctx, guildID)
		detail := fmt.Sprintf("type=RAID rule=%djoins/%s value=%djoins invites_deleted=%d invites_failed=%d expires=%s",
			m.cfg.Joins, m.cfg.Window, out.Count, out.InvitesDeleted, out.InvitesFailed, out.State.ExpiresAt.UTC().Format(time.RFC3339))
		m.audit.Log(ctx, audit.LevelCrit, guildID, state.LogEntry{
			Type:        "ANTI_RAID_ACTIVATED",
			Tag:         state.TagMass,
			Description: detail,
			TargetID:    userID,
			TargetTag:   userTag,
			Timestamp:   now,
		})
		m.playbook.Escalate(ctx, m.guilds.Guild(guildID), "mass join detected")
	case out.DuringRaid:
		m.audit.Log(ctx, audit.LevelWarn, guildID, state.LogEntry{
			Type:        "RAID_JOIN",
			Description: "joined during active raid protection",
			TargetID:    userID,
			TargetTag:   userTag,
			Timestamp:   now,
		})
	}
	return out
}

// Release ends an active raid early. It reports false when no raid is active.
func (m *Module) Release(ctx context.Context, guildID, operatorID string) bool {
	now := m.clock.Now()
	m.mu.Lock()
	r := m.raids[guildID]
	if r == nil || !r.active {
		m.mu.Unlock()
		return false
	}
	r.active = false
	m.mu.Unlock()

	m.audit.Log(ctx, audit.LevelInfo, guildID, state.LogEntry{
		Type:        "RAID_RELEASED",
		Description: "raid protection released by operator",
		ExecutorID:  operatorID,
		Timestamp:   now,
	})
	return true
}

// Expire deactivates every raid past its expiry and returns those guilds.
// Stale joins are evicted on the way.
func (m *Module) Expire(ctx context.Context) []string {
	now := m.clock.Now()
	var expired []RaidState
	m.mu.Lock()
	for guildID, r := range m.raids {
		r.joins.Evict(now.Add(-m.cfg.Window))
		if r.active && now.After(r.expiresAt) {
			expired = append(expired, m.snapshotLocked(guildID, r))
			r.active = false
		}
	}
	m.mu.Unlock()

	sort.Slice(expired, func(i, j int) bool { return expired[i].GuildID < expired[j].GuildID })
	ids := make([]string, 0, len(expired))
	for _, s := range expired {
		m.logExpiry(ctx, s, now)
		ids = append(ids, s.GuildID)
	}
	return ids
}

func (m *Module) State(guildID string) RaidState {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.raids[guildID]
	if r == nil {
		return RaidState{GuildID: guildID}
	}
	return m.snapshotLocked(guildID, r)
}

func (m *Module) Active(guildID string) bool {
	return m.State(guildID).Active
}

// AnyActive scans every guild; there is no shared raid flag.
func (m *Module) AnyActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.raids {
		if r.active {
			return true
		}
	}
	return false
}

func (m *Module) purgeInvites(ctx context.Context, guildID string) (int, int) {
	if m.invites == nil || m.cfg.AuditOnly {
		return 0, 0
	}
	invites, err := m.invites.ListInvites(ctx, guildID)
	if err != nil {
		m.logger.Warn("list invites failed", zap.String("guild_id", guildID), zap.Error(err))
		return 0, 0
	}
	deleted, failed := 0, 0
	for _, invite := range invites {
		if invite.Permanent() {
			continue
		}
		if err := m.invites.DeleteInvite(ctx, invite.Code, "ANTI-RAID: Preventing raid through invite"); err != nil {
			failed++
			m.logger.Warn("delete invite failed", zap.String("guild_id", guildID), zap.String("code", invite.Code), zap.Error(err))
			continue
		}
		deleted++
	}
	return deleted, failed
}

func (m *Module) logExpiry(ctx context.Context, s RaidState, now time.Time) {
	m.audit.Log(ctx, audit.LevelInfo, s.GuildID, state.LogEntry{
		Type:        "RAID_EXPIRED",
		Description: fmt.Sprintf("raid protection expired (activated %s)", s.ActivatedAt.UTC().Format(time.RFC3339)),
		Timestamp:   now,
	})
}

func (m *Module) getLocked(guildID string) *raid {
	r := m.raids[guildID]
	if r == nil {
		r = &raid{joins: utils.NewSlidingWindow(m.cfg.Window)}
		m.raids[guildID] = r
	}
	return r
}

func (m *Module) snapshotLocked(guildID string, r *raid) RaidState {
	return RaidState{GuildID: guildID, Active: r.active, ActivatedAt: r.activatedAt, ExpiresAt: r.expiresAt}
}
