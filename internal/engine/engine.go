// Package engine wires the detectors, the policy evaluator and the executor
// behind a single event entry point, and owns the periodic loops and the
// operator surface.
package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"nukeshield/internal/analytics"
	"nukeshield/internal/enforcement"
	"nukeshield/internal/executor"
	"nukeshield/internal/metrics"
	"nukeshield/internal/modules/antinuke"
	"nukeshield/internal/modules/antiraid"
	"nukeshield/internal/modules/audit"
	"nukeshield/internal/playbook"
	"nukeshield/internal/policy"
	"nukeshield/internal/ratelimit"
	"nukeshield/internal/state"
	"nukeshield/internal/utils"

	"go.uber.org/zap"
)

// ErrResolution marks an executor lookup that produced no trustworthy entry.
var ErrResolution = errors.New("executor resolution failed")

// Kinds beyond the policy categories.
const (
	MemberJoin   policy.Category = "MEMBER_JOIN"
	MemberRemove policy.Category = antinuke.MemberRemove
	MemberUpdate policy.Category = "MEMBER_UPDATE"
)

// Identity is a resolved actor. DangerousRoleIDs are the actor's roles that
// carry a dangerous permission.
type Identity struct {
	ID               string
	Tag              string
	Bot              bool
	RoleIDs          []string
	DangerousRoleIDs []string
}

func (i *Identity) actor() *policy.Actor {
	if i == nil || i.ID == "" {
		return nil
	}
	return &policy.Actor{ID: i.ID, Tag: i.Tag, Bot: i.Bot, RoleIDs: i.RoleIDs}
}

type Event struct {
	// ID identifies a delivery. Redeliveries of one event share it.
	ID      string
	Kind    policy.Category
	GuildID string
	OwnerID string
	// Actor is set when the platform reports who acted; otherwise it is
	// resolved from the audit trail.
	Actor  *Identity
	Target policy.Target
	Entity executor.EntityRef
	Diff   policy.Diff
	At     time.Time
	// RestrictedUntil is the member's timeout after a MemberUpdate.
	RestrictedUntil *time.Time
}

type Resolver interface {
	ResolveExecutor(ctx context.Context, guildID string, kind policy.Category, targetID string, within time.Duration) (*Identity, error)
}

type Directory interface {
	GuildOwner(ctx context.Context, guildID string) (string, error)
	IsBot(ctx context.Context, userID string) (bool, error)
}

type StatusPublisher interface {
	PublishStatus(ctx context.Context, snapshot Snapshot) error
}

// RaidNotifier tells the owner a raid started and offers early release.
type RaidNotifier interface {
	RaidActivated(ctx context.Context, guildID, ownerID string, raid antiraid.Outcome) error
}

type Config struct {
	SweepInterval  time.Duration
	CounterMaxAge  time.Duration
	StatusInterval time.Duration
	ResolveWithin  time.Duration
}

type Deps struct {
	Guilds      *state.Store
	Policy      *policy.Evaluator
	Nuke        *antinuke.Module
	Raid        *antiraid.Module
	Playbook    *playbook.Engine
	Executor    *executor.Executor
	Enforcement *enforcement.Loop
	Guard       *ratelimit.Guard
	Audit       *audit.Logger
	Analytics   *analytics.Service
	Metrics     *metrics.Metrics
	Platform    executor.Platform
	Resolver    Resolver
	Directory   Directory
	Status      StatusPublisher
	Notifier    RaidNotifier
	Logger      *zap.Logger
}

type Engine struct {
	cfg    Config
	deps   Deps
	selfID atomic.Value
	clock  utils.Clock
}

func New(cfg Config, deps Deps) *Engine {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	if cfg.CounterMaxAge <= 0 {
		cfg.CounterMaxAge = 10 * time.Second
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = time.Minute
	}
	if cfg.ResolveWithin <= 0 {
		cfg.ResolveWithin = 10 * time.Second
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Analytics == nil {
		deps.Analytics = analytics.New(deps.Guilds, nil)
	}
	e := &Engine{cfg: cfg, deps: deps, clock: utils.RealClock{}}
	e.selfID.Store("")
	return e
}

// WithClock swaps the clock of the engine and every time-driven component.
func (e *Engine) WithClock(clock utils.Clock) {
	e.clock = clock
	e.deps.Nuke.WithClock(clock)
	e.deps.Raid.WithClock(clock)
	e.deps.Playbook.WithClock(clock)
	e.deps.Executor.WithClock(clock)
	e.deps.Enforcement.WithClock(clock)
}

// SetSelf records the engine's own account id once the session is ready.
func (e *Engine) SetSelf(id string) {
	e.selfID.Store(id)
}

func (e *Engine) SelfID() string {
	return e.selfID.Load().(string)
}
