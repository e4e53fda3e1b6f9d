package antinuke

import (
	"time"

	"nukeshield/internal/config"
	"nukeshield/internal/policy"
	"nukeshield/internal/state"
	"nukeshield/internal/utils"
)

// MemberRemove counts departures of any cause for the mass-removal signal.
const MemberRemove = "MEMBER_REMOVE"

type Rule struct {
	Limit    config.Limit
	PerActor bool
}

type Result struct {
	Kind     string
	Count    int
	Breached bool
	Limit    config.Limit
}

// Module maps action kinds to their threshold and window and counts them in
// the guild's mass-action counters.
type Module struct {
	rules map[string]Rule
	clock utils.Clock
}

func New(limits config.Limits) *Module {
	return &Module{
		rules: map[string]Rule{
			string(policy.RoleCreate):    {Limit: limits.RoleCreate, PerActor: true},
			string(policy.RoleDelete):    {Limit: limits.RoleDelete},
			string(policy.ChannelCreate): {Limit: limits.ChannelCreate},
			string(policy.ChannelDelete): {Limit: limits.ChannelDelete},
			string(policy.MemberBan):     {Limit: limits.MemberBan},
			string(policy.MemberKick):    {Limit: limits.MemberKick, PerActor: true},
			string(policy.BotAdd):        {Limit: limits.BotAdd},
			MemberRemove:                 {Limit: limits.MemberRemove},
		},
		clock: utils.RealClock{},
	}
}

func (m *Module) WithClock(clock utils.Clock) {
	m.clock = clock
}

// Track records one occurrence of kind. Kinds without a rule are not counted.
func (m *Module) Track(guild *state.Guild, kind, actorID string) Result {
	rule, ok := m.rules[kind]
	if !ok {
		return Result{Kind: kind}
	}
	key := ""
	if rule.PerActor {
		key = actorID
	}
	count := guild.RecordAction(key, kind, rule.Limit.Window(), m.clock.Now())
	return Result{Kind: kind, Count: count, Breached: rule.Limit.Breached(count), Limit: rule.Limit}
}

func (m *Module) Rule(kind string) (Rule, bool) {
	rule, ok := m.rules[kind]
	return rule, ok
}

// Sweep evicts counter entries older than maxAge in every guild.
func (m *Module) Sweep(guilds *state.Store, maxAge time.Duration) int {
	now := m.clock.Now()
	removed := 0
	guilds.Range(func(g *state.Guild) bool {
		removed += g.SweepCounters(now, maxAge)
		return true
	})
	return removed
}
