package state

import (
	"sync"
	"time"

	"nukeshield/internal/policy"
	"nukeshield/internal/utils"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Tag marks log entries that keep a guild in emergency mode.
type Tag string

const (
	TagNone    Tag = ""
	TagNuke    Tag = "nuke"
	TagMass    Tag = "mass"
	TagBlocked Tag = "blocked"
)

type LogEntry struct {
	ID          string
	Type        string
	Tag         Tag
	Description string
	ExecutorID  string
	ExecutorTag string
	TargetID    string
	TargetTag   string
	Timestamp   time.Time
}

type TimeoutRecord struct {
	UserID    string
	Reason    string
	StartedAt time.Time
	ReleaseAt time.Time
}

func (r TimeoutRecord) Remaining(now time.Time) time.Duration {
	return r.ReleaseAt.Sub(now)
}

type Stats struct {
	Timeouts     int
	Bans         int
	Kicks        int
	BlockedBots  int
	NukeAttempts int
}

type Guild struct {
	ID string

	mu          sync.Mutex
	bots        map[string]struct{}
	roles       map[string]struct{}
	timeouts    map[string]TimeoutRecord
	log         *utils.Ring[LogEntry]
	counters    *utils.KeyedWindow
	stats       Stats
	emergency   bool
	monitoring  bool
	flaggedBots map[string]struct{}
	refresh     *rate.Limiter
	lastRefresh time.Time
}

func newGuild(id string, logCapacity int, refreshEvery time.Duration) *Guild {
	return &Guild{
		ID:          id,
		bots:        make(map[string]struct{}),
		roles:       make(map[string]struct{}),
		timeouts:    make(map[string]TimeoutRecord),
		log:         utils.NewRing[LogEntry](logCapacity),
		counters:    utils.NewKeyedWindow(),
		monitoring:  true,
		flaggedBots: make(map[string]struct{}),
		refresh:     rate.NewLimiter(rate.Every(refreshEvery), 1),
	}
}

// Whitelist returns a copy safe to hand to the policy evaluator.
func (g *Guild) Whitelist() policy.Whitelist {
	g.mu.Lock()
	defer g.mu.Unlock()
	w := policy.Whitelist{
		Bots:  make(map[string]struct{}, len(g.bots)),
		Roles: make(map[string]struct{}, len(g.roles)),
	}
	for id := range g.bots {
		w.Bots[id] = struct{}{}
	}
	for id := range g.roles {
		w.Roles[id] = struct{}{}
	}
	return w
}

func (g *Guild) AddBot(id string) bool    { return g.add(g.bots, id) }
func (g *Guild) RemoveBot(id string) bool { return g.remove(g.bots, id) }
func (g *Guild) AddRole(id string) bool   { return g.add(g.roles, id) }
func (g *Guild) RemoveRole(id string) bool {
	return g.remove(g.roles, id)
}

func (g *Guild) HasBot(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.bots[id]
	return ok
}

func (g *Guild) add(set map[string]struct{}, id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := set[id]; ok {
		return false
	}
	set[id] = struct{}{}
	return true
}

func (g *Guild) remove(set map[string]struct{}, id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := set[id]; !ok {
		return false
	}
	delete(set, id)
	return true
}

// TrackTimeout stores rec unless it would violate ReleaseAt > StartedAt.
func (g *Guild) TrackTimeout(rec TimeoutRecord) bool {
	if !rec.ReleaseAt.After(rec.StartedAt) {
		return false
	}
	g.mu.Lock()
	g.timeouts[rec.UserID] = rec
	g.mu.Unlock()
	return true
}

func (g *Guild) Timeout(userID string) (TimeoutRecord, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rec, ok := g.timeouts[userID]
	return rec, ok
}

func (g *Guild) DropTimeout(userID string) (TimeoutRecord, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rec, ok := g.timeouts[userID]
	if ok {
		delete(g.timeouts, userID)
	}
	return rec, ok
}

// ExpireTimeouts removes and returns every record released by now.
func (g *Guild) ExpireTimeouts(now time.Time) []TimeoutRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	var expired []TimeoutRecord
	for id, rec := range g.timeouts {
		if !now.Before(rec.ReleaseAt) {
			expired = append(expired, rec)
			delete(g.timeouts, id)
		}
	}
	return expired
}

func (g *Guild) Timeouts() []TimeoutRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]TimeoutRecord, 0, len(g.timeouts))
	for _, rec := range g.timeouts {
		out = append(out, rec)
	}
	return out
}

// Append stores entry newest-first, assigning an id and timestamp when missing.
func (g *Guild) Append(entry LogEntry) LogEntry {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	g.mu.Lock()
	g.log.Push(entry)
	g.mu.Unlock()
	return entry
}

func (g *Guild) Log() []LogEntry {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.log.Items()
}

// TaggedSince reports whether any tagged entry is newer than cutoff.
func (g *Guild) TaggedSince(cutoff time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	found := false
	g.log.Each(func(entry LogEntry) bool {
		if entry.Tag != TagNone && entry.Timestamp.After(cutoff) {
			found = true
			return false
		}
		return true
	})
	return found
}

// RecordAction counts an occurrence of kind by actorID. An empty actorID
// counts guild-wide.
func (g *Guild) RecordAction(actorID, kind string, window time.Duration, now time.Time) int {
	return g.counters.Record(actorID+"|"+kind, window, now)
}

func (g *Guild) SweepCounters(now time.Time, maxAge time.Duration) int {
	return g.counters.Sweep(now, maxAge)
}

func (g *Guild) UpdateStats(fn func(*Stats)) {
	g.mu.Lock()
	fn(&g.stats)
	g.mu.Unlock()
}

func (g *Guild) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}

func (g *Guild) Emergency() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.emergency
}

// SetEmergency returns the previous value.
func (g *Guild) SetEmergency(on bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	prev := g.emergency
	g.emergency = on
	return prev
}

func (g *Guild) ToggleMonitoring() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.monitoring = !g.monitoring
	return g.monitoring
}

func (g *Guild) Monitoring() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.monitoring
}

func (g *Guild) FlagBot(id string) {
	g.mu.Lock()
	g.flaggedBots[id] = struct{}{}
	g.mu.Unlock()
}

func (g *Guild) FlaggedBots() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.flaggedBots)
}

// AllowRefresh is the status-display throttle.
func (g *Guild) AllowRefresh(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.refresh.AllowN(now, 1) {
		return false
	}
	g.lastRefresh = now
	return true
}

func (g *Guild) LastRefresh() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastRefresh
}

type Sizes struct {
	Bots  int
	Roles int
}

func (g *Guild) WhitelistSizes() Sizes {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Sizes{Bots: len(g.bots), Roles: len(g.roles)}
}

func (g *Guild) TimeoutCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.timeouts)
}
