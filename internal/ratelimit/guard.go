package ratelimit

import (
	"time"

	"nukeshield/internal/utils"
)

// Guard absorbs duplicate mitigation attempts against the same subject.
type Guard struct {
	limit  int
	window time.Duration
	clock  utils.Clock
	hits   *utils.KeyedWindow
}

func New(limit int, window time.Duration) *Guard {
	if limit <= 0 {
		limit = 3
	}
	if window <= 0 {
		window = time.Second
	}
	return &Guard{limit: limit, window: window, clock: utils.RealClock{}, hits: utils.NewKeyedWindow()}
}

func (g *Guard) WithClock(clock utils.Clock) {
	g.clock = clock
}

// ShouldSuppress returns true, without recording, once limit attempts for
// (subjectID, action) already fall inside the trailing window.
func (g *Guard) ShouldSuppress(subjectID, action string) bool {
	return !g.hits.TryRecord(subjectID+":"+action, g.window, g.limit, g.clock.Now())
}

// Purge forgets subjects with no attempt inside the window.
func (g *Guard) Purge() int {
	return g.hits.Sweep(g.clock.Now(), g.window)
}
