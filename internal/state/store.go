package state

import (
	"sort"
	"sync"
	"time"
)

const DefaultLogCapacity = 100

// Store owns every guild record. Guilds are created on first reference and
// live until the process exits.
type Store struct {
	mu           sync.RWMutex
	guilds       map[string]*Guild
	logCapacity  int
	refreshEvery time.Duration
}

func New(logCapacity int, refreshEvery time.Duration) *Store {
	if logCapacity <= 0 {
		logCapacity = DefaultLogCapacity
	}
	if refreshEvery <= 0 {
		refreshEvery = time.Second
	}
	return &Store{guilds: make(map[string]*Guild), logCapacity: logCapacity, refreshEvery: refreshEvery}
}

func (s *Store) Guild(id string) *Guild {
	s.mu.RLock()
	g := s.guilds[id]
	s.mu.RUnlock()
	if g != nil {
		return g
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if g = s.guilds[id]; g == nil {
		g = newGuild(id, s.logCapacity, s.refreshEvery)
		s.guilds[id] = g
	}
	return g
}

func (s *Store) Lookup(id string) (*Guild, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.guilds[id]
	return g, ok
}

// Range visits guilds in id order until fn returns false.
func (s *Store) Range(fn func(*Guild) bool) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.guilds))
	for id := range s.guilds {
		ids = append(ids, id)
	}
	guilds := make(map[string]*Guild, len(s.guilds))
	for id, g := range s.guilds {
		guilds[id] = g
	}
	s.mu.RUnlock()

	sort.Strings(ids)
	for _, id := range ids {
		if !fn(guilds[id]) {
			return
		}
	}
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.guilds)
}
