package analytics

import (
	"context"
	"sort"
	"time"

	"nukeshield/internal/state"
	"nukeshield/internal/storage"
)

// History is the exported audit trail. When absent, reports are built from
// the in-memory activity log.
type History interface {
	ListAuditLogs(ctx context.Context, guildID string, since time.Time) ([]storage.AuditLog, error)
}

type Service struct {
	guilds  *state.Store
	history History
}

func New(guilds *state.Store, history History) *Service {
	return &Service{guilds: guilds, history: history}
}

type Report struct {
	Total   int
	ByLevel map[string]int
	ByEvent map[string]int
	ByTag   map[string]int
}

func (s *Service) Report(ctx context.Context, guildID string, since time.Time) (Report, error) {
	report := Report{ByLevel: make(map[string]int), ByEvent: make(map[string]int), ByTag: make(map[string]int)}
	if s.history != nil {
		logs, err := s.history.ListAuditLogs(ctx, guildID, since)
		if err != nil {
			return Report{}, err
		}
		for _, log := range logs {
			report.Total++
			report.ByLevel[log.Level]++
			report.ByEvent[log.Event]++
			if log.Tag != "" {
				report.ByTag[log.Tag]++
			}
		}
		return report, nil
	}

	g, ok := s.guilds.Lookup(guildID)
	if !ok {
		return report, nil
	}
	for _, entry := range g.Log() {
		if entry.Timestamp.Before(since) {
			continue
		}
		report.Total++
		report.ByEvent[entry.Type]++
		if entry.Tag != state.TagNone {
			report.ByTag[string(entry.Tag)]++
		}
	}
	return report, nil
}

// Recent returns up to n entries, newest first.
func (s *Service) Recent(guildID string, n int) []state.LogEntry {
	return s.filter(guildID, n, func(state.LogEntry) bool { return true })
}

func (s *Service) RecentBans(guildID string, n int) []state.LogEntry {
	return s.filter(guildID, n, func(e state.LogEntry) bool { return e.Type == "BAN" })
}

// ActiveTimeouts lists tracked timeouts, soonest release first.
func (s *Service) ActiveTimeouts(guildID string) []state.TimeoutRecord {
	g, ok := s.guilds.Lookup(guildID)
	if !ok {
		return nil
	}
	records := g.Timeouts()
	sort.Slice(records, func(i, j int) bool { return records[i].ReleaseAt.Before(records[j].ReleaseAt) })
	return records
}

func (s *Service) filter(guildID string, n int, keep func(state.LogEntry) bool) []state.LogEntry {
	g, ok := s.guilds.Lookup(guildID)
	if !ok {
		return nil
	}
	var out []state.LogEntry
	for _, entry := range g.Log() {
		if n > 0 && len(out) == n {
			break
		}
		if keep(entry) {
			out = append(out, entry)
		}
	}
	return out
}
