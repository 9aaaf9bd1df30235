package scheduler

import (
	"sort"
	"time"
)

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	out := Snapshot{Enabled: s.cfg.Enabled, Running: s.c != nil, Timezone: s.cfg.Timezone}
	loc := s.loc
	c := s.c
	items := make([]ScheduleInfo, 0, len(s.defs))
	for _, d := range s.defs {
		it := ScheduleInfo{
			Name:          d.name,
			Spec:          d.spec,
			Timeout:       d.timeout,
			StartupSpread: d.startupSpread,
			Running:       d.running.Load(),
			Runs:          d.runs.Load(),
			Skipped:       d.skips.Load(),
			Failed:        d.fails.Load(),
		}
		if c != nil && d.entryID != 0 {
			e := c.Entry(d.entryID)
			it.Next = e.Next
			it.Prev = e.Prev
		}
		items = append(items, it)
	}
	s.mu.Unlock()

	if out.Timezone == "" {
		if loc == nil {
			loc = time.Local
		}
		out.Timezone = loc.String()
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	out.Schedules = items

	s.hmu.Lock()
	hist := make([]HistoryItem, len(s.history))
	copy(hist, s.history)
	s.hmu.Unlock()
	// newest first
	sort.SliceStable(hist, func(i, j int) bool { return hist[i].Started.After(hist[j].Started) })
	out.History = hist
	return out
}
