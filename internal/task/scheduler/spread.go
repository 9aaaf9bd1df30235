package scheduler

import (
	"math/rand/v2"
	"time"

	"github.com/robfig/cron/v3"
)

// maxStartupSpread caps the random delay added to an interval job's first run.
const maxStartupSpread = time.Minute

// delayedFirst fires once at first, then follows every.
type delayedFirst struct {
	every cron.Schedule
	first time.Time
}

func (s *delayedFirst) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	return s.every.Next(t)
}

// spreadInterval returns a schedule for "@every d" whose first run lands in
// [now+d, now+d+min(d, maxStartupSpread)). Jobs registered together at
// startup therefore drift apart.
func spreadInterval(d time.Duration, now time.Time) (cron.Schedule, time.Duration) {
	every := cron.Every(d)
	window := min(d, maxStartupSpread)
	if window <= 0 {
		return every, 0
	}
	// cron.Every works in whole seconds
	jitter := rand.N(window).Truncate(time.Second)
	return &delayedFirst{every: every, first: now.Add(d + jitter)}, jitter
}
