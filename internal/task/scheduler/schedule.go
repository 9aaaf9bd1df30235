package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"surveybot/pkg/logx"
)

// AddSchedule registers job under name, replacing any schedule with the same
// name. spec is anything ParseSchedule accepts.
func (s *Service) AddSchedule(name, spec string, timeout time.Duration, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("schedule name required")
	}
	if job == nil {
		return fmt.Errorf("schedule %q: job is nil", name)
	}
	ps, err := ParseSchedule(spec)
	if err != nil {
		return fmt.Errorf("schedule %q: %w", name, err)
	}
	cronSpec := ps.Cron
	if ps.Kind == SpecInterval {
		cronSpec = "@every " + ps.Every.String()
	} else if _, err := s.parser.Parse(cronSpec); err != nil {
		return fmt.Errorf("schedule %q: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	d := &scheduleDef{name: name, spec: cronSpec, timeout: timeout, job: job}
	s.defs = append(s.defs, d)
	if s.c != nil {
		ctx := s.base
		if ctx == nil {
			ctx = context.Background()
		}
		if err := s.addCronLocked(ctx, d); err != nil {
			s.removeLocked(name)
			return fmt.Errorf("schedule %q: %w", name, err)
		}
	}
	s.log.Info("schedule registered",
		logx.String("name", name),
		logx.String("spec", cronSpec),
		logx.String("kind", ps.Source),
		logx.Duration("timeout", timeout),
	)
	return nil
}

// AddInterval is AddSchedule for a fixed period.
func (s *Service) AddInterval(name string, every, timeout time.Duration, job Job) error {
	if every <= 0 {
		return fmt.Errorf("schedule %q: interval must be > 0", name)
	}
	return s.AddSchedule(name, "every:"+every.String(), timeout, job)
}

// Remove unregisters name. It reports whether a schedule was removed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := s.removeLocked(strings.TrimSpace(name))
	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

func (s *Service) removeLocked(name string) bool {
	n := 0
	removed := false
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	clear(s.defs[n:])
	s.defs = s.defs[:n]
	return removed
}

// RunNow triggers name outside its schedule and waits for it. The overlap
// rule still applies.
func (s *Service) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	var d *scheduleDef
	for _, x := range s.defs {
		if x.name == name {
			d = x
			break
		}
	}
	s.mu.Unlock()
	if d == nil {
		return fmt.Errorf("unknown schedule %q", name)
	}
	if d.running.Load() {
		return fmt.Errorf("schedule %q is already running", name)
	}
	s.run(ctx, d)
	return nil
}
