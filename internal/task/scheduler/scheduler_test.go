package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"surveybot/internal/eventbus"
	"surveybot/pkg/logx"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in    string
		kind  SpecKind
		every time.Duration
		cron  string
		bad   bool
	}{
		{in: "6h", kind: SpecInterval, every: 6 * time.Hour},
		{in: "06:30", kind: SpecInterval, every: 6*time.Hour + 30*time.Minute},
		{in: "every:10m", kind: SpecInterval, every: 10 * time.Minute},
		{in: "600", kind: SpecInterval, every: 10 * time.Minute},
		{in: "interval:00:45", kind: SpecInterval, every: 45 * time.Minute},
		{in: "0 3 * * *", kind: SpecCron, cron: "0 3 * * *"},
		{in: "@daily", kind: SpecCron, cron: "@daily"},
		{in: "cron:*/5 * * * *", kind: SpecCron, cron: "*/5 * * * *"},
		{in: "", bad: true},
		{in: "0s", bad: true},
		{in: "soon", bad: true},
		{in: "-5", bad: true},
		{in: "06:75", bad: true},
	}
	for _, tt := range tests {
		got, err := ParseSchedule(tt.in)
		if tt.bad {
			if err == nil {
				t.Fatalf("ParseSchedule(%q) = %+v, want error", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseSchedule(%q) error: %v", tt.in, err)
		}
		if got.Kind != tt.kind || got.Every != tt.every || got.Cron != tt.cron {
			t.Fatalf("ParseSchedule(%q) = %+v", tt.in, got)
		}
	}
}

func TestValidateSchedule(t *testing.T) {
	t.Parallel()
	if err := ValidateSchedule("every day"); err == nil {
		t.Fatal("ValidateSchedule accepted a malformed cron spec")
	}
	if err := ValidateSchedule("@every 10m"); err != nil {
		t.Fatalf("ValidateSchedule(@every 10m) = %v", err)
	}
}

func TestRunNowRecordsHistory(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	s := New(Config{Enabled: true}, logx.Nop(), bus)
	var calls atomic.Int32
	boom := errors.New("backend down")
	if err := s.AddSchedule("submissions.retry", "1h", time.Second, func(ctx context.Context) error {
		if calls.Add(1) == 2 {
			return boom
		}
		return nil
	}); err != nil {
		t.Fatalf("AddSchedule error: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := s.RunNow(context.Background(), "submissions.retry"); err != nil {
			t.Fatalf("RunNow error: %v", err)
		}
	}
	if err := s.RunNow(context.Background(), "missing"); err == nil {
		t.Fatal("RunNow(missing) succeeded")
	}

	snap := s.Snapshot()
	if len(snap.Schedules) != 1 || snap.Schedules[0].Runs != 2 || snap.Schedules[0].Failed != 1 {
		t.Fatalf("schedules = %+v", snap.Schedules)
	}
	if snap.Schedules[0].Spec != "@every 1h0m0s" {
		t.Fatalf("spec = %q, want %q", snap.Schedules[0].Spec, "@every 1h0m0s")
	}
	if len(snap.History) != 2 {
		t.Fatalf("history = %+v", snap.History)
	}
	for i := 0; i < 2; i++ {
		select {
		case ev := <-events:
			if ev.Type != eventbus.JobFinished {
				t.Fatalf("event = %q, want %q", ev.Type, eventbus.JobFinished)
			}
		case <-time.After(time.Second):
			t.Fatal("missing job event")
		}
	}
}

func TestOverlappingRunIsSkipped(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, logx.Nop(), nil)
	release := make(chan struct{})
	entered := make(chan struct{})
	if err := s.AddSchedule("address.refresh", "@every 1h", time.Minute, func(ctx context.Context) error {
		close(entered)
		<-release
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	d := s.defs[0]
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.run(context.Background(), d)
	}()
	<-entered
	s.run(context.Background(), d)
	close(release)
	<-done

	if got := d.skips.Load(); got != 1 {
		t.Fatalf("skips = %d, want 1", got)
	}
	if got := d.runs.Load(); got != 1 {
		t.Fatalf("runs = %d, want 1", got)
	}
}

func TestJobTimeoutAndPanic(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, logx.Nop(), nil)
	_ = s.AddSchedule("slow", "1h", 20*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	_ = s.AddSchedule("panics", "1h", time.Second, func(context.Context) error { panic("boom") })
	_ = s.RunNow(context.Background(), "slow")
	_ = s.RunNow(context.Background(), "panics")

	snap := s.Snapshot()
	for _, it := range snap.Schedules {
		if it.Failed != 1 {
			t.Fatalf("%s failed = %d, want 1", it.Name, it.Failed)
		}
	}
}

func TestStartStopAndRemove(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Timezone: "Europe/Vienna"}, logx.Nop(), nil)
	if err := s.AddSchedule("nightly", "0 3 * * *", 0, func(context.Context) error { return nil }); err != nil {
		t.Fatal(err)
	}
	if err := s.AddSchedule("bad", "61 * * * *", 0, func(context.Context) error { return nil }); err == nil {
		t.Fatal("AddSchedule accepted minute 61")
	}
	s.Start(context.Background())
	snap := s.Snapshot()
	if !snap.Running || snap.Timezone != "Europe/Vienna" {
		t.Fatalf("snapshot = %+v", snap)
	}
	if len(snap.Schedules) != 1 || snap.Schedules[0].Next.IsZero() {
		t.Fatalf("schedules = %+v", snap.Schedules)
	}
	if !s.Remove("nightly") || s.Remove("nightly") {
		t.Fatal("Remove did not report exactly one removal")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	if s.Snapshot().Running {
		t.Fatal("still running after Stop")
	}
}

func TestSpreadIntervalDelaysOnlyFirstRun(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, every := range []time.Duration{10 * time.Second, 10 * time.Minute} {
		sched, jitter := spreadInterval(every, now)
		if jitter < 0 || jitter >= min(every, maxStartupSpread) {
			t.Fatalf("jitter(%v) = %v, out of range", every, jitter)
		}
		first := sched.Next(now)
		if want := now.Add(every + jitter); !first.Equal(want) {
			t.Fatalf("first run = %v, want %v", first, want)
		}
		if second := sched.Next(first); second.Sub(first) != every {
			t.Fatalf("second run after %v, want %v", second.Sub(first), every)
		}
	}
}
