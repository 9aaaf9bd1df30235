package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"surveybot/pkg/logx"
)

func drivers(t *testing.T) map[string]Config {
	dir := t.TempDir()
	return map[string]Config{
		"file":   {Driver: "file", Path: filepath.Join(dir, "file", "bot.db")},
		"sqlite": {Driver: "sqlite", Path: filepath.Join(dir, "sqlite", "bot.db"), BusyTimeout: time.Second},
	}
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "none"}, logx.Nop())
	if err != nil || st != nil {
		t.Fatalf("Open(none) = %v, %v", st, err)
	}
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); !errors.Is(err, ErrUnknownDriver) {
		t.Fatalf("Open(redis) error = %v, want ErrUnknownDriver", err)
	}
}

func TestPendingLifecycle(t *testing.T) {
	t.Parallel()
	for name, cfg := range drivers(t) {
		cfg := cfg
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st, err := Open(cfg, logx.Nop())
			if err != nil {
				t.Fatalf("Open: %v", err)
			}

			base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
			for i, id := range []string{"b", "a"} {
				err := st.SavePending(ctx, PendingSubmission{
					ID: id, SessionID: 7, SurveyID: 555, Seed: "s-" + id,
					Answers:   map[string]string{"555X1X1": id},
					CreatedAt: base.Add(time.Duration(i) * time.Minute),
				})
				if err != nil {
					t.Fatalf("SavePending(%s): %v", id, err)
				}
			}
			if err := st.MarkAttempt(ctx, "b", "backend down"); err != nil {
				t.Fatalf("MarkAttempt: %v", err)
			}
			if err := st.MarkAttempt(ctx, "missing", "x"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("MarkAttempt(missing) = %v, want ErrNotFound", err)
			}

			got, err := st.ListPending(ctx, 10)
			if err != nil {
				t.Fatalf("ListPending: %v", err)
			}
			if len(got) != 2 || got[0].ID != "b" || got[1].ID != "a" {
				t.Fatalf("ListPending = %+v", got)
			}
			if got[0].Attempts != 1 || got[0].LastError != "backend down" || got[0].Answers["555X1X1"] != "b" {
				t.Fatalf("pending b = %+v", got[0])
			}

			if err := st.DeletePending(ctx, "b"); err != nil {
				t.Fatalf("DeletePending: %v", err)
			}
			if err := st.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			// state survives reopen
			st, err = Open(cfg, logx.Nop())
			if err != nil {
				t.Fatalf("reopen: %v", err)
			}
			defer st.Close()
			got, err = st.ListPending(ctx, 10)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != 1 || got[0].ID != "a" || got[0].Seed != "s-a" {
				t.Fatalf("after reopen = %+v", got)
			}
		})
	}
}

func TestPreferences(t *testing.T) {
	t.Parallel()
	for name, cfg := range drivers(t) {
		cfg := cfg
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st, err := Open(cfg, logx.Nop())
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer st.Close()

			if _, ok, err := st.GetPreference(ctx, 1); ok || err != nil {
				t.Fatalf("GetPreference(empty) = %v, %v", ok, err)
			}
			if err := st.PutPreference(ctx, Preference{ChatID: 1, FrequencyKey: "once_a_day", Locale: "de"}); err != nil {
				t.Fatal(err)
			}
			if err := st.PutPreference(ctx, Preference{ChatID: 1, FrequencyKey: "every_10_seconds", Locale: "de"}); err != nil {
				t.Fatal(err)
			}
			p, ok, err := st.GetPreference(ctx, 1)
			if err != nil || !ok {
				t.Fatalf("GetPreference = %v, %v", ok, err)
			}
			if p.FrequencyKey != "every_10_seconds" || p.Locale != "de" || p.UpdatedAt.IsZero() {
				t.Fatalf("preference = %+v", p)
			}
			if err := st.AppendAudit(ctx, AuditEntry{ChatID: 1, Action: "survey.start", OK: true}); err != nil {
				t.Fatalf("AppendAudit: %v", err)
			}
		})
	}
}
