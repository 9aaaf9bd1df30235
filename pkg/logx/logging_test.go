package logx

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{in: "debug", want: zerolog.DebugLevel},
		{in: " WARNING ", want: zerolog.WarnLevel},
		{in: "error", want: zerolog.ErrorLevel},
		{in: "bogus", want: zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in, zerolog.InfoLevel); got != tt.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFormatOperatorLine(t *testing.T) {
	t.Parallel()
	line := []byte(`{"level":"warn","time":"x","message":"submit failed","session":42,"comp":"outbox"}` + "\n")
	got := formatOperatorLine(line)
	want := "[WARN] submit failed\n- comp=outbox\n- session=42"
	if got != want {
		t.Fatalf("formatOperatorLine = %q, want %q", got, want)
	}

	raw := formatOperatorLine([]byte("  plain text  "))
	if raw != "plain text" {
		t.Fatalf("raw = %q", raw)
	}

	long := formatOperatorLine([]byte(`{"level":"error","message":"panic","stack":"` + strings.Repeat("f", 2000) + `"}`))
	if !strings.HasPrefix(long, "[ERROR] panic\n- stack=\n") || len(long) > 960 || !strings.HasSuffix(long, "...") {
		t.Fatalf("stack line = %d bytes: %.40q", len(long), long)
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.With(String("k", "v")).Error("nothing happens")
	if Nop().IsZero() {
		t.Fatal("Nop() reports IsZero")
	}
}

type recordingSink struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recordingSink) NotifyOperator(_ context.Context, chatID int64, _ int, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, text)
	return nil
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func TestOperatorSinkRespectsMinLevel(t *testing.T) {
	sink := &recordingSink{}
	svc, log := New(Config{
		Level:    "debug",
		Operator: OperatorConfig{Enabled: true, MinLevel: "warn", RatePerSec: 100},
	}, sink)
	defer svc.Close()
	svc.SetOperatorTarget(-100123, 0)

	log.Info("not mirrored")
	log.Warn("mirrored", String("comp", "test"))

	deadline := time.Now().Add(2 * time.Second)
	for sink.count() < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sink.count() != 1 {
		t.Fatalf("mirrored = %d, want 1", sink.count())
	}
	sink.mu.Lock()
	msg := sink.msgs[0]
	sink.mu.Unlock()
	if !strings.HasPrefix(msg, "[WARN] mirrored") {
		t.Fatalf("msg = %q", msg)
	}
}

func TestFileRotation(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "bot.log")
	if err := os.WriteFile(path, []byte(strings.Repeat("x", 128)), 0o600); err != nil {
		t.Fatal(err)
	}
	rotateIfLarge(path, 64)
	if _, err := os.Stat(path + ".1"); err != nil {
		t.Fatalf("rotated file missing: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("original file still present: %v", err)
	}
}
