package tgui

import (
	"strings"
	"testing"
	"time"
)

func TestSplit(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in                      string
		prefix, action, payload string
		ok                      bool
	}{
		{"ans:3:A1", "ans", "3", "A1", true},
		{"cfm:0:yes", "cfm", "0", "yes", true},
		{"freq:set", "freq", "set", "", true},
		{"ans:1:a:b", "ans", "1", "a:b", true},
		{"ans", "", "", "", false},
		{":x", "", "", "", false},
	}
	for _, tt := range tests {
		p, a, pl, ok := Split(tt.in)
		if p != tt.prefix || a != tt.action || pl != tt.payload || ok != tt.ok {
			t.Fatalf("Split(%q) = %q %q %q %v", tt.in, p, a, pl, ok)
		}
	}
}

func TestDataOrToken(t *testing.T) {
	t.Parallel()
	ts := NewTokenStore(time.Hour, 10)
	if got := DataOrToken(ts, "ans", "2", "A1"); got != "ans:2:A1" {
		t.Fatalf("short payload = %q", got)
	}
	long := strings.Repeat("x", 80)
	d := DataOrToken(ts, "ans", "2", long)
	if len(d) > MaxCallbackDataLen {
		t.Fatalf("len(%q) = %d", d, len(d))
	}
	_, _, payload, _ := Split(d)
	got, ok := ts.Resolve(payload)
	if !ok || got != long {
		t.Fatalf("Resolve(%q) = %q, %v", payload, got, ok)
	}
	if got, ok := ts.Resolve("A1"); !ok || got != "A1" {
		t.Fatalf("Resolve(plain) = %q, %v", got, ok)
	}
}

func TestTokenStoreExpiryAndCap(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ts := NewTokenStore(time.Minute, 3)
	ts.now = func() time.Time { return now }
	tok := ts.Put("a")
	now = now.Add(2 * time.Minute)
	if _, ok := ts.Get(tok); ok {
		t.Fatal("expired token still resolvable")
	}
	for i := 0; i < 10; i++ {
		ts.Put("v")
	}
	if n := ts.Len(); n > 3 {
		t.Fatalf("Len() = %d, want <= 3", n)
	}
}

func TestRows(t *testing.T) {
	t.Parallel()
	kb := NewInline().Rows(2, Btn("a", "1"), Btn("b", "2"), Btn("c", "3"))
	if kb.Len() != 2 {
		t.Fatalf("rows = %d, want 2", kb.Len())
	}
	if got := len(kb.Markup().InlineKeyboard[1]); got != 1 {
		t.Fatalf("second row = %d buttons, want 1", got)
	}
}

func TestHTML(t *testing.T) {
	t.Parallel()
	if got := JoinH(" ", B("a<b"), Esc(""), Code("x&y")); got != "<b>a&lt;b</b> <code>x&amp;y</code>" {
		t.Fatalf("JoinH = %q", got)
	}
}

func TestLabel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"Grüß Gott", 5, "Grüß…"},
		{"Grüß Gott", 9, "Grüß Gott"},
		{"  Ja,\n  gerne ", 60, "Ja, gerne"},
		{"abc", 1, "…"},
		{"abc", 0, ""},
	}
	for _, tt := range tests {
		if got := Label(tt.in, tt.n); got != tt.want {
			t.Fatalf("Label(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
