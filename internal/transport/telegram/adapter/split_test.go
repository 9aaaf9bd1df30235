package adapter

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitTelegramText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		in        string
		limit     int
		parseMode string
		want      []string
	}{
		{"short", "hello", 10, "", []string{"hello"}},
		{"hard cut", "abcdefghij", 4, "", []string{"abcd", "efgh", "ij"}},
		{"newline", "aaaa\nbbbbbb", 8, "", []string{"aaaa", "bbbbbb"}},
		{"html tag", "abc <b>x</b>", 6, "HTML", []string{"abc ", "<b>x", "</b>"}},
		{"html ignored in plain", "abc <b>x</b>", 6, "", []string{"abc <b", ">x</b>"}},
	}
	for _, tt := range tests {
		got := splitTelegramText(tt.in, tt.limit, tt.parseMode)
		if strings.Join(got, "|") != strings.Join(tt.want, "|") {
			t.Fatalf("%s: splitTelegramText = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestSplitTelegramTextRuneSafe(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("ü", 9001)
	chunks := splitTelegramText(s, 0, "")
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	total := 0
	for _, c := range chunks {
		if !utf8.ValidString(c) {
			t.Fatalf("chunk is not valid UTF-8")
		}
		total += utf8.RuneCountInString(c)
	}
	if total != 9001 {
		t.Fatalf("rune total = %d, want 9001", total)
	}
}
