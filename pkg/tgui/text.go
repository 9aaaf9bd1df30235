package tgui

import "strings"

// MaxButtonRunes is the label length that still renders on one line of a
// phone keyboard.
const MaxButtonRunes = 60

// Label makes s fit on an inline button: runs of whitespace (including the
// newlines left by HTML question text) collapse to one space and the result
// is cut to n runes with a trailing "…".
func Label(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if n <= 0 {
		return ""
	}
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return string(rs[:n-1]) + "…"
}
