package tgui

import (
	"html"
	"strings"
)

// H is text already escaped for Telegram's HTML parse mode.
type H string

func (h H) String() string { return string(h) }

// Esc escapes user or catalog text (question titles, answer options,
// street names) for HTML parse mode.
func Esc(s string) H { return H(html.EscapeString(s)) }

func tag(name string, inner H) H { return "<" + H(name) + ">" + inner + "</" + H(name) + ">" }

func B(s string) H    { return tag("b", Esc(s)) }
func I(s string) H    { return tag("i", Esc(s)) }
func Code(s string) H { return tag("code", Esc(s)) }

// JoinH joins parts with sep, skipping parts that are only whitespace.
func JoinH(sep string, parts ...H) H {
	var sb strings.Builder
	for _, p := range parts {
		if strings.TrimSpace(string(p)) == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString(sep)
		}
		sb.WriteString(string(p))
	}
	return H(sb.String())
}

// Lines joins parts one per line.
func Lines(parts ...H) H { return JoinH("\n", parts...) }

// Sections joins non-empty blocks with a blank line between them.
func Sections(blocks ...H) H { return JoinH("\n\n", blocks...) }

// Bullet renders "• <code>cmd</code> · desc"; desc may be empty.
func Bullet(cmd, desc string) H {
	line := "• " + Code(cmd)
	if d := strings.TrimSpace(desc); d != "" {
		line += " · " + Esc(d)
	}
	return line
}
