package router

import (
	"slices"
	"strings"
	"unicode"

	kit "surveybot/internal/transport"
)

// Telegram limits for setMyCommands.
const (
	maxCommandLen     = 32
	maxDescriptionLen = 256
	maxMenuCommands   = 100
)

// commandName maps a route token or alias ("set-frequency") to the
// [a-z0-9_] form Telegram accepts ("set_frequency"). It returns "" when
// nothing usable is left.
func commandName(s string) string {
	var b strings.Builder
	sep := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if sep && b.Len() > 0 {
				b.WriteByte('_')
			}
			sep = false
			b.WriteRune(r)
		case r == '_', r == '-', r == '/', unicode.IsSpace(r):
			sep = true
		}
	}
	out := b.String()
	if out == "" {
		return ""
	}
	if out[0] >= '0' && out[0] <= '9' {
		out = "cmd_" + out
	}
	if len(out) > maxCommandLen {
		out = strings.TrimRight(out[:maxCommandLen], "_")
	}
	return out
}

// menuName joins a route into one menu command: "debug sessions" becomes
// "debug_sessions".
func menuName(route []string) (string, bool) {
	out := commandName(strings.Join(route, "_"))
	return out, out != ""
}

type menuEntry struct {
	kit.BotCommand
	// top-level entries sort before multi-token shortcuts
	shortcut bool
}

// menuCommands builds the public command menu: every top-level command a
// participant may run, then underscore shortcuts for nested public routes.
// Owner commands are left out; they still work when typed.
func menuCommands(root *cmdNode, cmds []Command) []kit.BotCommand {
	byName := map[string]menuEntry{}
	add := func(name, desc string, shortcut bool) {
		name = commandName(name)
		if name == "" {
			return
		}
		desc = strings.Join(strings.Fields(desc), " ")
		if desc == "" {
			desc = name
		}
		if len(desc) > maxDescriptionLen {
			desc = desc[:maxDescriptionLen]
		}
		if cur, ok := byName[name]; ok {
			// a top-level entry wins; among equals the shorter description
			if !cur.shortcut && shortcut {
				return
			}
			if cur.shortcut == shortcut && len(cur.Description) <= len(desc) {
				return
			}
		}
		byName[name] = menuEntry{BotCommand: kit.BotCommand{Command: name, Description: desc}, shortcut: shortcut}
	}

	if root != nil {
		for _, name := range root.childNames() {
			n, _ := root.child(name)
			if !ownerOnly(n) {
				add(name, nodeSummary(n), false)
			}
		}
	}
	for _, c := range cmds {
		route := splitRoute(c.Route)
		if len(route) < 2 || c.Access == AccessOwnerOnly {
			continue
		}
		name, ok := menuName(route)
		if !ok {
			continue
		}
		desc := c.Description
		if strings.TrimSpace(desc) == "" {
			desc = strings.Join(route, " ")
		}
		add(name, desc, true)
	}

	entries := make([]menuEntry, 0, len(byName))
	for _, e := range byName {
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b menuEntry) int {
		if a.shortcut != b.shortcut {
			if a.shortcut {
				return 1
			}
			return -1
		}
		return strings.Compare(a.Command, b.Command)
	})

	out := make([]kit.BotCommand, 0, min(len(entries), maxMenuCommands))
	for _, e := range entries[:min(len(entries), maxMenuCommands)] {
		out = append(out, e.BotCommand)
	}
	return out
}
