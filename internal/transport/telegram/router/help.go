package router

import (
	"slices"
	"strings"

	"surveybot/pkg/tgui"
)

// HelpText renders the command reference for path in HTML parse mode.
// An empty path lists every top-level command, with owner commands in a
// separate block at the end.
func (m *CommandManager) HelpText(path []string) string {
	m.mu.RLock()
	root, alias := m.root, m.alias
	m.mu.RUnlock()
	if root == nil {
		return ""
	}
	if len(path) == 0 {
		return m.helpIndex(root).String()
	}

	cur, full := root, make([]string, 0, len(path))
	for _, p := range path {
		if n, ok := cur.child(p); ok {
			cur, full = n, append(full, p)
			continue
		}
		// /help freq resolves the alias to its command
		if leaf := alias[p]; leaf != nil && leaf.cmd != nil {
			cur, full = leaf, splitRoute(leaf.cmd.Route)
			break
		}
		return tgui.Lines(
			tgui.B("Unknown command"),
			"Send "+tgui.Code("/help")+" for the list of commands.",
		).String()
	}
	return helpNode(cur, full).String()
}

func (m *CommandManager) helpIndex(root *cmdNode) tgui.H {
	var public, owner []tgui.H
	for _, name := range root.childNames() {
		n, _ := root.child(name)
		line := tgui.Bullet("/"+name, nodeSummary(n))
		if ownerOnly(n) {
			owner = append(owner, line)
		} else {
			public = append(public, line)
		}
	}
	blocks := []tgui.H{
		tgui.Lines(tgui.B("Commands"), "Send "+tgui.Code("/help <command>")+" for details."),
		tgui.Lines(public...),
	}
	if len(owner) > 0 {
		blocks = append(blocks, tgui.Lines(append([]tgui.H{tgui.B("Owner")}, owner...)...))
	}
	return tgui.Sections(blocks...)
}

func helpNode(cur *cmdNode, full []string) tgui.H {
	head := []tgui.H{tgui.B("Help") + " " + tgui.Code("/"+strings.Join(full, " "))}
	var blocks []tgui.H

	if c := cur.cmd; c != nil {
		if d := strings.TrimSpace(c.Description); d != "" {
			head = append(head, tgui.Esc(d))
		}
		if u := strings.TrimSpace(c.Usage); u != "" {
			blocks = append(blocks, tgui.Lines(tgui.B("Usage"), tgui.Code(u)))
		}
		if short := shortcuts(*c); len(short) > 0 {
			lines := []tgui.H{tgui.B("Shortcuts")}
			for _, s := range short {
				lines = append(lines, tgui.Bullet("/"+s, ""))
			}
			blocks = append(blocks, tgui.Lines(lines...))
		}
	} else {
		head = append(head, "Command group.")
	}
	if ownerOnly(cur) {
		head = append(head, tgui.I("owner only"))
	}

	if len(cur.children) > 0 {
		lines := []tgui.H{tgui.B("Subcommands")}
		for _, name := range cur.childNames() {
			n, _ := cur.child(name)
			route := "/" + strings.Join(append(slices.Clone(full), name), " ")
			lines = append(lines, tgui.Bullet(route, nodeSummary(n)))
		}
		blocks = append(blocks, tgui.Lines(lines...))
	}
	return tgui.Sections(append([]tgui.H{tgui.Lines(head...)}, blocks...)...)
}

// nodeSummary is the command description, or for a bare group the first
// few subcommand names.
func nodeSummary(n *cmdNode) string {
	if n == nil {
		return ""
	}
	if n.cmd != nil && strings.TrimSpace(n.cmd.Description) != "" {
		return strings.TrimSpace(n.cmd.Description)
	}
	kids := n.childNames()
	if len(kids) == 0 {
		return ""
	}
	if len(kids) > 3 {
		return strings.Join(kids[:3], ", ") + ", …"
	}
	return strings.Join(kids, ", ")
}

// ownerOnly reports whether n is an owner command, or a group in which no
// command is open to everyone.
func ownerOnly(n *cmdNode) bool {
	if n == nil {
		return false
	}
	if n.cmd != nil {
		return n.cmd.Access == AccessOwnerOnly
	}
	for _, ch := range n.children {
		if !ownerOnly(ch) {
			return false
		}
	}
	return true
}

// shortcuts lists the other names a command answers to: its underscore
// menu form and its aliases.
func shortcuts(c Command) []string {
	var out []string
	if menu, ok := menuName(splitRoute(c.Route)); ok && strings.Contains(strings.TrimSpace(c.Route), " ") {
		out = append(out, menu)
	}
	for _, a := range c.Aliases {
		a = strings.TrimSpace(a)
		if a == "" || strings.Contains(a, " ") {
			continue
		}
		out = append(out, a)
		if sa := commandName(a); sa != "" {
			out = append(out, sa)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
