package router

import (
	"slices"
	"strings"
)

// cmdNode is one word of a command route ("debug" in "/debug sessions").
// Groups that are also commands carry cmd alongside children.
type cmdNode struct {
	cmd      *Command
	children map[string]*cmdNode
}

func newRoot() *cmdNode { return &cmdNode{children: map[string]*cmdNode{}} }

func splitRoute(route string) []string { return strings.Fields(route) }

// add installs c at route, creating intermediate groups.
func (n *cmdNode) add(route []string, c Command) {
	for _, word := range route {
		next := n.children[word]
		if next == nil {
			next = newRoot()
			n.children[word] = next
		}
		n = next
	}
	n.cmd = &c
}

// find returns the node at route exactly, or nil.
func (n *cmdNode) find(route []string) *cmdNode {
	for _, word := range route {
		if n = n.children[word]; n == nil {
			return nil
		}
	}
	return n
}

// descend follows args below n for as long as they name subcommands. A
// flag ("-x") stops the walk. It returns the deepest node, the words it
// consumed and the remaining args.
func (n *cmdNode) descend(args []string) (*cmdNode, []string, []string) {
	var used []string
	for len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		next := n.children[args[0]]
		if next == nil {
			break
		}
		n, used, args = next, append(used, args[0]), args[1:]
	}
	return n, used, args
}

func (n *cmdNode) child(word string) (*cmdNode, bool) {
	c, ok := n.children[word]
	return c, ok
}

func (n *cmdNode) childNames() []string {
	names := make([]string, 0, len(n.children))
	for k := range n.children {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}
