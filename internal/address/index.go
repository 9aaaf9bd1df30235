// Package address holds the address autocomplete index and the sources it is
// built from.
package address

import (
	"iter"
	"strings"
)

// MaxResults caps how many suggestions a single inline query may return.
const MaxResults = 50

type node struct {
	children map[rune]*node
	order    []rune
	terminal bool
	word     string
}

func newNode() *node {
	return &node{children: make(map[rune]*node)}
}

// PrefixIndex is a case-insensitive rune trie.
//
// It is not safe for concurrent mutation. Build it on one goroutine, then
// publish it through a Holder; after that only Query is called.
type PrefixIndex struct {
	root  *node
	words int
}

func NewPrefixIndex() *PrefixIndex {
	return &PrefixIndex{root: newNode()}
}

// Insert adds word. The first spelling inserted for a folded key wins.
func (p *PrefixIndex) Insert(word string) {
	word = strings.TrimSpace(word)
	if word == "" {
		return
	}
	cur := p.root
	for _, r := range strings.ToLower(word) {
		next, ok := cur.children[r]
		if !ok {
			next = newNode()
			cur.children[r] = next
			cur.order = append(cur.order, r)
		}
		cur = next
	}
	if !cur.terminal {
		cur.terminal = true
		cur.word = word
		p.words++
	}
}

// Len reports the number of distinct words.
func (p *PrefixIndex) Len() int {
	if p == nil {
		return 0
	}
	return p.words
}

// Query yields every word starting with prefix in depth-first, child
// insertion order. The sequence is lazy and may be ranged over again.
func (p *PrefixIndex) Query(prefix string) iter.Seq[string] {
	return func(yield func(string) bool) {
		if p == nil || p.root == nil {
			return
		}
		start := p.root
		for _, r := range strings.ToLower(prefix) {
			next, ok := start.children[r]
			if !ok {
				return
			}
			start = next
		}

		stack := []*node{start}
		for len(stack) > 0 {
			n := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if n.terminal {
				if !yield(n.word) {
					return
				}
			}
			// push in reverse so the first-inserted child pops first
			for i := len(n.order) - 1; i >= 0; i-- {
				stack = append(stack, n.children[n.order[i]])
			}
		}
	}
}

// Search drains at most limit distinct words from seq.
func Search(seq iter.Seq[string], limit int) []string {
	if limit <= 0 {
		return nil
	}
	out := make([]string, 0, min(limit, 16))
	seen := make(map[string]struct{}, min(limit, 16))
	for w := range seq {
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
		if len(out) >= limit {
			break
		}
	}
	return out
}

// Build inserts every word into a fresh index.
func Build(words []string) *PrefixIndex {
	p := NewPrefixIndex()
	for _, w := range words {
		p.Insert(w)
	}
	return p
}
