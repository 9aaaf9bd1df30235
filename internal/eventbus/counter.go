package eventbus

import (
	"context"
	"sort"
	"sync"
)

// Counter tallies events by type. It is fed from a bus subscription.
type Counter struct {
	mu     sync.Mutex
	counts map[string]uint64
}

func NewCounter() *Counter {
	return &Counter{counts: map[string]uint64{}}
}

func (c *Counter) Add(e Event) {
	c.mu.Lock()
	c.counts[e.Type]++
	c.mu.Unlock()
}

// Run consumes ch until it closes or ctx ends.
func (c *Counter) Run(ctx context.Context, ch <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			c.Add(e)
		}
	}
}

type Count struct {
	Type  string `json:"type"`
	Count uint64 `json:"count"`
}

func (c *Counter) Snapshot() []Count {
	c.mu.Lock()
	out := make([]Count, 0, len(c.counts))
	for k, v := range c.counts {
		out = append(out, Count{Type: k, Count: v})
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}
