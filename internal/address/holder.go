package address

import (
	"sync/atomic"
	"time"
)

// Snapshot is one published index together with its provenance.
type Snapshot struct {
	Index   *PrefixIndex
	Source  string
	BuiltAt time.Time
}

// Holder publishes the current index. Readers never block a rebuild.
type Holder struct {
	cur atomic.Pointer[Snapshot]
}

func NewHolder() *Holder {
	h := &Holder{}
	h.cur.Store(&Snapshot{Index: NewPrefixIndex()})
	return h
}

func (h *Holder) Swap(idx *PrefixIndex, source string) *Snapshot {
	s := &Snapshot{Index: idx, Source: source, BuiltAt: time.Now()}
	return h.cur.Swap(s)
}

func (h *Holder) Load() *Snapshot {
	return h.cur.Load()
}

// Suggest runs a bounded search against the current index.
func (h *Holder) Suggest(prefix string, limit int) []string {
	if limit <= 0 || limit > MaxResults {
		limit = MaxResults
	}
	s := h.cur.Load()
	if s == nil || s.Index == nil {
		return nil
	}
	return Search(s.Index.Query(prefix), limit)
}
