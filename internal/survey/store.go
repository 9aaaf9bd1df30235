package survey

import (
	"sync"
)

const storeShards = 64

// Store keeps session records with per-session mutual exclusion.
// Operations on different sessions never wait for each other beyond a short
// shard lookup.
type Store struct {
	shards [storeShards]storeShard
}

type storeShard struct {
	mu sync.Mutex
	m  map[SessionID]*storeEntry
}

type storeEntry struct {
	mu  sync.Mutex
	rec *Record

	refs int // guarded by the shard lock
}

func NewStore() *Store {
	s := &Store{}
	for i := range s.shards {
		s.shards[i].m = map[SessionID]*storeEntry{}
	}
	return s
}

func shardIndex(id SessionID, n int) int {
	u := uint64(id)
	// fold the high bits in, chat ids of groups are negative
	u ^= u >> 33
	return int(u % uint64(n))
}

// acquire returns the lock holder for id and pins it. An entry leaves the
// map only when nobody holds it and it has no record, so a pinned entry is
// always the only lock for its id.
func (s *Store) acquire(id SessionID) (*storeShard, *storeEntry) {
	sh := &s.shards[shardIndex(id, storeShards)]
	sh.mu.Lock()
	e, ok := sh.m[id]
	if !ok {
		e = &storeEntry{}
		sh.m[id] = e
	}
	e.refs++
	sh.mu.Unlock()
	return sh, e
}

func (sh *storeShard) release(id SessionID, e *storeEntry) {
	sh.mu.Lock()
	e.refs--
	if e.refs == 0 && e.rec == nil {
		delete(sh.m, id)
	}
	sh.mu.Unlock()
}

// Do runs fn with exclusive access to the session. fn receives the current
// record (nil if none) and returns the record to keep (nil removes it).
// fn must not block on I/O.
func (s *Store) Do(id SessionID, fn func(cur *Record) *Record) {
	sh, e := s.acquire(id)
	defer sh.release(id, e)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rec = fn(e.rec)
}

// Get returns a copy of the session record.
func (s *Store) Get(id SessionID) (*Record, bool) {
	sh := &s.shards[shardIndex(id, storeShards)]
	sh.mu.Lock()
	e, ok := sh.m[id]
	sh.mu.Unlock()
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec == nil {
		return nil, false
	}
	return e.rec.Clone(), true
}

// Snapshot copies every live record.
func (s *Store) Snapshot() []*Record {
	var entries []*storeEntry
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for _, e := range sh.m {
			entries = append(entries, e)
		}
		sh.mu.Unlock()
	}
	out := make([]*Record, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if e.rec != nil {
			out = append(out, e.rec.Clone())
		}
		e.mu.Unlock()
	}
	return out
}

// Len counts live records.
func (s *Store) Len() int {
	return len(s.Snapshot())
}
