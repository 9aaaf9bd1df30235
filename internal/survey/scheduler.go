package survey

import (
	"sync"
	"sync/atomic"
	"time"
)

// Generation tags one armed timer. Arming or cancelling moves to a new one,
// which invalidates fires that are already in flight. Generations come from
// one counter per Scheduler, so a dropped slot never sees one reused.
type Generation uint64

type FireFunc func(id SessionID, gen Generation)

const schedShards = 32

// Scheduler runs one pending one-shot timer per session. A session has a
// slot only while its timer is armed or its fire has not been released.
type Scheduler struct {
	shards  [schedShards]schedShard
	gen     atomic.Uint64
	stopped atomic.Bool
	pending atomic.Int64
}

type schedShard struct {
	mu sync.Mutex
	m  map[SessionID]*slot
}

type slot struct {
	gen   Generation
	timer *time.Timer
}

func NewScheduler() *Scheduler {
	s := &Scheduler{}
	for i := range s.shards {
		s.shards[i].m = map[SessionID]*slot{}
	}
	return s
}

func (s *Scheduler) shard(id SessionID) *schedShard {
	return &s.shards[shardIndex(id, schedShards)]
}

// Schedule replaces any pending timer for id and arms a new one. A delay of
// zero fires as soon as the runtime allows. fn runs on its own goroutine and
// must check the generation before acting.
func (s *Scheduler) Schedule(id SessionID, delay time.Duration, fn FireFunc) Generation {
	if delay < 0 {
		delay = 0
	}
	sh := s.shard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	gen := Generation(s.gen.Add(1))
	if s.stopped.Load() {
		return gen
	}
	sl, ok := sh.m[id]
	if !ok {
		sl = &slot{}
		sh.m[id] = sl
	}
	s.stopLocked(sl)
	sl.gen = gen
	sl.timer = time.AfterFunc(delay, func() {
		if !s.clearFired(id, gen) {
			return
		}
		fn(id, gen)
	})
	s.pending.Add(1)
	return gen
}

// clearFired marks the timer for gen as no longer pending. It reports false
// when the slot has moved on.
func (s *Scheduler) clearFired(id SessionID, gen Generation) bool {
	sh := s.shard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sl, ok := sh.m[id]
	if !ok || sl.gen != gen || sl.timer == nil {
		return false
	}
	sl.timer = nil
	s.pending.Add(-1)
	return true
}

func (s *Scheduler) stopLocked(sl *slot) {
	if sl.timer == nil {
		return
	}
	sl.timer.Stop()
	sl.timer = nil
	s.pending.Add(-1)
}

// Cancel invalidates the pending timer for id, whether or not it has fired,
// and drops its slot. The returned generation is never armed.
func (s *Scheduler) Cancel(id SessionID) Generation {
	sh := s.shard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if sl, ok := sh.m[id]; ok {
		s.stopLocked(sl)
		delete(sh.m, id)
	}
	return Generation(s.gen.Add(1))
}

// Release drops the slot of a fired timer once its tick has been handled.
// It does nothing if id has moved on to another generation.
func (s *Scheduler) Release(id SessionID, gen Generation) {
	sh := s.shard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if sl, ok := sh.m[id]; ok && sl.gen == gen && sl.timer == nil {
		delete(sh.m, id)
	}
}

// Current returns the live generation for id, or 0 without a slot.
func (s *Scheduler) Current(id SessionID) Generation {
	sh := s.shard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if sl, ok := sh.m[id]; ok {
		return sl.gen
	}
	return 0
}

// Armed reports whether id has a timer that has not fired yet.
func (s *Scheduler) Armed(id SessionID) bool {
	sh := s.shard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sl, ok := sh.m[id]
	return ok && sl.timer != nil
}

func (s *Scheduler) Pending() int { return int(s.pending.Load()) }

// Slots counts sessions the scheduler still tracks.
func (s *Scheduler) Slots() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		n += len(sh.m)
		sh.mu.Unlock()
	}
	return n
}

// Stop cancels every timer and drops every slot. Later Schedule calls only
// hand out generations.
func (s *Scheduler) Stop() {
	s.stopped.Store(true)
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for id, sl := range sh.m {
			s.stopLocked(sl)
			delete(sh.m, id)
		}
		sh.mu.Unlock()
	}
}
