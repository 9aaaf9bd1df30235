package survey

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduleReplacesPendingTimer(t *testing.T) {
	t.Parallel()
	s := NewScheduler()
	defer s.Stop()

	var fired atomic.Int32
	var lastGen atomic.Uint64
	fn := func(id SessionID, gen Generation) {
		fired.Add(1)
		lastGen.Store(uint64(gen))
	}
	s.Schedule(1, 50*time.Millisecond, fn)
	g2 := s.Schedule(1, 10*time.Millisecond, fn)
	if s.Pending() != 1 {
		t.Fatalf("Pending = %d, want 1", s.Pending())
	}

	time.Sleep(150 * time.Millisecond)
	if fired.Load() != 1 {
		t.Fatalf("fired = %d, want 1", fired.Load())
	}
	if Generation(lastGen.Load()) != g2 {
		t.Fatalf("fired gen = %d, want %d", lastGen.Load(), g2)
	}
	if s.Pending() != 0 || s.Armed(1) {
		t.Fatalf("Pending = %d after fire", s.Pending())
	}
}

func TestCancelInvalidatesGeneration(t *testing.T) {
	t.Parallel()
	s := NewScheduler()
	defer s.Stop()

	var fired atomic.Int32
	g := s.Schedule(2, 20*time.Millisecond, func(SessionID, Generation) { fired.Add(1) })
	if got := s.Cancel(2); got <= g {
		t.Fatalf("Cancel gen = %d, want > %d", got, g)
	}
	time.Sleep(60 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatal("cancelled timer fired")
	}
	if s.Current(2) != 0 {
		t.Fatalf("Current = %d after Cancel, want 0", s.Current(2))
	}
	if s.Current(99) != 0 {
		t.Fatal("unknown id should have generation 0")
	}
}

func TestSlotsAreReleased(t *testing.T) {
	t.Parallel()
	s := NewScheduler()
	defer s.Stop()

	// cancelling an unknown id does not create a slot
	s.Cancel(7)
	if n := s.Slots(); n != 0 {
		t.Fatalf("Slots after Cancel of unknown id = %d, want 0", n)
	}

	fired := make(chan Generation, 1)
	g := s.Schedule(8, 0, func(_ SessionID, gen Generation) { fired <- gen })
	select {
	case got := <-fired:
		if got != g {
			t.Fatalf("fired gen = %d, want %d", got, g)
		}
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	// the fired slot stays until its tick is handled
	if s.Current(8) != g {
		t.Fatalf("Current = %d before Release, want %d", s.Current(8), g)
	}
	s.Release(8, g-1)
	if s.Slots() != 1 {
		t.Fatal("Release with a stale generation dropped the slot")
	}
	s.Release(8, g)
	if n := s.Slots(); n != 0 {
		t.Fatalf("Slots after Release = %d, want 0", n)
	}

	// a new timer never reuses a released generation
	if g2 := s.Schedule(8, time.Hour, func(SessionID, Generation) {}); g2 <= g {
		t.Fatalf("gen after Release = %d, want > %d", g2, g)
	}
	s.Release(8, s.Current(8))
	if !s.Armed(8) {
		t.Fatal("Release dropped an armed timer")
	}
}

func TestZeroDelayFires(t *testing.T) {
	t.Parallel()
	s := NewScheduler()
	defer s.Stop()
	done := make(chan struct{})
	s.Schedule(3, 0, func(SessionID, Generation) { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("zero delay timer did not fire")
	}
}

func TestStopPreventsFires(t *testing.T) {
	t.Parallel()
	s := NewScheduler()
	var fired atomic.Int32
	for i := 0; i < 10; i++ {
		s.Schedule(SessionID(i), 20*time.Millisecond, func(SessionID, Generation) { fired.Add(1) })
	}
	s.Stop()
	s.Schedule(100, 0, func(SessionID, Generation) { fired.Add(1) })
	time.Sleep(60 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatalf("fired = %d after Stop", fired.Load())
	}
	if s.Pending() != 0 {
		t.Fatalf("Pending = %d after Stop", s.Pending())
	}
}

func storeEntries(st *Store) int {
	n := 0
	for i := range st.shards {
		sh := &st.shards[i]
		sh.mu.Lock()
		n += len(sh.m)
		sh.mu.Unlock()
	}
	return n
}

func TestStoreDropsEmptyEntries(t *testing.T) {
	t.Parallel()
	st := NewStore()
	for id := SessionID(1); id <= 100; id++ {
		st.Do(id, func(*Record) *Record { return &Record{SessionID: id} })
	}
	if n := storeEntries(st); n != 100 {
		t.Fatalf("entries = %d, want 100", n)
	}
	for id := SessionID(1); id <= 100; id++ {
		st.Do(id, func(*Record) *Record { return nil })
	}
	// a lookup of an unknown id leaves nothing behind
	st.Do(500, func(cur *Record) *Record { return cur })
	if n := storeEntries(st); n != 0 {
		t.Fatalf("entries = %d after removal, want 0", n)
	}
	if st.Len() != 0 {
		t.Fatalf("Len = %d, want 0", st.Len())
	}
}

func TestStoreSerializesPerSession(t *testing.T) {
	t.Parallel()
	st := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st.Do(1, func(cur *Record) *Record {
				if cur == nil {
					cur = &Record{SessionID: 1, Answers: map[string]string{}}
				}
				cur.Index++
				return cur
			})
		}()
	}
	wg.Wait()
	rec, ok := st.Get(1)
	if !ok || rec.Index != 50 {
		t.Fatalf("Index = %v, want 50", rec)
	}

	st.Do(1, func(*Record) *Record { return nil })
	if _, ok := st.Get(1); ok {
		t.Fatal("record not removed")
	}
	if st.Len() != 0 {
		t.Fatalf("Len = %d", st.Len())
	}
}

func TestShardIndexNegativeIDs(t *testing.T) {
	t.Parallel()
	for _, id := range []SessionID{-1001234567890, -1, 0, 1, 1 << 40} {
		i := shardIndex(id, storeShards)
		if i < 0 || i >= storeShards {
			t.Fatalf("shardIndex(%d) = %d", id, i)
		}
	}
}
