package survey

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"surveybot/internal/eventbus"
	"surveybot/pkg/logx"
)

type fakeSource struct {
	calls atomic.Int32
	cat   *Catalog
	err   error
}

func (f *fakeSource) FetchQuestions(ctx context.Context, surveyID int64) ([]QuestionDescriptor, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.cat.Questions, nil
}

type chanSink struct {
	ch chan Effect
}

func newChanSink() *chanSink { return &chanSink{ch: make(chan Effect, 256)} }

func (s *chanSink) Submit(effects []Effect) {
	for _, e := range effects {
		s.ch <- e
	}
}

func (s *chanSink) next(t *testing.T) Effect {
	t.Helper()
	select {
	case e := <-s.ch:
		return e
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for effect")
		return nil
	}
}

func (s *chanSink) none(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case e := <-s.ch:
		t.Fatalf("unexpected effect %#v", e)
	case <-time.After(wait):
	}
}

func newTestService(src CatalogSource, sink EffectSink, set Settings) *Service {
	return NewService(Options{
		Catalogs: NewCachedCatalogs(src),
		Sink:     sink,
		Bus:      eventbus.New(),
		Log:      logx.Nop(),
		Settings: set,
		NewSeed:  func() string { return "seed-1" },
	})
}

func TestServiceScenarioTwoQuestions(t *testing.T) {
	t.Parallel()
	sink := newChanSink()
	svc := newTestService(&fakeSource{cat: testCatalog()}, sink, Settings{})
	defer svc.Stop()
	const id SessionID = 42
	freq := 30 * time.Millisecond

	res, err := svc.Start(context.Background(), id, StartRequest{SurveyID: 123, Frequency: freq})
	if err != nil || res.Outcome != Applied {
		t.Fatalf("Start = %v, %v", res.Outcome, err)
	}
	if _, ok := sink.next(t).(Welcome); !ok {
		t.Fatal("want Welcome first")
	}
	q := sink.next(t).(SendQuestion)
	if q.Index != 0 || q.Session != id {
		t.Fatalf("question = %+v", q)
	}

	svc.AnswerChoice(id, 0, "A2", 10)
	if show := sink.next(t).(ShowAnswer); show.Label != "Blue" {
		t.Fatalf("ShowAnswer = %+v", show)
	}
	sink.next(t) // prompt
	// no tick while the prompt is open
	sink.none(t, 3*freq)

	svc.Confirm(id, 0, true, 11)
	sink.next(t) // close confirmation
	q = sink.next(t).(SendQuestion)
	if q.Index != 1 {
		t.Fatalf("second question index = %d", q.Index)
	}

	svc.AnswerText(id, "Graben 5, 1010")
	sink.next(t)
	sink.next(t)
	svc.Confirm(id, 1, false, 12)
	sink.next(t)
	if q := sink.next(t).(SendQuestion); q.Index != 1 {
		t.Fatalf("re-ask index = %d", q.Index)
	}
	svc.AnswerText(id, "Stephansplatz 1, 1010")
	sink.next(t) // ShowAnswer without prompt

	if _, ok := sink.next(t).(SendCompletion); !ok {
		t.Fatal("want completion")
	}
	sub := sink.next(t).(SubmitResponse)
	if sub.Answers["123X10X1"] != "A2" || sub.Answers["123X10X2"] != "Stephansplatz 1, 1010" {
		t.Fatalf("answers = %v", sub.Answers)
	}
	if sub.Seed != "seed-1" {
		t.Fatalf("seed = %q", sub.Seed)
	}

	rec, ok := svc.Status(id)
	if !ok || !rec.Completed {
		t.Fatalf("status = %+v, %v", rec, ok)
	}
	if svc.sched.Armed(id) {
		t.Fatal("completed session still has a timer")
	}
}

func TestServiceCancelStopsTicks(t *testing.T) {
	t.Parallel()
	sink := newChanSink()
	svc := newTestService(&fakeSource{cat: testCatalog()}, sink, Settings{})
	defer svc.Stop()

	if _, err := svc.Start(context.Background(), 1, StartRequest{SurveyID: 123, Frequency: 40 * time.Millisecond}); err != nil {
		t.Fatal(err)
	}
	sink.next(t)
	res := svc.Cancel(1, ReasonCancel)
	if res.Outcome != Applied {
		t.Fatalf("Cancel outcome = %v", res.Outcome)
	}
	if _, ok := sink.next(t).(SendFarewell); !ok {
		t.Fatal("want farewell")
	}
	sink.none(t, 120*time.Millisecond)
	if _, ok := svc.Status(1); ok {
		t.Fatal("cancelled session still stored")
	}
	if n, m := svc.sched.Slots(), storeEntries(svc.store); n != 0 || m != 0 {
		t.Fatalf("scheduler slots = %d, store entries = %d after cancel, want 0 and 0", n, m)
	}
}

func TestServiceStaleTimerDropped(t *testing.T) {
	t.Parallel()
	sink := newChanSink()
	svc := newTestService(&fakeSource{cat: testCatalog()}, sink, Settings{})
	defer svc.Stop()

	if _, err := svc.Start(context.Background(), 5, StartRequest{SurveyID: 123, Frequency: time.Hour}); err != nil {
		t.Fatal(err)
	}
	sink.next(t)
	stale := svc.sched.Current(5) - 1
	res := svc.applyWith(5, nil, Tick(), stale)
	if res.Outcome != Ignored || res.Reason != ReasonStale {
		t.Fatalf("stale tick = %v/%s", res.Outcome, res.Reason)
	}
	sink.none(t, 20*time.Millisecond)

	res = svc.applyWith(5, nil, Tick(), svc.sched.Current(5))
	if res.Outcome != Applied {
		t.Fatalf("current tick = %v/%s", res.Outcome, res.Reason)
	}
}

func TestServiceStartBackendError(t *testing.T) {
	t.Parallel()
	src := &fakeSource{err: fmt.Errorf("dial: %w", ErrBackendUnavailable)}
	svc := newTestService(src, newChanSink(), Settings{})
	_, err := svc.Start(context.Background(), 9, StartRequest{SurveyID: 123, Frequency: time.Second})
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("err = %v, want ErrBackendUnavailable", err)
	}
	if _, ok := svc.Status(9); ok {
		t.Fatal("failed start left a session")
	}
}

func TestCachedCatalogsFetchOnce(t *testing.T) {
	t.Parallel()
	src := &fakeSource{cat: testCatalog()}
	cc := NewCachedCatalogs(src)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cc.Get(context.Background(), 123); err != nil {
				t.Errorf("Get error: %v", err)
			}
		}()
	}
	wg.Wait()
	if n := src.calls.Load(); n < 1 || n > 16 {
		t.Fatalf("calls = %d", n)
	}
	before := src.calls.Load()
	if _, err := cc.Get(context.Background(), 123); err != nil {
		t.Fatal(err)
	}
	if src.calls.Load() != before {
		t.Fatal("cached catalog was fetched again")
	}
	cc.Invalidate(123)
	if _, err := cc.Get(context.Background(), 123); err != nil {
		t.Fatal(err)
	}
	if src.calls.Load() != before+1 {
		t.Fatal("invalidate did not force a fetch")
	}
}

func TestManySessionsInParallel(t *testing.T) {
	t.Parallel()
	var delivered atomic.Int32
	sink := effectFunc(func(effects []Effect) {
		for _, e := range effects {
			if _, ok := e.(SendQuestion); ok {
				delivered.Add(1)
			}
		}
	})
	svc := newTestService(&fakeSource{cat: testCatalog()}, sink, Settings{})
	defer svc.Stop()

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id SessionID) {
			defer wg.Done()
			if _, err := svc.Start(context.Background(), id, StartRequest{SurveyID: 123, Frequency: 10 * time.Millisecond}); err != nil {
				t.Errorf("Start(%d): %v", id, err)
			}
		}(SessionID(i + 1))
	}
	wg.Wait()

	deadline := time.Now().Add(3 * time.Second)
	for delivered.Load() < n && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := delivered.Load(); got != n {
		t.Fatalf("delivered = %d, want %d", got, n)
	}
	if st := svc.Stats(); st.Active != n {
		t.Fatalf("Stats = %+v", st)
	}
}

type effectFunc func([]Effect)

func (f effectFunc) Submit(effects []Effect) { f(effects) }
