package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"

	"surveybot/internal/eventbus"
	"surveybot/internal/survey"
	"surveybot/pkg/logx"
)

type recorder struct {
	mu    sync.Mutex
	seen  map[survey.SessionID][]int
	calls map[int]int
	fail  map[int]error // index -> error returned on first call
}

func newRecorder() *recorder {
	return &recorder{seen: map[survey.SessionID][]int{}, calls: map[int]int{}, fail: map[int]error{}}
}

func (r *recorder) Execute(_ context.Context, eff survey.Effect) error {
	q := eff.(survey.SendQuestion)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[q.Index]++
	if err, ok := r.fail[q.Index]; ok && r.calls[q.Index] == 1 {
		return err
	}
	r.seen[q.Session] = append(r.seen[q.Session], q.Index)
	return nil
}

func question(id survey.SessionID, idx int) survey.Effect {
	return survey.SendQuestion{Header: survey.Header{Session: id}, Index: idx}
}

func testConfig() Config {
	return Config{Workers: 3, QueueSize: 64, RatePerSec: 10000, RetryMax: 2, RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond}
}

func TestPerSessionOrder(t *testing.T) {
	t.Parallel()
	rec := newRecorder()
	s := New(testConfig(), rec, logx.Nop(), nil)
	s.Start(context.Background())

	const sessions = 7
	for i := 0; i < 20; i++ {
		for id := survey.SessionID(1); id <= sessions; id++ {
			s.Submit([]survey.Effect{question(id, i)})
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Stop(ctx)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	for id := survey.SessionID(1); id <= sessions; id++ {
		got := rec.seen[id]
		if len(got) != 20 {
			t.Fatalf("session %d executed %d effects, want 20", id, len(got))
		}
		for i, idx := range got {
			if idx != i {
				t.Fatalf("session %d order = %v", id, got)
			}
		}
	}
}

func TestRetryAndPermanent(t *testing.T) {
	t.Parallel()
	rec := newRecorder()
	rec.fail[1] = errors.New("telegram: 502")
	rec.fail[2] = backoff.Permanent(errors.New("chat not found"))

	bus := eventbus.New()
	ch, unsub := bus.Subscribe(64)
	defer unsub()

	s := New(testConfig(), rec, logx.Nop(), bus)
	s.Start(context.Background())
	s.Submit([]survey.Effect{question(5, 1), question(5, 2), question(5, 3)})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Stop(ctx)

	rec.mu.Lock()
	got := append([]int(nil), rec.seen[5]...)
	calls1, calls2 := rec.calls[1], rec.calls[2]
	rec.mu.Unlock()

	if len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Fatalf("executed = %v, want [1 3]", got)
	}
	if calls1 != 2 {
		t.Fatalf("calls for transient failure = %d, want 2", calls1)
	}
	if calls2 != 1 {
		t.Fatalf("calls for permanent failure = %d, want 1", calls2)
	}
	st := s.Stats()
	if st.Sent != 2 || st.Failed != 1 || st.Retries != 1 {
		t.Fatalf("Stats() = %+v", st)
	}

	var failed int
	for len(ch) > 0 {
		if ev := <-ch; ev.Type == eventbus.OutboxFailed {
			failed++
			if data := ev.Data.(EffectEvent); data.Effect != "SendQuestion" || data.Session != 5 {
				t.Fatalf("failed event = %+v", data)
			}
		}
	}
	if failed != 1 {
		t.Fatalf("outbox.failed events = %d, want 1", failed)
	}
}

func TestSubmitWhenStopped(t *testing.T) {
	t.Parallel()
	s := New(testConfig(), newRecorder(), logx.Nop(), nil)
	if err := s.Enqueue(1, []survey.Effect{question(1, 0)}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Enqueue before Start = %v, want ErrStopped", err)
	}
	if s.Stats().Dropped != 1 {
		t.Fatalf("dropped = %d, want 1", s.Stats().Dropped)
	}
}

func TestLaneFull(t *testing.T) {
	t.Parallel()
	block := make(chan struct{})
	exec := ExecutorFunc(func(ctx context.Context, _ survey.Effect) error {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return nil
	})
	cfg := testConfig()
	cfg.Workers = 1
	cfg.QueueSize = 1
	s := New(cfg, exec, logx.Nop(), nil)
	s.Start(context.Background())
	defer func() {
		close(block)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Stop(ctx)
	}()

	var full bool
	for i := 0; i < 10 && !full; i++ {
		full = errors.Is(s.Enqueue(1, []survey.Effect{question(1, i)}), ErrQueueFull)
	}
	if !full {
		t.Fatal("expected ErrQueueFull with a blocked lane of capacity 1")
	}
}

func TestSubmissionSurvivesFullLane(t *testing.T) {
	t.Parallel()
	block := make(chan struct{})
	submitted := make(chan survey.SubmitResponse, 1)
	exec := ExecutorFunc(func(ctx context.Context, eff survey.Effect) error {
		if sr, ok := eff.(survey.SubmitResponse); ok {
			if _, hasDeadline := ctx.Deadline(); !hasDeadline {
				t.Errorf("submission ran without a deadline")
			}
			submitted <- sr
			return nil
		}
		select {
		case <-block:
		case <-ctx.Done():
		}
		return nil
	})
	cfg := testConfig()
	cfg.Workers = 1
	cfg.QueueSize = 1
	cfg.SendTimeout = time.Hour
	s := New(cfg, exec, logx.Nop(), nil)
	s.Start(context.Background())
	defer func() {
		close(block)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Stop(ctx)
	}()

	var full bool
	for i := 0; i < 10 && !full; i++ {
		full = errors.Is(s.Enqueue(1, []survey.Effect{question(1, i)}), ErrQueueFull)
	}
	if !full {
		t.Fatal("expected ErrQueueFull with a blocked lane of capacity 1")
	}

	want := survey.SubmitResponse{Header: survey.Header{Session: 1}, SurveyID: 42, Seed: "s"}
	completion := survey.SendCompletion{Header: survey.Header{Session: 1}}
	if err := s.Enqueue(1, []survey.Effect{completion, want}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Enqueue = %v, want ErrQueueFull for the chat part", err)
	}
	select {
	case got := <-submitted:
		if got.SurveyID != want.SurveyID || got.Seed != want.Seed {
			t.Fatalf("submitted = %+v, want %+v", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("submission behind a blocked lane never ran")
	}
}

func TestStopDrainsSubmissions(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	var got []int64
	exec := ExecutorFunc(func(_ context.Context, eff survey.Effect) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, eff.(survey.SubmitResponse).SurveyID)
		return nil
	})
	s := New(testConfig(), exec, logx.Nop(), nil)
	s.Start(context.Background())
	for i := int64(1); i <= 5; i++ {
		sr := survey.SubmitResponse{Header: survey.Header{Session: survey.SessionID(i)}, SurveyID: i}
		if err := s.Enqueue(sr.Session, []survey.Effect{sr}); err != nil {
			t.Fatalf("Enqueue(%d) = %v", i, err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Stop(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 5 {
		t.Fatalf("submitted %v, want 5 submissions", got)
	}
	for i, id := range got {
		if id != int64(i+1) {
			t.Fatalf("submission order = %v, want FIFO", got)
		}
	}
	if st := s.Stats(); st.Sent != 5 || st.Dropped != 0 {
		t.Fatalf("stats = %+v, want 5 sent and none dropped", st)
	}
}

func TestLaneIndex(t *testing.T) {
	t.Parallel()
	tests := []struct {
		id   survey.SessionID
		n    int
		want int
	}{
		{10, 4, 2},
		{-10, 4, 2},
		{7, 1, 0},
		{-1001234567890, 3, 1},
	}
	for _, tt := range tests {
		if got := laneIndex(tt.id, tt.n); got != tt.want {
			t.Fatalf("laneIndex(%d, %d) = %d, want %d", tt.id, tt.n, got, tt.want)
		}
	}
}
