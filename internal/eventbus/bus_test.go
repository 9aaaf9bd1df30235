package eventbus

import (
	"context"
	"testing"
	"time"
)

func TestPublishDropsForSlowSubscriber(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: SessionStarted})
	b.Publish(Event{Type: SessionStarted}) // dropped, buffer full

	e := <-ch
	if e.Type != SessionStarted || e.Time.IsZero() {
		t.Fatalf("event = %+v", e)
	}
	select {
	case e := <-ch:
		t.Fatalf("unexpected second event %+v", e)
	default:
	}
	if got := Dropped(b); got != 1 {
		t.Fatalf("Dropped = %d, want 1", got)
	}
}

func TestPublishAfterUnsubscribe(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(4)
	unsub()
	unsub()
	b.Publish(Event{Type: OutboxSent})
}

func TestCounter(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(16)
	c := NewCounter()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		c.Run(ctx, ch)
		close(done)
	}()

	b.Publish(Event{Type: OutboxSent})
	b.Publish(Event{Type: OutboxSent})
	b.Publish(Event{Type: AnswerRecorded})
	unsub()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("counter did not stop after unsubscribe")
	}

	got := c.Snapshot()
	if len(got) != 2 {
		t.Fatalf("Snapshot = %+v", got)
	}
	if got[0].Type != OutboxSent || got[0].Count != 2 {
		t.Fatalf("got[0] = %+v, want %s x2", got[0], OutboxSent)
	}
	if got[1].Type != AnswerRecorded || got[1].Count != 1 {
		t.Fatalf("got[1] = %+v, want %s x1", got[1], AnswerRecorded)
	}
}
