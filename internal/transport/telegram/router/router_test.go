package router

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	kit "surveybot/internal/transport"
	"surveybot/pkg/logx"
	"surveybot/pkg/tgui"
)

type fakeAdapter struct {
	mu        sync.Mutex
	sent      []string
	callbacks map[string]string
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }
func (f *fakeAdapter) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	f.sent = append(f.sent, text)
	f.mu.Unlock()
	return kit.MessageRef{}, nil
}
func (f *fakeAdapter) SendPhoto(ctx context.Context, to kit.ChatTarget, _, caption string, opt *kit.SendOptions) (kit.MessageRef, error) {
	return f.SendText(ctx, to, caption, opt)
}
func (f *fakeAdapter) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}
func (f *fakeAdapter) AnswerCallback(_ context.Context, id, text string) error {
	f.mu.Lock()
	if f.callbacks == nil {
		f.callbacks = map[string]string{}
	}
	f.callbacks[id] = text
	f.mu.Unlock()
	return nil
}
func (f *fakeAdapter) AnswerInlineQuery(context.Context, string, []kit.InlineResult, int) error {
	return nil
}

func (f *fakeAdapter) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func TestTokenizeCommandLine(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want []string
	}{
		{`/start`, []string{"/start"}},
		{`/setfrequency "twice a day"  x`, []string{"/setfrequency", "twice a day", "x"}},
		{`/a 'b c' d\ e`, []string{"/a", "b c", "d e"}},
		{"   ", nil},
	}
	for _, tt := range tests {
		got := tokenizeCommandLine(tt.in)
		if strings.Join(got, "|") != strings.Join(tt.want, "|") {
			t.Fatalf("tokenizeCommandLine(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseFlags(t *testing.T) {
	t.Parallel()
	pos, flags, bools := parseFlags([]string{"a", "--k=v", "--n", "3", "-x", "-abc", "--dry"})
	if strings.Join(pos, ",") != "a" {
		t.Fatalf("pos = %v", pos)
	}
	if flags["k"] != "v" || flags["n"] != "3" {
		t.Fatalf("flags = %v", flags)
	}
	for _, k := range []string{"x", "a", "b", "c", "dry"} {
		if !bools[k] {
			t.Fatalf("bool flag %q missing in %v", k, bools)
		}
	}
}

func TestStripMention(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, user, want string
		ok             bool
	}{
		{"@SurveyBot hello", "surveybot", "hello", true},
		{"how are you @surveybot ?", "surveybot", "how are you ?", true},
		{"hello", "surveybot", "hello", false},
		{"@surveybot hi", "", "@surveybot hi", false},
	}
	for _, tt := range tests {
		got, ok := stripMention(tt.in, tt.user)
		if got != tt.want || ok != tt.ok {
			t.Fatalf("stripMention(%q, %q) = %q, %v, want %q, %v", tt.in, tt.user, got, ok, tt.want, tt.ok)
		}
	}
}

func TestShard(t *testing.T) {
	t.Parallel()
	if got := shard(-7, 3); got != 1 {
		t.Fatalf("shard(-7, 3) = %d, want 1", got)
	}
	if got := shard(9, 3); got != 0 {
		t.Fatalf("shard(9, 3) = %d, want 0", got)
	}
}

type recorded struct {
	mu   sync.Mutex
	seen []string
	done chan struct{}
	want int
}

func (r *recorded) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, s)
	if len(r.seen) == r.want {
		close(r.done)
	}
}

func TestDispatch(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	tokens := tgui.NewTokenStore(time.Minute, 10)
	m := NewCommandManager(logx.Nop(), ad, Options{Owners: []int64{1}, Username: "@SurveyBot", Tokens: tokens, Workers: 2})

	rec := &recorded{done: make(chan struct{}), want: 5}
	m.SetRegistry([]Command{
		{Route: "start", Handle: func(_ context.Context, req *Request) error {
			rec.add("start:" + strings.Join(req.Args, ","))
			return nil
		}},
		{Route: "debug sessions", Access: AccessOwnerOnly, Handle: func(_ context.Context, req *Request) error {
			rec.add("debug:" + req.Command)
			return nil
		}},
	}, []CallbackRoute{
		{Prefix: "ans", Action: "1", Access: CallbackAccessEveryone, Handle: func(_ context.Context, _ *Request, payload string) error {
			rec.add("cb:" + payload)
			return nil
		}},
	})
	m.SetFallbacks(
		func(_ context.Context, _ *Request, text string) error { rec.add("text:" + text); return nil },
		func(_ context.Context, _ *Request, q string) error { rec.add("inline:" + q); return nil },
	)

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 16)
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		_ = m.DispatchLoop(ctx, updates)
	}()

	msg := func(from int64, text string, group bool) kit.Update {
		return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: 100, FromID: from, Text: text, IsGroup: group}}
	}
	updates <- msg(5, "/start@SurveyBot x", false)
	updates <- msg(5, "/start@OtherBot", false) // other bot: ignored
	updates <- msg(5, "/debug_sessions", false) // not an owner
	updates <- msg(1, "/debug sessions", false) // owner
	updates <- msg(5, "hello", true)            // group, no mention: ignored
	updates <- msg(5, "@surveybot hello", true) // group, mentioned
	updates <- kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "c1", ChatID: 100, FromID: 5, Data: tgui.Data("ans", "1", tokens.Put("Stephansplatz 1"))}}
	updates <- kit.Update{Kind: kit.UpdateInlineQuery, InlineQuery: &kit.InlineQuery{ID: "q", FromID: 5, Query: "Step"}}

	select {
	case <-rec.done:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out, seen %v", rec.seen)
	}
	cancel()
	<-loopDone

	rec.mu.Lock()
	seen := append([]string(nil), rec.seen...)
	rec.mu.Unlock()

	want := map[string]bool{
		"start:x": true, "debug:debug sessions": true, "text:hello": true,
		"cb:Stephansplatz 1": true, "inline:Step": true,
	}
	for _, s := range seen {
		if !want[s] {
			t.Fatalf("unexpected dispatch %q in %v", s, seen)
		}
	}
	// chat 100 updates keep their order
	var chat []string
	for _, s := range seen {
		if !strings.HasPrefix(s, "inline:") {
			chat = append(chat, s)
		}
	}
	if strings.Join(chat, "|") != "start:x|debug:debug sessions|text:hello|cb:Stephansplatz 1" {
		t.Fatalf("chat order = %v", chat)
	}
	if got := ad.sentTexts(); len(got) != 1 || got[0] != "unauthorized" {
		t.Fatalf("sent = %v, want [unauthorized]", got)
	}
	ad.mu.Lock()
	_, answered := ad.callbacks["c1"]
	ad.mu.Unlock()
	if !answered {
		t.Fatal("callback was not answered")
	}
}
