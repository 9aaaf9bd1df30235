package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// OperatorSink delivers a formatted log line to the operator chat. The
// Telegram adapter implements it.
type OperatorSink interface {
	NotifyOperator(ctx context.Context, chatID int64, threadID int, text string) error
}

const (
	operatorQueue   = 256
	operatorTimeout = 10 * time.Second
	// Telegram rejects messages over 4096 characters.
	operatorMaxLen = 3500
	operatorMaxVal = 600
	operatorMaxStk = 900
)

type operatorLine struct {
	chatID   int64
	threadID int
	text     string
}

// operator is a zerolog.LevelWriter that forwards rate-limited lines at or
// above minLevel to a queue drained by one goroutine.
type operator struct {
	sink    OperatorSink
	queue   chan operatorLine
	dropped atomic.Uint64

	mu       sync.Mutex
	chatID   int64
	threadID int
	minLevel zerolog.Level
	limiter  *rate.Limiter
	cancel   context.CancelFunc
	done     chan struct{}
}

func newOperator(sink OperatorSink, threadID int) *operator {
	return &operator{sink: sink, queue: make(chan operatorLine, operatorQueue), threadID: threadID, minLevel: zerolog.WarnLevel}
}

func (o *operator) setTarget(chatID int64, threadID int) {
	o.mu.Lock()
	o.chatID = chatID
	if threadID != 0 {
		o.threadID = threadID
	}
	o.mu.Unlock()
}

func (o *operator) configure(minLevel zerolog.Level, lim *rate.Limiter, threadID int) {
	o.mu.Lock()
	o.minLevel, o.limiter = minLevel, lim
	if threadID != 0 {
		o.threadID = threadID
	}
	o.mu.Unlock()
}

func (o *operator) start() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.cancel, o.done = cancel, make(chan struct{})
	go o.run(ctx, o.done)
}

func (o *operator) stop() {
	o.mu.Lock()
	cancel, done := o.cancel, o.done
	o.cancel, o.done = nil, nil
	o.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (o *operator) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case ln := <-o.queue:
			if o.sink == nil {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, operatorTimeout)
			_ = o.sink.NotifyOperator(sctx, ln.chatID, ln.threadID, ln.text)
			cancel()
		}
	}
}

func (o *operator) Write(p []byte) (int, error) { return o.WriteLevel(zerolog.InfoLevel, p) }

// WriteLevel never blocks and never fails: logging must not stall on
// Telegram.
func (o *operator) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	o.mu.Lock()
	chatID, threadID, minLevel, lim := o.chatID, o.threadID, o.minLevel, o.limiter
	o.mu.Unlock()

	if chatID == 0 || o.sink == nil || level < minLevel || (lim != nil && !lim.Allow()) {
		return len(p), nil
	}
	text := formatOperatorLine(p)
	if text == "" {
		return len(p), nil
	}
	select {
	case o.queue <- operatorLine{chatID: chatID, threadID: threadID, text: text}:
	default:
		o.dropped.Add(1)
	}
	return len(p), nil
}

// formatOperatorLine turns a zerolog JSON event into
// "[LEVEL] message" followed by one "- key=value" line per field in key
// order, so repeated alerts read alike. Non-JSON input is passed through.
func formatOperatorLine(p []byte) string {
	p = bytes.TrimSpace(p)
	var m map[string]any
	dec := json.NewDecoder(bytes.NewReader(p))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return clip(string(p), operatorMaxLen)
	}

	var b strings.Builder
	if lvl, _ := m[zerolog.LevelFieldName].(string); lvl != "" {
		b.WriteString("[" + strings.ToUpper(lvl) + "] ")
	}
	msg, _ := m[zerolog.MessageFieldName].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName:
		default:
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	for _, k := range keys {
		v := fmt.Sprint(m[k])
		if k == stackKey {
			b.WriteString("\n- stack=\n" + clip(v, operatorMaxStk))
			continue
		}
		b.WriteString("\n- " + k + "=" + clip(v, operatorMaxVal))
	}
	return clip(b.String(), operatorMaxLen)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
