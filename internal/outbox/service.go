package outbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"surveybot/internal/eventbus"
	rtsup "surveybot/internal/runtime/supervisor"
	"surveybot/internal/survey"
	"surveybot/pkg/logx"
)

var (
	ErrQueueFull = errors.New("outbox lane full")
	ErrStopped   = errors.New("outbox stopped")
)

type batch struct {
	session survey.SessionID
	effects []survey.Effect
}

// Service implements survey.EffectSink on top of a lane-per-session worker
// pool with a shared rate limit and retries.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log  logx.Logger
	exec Executor
	bus  eventbus.Bus

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	lanes []chan batch
	sup   *rtsup.Supervisor

	// submissions live outside the lanes and are never dropped
	submits       []survey.SubmitResponse
	submitsClosed bool
	submitWake    chan struct{}

	stopDone chan struct{} // non-nil while stopping

	sent    atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
	retries atomic.Uint64
}

var _ survey.EffectSink = (*Service)(nil)

func New(cfg Config, exec Executor, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{exec: exec, log: log, bus: bus}
	s.applyLocked(cfg)
	return s
}

// Supervisor returns the outbox supervisor (nil if not started).
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// Apply updates rate and retry settings. Lane count and size take effect on
// the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 25
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 3 * time.Minute
	}

	s.cfg = cfg
	// Telegram allows short bursts; keep the bucket as deep as one second of traffic.
	if s.limiter == nil {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	} else {
		s.limiter.SetLimit(rate.Limit(cfg.RatePerSec))
		s.limiter.SetBurst(cfg.RatePerSec)
	}
}

func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.lanes != nil {
		s.mu.Unlock()
		return
	}

	lanes := make([]chan batch, s.cfg.Workers)
	for i := range lanes {
		lanes[i] = make(chan batch, s.cfg.QueueSize)
	}
	s.lanes = lanes
	s.submits = nil
	s.submitsClosed = false
	s.submitWake = make(chan struct{}, 1)
	s.accepting = true
	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "outbox"))),
		// a failing lane must not take the bot down
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	s.mu.Unlock()

	for i, lane := range lanes {
		q := lane
		sup.GoRestart(fmt.Sprintf("lane.%d", i), func(c context.Context) error {
			s.laneLoop(c, q)
			s.mu.Lock()
			stopping := s.stopDone != nil
			s.mu.Unlock()
			if stopping {
				return context.Canceled
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("outbox lane exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}
	sup.GoRestart("submit", func(c context.Context) error {
		if s.submitLoop(c) {
			return context.Canceled
		}
		if c.Err() != nil {
			return c.Err()
		}
		return errors.New("outbox submit loop exited unexpectedly")
	}, rtsup.WithPublishFirstError(true))
	s.log.Info("outbox started", logx.Int("lanes", len(lanes)), logx.Int("lane_cap", s.cfg.QueueSize))
}

// Stop stops intake and drains queued effects until ctx expires.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	lanes := s.lanes
	sup := s.sup
	if lanes == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.sendWG.Wait()
		s.mu.Lock()
		s.submitsClosed = true
		s.mu.Unlock()
		s.wakeSubmit()
		for _, q := range lanes {
			close(q)
		}
		if sup != nil {
			_ = sup.Wait(context.Background())
		}
		s.mu.Lock()
		s.lanes = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if sup != nil {
			sup.Cancel()
		}
		s.log.Warn("outbox stop deadline reached, pending effects abandoned")
	}
}

// Submit queues effects of a single session. It never blocks.
func (s *Service) Submit(effects []survey.Effect) {
	if len(effects) == 0 {
		return
	}
	id := effects[0].Target().Session
	if err := s.Enqueue(id, effects); err != nil {
		s.log.Warn("effects dropped", logx.Int64("session", int64(id)), logx.Int("count", len(effects)), logx.Err(err))
	}
}

// Enqueue queues effects for session id. SubmitResponse effects go to the
// submission queue, which has no bound; a full lane drops only the chat
// effects of the batch.
func (s *Service) Enqueue(id survey.SessionID, effects []survey.Effect) error {
	chat := make([]survey.Effect, 0, len(effects))
	var submits []survey.SubmitResponse
	for _, eff := range effects {
		if sr, ok := eff.(survey.SubmitResponse); ok {
			submits = append(submits, sr)
			continue
		}
		chat = append(chat, eff)
	}

	s.mu.Lock()
	if !s.accepting || s.lanes == nil {
		s.mu.Unlock()
		s.dropped.Add(uint64(len(effects)))
		return ErrStopped
	}
	s.submits = append(s.submits, submits...)
	q := s.lanes[laneIndex(id, len(s.lanes))]
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()
	if len(submits) > 0 {
		s.wakeSubmit()
		s.publish(eventbus.OutboxQueued, id, nil, 0, nil)
	}
	if len(chat) == 0 {
		return nil
	}

	b := batch{session: id, effects: chat}
	select {
	case q <- b:
		s.publish(eventbus.OutboxQueued, id, nil, 0, nil)
		return nil
	default:
		s.dropped.Add(uint64(len(chat)))
		s.publish(eventbus.OutboxDropped, id, nil, 0, ErrQueueFull)
		return ErrQueueFull
	}
}

func laneIndex(id survey.SessionID, n int) int {
	if n <= 1 {
		return 0
	}
	v := int64(id) % int64(n)
	if v < 0 {
		v = -v
	}
	return int(v)
}

func (s *Service) Stats() Stats {
	s.mu.Lock()
	st := Stats{Lanes: len(s.lanes)}
	for _, q := range s.lanes {
		st.Queued += len(q)
	}
	st.Submissions = len(s.submits)
	s.mu.Unlock()
	st.Sent = s.sent.Load()
	st.Failed = s.failed.Load()
	st.Dropped = s.dropped.Load()
	st.Retries = s.retries.Load()
	return st
}

func (s *Service) laneLoop(ctx context.Context, q <-chan batch) {
	for {
		select {
		case <-ctx.Done():
			return
		case b, ok := <-q:
			if !ok {
				return
			}
			for _, eff := range b.effects {
				if ctx.Err() != nil {
					return
				}
				s.execute(ctx, b.session, eff)
			}
		}
	}
}

func (s *Service) wakeSubmit() {
	s.mu.Lock()
	wake := s.submitWake
	s.mu.Unlock()
	if wake == nil {
		return
	}
	select {
	case wake <- struct{}{}:
	default:
	}
}

// submitLoop runs queued submissions one at a time. It reports true once
// Stop has closed the queue and it is empty. When ctx ends first, the rest
// are still handed to the executor on the dead context so it can keep them
// as pending.
func (s *Service) submitLoop(ctx context.Context) bool {
	for {
		s.mu.Lock()
		if len(s.submits) == 0 {
			closed, wake := s.submitsClosed, s.submitWake
			s.mu.Unlock()
			if closed {
				return true
			}
			select {
			case <-ctx.Done():
				return false
			case <-wake:
			}
			continue
		}
		sr := s.submits[0]
		s.submits[0] = survey.SubmitResponse{}
		s.submits = s.submits[1:]
		s.mu.Unlock()
		s.executeSubmit(ctx, sr)
	}
}

// executeSubmit is not retried here: the backend client has its own retry
// budget and the executor keeps failures as pending.
func (s *Service) executeSubmit(runCtx context.Context, sr survey.SubmitResponse) {
	s.mu.Lock()
	timeout := s.cfg.SubmitTimeout
	ex := s.exec
	s.mu.Unlock()
	if ex == nil {
		return
	}
	id := sr.Target().Session
	callCtx, cancel := context.WithTimeout(runCtx, timeout)
	defer cancel()
	if err := ex.Execute(callCtx, sr); err != nil {
		s.failed.Add(1)
		s.log.Warn("submission failed", logx.Int64("session", int64(id)), logx.Err(err))
		s.publish(eventbus.OutboxFailed, id, sr, 1, err)
		return
	}
	s.sent.Add(1)
	s.publish(eventbus.OutboxSent, id, sr, 1, nil)
}

func (s *Service) execute(runCtx context.Context, id survey.SessionID, eff survey.Effect) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	ex := s.exec
	s.mu.Unlock()

	if ex == nil {
		return
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.RetryBase
	bo.MaxInterval = cfg.RetryMaxDelay

	attempts := 0
	_, err := backoff.Retry(runCtx, func() (struct{}, error) {
		attempts++
		if err := lim.Wait(runCtx); err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		callCtx, cancel := context.WithTimeout(runCtx, cfg.SendTimeout)
		defer cancel()
		return struct{}{}, ex.Execute(callCtx, eff)
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(cfg.RetryMax+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.retries.Add(1)
			s.log.Debug("effect failed, retrying",
				logx.Int64("session", int64(id)),
				logx.String("effect", effectName(eff)),
				logx.Int("attempt", attempts),
				logx.Duration("next", next),
				logx.Err(err),
			)
		}),
	)
	if err == nil {
		s.sent.Add(1)
		s.publish(eventbus.OutboxSent, id, eff, attempts, nil)
		return
	}
	if runCtx.Err() != nil {
		return
	}
	s.failed.Add(1)
	s.log.Warn("effect failed",
		logx.Int64("session", int64(id)),
		logx.String("effect", effectName(eff)),
		logx.Int("attempts", attempts),
		logx.Err(err),
	)
	s.publish(eventbus.OutboxFailed, id, eff, attempts, err)
}

func (s *Service) publish(typ string, id survey.SessionID, eff survey.Effect, attempts int, err error) {
	if s.bus == nil {
		return
	}
	now := time.Now()
	ev := EffectEvent{Session: int64(id), Attempts: attempts, At: now}
	if eff != nil {
		ev.Effect = effectName(eff)
	}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: ev})
}

func effectName(eff survey.Effect) string {
	return strings.TrimPrefix(fmt.Sprintf("%T", eff), "survey.")
}
