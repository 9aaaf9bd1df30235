package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"surveybot/pkg/logx"
)

const (
	defaultMinBackoff = 250 * time.Millisecond
	defaultMaxBackoff = 30 * time.Second
	// a run at least this long resets the restart delay
	healthyRun = 30 * time.Second
)

type RestartOption func(*restartPolicy)

type restartPolicy struct {
	min, max        time.Duration
	maxRestarts     int
	stopOnCleanExit bool
	fatalOnFinalErr bool
	publishFirstErr bool
}

// WithRestartBackoff sets the first and the largest delay between runs.
func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(p *restartPolicy) {
		if min > 0 {
			p.min = min
		}
		if max > 0 {
			p.max = max
		}
	}
}

// WithMaxRestarts gives up after n failed reruns; the first run is not
// counted. Zero means forever.
func WithMaxRestarts(n int) RestartOption {
	return func(p *restartPolicy) { p.maxRestarts = n }
}

// WithFatalOnFinalError records the last error as a supervisor failure when
// the loop gives up.
func WithFatalOnFinalError(enabled bool) RestartOption {
	return func(p *restartPolicy) { p.fatalOnFinalErr = enabled }
}

// WithPublishFirstError records every failure (the first one wins) while
// still restarting, so /debug/supervisors shows flapping loops.
func WithPublishFirstError(enabled bool) RestartOption {
	return func(p *restartPolicy) { p.publishFirstErr = enabled }
}

// WithStopOnCleanExit controls whether a nil return ends the loop (the
// default) or counts as a failure to restart from.
func WithStopOnCleanExit(enabled bool) RestartOption {
	return func(p *restartPolicy) { p.stopOnCleanExit = enabled }
}

func (p *restartPolicy) backoff() *backoff.ExponentialBackOff {
	bo := &backoff.ExponentialBackOff{
		InitialInterval:     p.min,
		RandomizationFactor: 0.2,
		Multiplier:          2,
		MaxInterval:         p.max,
	}
	bo.Reset()
	return bo
}

// GoRestart runs fn until ctx is cancelled, rerunning it after errors and
// panics with jittered exponential backoff. Statistics are kept under name;
// the hosting goroutine is listed as name+".restart".
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	p := restartPolicy{min: defaultMinBackoff, max: defaultMaxBackoff, stopOnCleanExit: true}
	for _, o := range opts {
		o(&p)
	}
	if p.max < p.min {
		p.max = p.min
	}
	s.Go0(name+".restart", func(ctx context.Context) { s.restartLoop(ctx, name, fn, p) })
}

// GoRestart0 is GoRestart for functions without an error result; only
// panics (or WithStopOnCleanExit(false)) cause reruns.
func (s *Supervisor) GoRestart0(name string, fn func(ctx context.Context), opts ...RestartOption) {
	if fn == nil {
		return
	}
	s.GoRestart(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	}, opts...)
}

func (s *Supervisor) restartLoop(ctx context.Context, name string, fn func(context.Context) error, p restartPolicy) {
	bo := p.backoff()
	for restarts := 0; ctx.Err() == nil; restarts++ {
		begin := s.stats.start(name, restarts > 0)
		err, pan, stack := runGuarded(ctx, fn)
		if pan != nil {
			s.stats.panicked(name, pan)
			s.log.Error("goroutine panicked; restarting", logx.String("name", name), logx.Any("panic", pan), logx.Stack(stack))
			err = fmt.Errorf("panic: %v", pan)
		}

		// Dependencies stopped during shutdown make fn return; that is not a failure.
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			s.stats.stop(name, begin, nil)
			return
		}
		if err == nil {
			if p.stopOnCleanExit {
				s.stats.stop(name, begin, nil)
				return
			}
			err = errors.New("exited")
		}

		wrapped := fmt.Errorf("%s: %w", name, err)
		s.stats.stop(name, begin, wrapped)
		if p.publishFirstErr {
			s.fail(wrapped, false)
		}
		if time.Since(begin) >= healthyRun {
			bo.Reset()
		}
		if p.maxRestarts > 0 && restarts >= p.maxRestarts {
			s.log.Error("goroutine gave up", logx.String("name", name), logx.Int("restarts", restarts), logx.Err(err))
			if p.fatalOnFinalErr {
				s.fail(wrapped, true)
			}
			return
		}

		wait := bo.NextBackOff()
		s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", wait), logx.Err(err))
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}
