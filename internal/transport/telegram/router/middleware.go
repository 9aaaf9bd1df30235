package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"surveybot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// ErrHandlerTimeout is the context cause when a handler overruns its budget.
var ErrHandlerTimeout = errors.New("handler timed out")

// slowHandler is the duration from which a successful request logs at info.
const slowHandler = 750 * time.Millisecond

// Chain wraps h so that m[0] runs first.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func reqLogger(fallback logx.Logger, req *Request) logx.Logger {
	if req != nil && !req.Logger.IsZero() {
		return req.Logger
	}
	return fallback
}

// Recover turns a handler panic into an error so one bad update cannot take
// a dispatch worker down.
func Recover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if p := recover(); p != nil {
					reqLogger(log, req).Error("handler panicked", logx.Any("panic", p), logx.Stack(string(debug.Stack())))
					err = fmt.Errorf("panic: %v", p)
				}
			}()
			return next(ctx, req)
		}
	}
}

// LogRequest logs each handled update once. The request logger already
// carries rid, chat_id, from_id and cmd.
func LogRequest(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			dur := time.Since(start)

			l := reqLogger(log, req)
			fields := []logx.Field{logx.Duration("dur", dur)}
			if req != nil {
				fields = append(fields, logx.String("kind", string(req.Update.Kind)))
			}
			switch {
			case err != nil && errors.Is(context.Cause(ctx), ErrHandlerTimeout):
				l.Warn("request timed out", append(fields, logx.Err(err))...)
			case err != nil:
				l.Warn("request failed", append(fields, logx.Err(err))...)
			case dur >= slowHandler:
				l.Info("request slow", fields...)
			default:
				l.Debug("request ok", fields...)
			}
			return err
		}
	}
}

// Timeout bounds each handler to d; d <= 0 leaves ctx unchanged.
func Timeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			ctx, cancel := context.WithTimeoutCause(ctx, d, ErrHandlerTimeout)
			defer cancel()
			return next(ctx, req)
		}
	}
}
