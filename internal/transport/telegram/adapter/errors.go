package adapter

import (
	"errors"
	"strings"

	"github.com/cenkalti/backoff/v5"
	tele "gopkg.in/telebot.v4"
)

// ClassifySendError maps a Bot API error onto the outbox retry policy:
// flood control waits as long as Telegram asks, client errors (blocked bot,
// missing chat, bad markup) are permanent, an unchanged edit is success, and
// everything else is retried with backoff.
func ClassifySendError(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "message is not modified") {
		return nil
	}
	var flood tele.FloodError
	if errors.As(err, &flood) && flood.RetryAfter > 0 {
		return backoff.RetryAfter(flood.RetryAfter)
	}
	var floodPtr *tele.FloodError
	if errors.As(err, &floodPtr) && floodPtr != nil && floodPtr.RetryAfter > 0 {
		return backoff.RetryAfter(floodPtr.RetryAfter)
	}
	var apiErr *tele.Error
	if errors.As(err, &apiErr) && apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.Code != 429 {
		return backoff.Permanent(err)
	}
	return err
}
