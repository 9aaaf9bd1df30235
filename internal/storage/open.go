package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"surveybot/pkg/logx"
)

// Store keeps what must survive a restart: the audit trail, submissions the
// backend has not accepted yet, and per-chat preferences.
type Store interface {
	AppendAudit(ctx context.Context, e AuditEntry) error

	SavePending(ctx context.Context, p PendingSubmission) error
	ListPending(ctx context.Context, limit int) ([]PendingSubmission, error)
	// MarkAttempt records a failed delivery attempt.
	MarkAttempt(ctx context.Context, id string, errMsg string) error
	DeletePending(ctx context.Context, id string) error

	PutPreference(ctx context.Context, p Preference) error
	GetPreference(ctx context.Context, chatID int64) (Preference, bool, error)

	Close() error
}

var ErrUnknownDriver = errors.New("unknown storage driver")

var openers = map[string]func(Config, logx.Logger) (Store, error){
	"file":    openFile,
	"sqlite":  openSQLite,
	"sqlite3": openSQLite,
}

// Open returns the store for cfg.Driver, or (nil, nil) for "" and "none":
// the bot then runs without persistence.
func Open(cfg Config, log logx.Logger) (Store, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if name == "" || name == "none" {
		return nil, nil
	}
	open, ok := openers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, name)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return open(cfg, log.With(logx.String("driver", name)))
}
