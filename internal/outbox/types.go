package outbox

import (
	"context"
	"time"

	"surveybot/internal/survey"
)

// Config controls the effect pipeline.
type Config struct {
	Workers       int
	QueueSize     int // per lane
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration
	// SubmitTimeout bounds a SubmitResponse effect. Submissions bypass the
	// lanes and SendTimeout.
	SubmitTimeout time.Duration
}

// Executor performs one effect against the outside world.
type Executor interface {
	Execute(ctx context.Context, eff survey.Effect) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, eff survey.Effect) error

func (f ExecutorFunc) Execute(ctx context.Context, eff survey.Effect) error { return f(ctx, eff) }

// EffectEvent is published on the event bus for outbox lifecycle events.
type EffectEvent struct {
	Session  int64     `json:"session"`
	Effect   string    `json:"effect"`
	Attempts int       `json:"attempts,omitempty"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}

// Stats is a point-in-time view of the pipeline.
type Stats struct {
	Lanes  int `json:"lanes"`
	Queued int `json:"queued"`
	// Submissions waiting for the backend.
	Submissions int    `json:"submissions"`
	Sent        uint64 `json:"sent"`
	Failed      uint64 `json:"failed"`
	Dropped     uint64 `json:"dropped"`
	Retries     uint64 `json:"retries"`
}
