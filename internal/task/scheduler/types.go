package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"surveybot/internal/eventbus"
	"surveybot/pkg/logx"
)

// Config controls the scheduler service.
type Config struct {
	Enabled bool
	// Timezone is an IANA name, e.g. "Europe/Vienna". Empty means Local.
	Timezone       string
	DefaultTimeout time.Duration
	HistorySize    int
}

// Job is one unit of scheduled work. It must honour ctx.
type Job func(ctx context.Context) error

type scheduleDef struct {
	name          string
	spec          string // cron spec or "@every <d>"
	timeout       time.Duration
	job           Job
	entryID       cron.EntryID
	startupSpread time.Duration

	running atomic.Bool
	runs    atomic.Uint64
	skips   atomic.Uint64
	fails   atomic.Uint64
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus

	parser cron.Parser
	c      *cron.Cron
	defs   []*scheduleDef

	// base is cancelled by Stop so in-flight jobs see shutdown.
	base   context.Context
	cancel context.CancelFunc

	hmu     sync.Mutex
	history []HistoryItem
	hnext   int
}

type ScheduleInfo struct {
	Name          string
	Spec          string
	Timeout       time.Duration
	StartupSpread time.Duration
	Next          time.Time
	Prev          time.Time
	Running       bool
	Runs          uint64
	Skipped       uint64
	Failed        uint64
}

// HistoryItem records one finished (or skipped) run.
type HistoryItem struct {
	Name     string
	Started  time.Time
	Duration time.Duration
	Skipped  bool
	Error    string
}

type Snapshot struct {
	Enabled   bool
	Running   bool
	Timezone  string
	Schedules []ScheduleInfo
	History   []HistoryItem
}
