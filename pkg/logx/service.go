package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type Config struct {
	Level    string
	Console  bool
	File     FileConfig
	Operator OperatorConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
	// MaxBytes moves an oversized file to <path>.1 on Apply. 0 never rotates.
	MaxBytes int64
}

// OperatorConfig mirrors warnings into the Telegram group_log chat.
type OperatorConfig struct {
	Enabled    bool
	ThreadID   int
	MinLevel   string
	RatePerSec int
}

// DefaultFilePath is used when file logging is enabled without a path.
const DefaultFilePath = "./surveybot.log"

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

// Service owns the sinks behind every Logger it hands out. Apply rebuilds
// them; derived loggers see the change on their next event.
type Service struct {
	root atomic.Pointer[zerolog.Logger]

	mu   sync.Mutex
	file *os.File
	op   *operator
}

// New builds the service from cfg. sink may be nil when operator mirroring
// is never used.
func New(cfg Config, sink OperatorSink) (*Service, Logger) {
	setGlobals()
	s := &Service{op: newOperator(sink, cfg.Operator.ThreadID)}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func setGlobals() {
	zerolog.ErrorFieldName = "err"
	zerolog.TimeFieldFormat = timeFormat
}

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return nop
}

// SetOperatorTarget sets the chat (and forum topic) that receives mirrored
// lines. chatID 0 pauses mirroring.
func (s *Service) SetOperatorTarget(chatID int64, threadID int) {
	s.op.setTarget(chatID, threadID)
}

// Dropped reports mirrored lines lost to a full operator queue.
func (s *Service) Dropped() uint64 { return s.op.dropped.Load() }

// Apply swaps level and sinks. It is safe for concurrent use.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, consoleWriter())
	}
	if cfg.File.Enabled {
		if f, err := openLogFile(cfg.File); err != nil {
			fmt.Fprintf(os.Stderr, "logx: %v\n", err)
		} else {
			s.file = f
			writers = append(writers, zerolog.SyncWriter(f))
		}
	}
	rps := max(1, cfg.Operator.RatePerSec)
	s.op.configure(parseLevel(cfg.Operator.MinLevel, zerolog.WarnLevel), rate.NewLimiter(rate.Limit(rps), rps), cfg.Operator.ThreadID)
	if cfg.Operator.Enabled {
		s.op.start()
		writers = append(writers, s.op)
	}
	if len(writers) == 0 {
		writers = append(writers, consoleWriter())
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(&zl)
}

// Close stops operator delivery and closes the log file. Loggers keep
// working afterwards with whatever sinks remain.
func (s *Service) Close() error {
	s.op.stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func consoleWriter() io.Writer {
	return zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: timeFormat}
}

func openLogFile(cfg FileConfig) (*os.File, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = DefaultFilePath
	}
	rotateIfLarge(path, cfg.MaxBytes)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %q: %w", path, err)
	}
	return f, nil
}

func rotateIfLarge(path string, maxBytes int64) {
	if maxBytes <= 0 {
		return
	}
	if st, err := os.Stat(path); err != nil || st.Size() < maxBytes {
		return
	}
	if err := os.Rename(path, path+".1"); err != nil {
		fmt.Fprintf(os.Stderr, "logx: rotate %q: %v\n", path, err)
	}
}

func parseLevel(s string, def zerolog.Level) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return def
	}
}
