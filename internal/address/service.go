package address

import (
	"context"
	"errors"
	"sync"
	"time"

	"surveybot/internal/eventbus"
	"surveybot/pkg/logx"
)

// Service rebuilds the index from its source and publishes it.
type Service struct {
	src    Source
	holder *Holder
	log    logx.Logger
	bus    eventbus.Bus

	mu       sync.Mutex
	building bool
	lastErr  error
	lastRun  time.Time
}

func NewService(src Source, holder *Holder, log logx.Logger, bus eventbus.Bus) *Service {
	if holder == nil {
		holder = NewHolder()
	}
	return &Service{src: src, holder: holder, log: log, bus: bus}
}

func (s *Service) Holder() *Holder { return s.holder }

var ErrRefreshRunning = errors.New("address: refresh already running")

// Refresh loads the source and swaps in a new index. On failure the previous
// index stays published.
func (s *Service) Refresh(ctx context.Context) error {
	if s.src == nil {
		return nil
	}
	s.mu.Lock()
	if s.building {
		s.mu.Unlock()
		return ErrRefreshRunning
	}
	s.building = true
	s.mu.Unlock()

	start := time.Now()
	words, err := s.src.Load(ctx)
	var idx *PrefixIndex
	if err == nil {
		idx = Build(words)
		s.holder.Swap(idx, s.src.Name())
	}

	s.mu.Lock()
	s.building = false
	s.lastErr = err
	s.lastRun = time.Now()
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("address index refresh failed", logx.String("source", s.src.Name()), logx.Err(err))
		return err
	}
	s.log.Info("address index refreshed",
		logx.String("source", s.src.Name()),
		logx.Int("words", idx.Len()),
		logx.Duration("took", time.Since(start)),
	)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.AddressIndexRefreshed, Time: time.Now(), Data: idx.Len()})
	}
	return nil
}

func (s *Service) Status() (lastRun time.Time, lastErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastErr
}
