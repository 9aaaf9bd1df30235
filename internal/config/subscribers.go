package config

import "sync"

// subscribers fans committed configs out to reload loops. A subscriber only
// ever needs the newest config, so a full channel loses its oldest entry.
type subscribers struct {
	mu   sync.Mutex
	list []chan *Config
}

func (s *subscribers) add(buffer int) chan *Config {
	ch := make(chan *Config, max(buffer, 1))
	s.mu.Lock()
	s.list = append(s.list, ch)
	s.mu.Unlock()
	return ch
}

func (s *subscribers) remove(ch chan *Config) {
	if ch == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.list {
		if c == ch {
			s.list = append(s.list[:i], s.list[i+1:]...)
			close(ch)
			return
		}
	}
}

// publish holds the lock across sends so remove cannot close a channel
// mid-send. It reports how many subscribers lost an older config.
func (s *subscribers) publish(cfg *Config) (replaced int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.list {
		select {
		case ch <- cfg:
			continue
		default:
		}
		select {
		case <-ch:
			replaced++
		default:
		}
		select {
		case ch <- cfg:
		default:
		}
	}
	return replaced
}
