package tgui

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
	"sync"
	"time"
)

// TokenStore is an in-memory TTL store for callback payloads that do not fit
// into callback_data. Tokens start with '~' and never contain ':'.
type TokenStore struct {
	mu  sync.Mutex
	ttl time.Duration
	max int
	m   map[string]tokenEntry
	now func() time.Time
}

type tokenEntry struct {
	v   string
	exp time.Time
}

// NewTokenStore creates a store. ttl<=0 defaults to 24h, max<=0 to 5000.
func NewTokenStore(ttl time.Duration, max int) *TokenStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if max <= 0 {
		max = 5000
	}
	return &TokenStore{ttl: ttl, max: max, m: map[string]tokenEntry{}, now: time.Now}
}

// Put stores v and returns its token.
func (s *TokenStore) Put(v string) string {
	var buf [6]byte
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if len(s.m) >= s.max {
		s.sweepLocked(now)
	}
	for {
		_, _ = rand.Read(buf[:])
		tok := "~" + base64.RawURLEncoding.EncodeToString(buf[:])
		if _, exists := s.m[tok]; exists {
			continue
		}
		s.m[tok] = tokenEntry{v: v, exp: now.Add(s.ttl)}
		for k := range s.m {
			if len(s.m) <= s.max {
				break
			}
			if k != tok {
				delete(s.m, k)
			}
		}
		return tok
	}
}

// Get returns the value stored under tok.
func (s *TokenStore) Get(tok string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[tok]
	if !ok {
		return "", false
	}
	if s.now().After(e.exp) {
		delete(s.m, tok)
		return "", false
	}
	return e.v, true
}

// Resolve returns the stored value when payload is a token, payload otherwise.
func (s *TokenStore) Resolve(payload string) (string, bool) {
	if !strings.HasPrefix(payload, "~") {
		return payload, true
	}
	if s == nil {
		return "", false
	}
	return s.Get(payload)
}

// Len reports the number of stored tokens, including expired ones not yet swept.
func (s *TokenStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

func (s *TokenStore) sweepLocked(now time.Time) {
	for k, e := range s.m {
		if now.After(e.exp) {
			delete(s.m, k)
		}
	}
}
