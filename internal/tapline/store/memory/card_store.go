package memory

import (
	"context"
	"sync"
	"time"

	"github.com/zophiezlan/nfc-tap-logger/internal/tapline/flow"
)

type mappingKey struct {
	uid       string
	sessionID string
}

type CardStore struct {
	mu       sync.Mutex
	byUID    map[mappingKey]string
	counters map[string]int64
}

func NewCardStore() *CardStore {
	return &CardStore{
		byUID:    make(map[mappingKey]string),
		counters: make(map[string]int64),
	}
}

func (s *CardStore) ResolveToken(ctx context.Context, uid, sessionID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tokenID, ok := s.byUID[mappingKey{uid, sessionID}]
	return tokenID, ok, nil
}

func (s *CardStore) AllocateToken(ctx context.Context, uid, sessionID string, now time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := mappingKey{uid, sessionID}
	if tokenID, ok := s.byUID[key]; ok {
		return tokenID, nil
	}

	next := s.counters[sessionID]
	if next == 0 {
		next = 1
	}
	s.counters[sessionID] = next + 1

	tokenID := flow.FormatToken(next)
	s.byUID[key] = tokenID
	return tokenID, nil
}
