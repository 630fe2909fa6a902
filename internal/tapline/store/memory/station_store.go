package memory

import (
	"context"
	"sync"
	"time"

	"github.com/zophiezlan/nfc-tap-logger/internal/tapline/store"
)

type StationStore struct {
	mu       sync.Mutex
	stations map[string]store.StationRecord
}

func NewStationStore() *StationStore {
	return &StationStore{stations: make(map[string]store.StationRecord)}
}

func (s *StationStore) MarkSeen(ctx context.Context, stationID string, stages []string, t time.Time) error {
	if stationID == "" {
		return nil
	}
	if t.IsZero() {
		t = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.stations[stationID]
	rec.StationID = stationID
	rec.Stages = stages
	rec.LastSeen = t.UTC()
	s.stations[stationID] = rec
	return nil
}

func (s *StationStore) Get(ctx context.Context, stationID string) (store.StationRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.stations[stationID]
	return rec, ok, nil
}
