package service

import (
	"context"
	"strings"
	"time"

	"github.com/zophiezlan/nfc-tap-logger/internal/tapline/store"
)

// StationRegistry tracks which stations this server has heard from.
type StationRegistry struct {
	store store.StationStore
}

func NewStationRegistry(st store.StationStore) *StationRegistry {
	return &StationRegistry{store: st}
}

func (r *StationRegistry) NoteSeen(ctx context.Context, stationID string, stages []string) error {
	stationID = strings.TrimSpace(stationID)
	if stationID == "" {
		return nil
	}
	return r.store.MarkSeen(ctx, stationID, stages, time.Now().UTC())
}

func (r *StationRegistry) Get(ctx context.Context, stationID string) (store.StationRecord, bool, error) {
	return r.store.Get(ctx, strings.TrimSpace(stationID))
}
