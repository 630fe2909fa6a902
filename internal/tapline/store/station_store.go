package store

import (
	"context"
	"time"
)

// StationRecord is the registry's view of one tap point.
type StationRecord struct {
	StationID   string
	DisplayName string
	Stages      []string
	LastSeen    time.Time
}

// StationStore tracks the stations that have interacted with this server.
type StationStore interface {
	MarkSeen(ctx context.Context, stationID string, stages []string, t time.Time) error
	Get(ctx context.Context, stationID string) (StationRecord, bool, error)
}
