package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

type SeedDevOptions struct {
	// StationID and PeerID pre-create the local station pair so taps and
	// health probes work out of the box in dev.
	StationID string
	PeerID    string
	Stages    []string
}

func SeedDev(ctx context.Context, db *sql.DB, opt SeedDevOptions) error {
	now := time.Now().UTC().UnixMilli()

	if opt.StationID == "" {
		opt.StationID = "station-entry"
	}
	stages := strings.Join(opt.Stages, ",")

	if _, err := db.ExecContext(ctx, `
INSERT INTO stations(station_id, display_name, stages, created_at_ms, updated_at_ms)
VALUES (?, 'Dev Station', ?, ?, ?)
ON CONFLICT(station_id) DO UPDATE SET
  stages = excluded.stages,
  updated_at_ms = excluded.updated_at_ms;
`, opt.StationID, stages, now, now); err != nil {
		return fmt.Errorf("seed station %s: %w", opt.StationID, err)
	}

	if opt.PeerID != "" {
		if _, err := db.ExecContext(ctx, `
INSERT OR IGNORE INTO stations(station_id, display_name, created_at_ms, updated_at_ms)
VALUES (?, 'Dev Peer', ?, ?);
`, opt.PeerID, now, now); err != nil {
			return fmt.Errorf("seed peer %s: %w", opt.PeerID, err)
		}
	}

	return nil
}
