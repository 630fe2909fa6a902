package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	dbpkg "github.com/zophiezlan/nfc-tap-logger/internal/db"
	"github.com/zophiezlan/nfc-tap-logger/internal/tapline/store"
)

type StationStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewStationStore(db *sql.DB, writer *dbpkg.Worker) *StationStore {
	return &StationStore{db: db, writer: writer}
}

// MarkSeen ensures the station row exists and updates its last-seen stamp.
func (s *StationStore) MarkSeen(ctx context.Context, stationID string, stages []string, t time.Time) error {
	stationID = strings.TrimSpace(stationID)
	if stationID == "" {
		return nil
	}
	if t.IsZero() {
		t = time.Now().UTC()
	}
	ms := t.UTC().UnixMilli()

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := ensureStation(ctx, tx, stationID, ms); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
UPDATE stations
SET last_seen_at_ms = ?,
    stages          = ?,
    updated_at_ms   = ?
WHERE station_id = ?;
`, ms, strings.Join(stages, ","), ms, stationID); err != nil {
			return fmt.Errorf("MarkSeen update station: %w", err)
		}
		return nil
	})
}

func (s *StationStore) Get(ctx context.Context, stationID string) (store.StationRecord, bool, error) {
	var rec store.StationRecord
	var name, stages sql.NullString
	var lastSeen sql.NullInt64

	err := s.db.QueryRowContext(ctx, `
SELECT station_id, display_name, stages, last_seen_at_ms
FROM stations WHERE station_id = ?;
`, stationID).Scan(&rec.StationID, &name, &stages, &lastSeen)
	if err == sql.ErrNoRows {
		return store.StationRecord{}, false, nil
	}
	if err != nil {
		return store.StationRecord{}, false, fmt.Errorf("Get station: %w", err)
	}

	rec.DisplayName = name.String
	if stages.Valid && stages.String != "" {
		rec.Stages = strings.Split(stages.String, ",")
	}
	if lastSeen.Valid {
		rec.LastSeen = time.UnixMilli(lastSeen.Int64).UTC()
	}
	return rec, true, nil
}

// ensureStation guarantees a stations row exists so foreign keys from
// tap_events are satisfied. Must be called inside an existing transaction.
func ensureStation(ctx context.Context, tx *sql.Tx, stationID string, nowMs int64) error {
	if _, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO stations(station_id, created_at_ms, updated_at_ms)
VALUES (?, ?, ?);
`, stationID, nowMs, nowMs); err != nil {
		return fmt.Errorf("ensureStation %s: %w", stationID, err)
	}
	return nil
}
