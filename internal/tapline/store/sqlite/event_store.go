package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	dbpkg "github.com/zophiezlan/nfc-tap-logger/internal/db"
	"github.com/zophiezlan/nfc-tap-logger/internal/tapline/flow"
	"github.com/zophiezlan/nfc-tap-logger/internal/tapline/store"
)

type EventStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
	topo   *flow.Topology
}

func NewEventStore(db *sql.DB, writer *dbpkg.Worker, topo *flow.Topology) *EventStore {
	return &EventStore{db: db, writer: writer, topo: topo}
}

// Submit evaluates and inserts the candidate in one write-worker transaction.
// The prior-events read and the insert cannot interleave with another
// submission for the same card.
func (s *EventStore) Submit(ctx context.Context, cand store.SubmitCandidate, opts store.SubmitOptions) (store.SubmitOutcome, error) {
	if cand.At.IsZero() {
		cand.At = time.Now().UTC()
	}

	var out store.SubmitOutcome
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		prior, err := priorTaps(ctx, tx, cand.TokenID, cand.SessionID)
		if err != nil {
			return err
		}

		d := flow.Evaluate(s.topo, prior, cand.Stage, cand.At, flow.Options{
			AllowOutOfOrder:    opts.AllowOutOfOrder,
			SkipDuplicateCheck: opts.SkipDuplicateCheck,
			Grace:              opts.Grace,
		})

		out = store.SubmitOutcome{
			Accepted:   d.Accept,
			Duplicate:  d.Duplicate,
			OutOfOrder: d.OutOfOrder,
			Warning:    d.Warning,
			Suggestion: d.Suggestion,
		}
		if !d.Accept {
			return nil
		}

		// Satisfy the device_id foreign key even for stations that have
		// never checked in.
		if err := ensureStation(ctx, tx, cand.DeviceID, time.Now().UTC().UnixMilli()); err != nil {
			return err
		}

		var manual, ooo int
		if cand.Manual {
			manual = 1
		}
		if d.OutOfOrder {
			ooo = 1
		}

		res, err := tx.ExecContext(ctx, `
INSERT INTO tap_events(
  token_id, uid, stage, device_id, session_id, ts_ms,
  out_of_order, manual, created_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
			cand.TokenID, cand.UID, cand.Stage, cand.DeviceID, cand.SessionID,
			cand.At.UTC().UnixMilli(), ooo, manual, time.Now().UTC().UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("Submit insert: %w", err)
		}

		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("Submit last insert id: %w", err)
		}
		out.EventID = id
		return nil
	})
	if err != nil {
		return store.SubmitOutcome{}, err
	}
	return out, nil
}

// Remove copies the event into deleted_tap_events and deletes the live row,
// atomically. The audit row is append-only and never touched again.
func (s *EventStore) Remove(ctx context.Context, eventID int64, operatorID, reason string, now time.Time) (store.TapEventRecord, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var removed store.TapEventRecord
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
SELECT id, token_id, uid, stage, device_id, session_id, ts_ms, out_of_order, manual
FROM tap_events WHERE id = ?;
`, eventID)

		var tsMs int64
		var ooo, manual int
		err := row.Scan(&removed.ID, &removed.TokenID, &removed.UID, &removed.Stage,
			&removed.DeviceID, &removed.SessionID, &tsMs, &ooo, &manual)
		if err == sql.ErrNoRows {
			return store.ErrEventNotFound
		}
		if err != nil {
			return fmt.Errorf("Remove select: %w", err)
		}
		removed.At = time.UnixMilli(tsMs).UTC()
		removed.OutOfOrder = ooo == 1
		removed.Manual = manual == 1

		if _, err := tx.ExecContext(ctx, `
INSERT INTO deleted_tap_events(
  audit_id, event_id, token_id, uid, stage, device_id, session_id,
  ts_ms, out_of_order, manual, deleted_at_ms, deleted_by, deletion_reason
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
			uuid.NewString(), removed.ID, removed.TokenID, removed.UID, removed.Stage,
			removed.DeviceID, removed.SessionID, tsMs, ooo, manual,
			now.UTC().UnixMilli(), operatorID, reason,
		); err != nil {
			return fmt.Errorf("Remove audit insert: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM tap_events WHERE id = ?;`, eventID); err != nil {
			return fmt.Errorf("Remove delete: %w", err)
		}
		return nil
	})
	if err != nil {
		return store.TapEventRecord{}, err
	}
	return removed, nil
}

func (s *EventStore) EventsBySession(ctx context.Context, sessionID string) ([]store.TapEventRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, token_id, uid, stage, device_id, session_id, ts_ms, out_of_order, manual
FROM tap_events WHERE session_id = ? ORDER BY ts_ms, id;
`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("EventsBySession: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *EventStore) EventsByToken(ctx context.Context, tokenID, sessionID string) ([]store.TapEventRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, token_id, uid, stage, device_id, session_id, ts_ms, out_of_order, manual
FROM tap_events WHERE token_id = ? AND session_id = ? ORDER BY ts_ms, id;
`, tokenID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("EventsByToken: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// CountEvents counts live events; sessionID "" counts across all sessions
// (used by the health endpoint).
func (s *EventStore) CountEvents(ctx context.Context, sessionID string) (int64, error) {
	var n int64
	var err error
	if sessionID == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tap_events;`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tap_events WHERE session_id = ?;`, sessionID).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("CountEvents: %w", err)
	}
	return n, nil
}

func (s *EventStore) AuditEntries(ctx context.Context, sessionID string) ([]store.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT audit_id, event_id, token_id, uid, stage, device_id, session_id,
       ts_ms, out_of_order, manual, deleted_at_ms, deleted_by, deletion_reason
FROM deleted_tap_events WHERE session_id = ? ORDER BY deleted_at_ms, audit_id;
`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("AuditEntries: %w", err)
	}
	defer rows.Close()

	var out []store.AuditEntry
	for rows.Next() {
		var e store.AuditEntry
		var tsMs, deletedMs int64
		var ooo, manual int
		if err := rows.Scan(&e.AuditID, &e.Event.ID, &e.Event.TokenID, &e.Event.UID,
			&e.Event.Stage, &e.Event.DeviceID, &e.Event.SessionID,
			&tsMs, &ooo, &manual, &deletedMs, &e.DeletedBy, &e.DeletionReason); err != nil {
			return nil, fmt.Errorf("AuditEntries scan: %w", err)
		}
		e.Event.At = time.UnixMilli(tsMs).UTC()
		e.Event.OutOfOrder = ooo == 1
		e.Event.Manual = manual == 1
		e.DeletedAt = time.UnixMilli(deletedMs).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func priorTaps(ctx context.Context, tx *sql.Tx, tokenID, sessionID string) ([]flow.PriorTap, error) {
	rows, err := tx.QueryContext(ctx, `
SELECT stage, ts_ms FROM tap_events
WHERE token_id = ? AND session_id = ? ORDER BY ts_ms, id;
`, tokenID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("prior taps: %w", err)
	}
	defer rows.Close()

	var out []flow.PriorTap
	for rows.Next() {
		var stage string
		var tsMs int64
		if err := rows.Scan(&stage, &tsMs); err != nil {
			return nil, fmt.Errorf("prior taps scan: %w", err)
		}
		out = append(out, flow.PriorTap{Stage: stage, At: time.UnixMilli(tsMs).UTC()})
	}
	return out, rows.Err()
}

func scanEvents(rows *sql.Rows) ([]store.TapEventRecord, error) {
	var out []store.TapEventRecord
	for rows.Next() {
		var r store.TapEventRecord
		var tsMs int64
		var ooo, manual int
		if err := rows.Scan(&r.ID, &r.TokenID, &r.UID, &r.Stage, &r.DeviceID,
			&r.SessionID, &tsMs, &ooo, &manual); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		r.At = time.UnixMilli(tsMs).UTC()
		r.OutOfOrder = ooo == 1
		r.Manual = manual == 1
		out = append(out, r)
	}
	return out, rows.Err()
}
