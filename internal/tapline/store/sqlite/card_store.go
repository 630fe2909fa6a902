package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	dbpkg "github.com/zophiezlan/nfc-tap-logger/internal/db"
	"github.com/zophiezlan/nfc-tap-logger/internal/tapline/flow"
)

type CardStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewCardStore(db *sql.DB, writer *dbpkg.Worker) *CardStore {
	return &CardStore{db: db, writer: writer}
}

func (s *CardStore) ResolveToken(ctx context.Context, uid, sessionID string) (string, bool, error) {
	var tokenID string
	err := s.db.QueryRowContext(ctx,
		`SELECT token_id FROM card_mappings WHERE uid = ? AND session_id = ?;`, uid, sessionID,
	).Scan(&tokenID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("ResolveToken: %w", err)
	}
	return tokenID, true, nil
}

// AllocateToken hands out the session's next token id. Counter read,
// increment, and mapping insert share one transaction, so concurrent
// first-taps of distinct cards get distinct contiguous ids.
func (s *CardStore) AllocateToken(ctx context.Context, uid, sessionID string, now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var tokenID string
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		// The card may have been mapped between the caller's check and now.
		err := tx.QueryRowContext(ctx,
			`SELECT token_id FROM card_mappings WHERE uid = ? AND session_id = ?;`, uid, sessionID,
		).Scan(&tokenID)
		if err == nil {
			return nil
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("AllocateToken lookup: %w", err)
		}

		var next int64
		err = tx.QueryRowContext(ctx,
			`SELECT next_value FROM autoinit_counters WHERE session_id = ?;`, sessionID,
		).Scan(&next)
		switch {
		case err == sql.ErrNoRows:
			next = 1
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO autoinit_counters(session_id, next_value) VALUES (?, 2);`,
				sessionID,
			); err != nil {
				return fmt.Errorf("AllocateToken counter insert: %w", err)
			}
		case err != nil:
			return fmt.Errorf("AllocateToken counter read: %w", err)
		default:
			if _, err := tx.ExecContext(ctx,
				`UPDATE autoinit_counters SET next_value = next_value + 1 WHERE session_id = ?;`,
				sessionID,
			); err != nil {
				return fmt.Errorf("AllocateToken counter bump: %w", err)
			}
		}

		tokenID = flow.FormatToken(next)
		if _, err := tx.ExecContext(ctx, `
INSERT INTO card_mappings(uid, token_id, session_id, created_at_ms)
VALUES (?, ?, ?, ?);
`, uid, tokenID, sessionID, now.UTC().UnixMilli()); err != nil {
			return fmt.Errorf("AllocateToken mapping insert: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return tokenID, nil
}
