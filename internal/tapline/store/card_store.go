package store

import (
	"context"
	"time"
)

// CardStore maps physical card serials to issued token ids. Token counters
// restart each session, so mappings are session-scoped on both sides: a card
// re-initializes on its first tap of a new session.
type CardStore interface {
	// ResolveToken looks up the token issued to uid in this session.
	// ok=false when the card has not been seen this session.
	ResolveToken(ctx context.Context, uid, sessionID string) (tokenID string, ok bool, err error)

	// AllocateToken issues the session's next unclaimed token id to uid and
	// persists the mapping. The counter read, increment, and mapping insert
	// happen in one transaction: no two callers can receive the same value.
	// Calling it again for a uid that already has a token returns the
	// existing one.
	AllocateToken(ctx context.Context, uid, sessionID string, now time.Time) (tokenID string, err error)
}
