package store

import (
	"context"
	"errors"
	"time"
)

// ErrEventNotFound is returned by Remove for an id with no live row.
var ErrEventNotFound = errors.New("event not found")

// TapEventRecord is one row of the append-only tap ledger. Immutable once
// accepted: corrections are new rows or audited removals, never edits.
type TapEventRecord struct {
	ID         int64
	TokenID    string
	UID        string
	Stage      string
	DeviceID   string
	SessionID  string
	At         time.Time
	OutOfOrder bool
	Manual     bool
}

// SubmitCandidate is a tap that has passed field validation but not yet the
// sequence/duplicate policy.
type SubmitCandidate struct {
	TokenID   string
	UID       string
	Stage     string
	DeviceID  string
	SessionID string
	At        time.Time
	Manual    bool
}

// SubmitOptions mirror flow.Options; they are threaded into the evaluation
// that runs inside the write transaction.
type SubmitOptions struct {
	AllowOutOfOrder    bool
	SkipDuplicateCheck bool
	Grace              time.Duration
}

// SubmitOutcome reports what the store did with the candidate.
type SubmitOutcome struct {
	Accepted   bool
	EventID    int64
	Duplicate  bool
	OutOfOrder bool
	Warning    string
	Suggestion string
}

// AuditEntry is a removed event together with who removed it and why.
type AuditEntry struct {
	AuditID        string
	Event          TapEventRecord
	DeletedAt      time.Time
	DeletedBy      string
	DeletionReason string
}

// EventStore is the single source of truth for accepted taps.
//
// Submit runs read-prior, policy evaluation, and insert as one atomic unit
// so two concurrent submissions for the same (token, stage, session) can
// never both see "no prior event". Remove atomically copies the event into
// the audit log and deletes the live row; information is never destroyed.
type EventStore interface {
	Submit(ctx context.Context, cand SubmitCandidate, opts SubmitOptions) (SubmitOutcome, error)
	Remove(ctx context.Context, eventID int64, operatorID, reason string, now time.Time) (TapEventRecord, error)

	EventsBySession(ctx context.Context, sessionID string) ([]TapEventRecord, error)
	EventsByToken(ctx context.Context, tokenID, sessionID string) ([]TapEventRecord, error)
	CountEvents(ctx context.Context, sessionID string) (int64, error)
	AuditEntries(ctx context.Context, sessionID string) ([]AuditEntry, error)
}
