package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zophiezlan/nfc-tap-logger/internal/tapline/flow"
	"github.com/zophiezlan/nfc-tap-logger/internal/tapline/store"
)

// EventStore is the in-memory twin of the sqlite implementation, used in
// tests and as a reference for the atomicity contract: everything runs under
// one mutex, so evaluation and insert are a single unit.
type EventStore struct {
	mu     sync.Mutex
	topo   *flow.Topology
	nextID int64
	events []store.TapEventRecord
	audit  []store.AuditEntry
}

func NewEventStore(topo *flow.Topology) *EventStore {
	return &EventStore{topo: topo, nextID: 1}
}

func (s *EventStore) Submit(ctx context.Context, cand store.SubmitCandidate, opts store.SubmitOptions) (store.SubmitOutcome, error) {
	if cand.At.IsZero() {
		cand.At = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var prior []flow.PriorTap
	for _, ev := range s.ordered() {
		if ev.TokenID == cand.TokenID && ev.SessionID == cand.SessionID {
			prior = append(prior, flow.PriorTap{Stage: ev.Stage, At: ev.At})
		}
	}

	d := flow.Evaluate(s.topo, prior, cand.Stage, cand.At, flow.Options{
		AllowOutOfOrder:    opts.AllowOutOfOrder,
		SkipDuplicateCheck: opts.SkipDuplicateCheck,
		Grace:              opts.Grace,
	})

	out := store.SubmitOutcome{
		Accepted:   d.Accept,
		Duplicate:  d.Duplicate,
		OutOfOrder: d.OutOfOrder,
		Warning:    d.Warning,
		Suggestion: d.Suggestion,
	}
	if !d.Accept {
		return out, nil
	}

	rec := store.TapEventRecord{
		ID:         s.nextID,
		TokenID:    cand.TokenID,
		UID:        cand.UID,
		Stage:      cand.Stage,
		DeviceID:   cand.DeviceID,
		SessionID:  cand.SessionID,
		At:         cand.At.UTC(),
		OutOfOrder: d.OutOfOrder,
		Manual:     cand.Manual,
	}
	s.nextID++
	s.events = append(s.events, rec)
	out.EventID = rec.ID
	return out, nil
}

func (s *EventStore) Remove(ctx context.Context, eventID int64, operatorID, reason string, now time.Time) (store.TapEventRecord, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, ev := range s.events {
		if ev.ID != eventID {
			continue
		}
		s.audit = append(s.audit, store.AuditEntry{
			AuditID:        uuid.NewString(),
			Event:          ev,
			DeletedAt:      now.UTC(),
			DeletedBy:      operatorID,
			DeletionReason: reason,
		})
		s.events = append(s.events[:i], s.events[i+1:]...)
		return ev, nil
	}
	return store.TapEventRecord{}, store.ErrEventNotFound
}

func (s *EventStore) EventsBySession(ctx context.Context, sessionID string) ([]store.TapEventRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.TapEventRecord
	for _, ev := range s.ordered() {
		if ev.SessionID == sessionID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *EventStore) EventsByToken(ctx context.Context, tokenID, sessionID string) ([]store.TapEventRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.TapEventRecord
	for _, ev := range s.ordered() {
		if ev.TokenID == tokenID && ev.SessionID == sessionID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *EventStore) CountEvents(ctx context.Context, sessionID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sessionID == "" {
		return int64(len(s.events)), nil
	}
	var n int64
	for _, ev := range s.events {
		if ev.SessionID == sessionID {
			n++
		}
	}
	return n, nil
}

func (s *EventStore) AuditEntries(ctx context.Context, sessionID string) ([]store.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.AuditEntry
	for _, e := range s.audit {
		if e.Event.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out, nil
}

// ordered returns events sorted by (timestamp, id), matching the sqlite
// store's read order. Backdated manual events sort into place.
func (s *EventStore) ordered() []store.TapEventRecord {
	out := make([]store.TapEventRecord, len(s.events))
	copy(out, s.events)
	sort.Slice(out, func(i, j int) bool {
		if out[i].At.Equal(out[j].At) {
			return out[i].ID < out[j].ID
		}
		return out[i].At.Before(out[j].At)
	})
	return out
}
