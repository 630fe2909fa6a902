package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/zophiezlan/nfc-tap-logger/internal/tapline/flow"
	"github.com/zophiezlan/nfc-tap-logger/internal/tapline/plugin"
	"github.com/zophiezlan/nfc-tap-logger/internal/tapline/store"
	"github.com/zophiezlan/nfc-tap-logger/internal/tapline/types"
)

// Accepted recency window for manual timestamps.
const (
	maxManualPast   = 30 * 24 * time.Hour
	maxManualFuture = time.Hour
)

// CorrectionService handles operator-driven inserts and audited removals.
// Every operation fails closed: all validation happens before any mutation.
type CorrectionService struct {
	events  store.EventStore
	topo    *flow.Topology
	plugins *plugin.Registry
	logger  *log.Logger

	sessionID string
	stationID string

	Now func() time.Time
}

func NewCorrectionService(
	events store.EventStore,
	topo *flow.Topology,
	plugins *plugin.Registry,
	sessionID, stationID string,
	logger *log.Logger,
) *CorrectionService {
	return &CorrectionService{
		events:    events,
		topo:      topo,
		plugins:   plugins,
		logger:    logger,
		sessionID: sessionID,
		stationID: stationID,
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

// AddManual inserts an event on an operator's behalf. The duplicate check is
// bypassed and out-of-order placement is always allowed — a manual entry
// must be insertable regardless of order — but the sequence validator still
// runs so the response can carry its warning. The synthetic uid encodes the
// operator so downstream analysis can tell manual entries from
// hardware-sourced ones.
func (s *CorrectionService) AddManual(ctx context.Context, req types.ManualEventRequest) (types.ManualEventResponse, error) {
	tokenID := strings.TrimSpace(req.TokenID)
	operator := strings.TrimSpace(req.OperatorID)
	reason := strings.TrimSpace(req.Reason)
	stage := strings.TrimSpace(req.Stage)

	if tokenID == "" {
		return types.ManualEventResponse{}, ErrMissingTokenID
	}
	if operator == "" {
		return types.ManualEventResponse{}, ErrMissingOperatorID
	}
	if reason == "" {
		return types.ManualEventResponse{}, ErrMissingReason
	}
	if !s.topo.Known(stage) {
		return types.ManualEventResponse{}, fmt.Errorf("%w: %s", ErrUnknownStage, stage)
	}

	ts, err := parseTimestamp(req.Timestamp)
	if err != nil {
		return types.ManualEventResponse{}, err
	}
	now := s.Now()
	if ts.Before(now.Add(-maxManualPast)) {
		return types.ManualEventResponse{}, ErrTimestampTooOld
	}
	if ts.After(now.Add(maxManualFuture)) {
		return types.ManualEventResponse{}, ErrTimestampFuture
	}

	cand := store.SubmitCandidate{
		TokenID:   tokenID,
		UID:       "manual:" + operator,
		Stage:     stage,
		DeviceID:  s.stationID,
		SessionID: s.sessionID,
		At:        ts,
		Manual:    true,
	}
	res, err := s.events.Submit(ctx, cand, store.SubmitOptions{
		AllowOutOfOrder:    true,
		SkipDuplicateCheck: true,
	})
	if err != nil {
		return types.ManualEventResponse{}, err
	}

	s.logger.Printf("manual event: token=%s stage=%s by=%s reason=%q", tokenID, stage, operator, reason)

	s.plugins.DispatchTap(plugin.NewTapContext(types.TapEvent{
		ID:         res.EventID,
		TokenID:    tokenID,
		UID:        cand.UID,
		Stage:      stage,
		DeviceID:   s.stationID,
		SessionID:  s.sessionID,
		Timestamp:  ts.UTC().Format(time.RFC3339Nano),
		OutOfOrder: res.OutOfOrder,
		Manual:     true,
	}))

	resp := types.ManualEventResponse{
		Success: true,
		Message: fmt.Sprintf("recorded manual %s for token %s", stage, tokenID),
		EventID: res.EventID,
	}
	if res.Warning != "" {
		resp.Warnings = append(resp.Warnings, res.Warning)
	}
	return resp, nil
}

// Remove moves a live event into the audit log. Nothing is physically
// deleted: the full original event, the operator, and the reason are kept
// forever.
func (s *CorrectionService) Remove(ctx context.Context, req types.RemoveEventRequest) (types.RemoveEventResponse, error) {
	operator := strings.TrimSpace(req.OperatorID)
	reason := strings.TrimSpace(req.Reason)

	if req.EventID <= 0 {
		return types.RemoveEventResponse{}, ErrMissingEventID
	}
	if operator == "" {
		return types.RemoveEventResponse{}, ErrMissingOperatorID
	}
	if reason == "" {
		return types.RemoveEventResponse{}, ErrMissingReason
	}

	removed, err := s.events.Remove(ctx, req.EventID, operator, reason, s.Now())
	if err != nil {
		return types.RemoveEventResponse{}, err
	}

	s.logger.Printf("removed event %d (token=%s stage=%s) by=%s reason=%q",
		removed.ID, removed.TokenID, removed.Stage, operator, reason)

	ev := eventToWire(removed)
	return types.RemoveEventResponse{
		Success:      true,
		Message:      fmt.Sprintf("event %d moved to audit log", removed.ID),
		RemovedEvent: &ev,
	}, nil
}

func eventToWire(r store.TapEventRecord) types.TapEvent {
	return types.TapEvent{
		ID:         r.ID,
		TokenID:    r.TokenID,
		UID:        r.UID,
		Stage:      r.Stage,
		DeviceID:   r.DeviceID,
		SessionID:  r.SessionID,
		Timestamp:  r.At.UTC().Format(time.RFC3339Nano),
		OutOfOrder: r.OutOfOrder,
		Manual:     r.Manual,
	}
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrBadTimestamp
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrBadTimestamp, s)
}

// IsValidation reports whether err is one of the fail-closed input errors,
// as opposed to a store failure.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrMissingUID, ErrMissingTokenID, ErrMissingOperatorID, ErrMissingReason,
		ErrMissingEventID, ErrUnknownStage, ErrBadTimestamp, ErrTimestampTooOld,
		ErrTimestampFuture,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
