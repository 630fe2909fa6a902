package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/zophiezlan/nfc-tap-logger/internal/tapline/flow"
	"github.com/zophiezlan/nfc-tap-logger/internal/tapline/plugin"
	"github.com/zophiezlan/nfc-tap-logger/internal/tapline/store"
	"github.com/zophiezlan/nfc-tap-logger/internal/tapline/types"
)

// StageRouter decides which stage an incoming hardware read maps to. The
// failover monitor implements it; tests substitute a fixed router.
type StageRouter interface {
	RouteStage(hasPriorEvents bool) string
}

// StaticRouter always routes to one stage (stations without a failover peer).
type StaticRouter string

func (r StaticRouter) RouteStage(bool) string { return string(r) }

// TapPolicy is the per-station submission policy.
type TapPolicy struct {
	SessionID string
	StationID string
	Grace     time.Duration
	// StrictSequence hard-rejects out-of-order hardware taps instead of the
	// default persist-with-warning.
	StrictSequence bool
}

// TapService is the write path for card taps: resolve identity, route the
// stage, submit atomically, run the extension hooks, classify feedback.
type TapService struct {
	events   store.EventStore
	cards    store.CardStore
	registry *StationRegistry
	plugins  *plugin.Registry
	router   StageRouter
	topo     *flow.Topology
	policy   TapPolicy
	logger   *log.Logger

	// Now is the clock; tests pin it.
	Now func() time.Time
}

func NewTapService(
	events store.EventStore,
	cards store.CardStore,
	registry *StationRegistry,
	plugins *plugin.Registry,
	router StageRouter,
	topo *flow.Topology,
	policy TapPolicy,
	logger *log.Logger,
) *TapService {
	return &TapService{
		events:   events,
		cards:    cards,
		registry: registry,
		plugins:  plugins,
		router:   router,
		topo:     topo,
		policy:   policy,
		logger:   logger,
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

// HandleRead processes one card read from the hardware path: only a uid is
// known; the station resolves the token (issuing one for uninitialized
// cards) and picks the stage from its current scope.
func (s *TapService) HandleRead(ctx context.Context, uid string) (types.TapOutcome, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return types.TapOutcome{}, ErrMissingUID
	}

	tokenID, err := s.resolveToken(ctx, uid)
	if err != nil {
		return types.TapOutcome{}, err
	}

	prior, err := s.events.EventsByToken(ctx, tokenID, s.policy.SessionID)
	if err != nil {
		return types.TapOutcome{}, err
	}
	stage := s.router.RouteStage(len(prior) > 0)

	return s.submit(ctx, store.SubmitCandidate{
		TokenID:   tokenID,
		UID:       uid,
		Stage:     stage,
		DeviceID:  s.policy.StationID,
		SessionID: s.policy.SessionID,
		At:        s.Now(),
	}, store.SubmitOptions{
		AllowOutOfOrder: !s.policy.StrictSequence,
		Grace:           s.policy.Grace,
	})
}

// SubmitTap processes a tap arriving over HTTP. Reader firmware sends only
// the uid; the dashboard's test-tap tool may pre-resolve token and stage.
func (s *TapService) SubmitTap(ctx context.Context, req types.TapRequest) (types.TapOutcome, error) {
	if req.TokenID == "" {
		return s.HandleRead(ctx, req.UID)
	}

	stage := strings.TrimSpace(req.Stage)
	if stage == "" {
		prior, err := s.events.EventsByToken(ctx, req.TokenID, s.policy.SessionID)
		if err != nil {
			return types.TapOutcome{}, err
		}
		stage = s.router.RouteStage(len(prior) > 0)
	} else if !s.topo.Known(stage) {
		return types.TapOutcome{}, fmt.Errorf("%w: %s", ErrUnknownStage, stage)
	}

	uid := strings.TrimSpace(req.UID)
	if uid == "" {
		uid = "token:" + req.TokenID
	}

	return s.submit(ctx, store.SubmitCandidate{
		TokenID:   strings.TrimSpace(req.TokenID),
		UID:       uid,
		Stage:     stage,
		DeviceID:  s.policy.StationID,
		SessionID: s.policy.SessionID,
		At:        s.Now(),
	}, store.SubmitOptions{
		AllowOutOfOrder: !s.policy.StrictSequence,
		Grace:           s.policy.Grace,
	})
}

// resolveToken maps a card read to a token id. Issued tokens are short
// decimal strings written to the card; anything else is a hardware serial
// that goes through the stored mapping, auto-initializing on first sight.
func (s *TapService) resolveToken(ctx context.Context, uid string) (string, error) {
	if flow.IsTokenID(uid) {
		return uid, nil
	}

	tokenID, ok, err := s.cards.ResolveToken(ctx, uid, s.policy.SessionID)
	if err != nil {
		return "", err
	}
	if ok {
		return tokenID, nil
	}

	tokenID, err = s.cards.AllocateToken(ctx, uid, s.policy.SessionID, s.Now())
	if err != nil {
		return "", err
	}
	s.logger.Printf("auto-initialized card %s as token %s", uid, tokenID)
	return tokenID, nil
}

// submit runs the atomic store write, then the post-tap hooks, and maps the
// outcome to a feedback signal.
func (s *TapService) submit(ctx context.Context, cand store.SubmitCandidate, opts store.SubmitOptions) (types.TapOutcome, error) {
	// Best-effort: a failed last-seen update must not block the tap.
	_ = s.registry.NoteSeen(ctx, cand.DeviceID, nil)

	res, err := s.events.Submit(ctx, cand, opts)
	if err != nil {
		return types.TapOutcome{}, err
	}

	out := types.TapOutcome{
		Accepted:   res.Accepted,
		EventID:    res.EventID,
		TokenID:    cand.TokenID,
		Stage:      cand.Stage,
		Duplicate:  res.Duplicate,
		OutOfOrder: res.OutOfOrder,
		Warning:    res.Warning,
		Suggestion: res.Suggestion,
		Feedback:   classifyFeedback(res),
		ServerTime: s.Now().Format(time.RFC3339Nano),
	}

	if res.Accepted {
		s.plugins.DispatchTap(plugin.NewTapContext(types.TapEvent{
			ID:         res.EventID,
			TokenID:    cand.TokenID,
			UID:        cand.UID,
			Stage:      cand.Stage,
			DeviceID:   cand.DeviceID,
			SessionID:  cand.SessionID,
			Timestamp:  cand.At.UTC().Format(time.RFC3339Nano),
			OutOfOrder: res.OutOfOrder,
			Manual:     cand.Manual,
		}))
	}

	return out, nil
}

// classifyFeedback maps a submit outcome onto the four-signal vocabulary the
// audio/visual hardware understands.
func classifyFeedback(res store.SubmitOutcome) types.Feedback {
	switch {
	case res.Duplicate:
		return types.FeedbackDuplicate
	case !res.Accepted:
		return types.FeedbackError
	case res.Warning != "":
		return types.FeedbackWarning
	default:
		return types.FeedbackSuccess
	}
}
