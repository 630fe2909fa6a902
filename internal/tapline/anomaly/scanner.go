package anomaly

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/zophiezlan/nfc-tap-logger/internal/tapline/flow"
	"github.com/zophiezlan/nfc-tap-logger/internal/tapline/store"
	"github.com/zophiezlan/nfc-tap-logger/internal/tapline/types"
)

// Finding categories.
const (
	CategoryForgottenExit  = "forgotten_exit_taps"
	CategoryStuckInService = "stuck_in_service"
	CategoryLongService    = "long_service_times"
	CategoryRapidFire      = "rapid_fire_taps"
	CategoryIncomplete     = "incomplete_journeys"
	CategoryOutOfOrder     = "out_of_order_events"
)

// Severities.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Config holds the scan thresholds.
type Config struct {
	ForgottenExitMedium  time.Duration
	ForgottenExitHigh    time.Duration
	StuckInServiceMedium time.Duration
	StuckInServiceHigh   time.Duration
	LongServiceAbsolute  time.Duration
	RapidFire            time.Duration
}

func DefaultConfig() Config {
	return Config{
		ForgottenExitMedium:  30 * time.Minute,
		ForgottenExitHigh:    120 * time.Minute,
		StuckInServiceMedium: 45 * time.Minute,
		StuckInServiceHigh:   90 * time.Minute,
		LongServiceAbsolute:  20 * time.Minute,
		RapidFire:            2 * time.Minute,
	}
}

// Scanner runs read-only analytical queries over the event store. Scanning
// never mutates anything and is idempotent: the same store and clock always
// produce the same report.
type Scanner struct {
	events store.EventStore
	topo   *flow.Topology
	cfg    Config
}

func NewScanner(events store.EventStore, topo *flow.Topology, cfg Config) *Scanner {
	return &Scanner{events: events, topo: topo, cfg: cfg}
}

func (s *Scanner) Scan(ctx context.Context, sessionID string, now time.Time) (types.AnomaliesResponse, error) {
	events, err := s.events.EventsBySession(ctx, sessionID)
	if err != nil {
		return types.AnomaliesResponse{}, err
	}

	report := types.AnomaliesResponse{
		SessionID: sessionID,
		Anomalies: make(map[string][]types.Finding),
	}
	add := func(category string, f types.Finding) {
		report.Anomalies[category] = append(report.Anomalies[category], f)
		report.Summary.Total++
		switch f.Severity {
		case SeverityHigh:
			report.Summary.HighSeverity++
		case SeverityMedium:
			report.Summary.MedSeverity++
		default:
			report.Summary.LowSeverity++
		}
	}

	journeys := flow.Journeys(toFlowTaps(events))
	medianService := s.medianServiceDuration(journeys)

	for _, j := range journeys {
		s.scanForgottenExit(j, now, add)
		s.scanStuckInService(j, now, add)
		s.scanLongService(j, medianService, add)
		s.scanRapidFire(j, add)
		s.scanIncomplete(j, add)
	}

	for _, ev := range events {
		if !ev.OutOfOrder {
			continue
		}
		add(CategoryOutOfOrder, types.Finding{
			TokenID:    ev.TokenID,
			Severity:   SeverityMedium,
			Detail:     fmt.Sprintf("event %d (%s) was recorded out of sequence", ev.ID, ev.Stage),
			Suggestion: "review this card's journey and add or remove events manually",
			StartedAt:  ev.At.Format(time.RFC3339),
		})
	}

	return report, nil
}

func (s *Scanner) scanForgottenExit(j flow.Journey, now time.Time, add func(string, types.Finding)) {
	entry := s.topo.Stages[0]
	at, ok := j.StageTime(entry)
	if !ok || j.Complete(s.topo) {
		return
	}
	elapsed := now.Sub(at)
	if elapsed <= s.cfg.ForgottenExitMedium {
		return
	}
	severity := SeverityMedium
	if elapsed > s.cfg.ForgottenExitHigh {
		severity = SeverityHigh
	}
	add(CategoryForgottenExit, types.Finding{
		TokenID:    j.TokenID,
		Severity:   severity,
		Detail:     fmt.Sprintf("%s %s ago with no exit tap", entry, elapsed.Round(time.Minute)),
		Suggestion: "check whether the participant left without tapping out; add a manual exit if so",
		StartedAt:  at.Format(time.RFC3339),
	})
}

func (s *Scanner) scanStuckInService(j flow.Journey, now time.Time, add func(string, types.Finding)) {
	if len(s.topo.Stages) < 2 {
		return
	}
	serviceStage := s.topo.Stages[1]
	at, ok := j.StageTime(serviceStage)
	if !ok || j.Complete(s.topo) {
		return
	}
	elapsed := now.Sub(at)
	if elapsed <= s.cfg.StuckInServiceMedium {
		return
	}
	severity := SeverityMedium
	if elapsed > s.cfg.StuckInServiceHigh {
		severity = SeverityHigh
	}
	add(CategoryStuckInService, types.Finding{
		TokenID:    j.TokenID,
		Severity:   severity,
		Detail:     fmt.Sprintf("in %s for %s with no terminal stage", serviceStage, elapsed.Round(time.Minute)),
		Suggestion: "check on this service; the card may have skipped its exit tap",
		StartedAt:  at.Format(time.RFC3339),
	})
}

func (s *Scanner) scanLongService(j flow.Journey, medianService time.Duration, add func(string, types.Finding)) {
	d, ok := s.serviceDuration(j)
	if !ok || medianService <= 0 {
		return
	}
	if d > 2*medianService && d > s.cfg.LongServiceAbsolute {
		add(CategoryLongService, types.Finding{
			TokenID:  j.TokenID,
			Severity: SeverityLow,
			Detail: fmt.Sprintf("service took %s, more than twice the session median of %s",
				d.Round(time.Minute), medianService.Round(time.Minute)),
			Suggestion: "long services are sometimes mis-taps; verify the journey looks right",
		})
	}
}

func (s *Scanner) scanRapidFire(j flow.Journey, add func(string, types.Finding)) {
	// Adjacent same-stage taps closer than the threshold. These are usually
	// grace-window corrections, surfaced so staff can spot readers
	// double-firing.
	last := make(map[string]time.Time)
	for _, t := range j.Taps {
		if prev, ok := last[t.Stage]; ok && t.At.Sub(prev) < s.cfg.RapidFire {
			add(CategoryRapidFire, types.Finding{
				TokenID:    j.TokenID,
				Severity:   SeverityLow,
				Detail:     fmt.Sprintf("two %s taps %s apart", t.Stage, t.At.Sub(prev).Round(time.Second)),
				Suggestion: "if this reader double-fires often, check its debounce settings",
				StartedAt:  prev.Format(time.RFC3339),
				LastSeenAt: t.At.Format(time.RFC3339),
			})
		}
		last[t.Stage] = t.At
	}
}

func (s *Scanner) scanIncomplete(j flow.Journey, add func(string, types.Finding)) {
	if j.Complete(s.topo) || len(j.Taps) == 0 {
		return
	}
	add(CategoryIncomplete, types.Finding{
		TokenID:    j.TokenID,
		Severity:   SeverityMedium,
		Detail:     fmt.Sprintf("journey has %d tap(s) and no terminal stage", len(j.Taps)),
		Suggestion: "incomplete journeys are expected during the session; investigate after close",
		StartedAt:  j.Taps[0].At.Format(time.RFC3339),
		LastSeenAt: j.Taps[len(j.Taps)-1].At.Format(time.RFC3339),
	})
}

// serviceDuration is the completed interval from the service stage to a
// terminal stage, last-wins on both ends.
func (s *Scanner) serviceDuration(j flow.Journey) (time.Duration, bool) {
	if len(s.topo.Stages) < 2 {
		return 0, false
	}
	for _, terminal := range s.topo.Terminal {
		if d, ok := j.Between(s.topo.Stages[1], terminal); ok {
			return d, true
		}
	}
	return 0, false
}

func (s *Scanner) medianServiceDuration(journeys []flow.Journey) time.Duration {
	var ds []time.Duration
	for _, j := range journeys {
		if d, ok := s.serviceDuration(j); ok {
			ds = append(ds, d)
		}
	}
	if len(ds) == 0 {
		return 0
	}
	sort.Slice(ds, func(i, j int) bool { return ds[i] < ds[j] })
	mid := len(ds) / 2
	if len(ds)%2 == 0 {
		return (ds[mid-1] + ds[mid]) / 2
	}
	return ds[mid]
}

func toFlowTaps(events []store.TapEventRecord) []flow.Tap {
	out := make([]flow.Tap, len(events))
	for i, ev := range events {
		out[i] = flow.Tap{
			ID:         ev.ID,
			TokenID:    ev.TokenID,
			Stage:      ev.Stage,
			At:         ev.At,
			OutOfOrder: ev.OutOfOrder,
		}
	}
	return out
}
