package service

import (
	"context"
	"sort"
	"time"

	"github.com/zophiezlan/nfc-tap-logger/internal/tapline/flow"
	"github.com/zophiezlan/nfc-tap-logger/internal/tapline/plugin"
	"github.com/zophiezlan/nfc-tap-logger/internal/tapline/store"
	"github.com/zophiezlan/nfc-tap-logger/internal/tapline/types"
)

// StatsService assembles the per-session dashboard summary and threads it
// through the OnDashboardStats extension hooks.
type StatsService struct {
	events  store.EventStore
	topo    *flow.Topology
	plugins *plugin.Registry
}

func NewStatsService(events store.EventStore, topo *flow.Topology, plugins *plugin.Registry) *StatsService {
	return &StatsService{events: events, topo: topo, plugins: plugins}
}

func (s *StatsService) Build(ctx context.Context, sessionID string) (types.DashboardStats, error) {
	events, err := s.events.EventsBySession(ctx, sessionID)
	if err != nil {
		return types.DashboardStats{}, err
	}

	stats := BuildStats(s.topo, sessionID, events)
	s.plugins.DispatchStats(&stats)
	return stats, nil
}

// BuildStats computes journey counts and wait/service durations. Wait is
// the interval from the first to the second configured stage; service runs
// from the second stage to the journey's terminal stage. Duplicate
// same-stage taps collapse last-wins, matching the correction policy.
func BuildStats(topo *flow.Topology, sessionID string, events []store.TapEventRecord) types.DashboardStats {
	stats := types.DashboardStats{
		SessionID:   sessionID,
		TotalEvents: len(events),
	}

	journeys := flow.Journeys(toFlowTaps(events))
	stats.Journeys = len(journeys)

	var waits, services []float64
	for _, j := range journeys {
		if j.Complete(topo) {
			stats.CompletedJourneys++
		}
		if len(topo.Stages) < 2 {
			continue
		}
		if d, ok := j.Between(topo.Stages[0], topo.Stages[1]); ok {
			waits = append(waits, d.Seconds())
		}
		if d, ok := serviceDuration(topo, j); ok {
			services = append(services, d.Seconds())
		}
	}

	stats.AvgWaitSeconds = mean(waits)
	stats.MedianWaitSeconds = median(waits)
	stats.AvgServiceSeconds = mean(services)
	stats.MedServiceSeconds = median(services)
	return stats
}

// serviceDuration measures from the second configured stage to whichever
// terminal stage the journey reached.
func serviceDuration(topo *flow.Topology, j flow.Journey) (time.Duration, bool) {
	if len(topo.Stages) < 2 {
		return 0, false
	}
	for _, terminal := range topo.Terminal {
		if d, ok := j.Between(topo.Stages[1], terminal); ok {
			return d, true
		}
	}
	return 0, false
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

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 0 {
		return (s[mid-1] + s[mid]) / 2
	}
	return s[mid]
}
