package flow

import "time"

// Tap is one recorded event as seen by derived-view computations.
type Tap struct {
	ID         int64
	TokenID    string
	Stage      string
	At         time.Time
	OutOfOrder bool
}

// Journey is the ordered set of a card's taps within one session. It is a
// derived view, never stored.
type Journey struct {
	TokenID string
	Taps    []Tap
}

// Journeys groups session events by token, preserving timestamp order within
// each journey. Input must already be ordered oldest first, which is how the
// stores return it.
func Journeys(events []Tap) []Journey {
	byToken := make(map[string]int)
	var out []Journey
	for _, ev := range events {
		i, ok := byToken[ev.TokenID]
		if !ok {
			i = len(out)
			byToken[ev.TokenID] = i
			out = append(out, Journey{TokenID: ev.TokenID})
		}
		out[i].Taps = append(out[i].Taps, ev)
	}
	return out
}

// StageTime returns when the journey reached `stage`. When the stage was
// tapped more than once (a grace-window correction) the latest tap wins:
// the re-tap corrected the first one, so it is the instant that reflects
// reality.
func (j Journey) StageTime(stage string) (time.Time, bool) {
	for i := len(j.Taps) - 1; i >= 0; i-- {
		if j.Taps[i].Stage == stage {
			return j.Taps[i].At, true
		}
	}
	return time.Time{}, false
}

// Complete reports whether the journey reached a terminal stage.
func (j Journey) Complete(topo *Topology) bool {
	for _, t := range j.Taps {
		if topo.IsTerminal(t.Stage) {
			return true
		}
	}
	return false
}

// Duration is the elapsed time from the journey's first tap to its terminal
// stage. Incomplete journeys have no duration.
func (j Journey) Duration(topo *Topology) (time.Duration, bool) {
	if len(j.Taps) == 0 {
		return 0, false
	}
	start := j.Taps[0].At
	for _, stage := range topo.Terminal {
		if end, ok := j.StageTime(stage); ok {
			return end.Sub(start), true
		}
	}
	return 0, false
}

// Between is the elapsed time from stage `from` to stage `to`, last-wins on
// both ends. Returns false when either stage is missing or the interval is
// negative (out-of-order data).
func (j Journey) Between(from, to string) (time.Duration, bool) {
	a, ok := j.StageTime(from)
	if !ok {
		return 0, false
	}
	b, ok := j.StageTime(to)
	if !ok {
		return 0, false
	}
	d := b.Sub(a)
	if d < 0 {
		return 0, false
	}
	return d, true
}
