package flow

import (
	"fmt"
	"strings"
	"time"
)

// DefaultGrace is the window during which a repeated same-stage tap is an
// allowed self-correction rather than a rejected duplicate.
const DefaultGrace = 5 * time.Minute

// PriorTap is the slice of an already-recorded event that sequence and
// duplicate evaluation needs: its stage and when it happened.
type PriorTap struct {
	Stage string
	At    time.Time
}

// Options control how strictly a candidate is evaluated.
type Options struct {
	// AllowOutOfOrder keeps the default log-with-warning policy: an
	// out-of-sequence tap is persisted and tagged. When false the tap is
	// hard-rejected instead.
	AllowOutOfOrder bool

	// SkipDuplicateCheck bypasses the grace/duplicate policy entirely
	// (manual corrections use this).
	SkipDuplicateCheck bool

	// Grace is the self-correction window. Zero means DefaultGrace.
	Grace time.Duration
}

// Decision is the verdict on one candidate tap. Accept=false with
// Duplicate=true means nothing should be persisted; Accept=false with
// OutOfOrder=true means the caller asked for hard rejection.
type Decision struct {
	Accept     bool
	Duplicate  bool
	OutOfOrder bool
	Warning    string
	Suggestion string
}

// Evaluate decides whether a tap at `stage` should be recorded given the
// card's prior taps in the session, ordered oldest first.
//
// Policy: the first tap at a stage is always accepted. A re-tap at the same
// stage within the grace window is an allowed correction; after the window it
// is a true duplicate and is rejected. Sequence violations are never silently
// dropped — they are accepted with a warning unless the caller disabled
// AllowOutOfOrder, because a rejected tap is invisible and cannot be
// corrected later.
func Evaluate(topo *Topology, prior []PriorTap, stage string, now time.Time, opts Options) Decision {
	if !topo.Known(stage) {
		return Decision{
			Warning:    fmt.Sprintf("unknown stage %q", stage),
			Suggestion: "check the station's stage configuration",
		}
	}

	grace := opts.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}

	if !opts.SkipDuplicateCheck {
		if last, ok := lastAtStage(prior, stage); ok {
			if now.Sub(last.At) <= grace {
				return Decision{
					Accept: true,
					Warning: fmt.Sprintf("repeat tap at %s within %s of the previous one, recorded as a correction",
						stage, grace),
				}
			}
			return Decision{
				Duplicate: true,
				Warning:   fmt.Sprintf("duplicate tap at %s", stage),
				Suggestion: fmt.Sprintf("card already tapped %s at %s; remove the old event first if this is a correction",
					stage, last.At.UTC().Format(time.RFC3339)),
			}
		}
	}

	warning, suggestion := sequenceCheck(topo, prior, stage)
	if warning == "" {
		return Decision{Accept: true}
	}

	return Decision{
		Accept:     opts.AllowOutOfOrder,
		OutOfOrder: true,
		Warning:    warning,
		Suggestion: suggestion,
	}
}

// sequenceCheck returns a non-empty warning when `stage` does not follow from
// the card's last recorded stage under the adjacency map.
func sequenceCheck(topo *Topology, prior []PriorTap, stage string) (warning, suggestion string) {
	if len(prior) == 0 {
		if topo.IsEntry(stage) {
			return "", ""
		}
		preds := topo.Predecessors(stage)
		return fmt.Sprintf("missing %s", strings.Join(preds, " or ")),
			fmt.Sprintf("add a manual %s event if the participant skipped a station", strings.Join(preds, " or "))
	}

	last := prior[len(prior)-1].Stage
	if topo.CanFollow(last, stage) {
		return "", ""
	}

	if topo.IsTerminal(last) {
		return fmt.Sprintf("tap at %s after terminal %s", stage, last),
			"remove the premature " + last + " event if the participant is still in the flow"
	}
	return fmt.Sprintf("%s after %s is out of sequence", stage, last),
		"review this card's journey and correct it manually if a station was missed"
}

func lastAtStage(prior []PriorTap, stage string) (PriorTap, bool) {
	for i := len(prior) - 1; i >= 0; i-- {
		if prior[i].Stage == stage {
			return prior[i], true
		}
	}
	return PriorTap{}, false
}
