package flow

import (
	"errors"
	"strings"
)

var errNoStages = errors.New("topology has no stages")

// Topology describes the configured stage workflow: the ordered stage set,
// the adjacency map of allowed transitions, and the terminal stages that end
// a journey.
type Topology struct {
	Stages      []string
	Transitions map[string][]string
	Terminal    []string
}

// Default stage names. Deployments override these via the topology file.
const (
	StageQueueJoin         = "QUEUE_JOIN"
	StageServiceStart      = "SERVICE_START"
	StageSubstanceReturned = "SUBSTANCE_RETURNED"
	StageExit              = "EXIT"
)

// DefaultTopology returns the stock four-stage service queue.
func DefaultTopology() *Topology {
	return &Topology{
		Stages: []string{StageQueueJoin, StageServiceStart, StageSubstanceReturned, StageExit},
		Transitions: map[string][]string{
			StageQueueJoin:         {StageServiceStart, StageSubstanceReturned, StageExit},
			StageServiceStart:      {StageSubstanceReturned, StageExit},
			StageSubstanceReturned: {StageExit},
			StageExit:              {},
		},
		Terminal: []string{StageExit},
	}
}

func (t *Topology) Known(stage string) bool {
	for _, s := range t.Stages {
		if s == stage {
			return true
		}
	}
	return false
}

func (t *Topology) IsTerminal(stage string) bool {
	for _, s := range t.Terminal {
		if s == stage {
			return true
		}
	}
	return false
}

// CanFollow reports whether `to` is a permitted successor of `from`.
func (t *Topology) CanFollow(from, to string) bool {
	for _, s := range t.Transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Index returns the stage's position in the configured order, or -1.
func (t *Topology) Index(stage string) int {
	for i, s := range t.Stages {
		if s == stage {
			return i
		}
	}
	return -1
}

// EntryStages are the stages with no inbound transition — the valid starting
// points of a journey.
func (t *Topology) EntryStages() []string {
	inbound := make(map[string]bool)
	for _, dests := range t.Transitions {
		for _, d := range dests {
			inbound[d] = true
		}
	}
	var entries []string
	for _, s := range t.Stages {
		if !inbound[s] {
			entries = append(entries, s)
		}
	}
	return entries
}

// IsEntry reports whether stage is a valid journey start.
func (t *Topology) IsEntry(stage string) bool {
	for _, s := range t.EntryStages() {
		if s == stage {
			return true
		}
	}
	return false
}

// Predecessors returns the stages that may transition into `stage`.
func (t *Topology) Predecessors(stage string) []string {
	var preds []string
	for _, from := range t.Stages {
		if t.CanFollow(from, stage) {
			preds = append(preds, from)
		}
	}
	return preds
}

// Validate checks the topology for internal consistency: at least one stage,
// transitions only between known stages, terminal stages known.
func (t *Topology) Validate() error {
	if len(t.Stages) == 0 {
		return errNoStages
	}
	for from, dests := range t.Transitions {
		if !t.Known(from) {
			return unknownStageErr(from)
		}
		for _, d := range dests {
			if !t.Known(d) {
				return unknownStageErr(d)
			}
		}
	}
	for _, s := range t.Terminal {
		if !t.Known(s) {
			return unknownStageErr(s)
		}
	}
	return nil
}

func unknownStageErr(stage string) error {
	return &UnknownStageError{Stage: stage}
}

// UnknownStageError reports a stage name outside the configured set.
type UnknownStageError struct {
	Stage string
}

func (e *UnknownStageError) Error() string {
	return "unknown stage " + strings.ToUpper(e.Stage)
}
