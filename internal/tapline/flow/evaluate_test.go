package flow

import (
	"strings"
	"testing"
	"time"
)

var t0 = time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)

func taps(pairs ...any) []PriorTap {
	var out []PriorTap
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, PriorTap{
			Stage: pairs[i].(string),
			At:    pairs[i+1].(time.Time),
		})
	}
	return out
}

func TestEvaluate_FirstTapAtEntryStage_CleanAccept(t *testing.T) {
	d := Evaluate(DefaultTopology(), nil, StageQueueJoin, t0, Options{AllowOutOfOrder: true})
	if !d.Accept || d.Duplicate || d.OutOfOrder || d.Warning != "" {
		t.Fatalf("expected clean accept, got %+v", d)
	}
}

func TestEvaluate_ValidTransition_CleanAccept(t *testing.T) {
	prior := taps(StageQueueJoin, t0)
	d := Evaluate(DefaultTopology(), prior, StageServiceStart, t0.Add(10*time.Minute), Options{AllowOutOfOrder: true})
	if !d.Accept || d.OutOfOrder {
		t.Fatalf("expected clean accept, got %+v", d)
	}
}

func TestEvaluate_FirstTapMidPipeline_OutOfOrderButAccepted(t *testing.T) {
	d := Evaluate(DefaultTopology(), nil, StageServiceStart, t0, Options{AllowOutOfOrder: true})
	if !d.Accept {
		t.Fatalf("expected accept under log-with-warning policy, got %+v", d)
	}
	if !d.OutOfOrder {
		t.Error("expected out_of_order=true")
	}
	if !strings.Contains(d.Warning, "missing QUEUE_JOIN") {
		t.Errorf("expected warning to name missing QUEUE_JOIN, got %q", d.Warning)
	}
	if d.Suggestion == "" {
		t.Error("expected a suggestion for operator review")
	}
}

func TestEvaluate_TapAfterTerminal_OutOfOrder(t *testing.T) {
	prior := taps(StageQueueJoin, t0, StageExit, t0.Add(20*time.Minute))
	d := Evaluate(DefaultTopology(), prior, StageServiceStart, t0.Add(30*time.Minute), Options{AllowOutOfOrder: true})
	if !d.Accept || !d.OutOfOrder {
		t.Fatalf("expected accepted out-of-order tap, got %+v", d)
	}
	if !strings.Contains(d.Warning, "terminal EXIT") {
		t.Errorf("expected warning about terminal EXIT, got %q", d.Warning)
	}
}

func TestEvaluate_OutOfOrderHardReject(t *testing.T) {
	d := Evaluate(DefaultTopology(), nil, StageExit, t0, Options{AllowOutOfOrder: false})
	if d.Accept {
		t.Fatalf("expected hard rejection, got %+v", d)
	}
	if !d.OutOfOrder || d.Duplicate {
		t.Errorf("expected out_of_order rejection, got %+v", d)
	}
}

func TestEvaluate_RetapWithinGrace_AcceptedAsCorrection(t *testing.T) {
	prior := taps(StageQueueJoin, t0)
	d := Evaluate(DefaultTopology(), prior, StageQueueJoin, t0.Add(1*time.Minute), Options{AllowOutOfOrder: true})
	if !d.Accept {
		t.Fatalf("expected correction accept, got %+v", d)
	}
	if d.Duplicate || d.OutOfOrder {
		t.Errorf("correction must not be flagged duplicate or out-of-order: %+v", d)
	}
	if !strings.Contains(d.Warning, "correction") {
		t.Errorf("expected correction warning, got %q", d.Warning)
	}
}

func TestEvaluate_RetapAfterGrace_DuplicateRejected(t *testing.T) {
	prior := taps(StageQueueJoin, t0)
	d := Evaluate(DefaultTopology(), prior, StageQueueJoin, t0.Add(6*time.Minute), Options{AllowOutOfOrder: true})
	if d.Accept {
		t.Fatalf("expected duplicate rejection, got %+v", d)
	}
	if !d.Duplicate {
		t.Error("expected duplicate=true")
	}
	if d.Suggestion == "" {
		t.Error("expected suggestion pointing at manual correction")
	}
}

func TestEvaluate_GraceBoundaryIsInclusive(t *testing.T) {
	prior := taps(StageQueueJoin, t0)
	d := Evaluate(DefaultTopology(), prior, StageQueueJoin, t0.Add(5*time.Minute), Options{AllowOutOfOrder: true})
	if !d.Accept {
		t.Fatalf("tap exactly at the grace boundary should be a correction, got %+v", d)
	}
}

func TestEvaluate_CustomGraceWindow(t *testing.T) {
	prior := taps(StageQueueJoin, t0)
	d := Evaluate(DefaultTopology(), prior, StageQueueJoin, t0.Add(8*time.Minute),
		Options{AllowOutOfOrder: true, Grace: 10 * time.Minute})
	if !d.Accept {
		t.Fatalf("expected accept within custom grace, got %+v", d)
	}
}

func TestEvaluate_SkipDuplicateCheck_ManualPath(t *testing.T) {
	prior := taps(StageQueueJoin, t0)
	// Far outside grace, but the manual path bypasses the duplicate policy.
	d := Evaluate(DefaultTopology(), prior, StageQueueJoin, t0.Add(2*time.Hour),
		Options{AllowOutOfOrder: true, SkipDuplicateCheck: true})
	if !d.Accept {
		t.Fatalf("expected accept with duplicate check skipped, got %+v", d)
	}
	if d.Duplicate {
		t.Error("duplicate flag must not be set when the check is skipped")
	}
}

func TestEvaluate_UnknownStage_Rejected(t *testing.T) {
	d := Evaluate(DefaultTopology(), nil, "LUNCH_BREAK", t0, Options{AllowOutOfOrder: true})
	if d.Accept {
		t.Fatalf("unknown stage must never be accepted, got %+v", d)
	}
	if !strings.Contains(d.Warning, "LUNCH_BREAK") {
		t.Errorf("warning should name the stage, got %q", d.Warning)
	}
}

func TestEvaluate_DuplicateCheckedAgainstLatestSameStageTap(t *testing.T) {
	// First QUEUE_JOIN at t0, correction at t0+3m. A third tap at t0+7m is
	// within grace of the correction even though it is outside grace of the
	// original.
	prior := taps(StageQueueJoin, t0, StageQueueJoin, t0.Add(3*time.Minute))
	d := Evaluate(DefaultTopology(), prior, StageQueueJoin, t0.Add(7*time.Minute), Options{AllowOutOfOrder: true})
	if !d.Accept {
		t.Fatalf("expected correction relative to latest tap, got %+v", d)
	}
}
