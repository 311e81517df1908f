package orchestrator

import (
	"errors"
	"math"
	"testing"

	"github.com/synapse-grid/synapse/internal/domain"
)

func successOutcome(moduleID string) domain.Outcome {
	return domain.Outcome{
		ModuleID:          moduleID,
		TaskID:            "t1",
		Success:           true,
		CompletionSeconds: 10,
		Confidence:        0.8,
	}
}

// ─── RecordOutcome ──────────────────────────────────────────────────────────

func TestAggregator_FirstOutcomeStartsFromNeutral(t *testing.T) {
	a := NewAggregator(DefaultScoringConfig())

	rec := a.RecordOutcome(successOutcome("m1"))
	// 0.95*0.5 + 0.05*1.0
	want := 0.95*domain.NeutralScore + 0.05
	if math.Abs(rec.SuccessRate-want) > 1e-9 {
		t.Errorf("SuccessRate = %f, want %f", rec.SuccessRate, want)
	}
	if rec.Observations != 1 {
		t.Errorf("Observations = %d, want 1", rec.Observations)
	}
}

func TestAggregator_SuccessRaisesScore(t *testing.T) {
	a := NewAggregator(DefaultScoringConfig())
	a.RecordOutcome(successOutcome("m1"))
	prior, err := a.CurrentScore("m1")
	if err != nil {
		t.Fatalf("CurrentScore() error: %v", err)
	}

	a.RecordOutcome(successOutcome("m1"))
	after, _ := a.CurrentScore("m1")
	if after <= prior {
		t.Errorf("score after success = %f, want > prior %f", after, prior)
	}
}

func TestAggregator_FailureLowersSuccessRate(t *testing.T) {
	a := NewAggregator(DefaultScoringConfig())
	a.RecordOutcome(successOutcome("m1"))
	prior, _ := a.Record("m1")

	out := successOutcome("m1")
	out.Success = false
	rec := a.RecordOutcome(out)
	if rec.SuccessRate >= prior.SuccessRate {
		t.Errorf("SuccessRate after failure = %f, want < %f", rec.SuccessRate, prior.SuccessRate)
	}
}

func TestAggregator_RepeatedSuccessApproachesOne(t *testing.T) {
	a := NewAggregator(DefaultScoringConfig())

	prev := 0.0
	var rec domain.PerformanceRecord
	for i := 0; i < 100; i++ {
		rec = a.RecordOutcome(successOutcome("m1"))
		if rec.SuccessRate > 1.0 {
			t.Fatalf("SuccessRate exceeded 1.0: %f", rec.SuccessRate)
		}
		if rec.SuccessRate <= prev {
			t.Fatalf("observation %d: SuccessRate did not increase (%f -> %f)", i, prev, rec.SuccessRate)
		}
		prev = rec.SuccessRate
	}
	if rec.SuccessRate < 0.99 {
		t.Errorf("SuccessRate after 100 successes = %f, want > 0.99", rec.SuccessRate)
	}
}

func TestAggregator_LatencyNormalization(t *testing.T) {
	a := NewAggregator(ScoringConfig{DecayRate: 0.5, LatencyRefSecs: 30})

	fast := successOutcome("fast")
	fast.CompletionSeconds = 1
	slow := successOutcome("slow")
	slow.CompletionSeconds = 300

	recFast := a.RecordOutcome(fast)
	recSlow := a.RecordOutcome(slow)
	if recFast.LatencyScore <= recSlow.LatencyScore {
		t.Errorf("fast latency score %f should exceed slow %f",
			recFast.LatencyScore, recSlow.LatencyScore)
	}
}

func TestAggregator_CrossDomainBonus(t *testing.T) {
	a := NewAggregator(DefaultScoringConfig())

	plain := successOutcome("plain")
	cross := successOutcome("cross")
	cross.CrossDomain = true

	recPlain := a.RecordOutcome(plain)
	recCross := a.RecordOutcome(cross)
	if recCross.Adaptability <= recPlain.Adaptability {
		t.Errorf("cross-domain adaptability %f should exceed plain %f",
			recCross.Adaptability, recPlain.Adaptability)
	}
}

func TestAggregator_ConfidenceClamped(t *testing.T) {
	a := NewAggregator(DefaultScoringConfig())

	out := successOutcome("m1")
	out.Confidence = 3.0
	rec := a.RecordOutcome(out)
	if rec.Metacognitive > 1.0 {
		t.Errorf("Metacognitive = %f, want ≤ 1.0", rec.Metacognitive)
	}
}

// ─── CurrentScore ───────────────────────────────────────────────────────────

func TestAggregator_CurrentScore_Unknown(t *testing.T) {
	a := NewAggregator(DefaultScoringConfig())
	if _, err := a.CurrentScore("ghost"); !errors.Is(err, domain.ErrUnknownModule) {
		t.Errorf("CurrentScore(unknown) err = %v, want ErrUnknownModule", err)
	}
}

func TestAggregator_ScoreBounds(t *testing.T) {
	a := NewAggregator(DefaultScoringConfig())
	for i := 0; i < 50; i++ {
		a.RecordOutcome(domain.Outcome{
			ModuleID:          "m1",
			Success:           true,
			CompletionSeconds: 0,
			CrossDomain:       true,
			Confidence:        1.0,
		})
	}
	score, _ := a.CurrentScore("m1")
	if score < 0 || score > 1 {
		t.Errorf("composite score out of [0,1]: %f", score)
	}
}

func TestAggregator_Restore(t *testing.T) {
	a := NewAggregator(DefaultScoringConfig())
	a.Restore(domain.PerformanceRecord{ModuleID: "m1", SuccessRate: 0.9})

	rec, err := a.Record("m1")
	if err != nil {
		t.Fatalf("Record() after restore: %v", err)
	}
	if rec.SuccessRate != 0.9 {
		t.Errorf("restored SuccessRate = %f, want 0.9", rec.SuccessRate)
	}
}
