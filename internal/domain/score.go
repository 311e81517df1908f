// Package domain — performance scoring types.
package domain

import "time"

// PerformanceRecord holds per-module rolling metrics. Each metric is an
// exponentially decayed running average in [0,1], updated only by the
// feedback aggregator.
type PerformanceRecord struct {
	ModuleID      string    `json:"module_id"`
	SuccessRate   float64   `json:"success_rate"`
	LatencyScore  float64   `json:"latency_score"` // normalized inverse completion time
	Adaptability  float64   `json:"adaptability"`  // cross-domain observations
	Metacognitive float64   `json:"metacognitive"` // self-reported confidence
	Observations  int64     `json:"observations"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NeutralScore is assumed for modules with no performance history, so a
// fresh module competes on equal footing instead of erroring the match.
const NeutralScore = 0.5

// Composite metric weights. Success rate dominates; the rest refine
// ordering between similarly reliable modules.
const (
	WeightSuccess       = 0.40
	WeightLatency       = 0.25
	WeightAdaptability  = 0.20
	WeightMetacognitive = 0.15
)

// Composite combines the four metrics into a single score in [0,1].
func (r *PerformanceRecord) Composite() float64 {
	return WeightSuccess*r.SuccessRate +
		WeightLatency*r.LatencyScore +
		WeightAdaptability*r.Adaptability +
		WeightMetacognitive*r.Metacognitive
}

// Blend applies the exponential decay update to a metric: old evidence is
// discounted multiplicatively before the new observation is mixed in.
func Blend(old, observed, decay float64) float64 {
	v := decay*old + (1-decay)*observed
	return Clamp01(v)
}

// Clamp01 bounds a score to [0,1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
