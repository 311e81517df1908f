package orchestrator

import (
	"sync"
	"time"

	"github.com/synapse-grid/synapse/internal/domain"
)

// ─── Feedback Aggregator ────────────────────────────────────────────────────
// Records task outcomes and derives per-module performance scores. Each
// metric is an exponentially decayed running average: historical evidence
// is discounted multiplicatively before a new observation is blended in,
// so a long history can never outweigh a full reset.

// ScoringConfig configures the decay blend.
type ScoringConfig struct {
	DecayRate        float64 // weight on history per observation (default 0.95)
	CrossDomainBonus float64 // multiplier on cross-domain observations (default 1.25)
	LatencyRefSecs   float64 // completion time mapping to a 0.5 latency score (default 30)
}

// DefaultScoringConfig returns production scoring defaults.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		DecayRate:        0.95,
		CrossDomainBonus: 1.25,
		LatencyRefSecs:   30,
	}
}

// Aggregator maintains the per-module PerformanceRecords.
type Aggregator struct {
	mu      sync.Mutex
	config  ScoringConfig
	records map[string]*domain.PerformanceRecord
}

// NewAggregator creates a feedback aggregator.
func NewAggregator(cfg ScoringConfig) *Aggregator {
	if cfg.DecayRate <= 0 || cfg.DecayRate >= 1 {
		cfg.DecayRate = 0.95
	}
	if cfg.LatencyRefSecs <= 0 {
		cfg.LatencyRefSecs = 30
	}
	return &Aggregator{config: cfg, records: make(map[string]*domain.PerformanceRecord)}
}

// RecordOutcome folds a task outcome into the module's performance record
// and returns the updated record.
func (a *Aggregator) RecordOutcome(o domain.Outcome) domain.PerformanceRecord {
	a.mu.Lock()
	defer a.mu.Unlock()

	r, ok := a.records[o.ModuleID]
	if !ok {
		// First observation starts from the neutral prior.
		r = &domain.PerformanceRecord{
			ModuleID:      o.ModuleID,
			SuccessRate:   domain.NeutralScore,
			LatencyScore:  domain.NeutralScore,
			Adaptability:  domain.NeutralScore,
			Metacognitive: domain.NeutralScore,
		}
		a.records[o.ModuleID] = r
	}

	decay := a.config.DecayRate

	successObs := 0.0
	if o.Success {
		successObs = 1.0
	}
	r.SuccessRate = domain.Blend(r.SuccessRate, successObs, decay)

	// Normalized inverse latency: LatencyRefSecs maps to 0.5.
	latencyObs := 1.0 / (1.0 + o.CompletionSeconds/a.config.LatencyRefSecs)
	r.LatencyScore = domain.Blend(r.LatencyScore, latencyObs, decay)

	adaptObs := 0.0
	if o.CrossDomain {
		adaptObs = domain.Clamp01(successObs * a.config.CrossDomainBonus)
		if !o.Success {
			// A cross-domain attempt still shows reach, just weakly.
			adaptObs = domain.Clamp01(0.25 * a.config.CrossDomainBonus)
		}
	}
	r.Adaptability = domain.Blend(r.Adaptability, adaptObs, decay)

	r.Metacognitive = domain.Blend(r.Metacognitive, domain.Clamp01(o.Confidence), decay)

	r.Observations++
	r.UpdatedAt = time.Now()
	return *r
}

// CurrentScore returns the module's composite score. ErrUnknownModule means
// no record exists yet; the distributor substitutes the neutral default
// instead of failing the match cycle.
func (a *Aggregator) CurrentScore(moduleID string) (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	r, ok := a.records[moduleID]
	if !ok {
		return 0, domain.ErrUnknownModule
	}
	return r.Composite(), nil
}

// Record returns a copy of a module's performance record.
func (a *Aggregator) Record(moduleID string) (domain.PerformanceRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	r, ok := a.records[moduleID]
	if !ok {
		return domain.PerformanceRecord{}, domain.ErrUnknownModule
	}
	return *r, nil
}

// Restore seeds a record from persistent storage at startup.
func (a *Aggregator) Restore(r domain.PerformanceRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := r
	a.records[r.ModuleID] = &cp
}
