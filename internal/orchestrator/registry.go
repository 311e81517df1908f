// Package orchestrator implements the coordination core: a module registry,
// a score-driven task distributor, and a feedback aggregator, composed
// behind a single serialized tick loop.
//
// Core concepts:
//   - Registry: known modules, their capability tags, and liveness
//   - Distributor: pending-task queue and greedy best-score assignment
//   - Aggregator: exponentially decayed per-module performance metrics
//   - Tick: one pass of sweep → reassign → match, fully serialized
package orchestrator

import (
	"sort"
	"sync"
	"time"

	"github.com/synapse-grid/synapse/internal/domain"
)

// Registry tracks known modules, their declared capabilities, and liveness.
type Registry struct {
	mu      sync.Mutex
	modules map[string]*domain.Module
}

// NewRegistry creates an empty module registry.
func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]*domain.Module)}
}

// Register adds a module with the given capability tags. Re-registering
// with the identical capability set refreshes the heartbeat; a differing
// set is rejected with ErrDuplicateModule.
func (r *Registry) Register(id string, capabilities []string) (domain.Module, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.modules[id]; ok {
		if !domain.SameCapabilities(existing.Capabilities, capabilities) {
			return domain.Module{}, domain.ErrDuplicateModule
		}
		existing.LastHeartbeat = time.Now()
		return *existing, nil
	}

	caps := append([]string(nil), capabilities...)
	sort.Strings(caps)
	m := &domain.Module{
		ID:            id,
		Capabilities:  caps,
		Status:        domain.ModuleRegistered,
		LastHeartbeat: time.Now(),
		Score:         domain.NeutralScore,
	}
	r.modules[id] = m
	return *m, nil
}

// Heartbeat refreshes a module's liveness timestamp. An Error module stays
// Error — only an explicit Reset clears it.
func (r *Registry) Heartbeat(id string) (domain.Module, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.modules[id]
	if !ok {
		return domain.Module{}, domain.ErrUnknownModule
	}
	m.LastHeartbeat = time.Now()
	return *m, nil
}

// SetEvolving toggles a module's self-reported Evolving state. Evolving
// modules keep heartbeating but are excluded from matching.
func (r *Registry) SetEvolving(id string, evolving bool) (domain.Module, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.modules[id]
	if !ok {
		return domain.Module{}, domain.ErrUnknownModule
	}
	if m.Status == domain.ModuleError {
		return *m, nil // reset first
	}
	if evolving {
		m.Status = domain.ModuleEvolving
	} else if m.Status == domain.ModuleEvolving {
		m.Status = domain.ModuleIdle
	}
	return *m, nil
}

// Reset clears a module out of Error back to Idle and refreshes its
// heartbeat, making it eligible for assignment again.
func (r *Registry) Reset(id string) (domain.Module, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.modules[id]
	if !ok {
		return domain.Module{}, domain.ErrUnknownModule
	}
	if m.Status == domain.ModuleError {
		m.Status = domain.ModuleIdle
		m.LastHeartbeat = time.Now()
	}
	return *m, nil
}

// MarkError forces a module into Error (failure report or missed heartbeats).
func (r *Registry) MarkError(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.modules[id]; ok {
		m.Status = domain.ModuleError
	}
}

// UpdateActivity derives Active/Idle from the module's in-flight count.
// Error and Evolving are sticky and not overwritten here.
func (r *Registry) UpdateActivity(id string, inFlight int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.modules[id]
	if !ok || m.Status == domain.ModuleError || m.Status == domain.ModuleEvolving {
		return
	}
	if inFlight > 0 {
		m.Status = domain.ModuleActive
	} else {
		m.Status = domain.ModuleIdle
	}
}

// SetScore caches the latest composite score on the module record.
func (r *Registry) SetScore(id string, score float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.modules[id]; ok {
		m.Score = domain.Clamp01(score)
	}
}

// ListCapable returns the modules whose capability set is a superset of
// the required tags and that are currently assignable. An empty result is
// valid, not an error.
func (r *Registry) ListCapable(required []string) []domain.Module {
	r.mu.Lock()
	defer r.mu.Unlock()

	var capable []domain.Module
	for _, m := range r.modules {
		if m.Assignable() && m.HasCapabilities(required) {
			capable = append(capable, *m)
		}
	}
	sort.Slice(capable, func(i, j int) bool { return capable[i].ID < capable[j].ID })
	return capable
}

// AnyProvides reports whether any registered module, regardless of status,
// declares a superset of the required tags. Used for unmet-demand
// detection: a busy or errored provider still counts as supply.
func (r *Registry) AnyProvides(required []string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range r.modules {
		if m.HasCapabilities(required) {
			return true
		}
	}
	return false
}

// SweepExpired transitions modules whose heartbeat age exceeds timeout to
// Error and returns the newly-expired ids. The caller reassigns their
// in-flight tasks afterwards.
func (r *Registry) SweepExpired(now time.Time, timeout time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []string
	for id, m := range r.modules {
		if m.Status == domain.ModuleError {
			continue
		}
		if m.HeartbeatAge(now) > timeout {
			m.Status = domain.ModuleError
			expired = append(expired, id)
		}
	}
	sort.Strings(expired)
	return expired
}

// Expired returns every module, regardless of status, whose heartbeat age
// exceeds timeout. SweepExpired reports only newly-errored modules; this
// view also covers modules already in Error from a failure report, so
// their in-flight tasks can still be requeued once they go silent.
func (r *Registry) Expired(now time.Time, timeout time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var dead []string
	for id, m := range r.modules {
		if m.HeartbeatAge(now) > timeout {
			dead = append(dead, id)
		}
	}
	sort.Strings(dead)
	return dead
}

// Get returns a copy of a module record.
func (r *Registry) Get(id string) (domain.Module, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.modules[id]
	if !ok {
		return domain.Module{}, domain.ErrUnknownModule
	}
	return *m, nil
}

// List returns all registered modules ordered by id.
func (r *Registry) List() []domain.Module {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := make([]domain.Module, 0, len(r.modules))
	for _, m := range r.modules {
		all = append(all, *m)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all
}

// Restore seeds a module from persistent storage at startup.
func (r *Registry) Restore(m domain.Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := m
	r.modules[m.ID] = &cp
}

// CountByStatus returns module counts keyed by status.
func (r *Registry) CountByStatus() map[domain.ModuleStatus]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[domain.ModuleStatus]int)
	for _, m := range r.modules {
		counts[m.Status]++
	}
	return counts
}
