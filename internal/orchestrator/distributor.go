package orchestrator

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/synapse-grid/synapse/internal/domain"
)

// ─── Task Distributor ───────────────────────────────────────────────────────
// Matches pending tasks to capable, available modules and tracks in-flight
// work. Matching is greedy highest-score-first: task volume is modest and
// the match runs on every tick, so the next pass self-corrects any
// suboptimal greedy choice.

// DistributorConfig configures matching limits.
type DistributorConfig struct {
	MaxTasksPerModule int // concurrency cap per module (default 5)
}

// DefaultDistributorConfig returns production matching defaults.
func DefaultDistributorConfig() DistributorConfig {
	return DistributorConfig{MaxTasksPerModule: 5}
}

// Distributor owns the task table and assignment state.
type Distributor struct {
	mu       sync.Mutex
	config   DistributorConfig
	registry *Registry
	scores   *Aggregator

	tasks    map[string]*domain.Task
	inFlight map[string]int // moduleID → assigned task count
}

// NewDistributor creates a distributor wired to a registry and aggregator.
func NewDistributor(cfg DistributorConfig, reg *Registry, agg *Aggregator) *Distributor {
	if cfg.MaxTasksPerModule <= 0 {
		cfg.MaxTasksPerModule = 5
	}
	return &Distributor{
		config:   cfg,
		registry: reg,
		scores:   agg,
		tasks:    make(map[string]*domain.Task),
		inFlight: make(map[string]int),
	}
}

// Submit enqueues a task as Pending. A task with no required capability
// tags is rejected with ErrInvalidTask. A missing id is generated.
func (d *Distributor) Submit(t domain.Task) (domain.Task, error) {
	if len(t.RequiredCaps) == 0 {
		return domain.Task{}, domain.ErrInvalidTask
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if _, exists := d.tasks[t.ID]; exists {
		return domain.Task{}, domain.ErrInvalidTask
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	if t.Priority < domain.PCritical {
		t.Priority = domain.PCritical
	}
	if t.Priority > domain.PEmergent {
		t.Priority = domain.PEmergent
	}

	t.Status = domain.TaskPending
	t.AssignedTo = ""
	caps := append([]string(nil), t.RequiredCaps...)
	sort.Strings(caps)
	t.RequiredCaps = caps

	cp := t
	d.tasks[t.ID] = &cp
	return t, nil
}

// Cancel aborts a Pending task. Assigned tasks cannot be cancelled — the
// module must complete or fail them first.
func (d *Distributor) Cancel(taskID string) (domain.Task, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	t, ok := d.tasks[taskID]
	if !ok || t.IsTerminal() {
		return domain.Task{}, domain.ErrUnknownTask
	}
	if t.Status == domain.TaskAssigned {
		return domain.Task{}, domain.ErrTaskNotCancelable
	}
	t.Status = domain.TaskCancelled
	t.CompletedAt = time.Now()
	return *t, nil
}

// MatchAndAssign walks Pending tasks in priority order (Critical first,
// FIFO within a class) and assigns each to the eligible module with the
// highest composite score. Ties break by lowest in-flight count, then by
// module id for determinism. Tasks with no eligible module stay Pending.
func (d *Distributor) MatchAndAssign() []domain.Assignment {
	d.mu.Lock()
	defer d.mu.Unlock()

	pending := make([]*domain.Task, 0)
	for _, t := range d.tasks {
		if t.Status == domain.TaskPending {
			pending = append(pending, t)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].Priority != pending[j].Priority {
			return pending[i].Priority < pending[j].Priority
		}
		if !pending[i].CreatedAt.Equal(pending[j].CreatedAt) {
			return pending[i].CreatedAt.Before(pending[j].CreatedAt)
		}
		return pending[i].ID < pending[j].ID
	})

	var made []domain.Assignment
	for _, t := range pending {
		best, ok := d.selectModuleLocked(t.RequiredCaps)
		if !ok {
			continue
		}
		t.Status = domain.TaskAssigned
		t.AssignedTo = best
		t.AssignedAt = time.Now()
		d.inFlight[best]++
		d.registry.UpdateActivity(best, d.inFlight[best])
		made = append(made, domain.Assignment{TaskID: t.ID, ModuleID: best})
	}
	return made
}

// selectModuleLocked picks the best-scoring capable module with spare
// capacity. Returns false when no module is eligible.
func (d *Distributor) selectModuleLocked(required []string) (string, bool) {
	candidates := d.registry.ListCapable(required)

	bestID := ""
	bestScore := -1.0
	bestLoad := 0
	for _, m := range candidates {
		load := d.inFlight[m.ID]
		if load >= d.config.MaxTasksPerModule {
			continue
		}
		score, err := d.scores.CurrentScore(m.ID)
		if err != nil {
			score = domain.NeutralScore // no history yet
		}
		switch {
		case score > bestScore:
		case score == bestScore && load < bestLoad:
		case score == bestScore && load == bestLoad && m.ID < bestID:
		default:
			continue
		}
		bestID, bestScore, bestLoad = m.ID, score, load
	}
	return bestID, bestID != ""
}

// ReportOutcome applies a module's completion or failure report. A task
// that is not currently Assigned — including one already reported — is
// rejected with ErrUnknownTask, which makes duplicate reports harmless.
func (d *Distributor) ReportOutcome(o domain.Outcome) (domain.Task, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	t, ok := d.tasks[o.TaskID]
	if !ok || t.Status != domain.TaskAssigned {
		return domain.Task{}, domain.ErrUnknownTask
	}
	if o.ModuleID != "" && o.ModuleID != t.AssignedTo {
		return domain.Task{}, domain.ErrUnknownTask
	}

	moduleID := t.AssignedTo
	if o.Success {
		t.Status = domain.TaskCompleted
	} else {
		t.Status = domain.TaskFailed
		t.Error = o.Error
	}
	t.CompletedAt = time.Now()

	if d.inFlight[moduleID] > 0 {
		d.inFlight[moduleID]--
	}
	d.registry.UpdateActivity(moduleID, d.inFlight[moduleID])
	if !o.Success {
		// A failure report parks the module in Error until an explicit reset.
		d.registry.MarkError(moduleID)
	}

	o.ModuleID = moduleID
	rec := d.scores.RecordOutcome(o)
	d.registry.SetScore(moduleID, rec.Composite())
	return *t, nil
}

// ReassignExpired returns every task assigned to the given (now-Error)
// modules back to Pending so the next match can redistribute them.
func (d *Distributor) ReassignExpired(moduleIDs []string) []domain.Task {
	if len(moduleIDs) == 0 {
		return nil
	}
	dead := make(map[string]bool, len(moduleIDs))
	for _, id := range moduleIDs {
		dead[id] = true
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var returned []domain.Task
	for _, t := range d.tasks {
		if t.Status == domain.TaskAssigned && dead[t.AssignedTo] {
			d.inFlight[t.AssignedTo]--
			if d.inFlight[t.AssignedTo] <= 0 {
				delete(d.inFlight, t.AssignedTo)
			}
			t.Status = domain.TaskPending
			t.AssignedTo = ""
			t.AssignedAt = time.Time{}
			returned = append(returned, *t)
		}
	}
	sort.Slice(returned, func(i, j int) bool { return returned[i].ID < returned[j].ID })
	return returned
}

// EvictTerminal drops terminal tasks older than the retention window and
// returns the evicted ids.
func (d *Distributor) EvictTerminal(now time.Time, retention time.Duration) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var evicted []string
	for id, t := range d.tasks {
		if t.IsTerminal() && now.Sub(t.CompletedAt) > retention {
			delete(d.tasks, id)
			evicted = append(evicted, id)
		}
	}
	sort.Strings(evicted)
	return evicted
}

// InFlight returns a module's current assigned task count.
func (d *Distributor) InFlight(moduleID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inFlight[moduleID]
}

// Get returns a copy of a task.
func (d *Distributor) Get(taskID string) (domain.Task, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	t, ok := d.tasks[taskID]
	if !ok {
		return domain.Task{}, domain.ErrUnknownTask
	}
	return *t, nil
}

// List returns tasks, optionally filtered by status, oldest first.
func (d *Distributor) List(status domain.TaskStatus) []domain.Task {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []domain.Task
	for _, t := range d.tasks {
		if status == "" || t.Status == status {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// AssignedTo returns the tasks currently assigned to a module, for
// poll-based delivery.
func (d *Distributor) AssignedTo(moduleID string) []domain.Task {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []domain.Task
	for _, t := range d.tasks {
		if t.Status == domain.TaskAssigned && t.AssignedTo == moduleID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Restore seeds a task from persistent storage at startup. Assigned tasks
// re-enter in-flight accounting.
func (d *Distributor) Restore(t domain.Task) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cp := t
	d.tasks[t.ID] = &cp
	if t.Status == domain.TaskAssigned && t.AssignedTo != "" {
		d.inFlight[t.AssignedTo]++
	}
}

// CountByStatus returns task counts keyed by status.
func (d *Distributor) CountByStatus() map[domain.TaskStatus]int {
	d.mu.Lock()
	defer d.mu.Unlock()

	counts := make(map[domain.TaskStatus]int)
	for _, t := range d.tasks {
		counts[t.Status]++
	}
	return counts
}
