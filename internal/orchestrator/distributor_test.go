package orchestrator

import (
	"errors"
	"testing"
	"time"

	"github.com/synapse-grid/synapse/internal/domain"
)

func newTestDistributor(t *testing.T, maxPerModule int) (*Distributor, *Registry, *Aggregator) {
	t.Helper()
	reg := NewRegistry()
	agg := NewAggregator(DefaultScoringConfig())
	d := NewDistributor(DistributorConfig{MaxTasksPerModule: maxPerModule}, reg, agg)
	return d, reg, agg
}

func taskWith(id string, priority int, createdAt time.Time, caps ...string) domain.Task {
	return domain.Task{
		ID:           id,
		RequiredCaps: caps,
		Priority:     priority,
		CreatedAt:    createdAt,
	}
}

// ─── Submit ─────────────────────────────────────────────────────────────────

func TestDistributor_Submit(t *testing.T) {
	d, _, _ := newTestDistributor(t, 5)

	got, err := d.Submit(taskWith("t1", domain.PMedium, time.Time{}, "research"))
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	if got.Status != domain.TaskPending {
		t.Errorf("Status = %s, want PENDING", got.Status)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}

func TestDistributor_Submit_EmptyCapsInvalid(t *testing.T) {
	d, _, _ := newTestDistributor(t, 5)

	_, err := d.Submit(domain.Task{ID: "t1"})
	if !errors.Is(err, domain.ErrInvalidTask) {
		t.Errorf("Submit(no caps) err = %v, want ErrInvalidTask", err)
	}
}

func TestDistributor_Submit_GeneratesID(t *testing.T) {
	d, _, _ := newTestDistributor(t, 5)

	got, err := d.Submit(domain.Task{RequiredCaps: []string{"research"}})
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	if got.ID == "" {
		t.Error("Submit() did not generate a task id")
	}
}

// ─── MatchAndAssign ─────────────────────────────────────────────────────────

func TestDistributor_MatchAndAssign_Basic(t *testing.T) {
	d, reg, _ := newTestDistributor(t, 5)
	reg.Register("m1", []string{"research"})
	d.Submit(taskWith("t1", domain.PMedium, time.Time{}, "research"))

	made := d.MatchAndAssign()
	if len(made) != 1 {
		t.Fatalf("MatchAndAssign() = %d assignments, want 1", len(made))
	}
	if made[0].TaskID != "t1" || made[0].ModuleID != "m1" {
		t.Errorf("assignment = %+v, want t1 -> m1", made[0])
	}

	task, _ := d.Get("t1")
	if task.Status != domain.TaskAssigned || task.AssignedTo != "m1" {
		t.Errorf("task = %+v, want ASSIGNED to m1", task)
	}
	m, _ := reg.Get("m1")
	if m.Status != domain.ModuleActive {
		t.Errorf("module status = %s, want ACTIVE while holding a task", m.Status)
	}
}

func TestDistributor_MatchAndAssign_PriorityBeforeAge(t *testing.T) {
	d, reg, _ := newTestDistributor(t, 1)
	reg.Register("m1", []string{"research"})

	t0 := time.Now()
	// Low-priority task is older; Critical still wins.
	d.Submit(taskWith("t-low", domain.PLow, t0, "research"))
	d.Submit(taskWith("t-critical", domain.PCritical, t0.Add(time.Second), "research"))

	made := d.MatchAndAssign()
	if len(made) != 1 {
		t.Fatalf("MatchAndAssign() = %d assignments, want 1 (capacity 1)", len(made))
	}
	if made[0].TaskID != "t-critical" {
		t.Errorf("assigned %s first, want t-critical", made[0].TaskID)
	}
}

func TestDistributor_MatchAndAssign_FIFOWithinPriority(t *testing.T) {
	d, reg, _ := newTestDistributor(t, 1)
	reg.Register("m1", []string{"research"})

	t0 := time.Now()
	d.Submit(taskWith("t-later", domain.PMedium, t0.Add(time.Second), "research"))
	d.Submit(taskWith("t-earlier", domain.PMedium, t0, "research"))

	made := d.MatchAndAssign()
	if len(made) != 1 || made[0].TaskID != "t-earlier" {
		t.Errorf("assignments = %v, want t-earlier first", made)
	}
}

func TestDistributor_MatchAndAssign_PrefersHigherScore(t *testing.T) {
	d, reg, agg := newTestDistributor(t, 5)
	reg.Register("m-good", []string{"research"})
	reg.Register("m-bad", []string{"research"})

	// Build history: m-good succeeds, m-bad fails.
	for i := 0; i < 5; i++ {
		agg.RecordOutcome(domain.Outcome{ModuleID: "m-good", Success: true, CompletionSeconds: 1, Confidence: 0.9})
		agg.RecordOutcome(domain.Outcome{ModuleID: "m-bad", Success: false, CompletionSeconds: 100})
	}

	d.Submit(taskWith("t1", domain.PMedium, time.Time{}, "research"))
	made := d.MatchAndAssign()
	if len(made) != 1 || made[0].ModuleID != "m-good" {
		t.Errorf("assignments = %v, want t1 -> m-good", made)
	}
}

func TestDistributor_MatchAndAssign_TieBreakByID(t *testing.T) {
	d, reg, _ := newTestDistributor(t, 5)
	// No history: both neutral 0.5, both idle — lowest id wins.
	reg.Register("m-b", []string{"research"})
	reg.Register("m-a", []string{"research"})

	d.Submit(taskWith("t1", domain.PMedium, time.Time{}, "research"))
	made := d.MatchAndAssign()
	if len(made) != 1 || made[0].ModuleID != "m-a" {
		t.Errorf("assignments = %v, want t1 -> m-a (deterministic tie-break)", made)
	}
}

func TestDistributor_MatchAndAssign_TieBreakByLoad(t *testing.T) {
	d, reg, _ := newTestDistributor(t, 5)
	reg.Register("m-a", []string{"research"})
	reg.Register("m-b", []string{"research"})

	// First assignment loads m-a; with equal scores the second task
	// should go to the emptier m-b.
	d.Submit(taskWith("t1", domain.PMedium, time.Time{}, "research"))
	d.MatchAndAssign()
	d.Submit(taskWith("t2", domain.PMedium, time.Time{}, "research"))
	made := d.MatchAndAssign()
	if len(made) != 1 || made[0].ModuleID != "m-b" {
		t.Errorf("assignments = %v, want t2 -> m-b (load tie-break)", made)
	}
}

func TestDistributor_MatchAndAssign_RespectsCapacity(t *testing.T) {
	d, reg, _ := newTestDistributor(t, 1)
	reg.Register("m2", []string{"validate"})

	d.Submit(taskWith("t1", domain.PMedium, time.Time{}, "validate"))
	d.Submit(taskWith("t2", domain.PMedium, time.Time{}, "validate"))

	made := d.MatchAndAssign()
	if len(made) != 1 || made[0].TaskID != "t1" {
		t.Fatalf("first pass = %v, want [t1 -> m2]", made)
	}

	// m2 at capacity: second task stays Pending.
	if made = d.MatchAndAssign(); len(made) != 0 {
		t.Fatalf("second pass = %v, want none while m2 at capacity", made)
	}
	second, _ := d.Get("t2")
	if second.Status != domain.TaskPending {
		t.Errorf("t2 status = %s, want PENDING", second.Status)
	}

	// Completing t1 frees the slot.
	if _, err := d.ReportOutcome(domain.Outcome{TaskID: "t1", Success: true}); err != nil {
		t.Fatalf("ReportOutcome(t1): %v", err)
	}
	made = d.MatchAndAssign()
	if len(made) != 1 || made[0].TaskID != "t2" {
		t.Errorf("after completion, assignments = %v, want t2 -> m2", made)
	}
}

func TestDistributor_MatchAndAssign_NoEligibleModule(t *testing.T) {
	d, _, _ := newTestDistributor(t, 5)
	d.Submit(taskWith("t1", domain.PMedium, time.Time{}, "research"))

	if made := d.MatchAndAssign(); len(made) != 0 {
		t.Errorf("assignments with no modules = %v, want none", made)
	}
	task, _ := d.Get("t1")
	if task.Status != domain.TaskPending {
		t.Errorf("unmatchable task status = %s, want PENDING", task.Status)
	}
}

// ─── ReportOutcome ──────────────────────────────────────────────────────────

func TestDistributor_ReportOutcome_Success(t *testing.T) {
	d, reg, agg := newTestDistributor(t, 5)
	reg.Register("m1", []string{"research"})
	d.Submit(taskWith("tk1", domain.PMedium, time.Time{}, "research"))
	d.MatchAndAssign()

	task, err := d.ReportOutcome(domain.Outcome{TaskID: "tk1", Success: true, CompletionSeconds: 5, Confidence: 0.9})
	if err != nil {
		t.Fatalf("ReportOutcome() error: %v", err)
	}
	if task.Status != domain.TaskCompleted {
		t.Errorf("task status = %s, want COMPLETED", task.Status)
	}

	rec, err := agg.Record("m1")
	if err != nil {
		t.Fatalf("no performance record after outcome: %v", err)
	}
	if rec.SuccessRate <= domain.NeutralScore {
		t.Errorf("SuccessRate = %f, want above neutral prior", rec.SuccessRate)
	}
	m, _ := reg.Get("m1")
	if m.Status != domain.ModuleIdle {
		t.Errorf("module status = %s, want IDLE after last task completes", m.Status)
	}
}

func TestDistributor_ReportOutcome_FailureMarksModuleError(t *testing.T) {
	d, reg, _ := newTestDistributor(t, 5)
	reg.Register("m1", []string{"research"})
	d.Submit(taskWith("t1", domain.PMedium, time.Time{}, "research"))
	d.MatchAndAssign()

	task, err := d.ReportOutcome(domain.Outcome{TaskID: "t1", Success: false, Error: "boom"})
	if err != nil {
		t.Fatalf("ReportOutcome() error: %v", err)
	}
	if task.Status != domain.TaskFailed || task.Error != "boom" {
		t.Errorf("task = %+v, want FAILED with error", task)
	}
	m, _ := reg.Get("m1")
	if m.Status != domain.ModuleError {
		t.Errorf("module status = %s, want ERROR until reset", m.Status)
	}
}

func TestDistributor_ReportOutcome_Idempotence(t *testing.T) {
	d, reg, _ := newTestDistributor(t, 5)
	reg.Register("m1", []string{"research"})
	d.Submit(taskWith("t1", domain.PMedium, time.Time{}, "research"))
	d.MatchAndAssign()

	if _, err := d.ReportOutcome(domain.Outcome{TaskID: "t1", Success: true}); err != nil {
		t.Fatalf("first ReportOutcome() error: %v", err)
	}
	before, _ := d.Get("t1")

	_, err := d.ReportOutcome(domain.Outcome{TaskID: "t1", Success: true})
	if !errors.Is(err, domain.ErrUnknownTask) {
		t.Errorf("duplicate report err = %v, want ErrUnknownTask", err)
	}
	after, _ := d.Get("t1")
	if after.Status != before.Status || !after.CompletedAt.Equal(before.CompletedAt) {
		t.Error("duplicate report mutated task state")
	}
}

func TestDistributor_ReportOutcome_WrongModuleRejected(t *testing.T) {
	d, reg, _ := newTestDistributor(t, 5)
	reg.Register("m1", []string{"research"})
	d.Submit(taskWith("t1", domain.PMedium, time.Time{}, "research"))
	d.MatchAndAssign()

	_, err := d.ReportOutcome(domain.Outcome{TaskID: "t1", ModuleID: "impostor", Success: true})
	if !errors.Is(err, domain.ErrUnknownTask) {
		t.Errorf("report from wrong module err = %v, want ErrUnknownTask", err)
	}
}

func TestDistributor_ReportOutcome_Unknown(t *testing.T) {
	d, _, _ := newTestDistributor(t, 5)
	_, err := d.ReportOutcome(domain.Outcome{TaskID: "ghost", Success: true})
	if !errors.Is(err, domain.ErrUnknownTask) {
		t.Errorf("ReportOutcome(unknown) err = %v, want ErrUnknownTask", err)
	}
}

// ─── Cancel ─────────────────────────────────────────────────────────────────

func TestDistributor_Cancel(t *testing.T) {
	d, reg, _ := newTestDistributor(t, 5)
	reg.Register("m1", []string{"research"})
	d.Submit(taskWith("t-assigned", domain.PCritical, time.Time{}, "research"))
	d.MatchAndAssign()

	// No module provides "translate" so this one stays pending.
	d.Submit(taskWith("t-late", domain.PLow, time.Time{}, "translate"))

	got, err := d.Cancel("t-late")
	if err != nil {
		t.Fatalf("Cancel(pending) error: %v", err)
	}
	if got.Status != domain.TaskCancelled {
		t.Errorf("status = %s, want CANCELLED", got.Status)
	}

	if _, err := d.Cancel("t-assigned"); !errors.Is(err, domain.ErrTaskNotCancelable) {
		t.Errorf("Cancel(assigned) err = %v, want ErrTaskNotCancelable", err)
	}
	if _, err := d.Cancel("t-late"); !errors.Is(err, domain.ErrUnknownTask) {
		t.Errorf("Cancel(cancelled) err = %v, want ErrUnknownTask", err)
	}
	if _, err := d.Cancel("ghost"); !errors.Is(err, domain.ErrUnknownTask) {
		t.Errorf("Cancel(unknown) err = %v, want ErrUnknownTask", err)
	}
}

// ─── ReassignExpired ────────────────────────────────────────────────────────

func TestDistributor_ReassignExpired(t *testing.T) {
	d, reg, _ := newTestDistributor(t, 5)
	reg.Register("m1", []string{"research"})
	reg.Register("m2", []string{"research"})

	d.Submit(taskWith("t1", domain.PMedium, time.Time{}, "research"))
	made := d.MatchAndAssign()
	if len(made) != 1 {
		t.Fatalf("setup: %d assignments, want 1", len(made))
	}
	victim := made[0].ModuleID

	returned := d.ReassignExpired([]string{victim})
	if len(returned) != 1 || returned[0].ID != "t1" {
		t.Fatalf("ReassignExpired = %v, want [t1]", returned)
	}
	task, _ := d.Get("t1")
	if task.Status != domain.TaskPending || task.AssignedTo != "" {
		t.Errorf("task = %+v, want PENDING and unassigned", task)
	}
	if d.InFlight(victim) != 0 {
		t.Errorf("InFlight(%s) = %d, want 0", victim, d.InFlight(victim))
	}
}

// ─── Eviction / Queries ─────────────────────────────────────────────────────

func TestDistributor_EvictTerminal(t *testing.T) {
	d, reg, _ := newTestDistributor(t, 5)
	reg.Register("m1", []string{"research"})
	d.Submit(taskWith("t1", domain.PMedium, time.Time{}, "research"))
	d.MatchAndAssign()
	d.ReportOutcome(domain.Outcome{TaskID: "t1", Success: true})

	// Inside the window: kept.
	if evicted := d.EvictTerminal(time.Now(), time.Hour); len(evicted) != 0 {
		t.Errorf("evicted fresh terminal task: %v", evicted)
	}
	// Past the window: dropped.
	evicted := d.EvictTerminal(time.Now().Add(25*time.Hour), 24*time.Hour)
	if len(evicted) != 1 || evicted[0] != "t1" {
		t.Errorf("EvictTerminal = %v, want [t1]", evicted)
	}
	if _, err := d.Get("t1"); !errors.Is(err, domain.ErrUnknownTask) {
		t.Error("evicted task still retrievable")
	}
}

func TestDistributor_AssignedTo(t *testing.T) {
	d, reg, _ := newTestDistributor(t, 5)
	reg.Register("m1", []string{"research"})
	d.Submit(taskWith("t1", domain.PMedium, time.Time{}, "research"))
	d.Submit(taskWith("t2", domain.PCritical, time.Time{}, "research"))
	d.MatchAndAssign()

	got := d.AssignedTo("m1")
	if len(got) != 2 {
		t.Fatalf("AssignedTo(m1) = %d tasks, want 2", len(got))
	}
	// Ordered by priority for poll delivery.
	if got[0].ID != "t2" {
		t.Errorf("first polled task = %s, want t2 (critical)", got[0].ID)
	}
}
