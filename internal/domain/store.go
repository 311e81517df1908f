package domain

// ─── Storage Interface ──────────────────────────────────────────────────────
// The orchestrator owns all state in memory; the store is a durability
// collaborator. All operations are keyed by id and idempotent on retry,
// so the write-behind buffer can replay them after an outage.

// Store abstracts persistent storage for modules, tasks, and performance
// records. Implemented by infra/sqlite.DB.
type Store interface {
	PutModule(m Module) error
	GetModule(id string) (*Module, error)
	ListModules() ([]Module, error)

	PutTask(t Task) error
	GetTask(id string) (*Task, error)
	ListTasksByStatus(status TaskStatus, limit int) ([]Task, error)

	PutPerformanceRecord(r PerformanceRecord) error
	GetPerformanceRecord(moduleID string) (*PerformanceRecord, error)
}
