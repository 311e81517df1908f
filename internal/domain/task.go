// Package domain — task types.
// A Task is a unit of work that flows through the orchestrator:
// submit → match → assign → report outcome.
package domain

import "time"

// TaskStatus tracks task lifecycle.
type TaskStatus string

const (
	TaskPending   TaskStatus = "PENDING"
	TaskAssigned  TaskStatus = "ASSIGNED"
	TaskCompleted TaskStatus = "COMPLETED"
	TaskFailed    TaskStatus = "FAILED"
	TaskCancelled TaskStatus = "CANCELLED"
)

// Priority classes. Lower value schedules first; priority is a tie-break
// between pending tasks, never preemption of assigned ones.
const (
	PCritical = 0
	PHigh     = 1
	PMedium   = 2
	PLow      = 3
	PEmergent = 4 // self-generated follow-up work, scheduled last
)

// PriorityLabel returns a human-readable label for a priority class.
func PriorityLabel(p int) string {
	switch p {
	case PCritical:
		return "CRITICAL"
	case PHigh:
		return "HIGH"
	case PMedium:
		return "MEDIUM"
	case PLow:
		return "LOW"
	case PEmergent:
		return "EMERGENT"
	default:
		return "UNKNOWN"
	}
}

// Task is a unit of work requiring a set of capability tags.
type Task struct {
	ID           string     `json:"id"`
	RequiredCaps []string   `json:"required_caps"`
	Priority     int        `json:"priority"`
	Status       TaskStatus `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	AssignedAt   time.Time  `json:"assigned_at,omitempty"`
	CompletedAt  time.Time  `json:"completed_at,omitempty"`
	AssignedTo   string     `json:"assigned_to,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// IsTerminal returns true if the task has reached a final state.
func (t *Task) IsTerminal() bool {
	return t.Status == TaskCompleted || t.Status == TaskFailed || t.Status == TaskCancelled
}

// Outcome is a module's report for an assigned task.
type Outcome struct {
	TaskID            string  `json:"task_id"`
	ModuleID          string  `json:"module_id"`
	Success           bool    `json:"success"`
	CompletionSeconds float64 `json:"completion_seconds"`
	CrossDomain       bool    `json:"cross_domain"`
	Confidence        float64 `json:"confidence"` // self-reported, [0,1]
	Error             string  `json:"error,omitempty"`
}

// Assignment pairs a task with the module selected to execute it.
type Assignment struct {
	TaskID   string `json:"task_id"`
	ModuleID string `json:"module_id"`
}
