package sqlite

import (
	"database/sql"
	"strings"
	"time"

	"github.com/synapse-grid/synapse/internal/domain"
)

// Capability tags are stored comma-joined; tags are simple labels, so the
// encoding round-trips without escaping.

// ─── Module Repository ──────────────────────────────────────────────────────

// PutModule inserts or updates a module record.
func (d *DB) PutModule(m domain.Module) error {
	_, err := d.db.Exec(
		`INSERT INTO modules (id, capabilities, status, last_heartbeat, score)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			capabilities=excluded.capabilities,
			status=excluded.status,
			last_heartbeat=excluded.last_heartbeat,
			score=excluded.score`,
		m.ID, strings.Join(m.Capabilities, ","), string(m.Status),
		m.LastHeartbeat.Unix(), m.Score,
	)
	return err
}

// GetModule retrieves a module by id. Not found returns (nil, nil).
func (d *DB) GetModule(id string) (*domain.Module, error) {
	row := d.db.QueryRow(
		`SELECT id, capabilities, status, last_heartbeat, score
		 FROM modules WHERE id = ?`, id,
	)
	return scanModule(row)
}

// ListModules returns all modules ordered by id.
func (d *DB) ListModules() ([]domain.Module, error) {
	rows, err := d.db.Query(
		`SELECT id, capabilities, status, last_heartbeat, score
		 FROM modules ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var modules []domain.Module
	for rows.Next() {
		m, err := scanModule(rows)
		if err != nil {
			return nil, err
		}
		modules = append(modules, *m)
	}
	return modules, rows.Err()
}

func scanModule(s scanner) (*domain.Module, error) {
	var m domain.Module
	var caps string
	var heartbeat int64

	err := s.Scan(&m.ID, &caps, &m.Status, &heartbeat, &m.Score)
	if err == sql.ErrNoRows {
		return nil, nil // Not found, no error
	}
	if err != nil {
		return nil, err
	}

	if caps != "" {
		m.Capabilities = strings.Split(caps, ",")
	}
	m.LastHeartbeat = time.Unix(heartbeat, 0)
	return &m, nil
}

// ─── Task Repository ────────────────────────────────────────────────────────

// PutTask inserts or updates a task record.
func (d *DB) PutTask(t domain.Task) error {
	_, err := d.db.Exec(
		`INSERT INTO tasks (id, required_caps, priority, status, created_at, assigned_at, completed_at, assigned_to, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			required_caps=excluded.required_caps,
			priority=excluded.priority,
			status=excluded.status,
			assigned_at=excluded.assigned_at,
			completed_at=excluded.completed_at,
			assigned_to=excluded.assigned_to,
			error=excluded.error`,
		t.ID, strings.Join(t.RequiredCaps, ","), t.Priority, string(t.Status),
		t.CreatedAt.Unix(), nullableUnix(t.AssignedAt), nullableUnix(t.CompletedAt),
		nullStr(t.AssignedTo), nullStr(t.Error),
	)
	return err
}

// GetTask retrieves a task by id. Not found returns (nil, nil).
func (d *DB) GetTask(id string) (*domain.Task, error) {
	row := d.db.QueryRow(
		`SELECT id, required_caps, priority, status, created_at, assigned_at, completed_at, assigned_to, error
		 FROM tasks WHERE id = ?`, id,
	)
	return scanTask(row)
}

// ListTasksByStatus returns tasks with the given status, oldest first.
// A limit of 0 means no limit.
func (d *DB) ListTasksByStatus(status domain.TaskStatus, limit int) ([]domain.Task, error) {
	q := `SELECT id, required_caps, priority, status, created_at, assigned_at, completed_at, assigned_to, error
	      FROM tasks WHERE status = ? ORDER BY created_at, id`
	args := []any{string(status)}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := d.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func scanTask(s scanner) (*domain.Task, error) {
	var t domain.Task
	var caps string
	var createdAt int64
	var assignedAt, completedAt sql.NullInt64
	var assignedTo, taskErr sql.NullString

	err := s.Scan(&t.ID, &caps, &t.Priority, &t.Status,
		&createdAt, &assignedAt, &completedAt, &assignedTo, &taskErr)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if caps != "" {
		t.RequiredCaps = strings.Split(caps, ",")
	}
	t.CreatedAt = time.Unix(createdAt, 0)
	if assignedAt.Valid {
		t.AssignedAt = time.Unix(assignedAt.Int64, 0)
	}
	if completedAt.Valid {
		t.CompletedAt = time.Unix(completedAt.Int64, 0)
	}
	if assignedTo.Valid {
		t.AssignedTo = assignedTo.String
	}
	if taskErr.Valid {
		t.Error = taskErr.String
	}
	return &t, nil
}

// ─── Performance Records ────────────────────────────────────────────────────

// PutPerformanceRecord inserts or updates a module's performance record.
func (d *DB) PutPerformanceRecord(r domain.PerformanceRecord) error {
	_, err := d.db.Exec(
		`INSERT INTO performance_records (module_id, success_rate, latency_score, adaptability, metacognitive, observations, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(module_id) DO UPDATE SET
			success_rate=excluded.success_rate,
			latency_score=excluded.latency_score,
			adaptability=excluded.adaptability,
			metacognitive=excluded.metacognitive,
			observations=excluded.observations,
			updated_at=excluded.updated_at`,
		r.ModuleID, r.SuccessRate, r.LatencyScore, r.Adaptability,
		r.Metacognitive, r.Observations, r.UpdatedAt.Unix(),
	)
	return err
}

// GetPerformanceRecord retrieves a module's record. Not found returns (nil, nil).
func (d *DB) GetPerformanceRecord(moduleID string) (*domain.PerformanceRecord, error) {
	var r domain.PerformanceRecord
	var updatedAt int64

	err := d.db.QueryRow(
		`SELECT module_id, success_rate, latency_score, adaptability, metacognitive, observations, updated_at
		 FROM performance_records WHERE module_id = ?`, moduleID,
	).Scan(&r.ModuleID, &r.SuccessRate, &r.LatencyScore, &r.Adaptability,
		&r.Metacognitive, &r.Observations, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.UpdatedAt = time.Unix(updatedAt, 0)
	return &r, nil
}
