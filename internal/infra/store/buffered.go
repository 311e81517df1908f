// Package store provides a write-behind buffer in front of the persistent
// store. The orchestrator never blocks on storage: writes are queued and
// flushed once per tick, and a store outage backs off exponentially while
// the queue coalesces updates per key.
package store

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/synapse-grid/synapse/internal/domain"
	"github.com/synapse-grid/synapse/internal/infra/metrics"
)

// Config configures flush backoff after a store failure.
type Config struct {
	BaseDelay time.Duration // first retry delay (default 1s)
	MaxDelay  time.Duration // backoff cap (default 60s)
}

// DefaultConfig returns production backoff defaults.
func DefaultConfig() Config {
	return Config{
		BaseDelay: 1 * time.Second,
		MaxDelay:  60 * time.Second,
	}
}

type writeKind int

const (
	writeModule writeKind = iota
	writeTask
	writeRecord
)

type write struct {
	kind   writeKind
	module domain.Module
	task   domain.Task
	record domain.PerformanceRecord
}

// Buffered wraps a domain.Store with write buffering and retry. Writes are
// idempotent puts keyed by id, so replaying after an outage is safe and
// later writes for the same key supersede earlier ones.
type Buffered struct {
	mu     sync.Mutex
	inner  domain.Store
	config Config
	logger *zap.Logger

	order        []string // flush order of pending keys
	pending      map[string]write
	backoff      time.Duration
	backoffUntil time.Time
}

// NewBuffered wraps a store with the write-behind buffer.
func NewBuffered(inner domain.Store, cfg Config, logger *zap.Logger) *Buffered {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 1 * time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Buffered{
		inner:   inner,
		config:  cfg,
		logger:  logger.Named("store"),
		pending: make(map[string]write),
	}
}

// ─── Writes (buffered, never fail) ──────────────────────────────────────────

// PutModule queues a module write.
func (b *Buffered) PutModule(m domain.Module) error {
	b.enqueue("module/"+m.ID, write{kind: writeModule, module: m})
	return nil
}

// PutTask queues a task write.
func (b *Buffered) PutTask(t domain.Task) error {
	b.enqueue("task/"+t.ID, write{kind: writeTask, task: t})
	return nil
}

// PutPerformanceRecord queues a performance record write.
func (b *Buffered) PutPerformanceRecord(r domain.PerformanceRecord) error {
	b.enqueue("record/"+r.ModuleID, write{kind: writeRecord, record: r})
	return nil
}

func (b *Buffered) enqueue(key string, w write) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.pending[key]; !exists {
		b.order = append(b.order, key)
	}
	b.pending[key] = w
}

// ─── Reads (pass-through, surface outages) ──────────────────────────────────

// GetModule reads through to the store. During an outage the read fails
// with ErrStoreUnavailable — never silently treated as empty.
func (b *Buffered) GetModule(id string) (*domain.Module, error) {
	m, err := b.inner.GetModule(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return m, nil
}

// ListModules reads through to the store.
func (b *Buffered) ListModules() ([]domain.Module, error) {
	ms, err := b.inner.ListModules()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return ms, nil
}

// GetTask reads through to the store.
func (b *Buffered) GetTask(id string) (*domain.Task, error) {
	t, err := b.inner.GetTask(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return t, nil
}

// ListTasksByStatus reads through to the store.
func (b *Buffered) ListTasksByStatus(status domain.TaskStatus, limit int) ([]domain.Task, error) {
	ts, err := b.inner.ListTasksByStatus(status, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return ts, nil
}

// GetPerformanceRecord reads through to the store.
func (b *Buffered) GetPerformanceRecord(moduleID string) (*domain.PerformanceRecord, error) {
	r, err := b.inner.GetPerformanceRecord(moduleID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return r, nil
}

// ─── Flush ──────────────────────────────────────────────────────────────────

// Flush replays pending writes in order. A failure keeps the remaining
// queue, doubles the backoff (capped), and returns ErrStoreUnavailable;
// flushes inside the backoff window are deferred silently.
func (b *Buffered) Flush(now time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.order) == 0 {
		return nil
	}
	if now.Before(b.backoffUntil) {
		metrics.StoreRetries.Inc()
		return nil
	}

	for len(b.order) > 0 {
		key := b.order[0]
		w := b.pending[key]
		if err := b.applyLocked(w); err != nil {
			if b.backoff == 0 {
				b.backoff = b.config.BaseDelay
			} else {
				b.backoff *= 2
				if b.backoff > b.config.MaxDelay {
					b.backoff = b.config.MaxDelay
				}
			}
			b.backoffUntil = now.Add(b.backoff)
			metrics.StoreRetries.Inc()
			b.logger.Warn("flush failed",
				zap.String("key", key),
				zap.Int("pending", len(b.order)),
				zap.Duration("backoff", b.backoff),
				zap.Error(err))
			return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
		}
		b.order = b.order[1:]
		delete(b.pending, key)
	}

	b.backoff = 0
	b.backoffUntil = time.Time{}
	return nil
}

func (b *Buffered) applyLocked(w write) error {
	switch w.kind {
	case writeModule:
		return b.inner.PutModule(w.module)
	case writeTask:
		return b.inner.PutTask(w.task)
	case writeRecord:
		return b.inner.PutPerformanceRecord(w.record)
	}
	return nil
}

// PendingWrites returns the number of queued writes.
func (b *Buffered) PendingWrites() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.order)
}
