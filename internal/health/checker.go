// Package health provides periodic health checks for the orchestrator
// daemon: storage connectivity, tick-loop liveness, and capability supply.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Check defines a single health check with optional recovery action.
type Check struct {
	Name      string
	CheckFn   func(ctx context.Context) error
	RecoverFn func(ctx context.Context) error
}

// Status represents the result of a health check.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Pinger is anything with database-style connectivity (infra/sqlite.DB).
type Pinger interface {
	Ping() error
}

// Loop exposes the orchestrator's tick liveness and diagnostics.
type Loop interface {
	LastTick() time.Time
	UnmetCount() int
}

// Checker runs periodic health checks with auto-recovery.
type Checker struct {
	mu       sync.RWMutex
	checks   []Check
	statuses []Status
	interval time.Duration
}

// NewChecker creates a checker with the standard orchestrator checks.
// tickInterval is the configured scheduling cadence; the loop is considered
// stalled after missing several ticks in a row.
func NewChecker(db Pinger, loop Loop, tickInterval time.Duration) *Checker {
	stallAfter := 10 * tickInterval
	if stallAfter < 5*time.Second {
		stallAfter = 5 * time.Second
	}
	return &Checker{
		interval: 60 * time.Second,
		checks: []Check{
			{
				Name: "sqlite",
				CheckFn: func(ctx context.Context) error {
					return db.Ping()
				},
				RecoverFn: func(ctx context.Context) error {
					return nil // SQLite auto-recovers via WAL
				},
			},
			{
				Name: "tick_loop",
				CheckFn: func(ctx context.Context) error {
					last := loop.LastTick()
					if last.IsZero() {
						return nil // not started yet
					}
					if age := time.Since(last); age > stallAfter {
						return fmt.Errorf("no tick for %s", age.Round(time.Second))
					}
					return nil
				},
			},
			{
				Name: "capability_supply",
				CheckFn: func(ctx context.Context) error {
					if n := loop.UnmetCount(); n > 0 {
						return fmt.Errorf("%d capability set(s) without a provider", n)
					}
					return nil
				},
			},
		},
	}
}

// Run starts the health check loop. Call in a goroutine.
func (c *Checker) Run(ctx context.Context) {
	// Run immediately on start
	c.runAll(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.runAll(ctx)
		}
	}
}

func (c *Checker) runAll(ctx context.Context) {
	statuses := make([]Status, len(c.checks))
	for i, check := range c.checks {
		s := Status{
			Name:      check.Name,
			CheckedAt: time.Now(),
		}
		if err := check.CheckFn(ctx); err != nil {
			s.Healthy = false
			s.Error = err.Error()
			if check.RecoverFn != nil {
				_ = check.RecoverFn(ctx)
			}
		} else {
			s.Healthy = true
		}
		statuses[i] = s
	}

	c.mu.Lock()
	c.statuses = statuses
	c.mu.Unlock()
}

// Statuses returns the latest health check results.
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]Status, len(c.statuses))
	copy(result, c.statuses)
	return result
}

// IsHealthy returns true if all checks pass.
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}
