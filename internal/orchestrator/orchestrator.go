package orchestrator

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/synapse-grid/synapse/internal/domain"
	"github.com/synapse-grid/synapse/internal/infra/metrics"
)

// ─── Orchestrator ───────────────────────────────────────────────────────────
// The orchestrator composes registry, distributor, and aggregator behind a
// single tick loop. Each tick runs sweep → reassign → drain buffered
// submissions/outcomes → match-and-assign → flush persistence, fully
// serialized, so external callers never mutate state concurrently with
// scheduling decisions.

// Config configures the orchestrator loop.
type Config struct {
	TickInterval     time.Duration // scheduling cadence (default 500ms)
	HeartbeatTimeout time.Duration // liveness cutoff (default 300s)
	UnmetDemandGrace time.Duration // grace before an unmet-demand signal (default 60s)
	TaskRetention    time.Duration // terminal task history window (default 24h)

	Distributor DistributorConfig
	Scoring     ScoringConfig
}

// DefaultConfig returns production orchestrator defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval:     500 * time.Millisecond,
		HeartbeatTimeout: 300 * time.Second,
		UnmetDemandGrace: 60 * time.Second,
		TaskRetention:    24 * time.Hour,
		Distributor:      DefaultDistributorConfig(),
		Scoring:          DefaultScoringConfig(),
	}
}

// Persistence is the write-behind store used by the tick loop. Writes are
// buffered and flushed once per tick; a store outage backs off and retries
// on later ticks instead of failing the loop.
type Persistence interface {
	domain.Store
	Flush(now time.Time) error
	PendingWrites() int
}

// UnmetDemand is the diagnostic raised when no registered module can
// satisfy a required capability set past the grace period.
type UnmetDemand struct {
	Capabilities []string  `json:"capabilities"`
	Since        time.Time `json:"since"`
}

// Stats is a point-in-time orchestrator snapshot.
type Stats struct {
	Modules     map[domain.ModuleStatus]int `json:"modules"`
	Tasks       map[domain.TaskStatus]int   `json:"tasks"`
	UnmetDemand []UnmetDemand               `json:"unmet_demand,omitempty"`
	LastTick    time.Time                   `json:"last_tick"`
	Ticks       int64                       `json:"ticks"`
	PendingIO   int                         `json:"pending_writes"`
}

type commandKind int

const (
	cmdSubmit commandKind = iota
	cmdOutcome
)

// command is a buffered mutation: submissions and outcome reports are
// applied in arrival order at the start of the next tick.
type command struct {
	kind    commandKind
	task    domain.Task
	outcome domain.Outcome
	reply   chan commandResult
}

type commandResult struct {
	task domain.Task
	err  error
}

// Orchestrator is the coordination service instance. Construct with New;
// all collaborators, including storage, are injected so tests get fully
// isolated instances.
type Orchestrator struct {
	config   Config
	registry *Registry
	dist     *Distributor
	agg      *Aggregator
	store    Persistence // nil means in-memory only
	logger   *zap.Logger

	inbox chan command

	mu       sync.Mutex
	unmet    map[string]demandWatch
	lastTick time.Time
	ticks    int64
}

type demandWatch struct {
	caps      []string
	firstSeen time.Time
	signaled  bool
}

// New creates an orchestrator with its storage dependency injected.
// A nil store disables persistence (used by tests).
func New(cfg Config, st Persistence, logger *zap.Logger) *Orchestrator {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 500 * time.Millisecond
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = 300 * time.Second
	}
	if cfg.UnmetDemandGrace <= 0 {
		cfg.UnmetDemandGrace = 60 * time.Second
	}
	if cfg.TaskRetention <= 0 {
		cfg.TaskRetention = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	reg := NewRegistry()
	agg := NewAggregator(cfg.Scoring)
	return &Orchestrator{
		config:   cfg,
		registry: reg,
		agg:      agg,
		dist:     NewDistributor(cfg.Distributor, reg, agg),
		store:    st,
		logger:   logger.Named("orchestrator"),
		inbox:    make(chan command, 1024),
		unmet:    make(map[string]demandWatch),
	}
}

// Restore loads persisted state. Store unavailability is logged and
// tolerated — the orchestrator starts empty and persistence catches up.
func (o *Orchestrator) Restore() {
	if o.store == nil {
		return
	}
	modules, err := o.store.ListModules()
	if err != nil {
		o.logger.Warn("restore: modules unavailable", zap.Error(err))
		return
	}
	for _, m := range modules {
		o.registry.Restore(m)
		if rec, err := o.store.GetPerformanceRecord(m.ID); err == nil && rec != nil {
			o.agg.Restore(*rec)
		}
	}
	orphaned := 0
	for _, status := range []domain.TaskStatus{domain.TaskPending, domain.TaskAssigned} {
		tasks, err := o.store.ListTasksByStatus(status, 0)
		if err != nil {
			o.logger.Warn("restore: tasks unavailable", zap.Error(err))
			return
		}
		for _, t := range tasks {
			if t.Status == domain.TaskAssigned {
				if _, err := o.registry.Get(t.AssignedTo); err != nil {
					// Module row lost: requeue instead of tracking a ghost
					// assignee the sweep can never expire.
					t.Status = domain.TaskPending
					t.AssignedTo = ""
					t.AssignedAt = time.Time{}
					orphaned++
					_ = o.store.PutTask(t)
				}
			}
			o.dist.Restore(t)
		}
	}
	if orphaned > 0 {
		o.logger.Warn("restore: requeued tasks assigned to unknown modules",
			zap.Int("tasks", orphaned))
	}
	o.logger.Info("state restored", zap.Int("modules", len(modules)))
}

// Run drives the tick loop until the context is cancelled.
func (o *Orchestrator) Run(ctx context.Context) {
	ticker := time.NewTicker(o.config.TickInterval)
	defer ticker.Stop()

	o.logger.Info("tick loop started",
		zap.Duration("interval", o.config.TickInterval),
		zap.Duration("heartbeat_timeout", o.config.HeartbeatTimeout))

	for {
		select {
		case <-ctx.Done():
			o.drainInbox(time.Now()) // answer waiters before exit
			if o.store != nil {
				_ = o.store.Flush(time.Now())
			}
			o.logger.Info("tick loop stopped")
			return
		case now := <-ticker.C:
			o.Tick(now)
		}
	}
}

// Tick runs one serialized scheduling pass. Exported so tests can step the
// orchestrator deterministically without the wall-clock loop.
func (o *Orchestrator) Tick(now time.Time) {
	start := time.Now()

	// 1. Liveness sweep; dead modules' tasks return to Pending. Requeueing
	// keys on heartbeat age alone, so a module already in Error from a
	// failure report still gives up its remaining tasks once it goes silent.
	expired := o.registry.SweepExpired(now, o.config.HeartbeatTimeout)
	if len(expired) > 0 {
		o.logger.Warn("modules expired", zap.Strings("modules", expired))
		metrics.ModulesExpired.Add(float64(len(expired)))
		for _, id := range expired {
			o.persistModule(id)
		}
	}
	if dead := o.registry.Expired(now, o.config.HeartbeatTimeout); len(dead) > 0 {
		if returned := o.dist.ReassignExpired(dead); len(returned) > 0 {
			o.logger.Warn("tasks requeued from silent modules",
				zap.Int("tasks", len(returned)))
			metrics.TasksReassigned.Add(float64(len(returned)))
			for _, t := range returned {
				o.persistTask(t)
			}
		}
	}

	// 2. Buffered submissions and outcome reports, in arrival order.
	o.drainInbox(now)

	// 3. History eviction.
	if evicted := o.dist.EvictTerminal(now, o.config.TaskRetention); len(evicted) > 0 {
		o.logger.Debug("evicted terminal tasks", zap.Int("count", len(evicted)))
	}

	// 4. Unmet-demand scan (diagnostic, never fatal).
	o.scanUnmetDemand(now)

	// 5. Greedy match.
	assignments := o.dist.MatchAndAssign()
	for _, a := range assignments {
		o.logger.Info("task assigned",
			zap.String("task", a.TaskID),
			zap.String("module", a.ModuleID))
		metrics.AssignmentsTotal.Inc()
		if t, err := o.dist.Get(a.TaskID); err == nil {
			o.persistTask(t)
		}
		o.persistModule(a.ModuleID)
	}

	// 6. Persistence flush with backoff; an outage aborts only this step.
	if o.store != nil {
		if err := o.store.Flush(now); err != nil {
			o.logger.Warn("store flush failed — retrying next tick", zap.Error(err))
		}
		metrics.StorePendingWrites.Set(float64(o.store.PendingWrites()))
	}

	o.mu.Lock()
	o.lastTick = now
	o.ticks++
	o.mu.Unlock()

	o.updateGauges()
	metrics.TickDuration.Observe(time.Since(start).Seconds())
}

// drainInbox applies every buffered command in arrival order.
func (o *Orchestrator) drainInbox(now time.Time) {
	for {
		select {
		case cmd := <-o.inbox:
			o.apply(cmd, now)
		default:
			return
		}
	}
}

func (o *Orchestrator) apply(cmd command, now time.Time) {
	var res commandResult
	switch cmd.kind {
	case cmdSubmit:
		res.task, res.err = o.dist.Submit(cmd.task)
		if res.err == nil {
			metrics.TasksSubmitted.Inc()
			o.persistTask(res.task)
		}
	case cmdOutcome:
		res.task, res.err = o.dist.ReportOutcome(cmd.outcome)
		if res.err == nil {
			if res.task.Status == domain.TaskCompleted {
				metrics.OutcomesTotal.WithLabelValues("success").Inc()
			} else {
				metrics.OutcomesTotal.WithLabelValues("failure").Inc()
			}
			o.persistTask(res.task)
			o.persistModule(res.task.AssignedTo)
			if rec, err := o.agg.Record(res.task.AssignedTo); err == nil && o.store != nil {
				_ = o.store.PutPerformanceRecord(rec)
			}
		}
	}
	cmd.reply <- res
}

// scanUnmetDemand tracks capability sets demanded by pending tasks that no
// registered module provides, and raises the diagnostic once the grace
// period elapses.
func (o *Orchestrator) scanUnmetDemand(now time.Time) {
	needed := make(map[string][]string)
	for _, t := range o.dist.List(domain.TaskPending) {
		needed[strings.Join(t.RequiredCaps, ",")] = t.RequiredCaps
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	for key, caps := range needed {
		if o.registry.AnyProvides(caps) {
			delete(o.unmet, key)
			continue
		}
		w, ok := o.unmet[key]
		if !ok {
			o.unmet[key] = demandWatch{caps: caps, firstSeen: now}
			continue
		}
		if !w.signaled && now.Sub(w.firstSeen) > o.config.UnmetDemandGrace {
			w.signaled = true
			o.unmet[key] = w
			o.logger.Warn("unmet capability demand",
				zap.Strings("capabilities", caps),
				zap.Duration("pending_for", now.Sub(w.firstSeen)))
			metrics.UnmetDemandSignals.Inc()
		}
	}
	for key := range o.unmet {
		if _, still := needed[key]; !still {
			delete(o.unmet, key)
		}
	}
}

// ─── External operations ────────────────────────────────────────────────────

// RegisterModule registers a worker module. Applied immediately — the
// registry serializes internally.
func (o *Orchestrator) RegisterModule(id string, capabilities []string) (domain.Module, error) {
	m, err := o.registry.Register(id, capabilities)
	if err != nil {
		return domain.Module{}, err
	}
	o.logger.Info("module registered",
		zap.String("module", id),
		zap.Strings("capabilities", m.Capabilities))
	metrics.ModulesRegistered.Inc()
	o.persistModule(id)
	return m, nil
}

// Heartbeat refreshes a module's liveness. evolving marks the module as
// self-reported Evolving (excluded from matching until cleared).
func (o *Orchestrator) Heartbeat(id string, evolving bool) (domain.Module, error) {
	m, err := o.registry.Heartbeat(id)
	if err != nil {
		return domain.Module{}, err
	}
	if evolving != (m.Status == domain.ModuleEvolving) {
		m, err = o.registry.SetEvolving(id, evolving)
		if err != nil {
			return domain.Module{}, err
		}
	}
	o.persistModule(id)
	return m, nil
}

// ResetModule clears a module out of Error back into the eligible pool.
func (o *Orchestrator) ResetModule(id string) (domain.Module, error) {
	m, err := o.registry.Reset(id)
	if err != nil {
		return domain.Module{}, err
	}
	o.logger.Info("module reset", zap.String("module", id))
	o.persistModule(id)
	return m, nil
}

// Submit buffers a task submission; it is applied, in arrival order, on
// the next tick. An empty capability set is rejected synchronously.
func (o *Orchestrator) Submit(ctx context.Context, t domain.Task) (domain.Task, error) {
	if len(t.RequiredCaps) == 0 {
		return domain.Task{}, domain.ErrInvalidTask
	}
	return o.send(ctx, command{kind: cmdSubmit, task: t})
}

// ReportOutcome buffers a module's outcome report for the next tick.
// Reporting a task that is no longer Assigned fails with ErrUnknownTask,
// which makes duplicate reports rejected-but-harmless.
func (o *Orchestrator) ReportOutcome(ctx context.Context, out domain.Outcome) (domain.Task, error) {
	return o.send(ctx, command{kind: cmdOutcome, outcome: out})
}

func (o *Orchestrator) send(ctx context.Context, cmd command) (domain.Task, error) {
	cmd.reply = make(chan commandResult, 1)
	select {
	case o.inbox <- cmd:
	case <-ctx.Done():
		return domain.Task{}, ctx.Err()
	}
	select {
	case res := <-cmd.reply:
		return res.task, res.err
	case <-ctx.Done():
		return domain.Task{}, ctx.Err()
	}
}

// Cancel aborts a Pending task. Cancellation is rejected once assigned.
func (o *Orchestrator) Cancel(taskID string) (domain.Task, error) {
	t, err := o.dist.Cancel(taskID)
	if err != nil {
		return domain.Task{}, err
	}
	o.logger.Info("task cancelled", zap.String("task", taskID))
	o.persistTask(t)
	return t, nil
}

// ─── Read surface ───────────────────────────────────────────────────────────

// Assignments returns the tasks currently assigned to a module (poll
// delivery for the module-facing interface).
func (o *Orchestrator) Assignments(moduleID string) ([]domain.Task, error) {
	if _, err := o.registry.Get(moduleID); err != nil {
		return nil, err
	}
	return o.dist.AssignedTo(moduleID), nil
}

// Module returns a module record.
func (o *Orchestrator) Module(id string) (domain.Module, error) { return o.registry.Get(id) }

// Modules returns all registered modules.
func (o *Orchestrator) Modules() []domain.Module { return o.registry.List() }

// Task returns a task record.
func (o *Orchestrator) Task(id string) (domain.Task, error) { return o.dist.Get(id) }

// Tasks returns tasks, optionally filtered by status.
func (o *Orchestrator) Tasks(status domain.TaskStatus) []domain.Task { return o.dist.List(status) }

// Performance returns a module's performance record.
func (o *Orchestrator) Performance(moduleID string) (domain.PerformanceRecord, error) {
	return o.agg.Record(moduleID)
}

// LastTick returns the completion time of the most recent tick.
func (o *Orchestrator) LastTick() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastTick
}

// UnmetDemands returns capability sets that have lacked a provider past
// the grace period. Watches still inside the grace window are not yet a
// diagnostic and stay invisible here.
func (o *Orchestrator) UnmetDemands() []UnmetDemand {
	o.mu.Lock()
	defer o.mu.Unlock()

	var out []UnmetDemand
	for _, w := range o.unmet {
		if !w.signaled {
			continue
		}
		out = append(out, UnmetDemand{Capabilities: w.caps, Since: w.firstSeen})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Since.Before(out[j].Since) })
	return out
}

// UnmetCount returns how many capability sets have lacked a provider past
// the grace period.
func (o *Orchestrator) UnmetCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	n := 0
	for _, w := range o.unmet {
		if w.signaled {
			n++
		}
	}
	return n
}

// Stats returns a snapshot for the status API and CLI.
func (o *Orchestrator) Stats() Stats {
	s := Stats{
		Modules:     o.registry.CountByStatus(),
		Tasks:       o.dist.CountByStatus(),
		UnmetDemand: o.UnmetDemands(),
		LastTick:    o.LastTick(),
	}
	o.mu.Lock()
	s.Ticks = o.ticks
	o.mu.Unlock()
	if o.store != nil {
		s.PendingIO = o.store.PendingWrites()
	}
	return s
}

// ─── Persistence helpers ────────────────────────────────────────────────────

func (o *Orchestrator) persistModule(id string) {
	if o.store == nil {
		return
	}
	if m, err := o.registry.Get(id); err == nil {
		_ = o.store.PutModule(m)
	}
}

func (o *Orchestrator) persistTask(t domain.Task) {
	if o.store == nil {
		return
	}
	_ = o.store.PutTask(t)
}

func (o *Orchestrator) updateGauges() {
	moduleCounts := o.registry.CountByStatus()
	for _, status := range []domain.ModuleStatus{
		domain.ModuleRegistered, domain.ModuleActive, domain.ModuleIdle,
		domain.ModuleError, domain.ModuleEvolving,
	} {
		metrics.ModulesByStatus.WithLabelValues(string(status)).Set(float64(moduleCounts[status]))
	}
	taskCounts := o.dist.CountByStatus()
	for _, status := range []domain.TaskStatus{
		domain.TaskPending, domain.TaskAssigned, domain.TaskCompleted,
		domain.TaskFailed, domain.TaskCancelled,
	} {
		metrics.TasksByStatus.WithLabelValues(string(status)).Set(float64(taskCounts[status]))
	}
}
