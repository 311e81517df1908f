// Package metrics provides Prometheus metrics for the orchestrator:
// counters, gauges, and histograms for modules, tasks, scheduling, and
// the persistence path.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Modules ────────────────────────────────────────────────────────────────

// ModulesRegistered counts successful module registrations.
var ModulesRegistered = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "synapse",
	Name:      "modules_registered_total",
	Help:      "Total module registrations accepted.",
})

// ModulesExpired counts modules swept into Error by the liveness check.
var ModulesExpired = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "synapse",
	Name:      "modules_expired_total",
	Help:      "Total modules marked Error after missing heartbeats.",
})

// ModulesByStatus tracks the current module population per status.
var ModulesByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "synapse",
	Name:      "modules_by_status",
	Help:      "Current number of modules per status.",
}, []string{"status"})

// ─── Tasks ──────────────────────────────────────────────────────────────────

// TasksSubmitted counts accepted task submissions.
var TasksSubmitted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "synapse",
	Name:      "tasks_submitted_total",
	Help:      "Total tasks accepted into the pending queue.",
})

// TasksByStatus tracks the current task population per status.
var TasksByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "synapse",
	Name:      "tasks_by_status",
	Help:      "Current number of tasks per status.",
}, []string{"status"})

// TasksReassigned counts tasks returned to Pending after module expiry.
var TasksReassigned = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "synapse",
	Name:      "tasks_reassigned_total",
	Help:      "Total tasks requeued from expired modules.",
})

// ─── Scheduling ─────────────────────────────────────────────────────────────

// AssignmentsTotal counts task-to-module assignments made by the matcher.
var AssignmentsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "synapse",
	Name:      "assignments_total",
	Help:      "Total task assignments made.",
})

// OutcomesTotal counts outcome reports by result.
var OutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "synapse",
	Name:      "outcomes_total",
	Help:      "Total outcome reports applied, by result.",
}, []string{"result"})

// UnmetDemandSignals counts raised unmet-capability diagnostics.
var UnmetDemandSignals = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "synapse",
	Name:      "unmet_demand_signals_total",
	Help:      "Total unmet capability demand signals raised.",
})

// TickDuration tracks how long a full scheduling tick takes.
var TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "synapse",
	Name:      "tick_duration_seconds",
	Help:      "Duration of one orchestrator tick.",
	Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
})

// ─── Persistence ────────────────────────────────────────────────────────────

// StorePendingWrites tracks the write-behind buffer depth.
var StorePendingWrites = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "synapse",
	Name:      "store_pending_writes",
	Help:      "Writes buffered while the store is unavailable.",
})

// StoreRetries counts flush attempts that failed and were deferred.
var StoreRetries = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "synapse",
	Name:      "store_retries_total",
	Help:      "Total store flush attempts deferred by backoff or failure.",
})
