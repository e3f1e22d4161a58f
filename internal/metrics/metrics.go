package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Throughput metrics - Track provisioning volume
var (
	WorkflowsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "provisioner_workflows_started_total",
		Help: "Total number of provisioning workflows started or resumed",
	})

	WorkflowOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provisioner_workflow_outcomes_total",
			Help: "Terminal workflow outcomes by status",
		},
		[]string{"status"},
	)

	StepsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provisioner_steps_completed_total",
			Help: "Completed workflow steps by step and how they completed (applied, reconciled, skipped)",
		},
		[]string{"step", "mode"},
	)

	ValidationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "provisioner_validation_failures_total",
		Help: "Total number of requests rejected by the parameter validator",
	})
)

// Performance metrics - Track step and ledger latency
var (
	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provisioner_step_duration_seconds",
			Help:    "Time taken to ensure a single workflow step",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"step"},
	)

	LedgerCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provisioner_ledger_call_duration_seconds",
			Help:    "Time taken by a single ledger gateway call",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	LedgerQueryRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "provisioner_ledger_query_retries_total",
		Help: "Read-only ledger queries issued again after a transient failure",
	})
)

// State metrics - Track current system state
var (
	WorkflowsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "provisioner_workflows_in_flight",
		Help: "Number of workflows currently holding an organizer lease",
	})
)

// Error metrics - Track failures
var (
	LedgerCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provisioner_ledger_calls_total",
			Help: "Ledger gateway calls by operation and result",
		},
		[]string{"operation", "result"},
	)

	StepFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provisioner_step_failures_total",
			Help: "Step failures by step and outcome (failed, ambiguous)",
		},
		[]string{"step", "outcome"},
	)

	LockContention = promauto.NewCounter(prometheus.CounterOpts{
		Name: "provisioner_lock_contention_total",
		Help: "Invocations rejected because the organizer lease was held",
	})

	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provisioner_errors_total",
			Help: "Total number of errors by service",
		},
		[]string{"service"},
	)
)
