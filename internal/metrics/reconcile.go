package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Reconciliation, quota, scheduler and ledger metrics.
var (
	ReconcilePassesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "watchledger",
			Name:      "reconcile_passes_total",
			Help:      "Total number of reconciliation passes by outcome",
		},
		[]string{"status"},
	)

	ReconcilePassDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "watchledger",
			Name:      "reconcile_pass_duration_seconds",
			Help:      "Reconciliation pass duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	ReconcileRemovedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "watchledger",
			Name:      "reconcile_removed_entities_total",
			Help:      "Total tracked entities purged by reconciliation",
		},
	)

	SourceCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "watchledger",
			Name:      "source_calls_total",
			Help:      "Calls to the external source by operation and status",
		},
		[]string{"op", "status"},
	)

	SourceRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "watchledger",
			Name:      "source_retries_total",
			Help:      "Retried calls to the external source",
		},
		[]string{"op"},
	)

	QuotaUsed = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "watchledger",
			Name:      "quota_used",
			Help:      "Quota units consumed in the current period",
		},
	)

	QuotaLimit = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "watchledger",
			Name:      "quota_limit",
			Help:      "Quota units available per period",
		},
	)

	SchedulerTaskRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "watchledger",
			Name:      "scheduler_task_runs_total",
			Help:      "Scheduled task executions by task and status",
		},
		[]string{"task", "status"},
	)

	LedgerEntities = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "watchledger",
			Name:      "ledger_tracked_entities",
			Help:      "Number of tracked entities in the ledger",
		},
	)

	LedgerDurationMinutes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "watchledger",
			Name:      "ledger_duration_minutes",
			Help:      "Total duration of tracked entities in minutes",
		},
	)
)

var registerOnce sync.Once

// Register registers the HTTP and domain collectors with the default
// registry. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequestDuration,
			httpRequestsTotal,
			httpRequestsInFlight,
			ReconcilePassesTotal,
			ReconcilePassDuration,
			ReconcileRemovedTotal,
			SourceCallsTotal,
			SourceRetriesTotal,
			QuotaUsed,
			QuotaLimit,
			SchedulerTaskRunsTotal,
			LedgerEntities,
			LedgerDurationMinutes,
		)
	})
}
