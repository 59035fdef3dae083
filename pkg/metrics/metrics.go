// Package metrics registers the Prometheus collectors shared by the services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LedgerOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Ledger operations by operation and outcome",
		},
		[]string{"operation", "status"},
	)

	LedgerOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledger_operation_duration_seconds",
			Help:    "Ledger operation latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	RiskAssessments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risk_assessments_total",
			Help: "Risk assessments by level and action",
		},
		[]string{"level", "action"},
	)

	RiskAssessmentDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "risk_assessment_duration_seconds",
			Help:    "Time spent scoring a request",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5},
		},
	)

	ReconciliationDiscrepancies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciliation_discrepancies_total",
			Help: "Discrepancies found by provider, type and severity",
		},
		[]string{"provider", "type", "severity"},
	)

	ReconciliationRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciliation_runs_total",
			Help: "Reconciliation runs by provider and status",
		},
		[]string{"provider", "status"},
	)

	BalanceReconciliationAlerts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "balance_reconciliation_alerts_total",
			Help: "Float balance mismatches by provider",
		},
		[]string{"provider"},
	)

	ProviderCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_calls_total",
			Help: "Provider adapter calls by provider, operation and outcome",
		},
		[]string{"provider", "operation", "status"},
	)
)

// Outcome maps an error to the status label used by the counters.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
