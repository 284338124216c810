// Package metrics defines the Prometheus collectors for oracle calls,
// deduplication runs, and the HTTP API.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "contact_resolver"

// Oracle metrics.
var (
	OracleCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_calls_total",
			Help:      "Total oracle calls by outcome",
		},
		[]string{"provider", "status"}, // "success" / "call_error" / "parse_error"
	)

	OracleCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "oracle_call_duration_seconds",
			Help:      "Oracle call duration including retries",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"provider"},
	)

	OracleTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_tokens_total",
			Help:      "Total oracle tokens consumed",
		},
		[]string{"provider", "type"}, // "input" / "output"
	)

	OracleDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_decisions_total",
			Help:      "Pair decisions by outcome",
		},
		[]string{"outcome"}, // "merge" / "no_merge" / "error"
	)

	OracleCircuitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "oracle_circuit_state",
			Help:      "Oracle circuit state per provider (0 closed, 1 open, 2 half-open)",
		},
		[]string{"provider"},
	)
)

// Run metrics.
var (
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Deduplication runs by outcome",
		},
		[]string{"status"}, // "complete" / "interrupted" / "failed"
	)

	RecordsProcessedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_processed_total",
			Help:      "Input records processed",
		},
	)

	RecordsMergedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_merged_total",
			Help:      "Records removed by merging (sum of reductions)",
		},
	)

	SuspiciousMergesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suspicious_merges_total",
			Help:      "Accepted pairs whose first names differ",
		},
	)
)

func init() {
	prometheus.MustRegister(
		OracleCallsTotal, OracleCallDuration, OracleTokensTotal, OracleDecisionsTotal, OracleCircuitState,
		RunsTotal, RecordsProcessedTotal, RecordsMergedTotal, SuspiciousMergesTotal,
	)
}
