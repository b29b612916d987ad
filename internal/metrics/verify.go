package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	verifyOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "verify",
		Name:      "outcomes_total",
		Help:      "Count of artifact verifications by outcome.",
	}, []string{"outcome"})

	verifyIssueTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "verify",
		Name:      "issue_total",
		Help:      "Count of artifact issuance attempts.",
	}, []string{"status"})

	recordStoreOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "record_store",
		Name:      "operations_total",
		Help:      "Count of record store operations.",
	}, []string{"operation", "status"})

	recordStoreOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "record_store",
		Name:      "operation_duration_seconds",
		Help:      "Duration of record store operations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation", "status"})

	auditRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "audit",
		Name:      "requests_total",
		Help:      "Count of chain export requests served to auditors.",
	}, []string{"type", "status"})
)

// ObserveVerification records the outcome of an artifact verification.
// Failed lookups are recorded under the "error" outcome.
func ObserveVerification(outcome string, err error) {
	if err != nil {
		outcome = "error"
	}
	verifyOutcomesTotal.WithLabelValues(outcome).Inc()
}

// ObserveIssue records an artifact issuance attempt.
func ObserveIssue(err error) {
	verifyIssueTotal.WithLabelValues(statusOf(err)).Inc()
}

// ObserveRecordStore records a record store operation outcome and duration.
func ObserveRecordStore(operation string, err error, started time.Time) {
	status := statusOf(err)
	recordStoreOperationsTotal.WithLabelValues(operation, status).Inc()
	recordStoreOperationDuration.WithLabelValues(operation, status).Observe(time.Since(started).Seconds())
}

// ObserveAuditRequest records a chain export request served over p2p.
func ObserveAuditRequest(msgType string, err error) {
	auditRequestsTotal.WithLabelValues(msgType, statusOf(err)).Inc()
}
