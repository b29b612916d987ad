// Package metrics exposes application metrics collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "asure"

var (
	ledgerMintTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "mint_total",
		Help:      "Count of mint-and-append attempts.",
	}, []string{"status"})

	ledgerSealDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "seal_duration_seconds",
		Help:      "Duration of proof-of-work sealing.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10), // 0.5ms..~131s
	}, []string{"difficulty", "status"})

	ledgerHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "height",
		Help:      "Number of blocks in the chain, genesis included.",
	})

	ledgerDifficulty = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "difficulty",
		Help:      "Current sealing difficulty in leading hex zeros.",
	})

	ledgerIntegrityChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "integrity_checks_total",
		Help:      "Count of chain integrity verifications by result.",
	}, []string{"result"})
)

// ObserveMint records a mint attempt and its sealing duration.
func ObserveMint(difficulty uint32, err error, started time.Time) {
	status := statusOf(err)
	ledgerMintTotal.WithLabelValues(status).Inc()
	ledgerSealDuration.WithLabelValues(difficultyLabel(difficulty), status).Observe(time.Since(started).Seconds())
}

// SetChainHeight publishes the chain length.
func SetChainHeight(height int) {
	ledgerHeight.Set(float64(height))
}

// SetDifficulty publishes the current difficulty.
func SetDifficulty(difficulty uint32) {
	ledgerDifficulty.Set(float64(difficulty))
}

// ObserveIntegrityCheck records the result of a chain verification ("ok" or the violation kind).
func ObserveIntegrityCheck(result string) {
	ledgerIntegrityChecksTotal.WithLabelValues(result).Inc()
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func difficultyLabel(d uint32) string {
	if d > 8 {
		return "9+"
	}
	return string(rune('0' + d))
}
