package reconciliation

import "github.com/prometheus/client_golang/prometheus"

var (
	reconcileWalletMismatches = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "voltmarket",
		Subsystem: "reconciliation",
		Name:      "wallet_mismatches",
		Help:      "Number of wallet balance mismatches found in last reconciliation run.",
	})

	reconcilePendingRefunds = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "voltmarket",
		Subsystem: "reconciliation",
		Name:      "pending_refund_cases",
		Help:      "Number of undecided refund cases at last reconciliation run.",
	})

	reconcileDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "voltmarket",
		Subsystem: "reconciliation",
		Name:      "run_duration_seconds",
		Help:      "Duration of reconciliation runs in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	reconcileErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "voltmarket",
		Subsystem: "reconciliation",
		Name:      "errors_total",
		Help:      "Total reconciliation check errors.",
	})
)

func init() {
	prometheus.MustRegister(
		reconcileWalletMismatches,
		reconcilePendingRefunds,
		reconcileDuration,
		reconcileErrors,
	)
}
