package wallet

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// LedgerOpsTotal counts wallet ledger operations by type.
	LedgerOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "voltmarket",
			Name:      "ledger_operations_total",
			Help:      "Total wallet ledger operations by type.",
		},
		[]string{"type"},
	)

	// LedgerOpDuration observes operation latency by type.
	LedgerOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "voltmarket",
			Name:      "ledger_operation_duration_seconds",
			Help:      "Wallet ledger operation duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"type"},
	)

	// InsufficientBalanceTotal counts debits rejected for lack of funds.
	InsufficientBalanceTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "voltmarket",
			Name:      "ledger_insufficient_balance_total",
			Help:      "Total debit attempts rejected with insufficient balance.",
		},
	)

	// DuplicateTopupTotal counts topup credits rejected as idempotent replays.
	DuplicateTopupTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "voltmarket",
			Name:      "ledger_duplicate_idempotency_total",
			Help:      "Total credits rejected because the idempotency key was already applied.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		LedgerOpsTotal,
		LedgerOpDuration,
		InsufficientBalanceTotal,
		DuplicateTopupTotal,
	)
}

// observeOp increments the operation counter and returns a function to observe duration.
func observeOp(opType string) func() {
	LedgerOpsTotal.WithLabelValues(opType).Inc()
	start := time.Now()
	return func() {
		LedgerOpDuration.WithLabelValues(opType).Observe(time.Since(start).Seconds())
	}
}
