package wallet

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestObserveOp_IncrementsCounter(t *testing.T) {
	LedgerOpsTotal.Reset()

	done := observeOp("test_op")
	done()

	m := &dto.Metric{}
	counter, err := LedgerOpsTotal.GetMetricWithLabelValues("test_op")
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues failed: %v", err)
	}
	_ = counter.Write(m)

	if m.Counter.GetValue() != 1.0 {
		t.Errorf("expected counter value 1, got %f", m.Counter.GetValue())
	}
}

func TestObserveOp_ObservesHistogram(t *testing.T) {
	LedgerOpDuration.Reset()

	done := observeOp("hist_test")
	done()

	ch := make(chan prometheus.Metric, 10)
	LedgerOpDuration.Collect(ch)
	close(ch)

	found := false
	for metric := range ch {
		m := &dto.Metric{}
		_ = metric.Write(m)
		if m.Histogram != nil && m.Histogram.GetSampleCount() == 1 {
			found = true
		}
	}
	if !found {
		t.Error("expected histogram with 1 sample")
	}
}

func TestDuplicateTopupCounter(t *testing.T) {
	before := counterValue(t, DuplicateTopupTotal)

	l := newTestLedger()
	ctx := context.Background()
	if err := l.Credit(ctx, "m1", "100", ServiceWalletTopup, "", nil, "OD-METRIC1"); err != nil {
		t.Fatalf("first credit: %v", err)
	}
	_ = l.Credit(ctx, "m1", "100", ServiceWalletTopup, "", nil, "OD-METRIC1")

	after := counterValue(t, DuplicateTopupTotal)
	if after != before+1 {
		t.Errorf("duplicate counter: got %f, want %f", after, before+1)
	}
}

func TestInsufficientBalanceCounter(t *testing.T) {
	before := counterValue(t, InsufficientBalanceTotal)

	l := newTestLedger()
	_ = l.Debit(context.Background(), "m2", "100", ServiceDeduction, "", nil)

	after := counterValue(t, InsufficientBalanceTotal)
	if after != before+1 {
		t.Errorf("insufficient balance counter: got %f, want %f", after, before+1)
	}
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.Counter.GetValue()
}
