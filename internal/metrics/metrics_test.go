package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordPurchase("ios", "ok")
	m.RecordAcknowledgement(nil)
	m.RecordAcknowledgement(errors.New("boom"))
	m.RecordSweepRun("ok")
	m.RecordSweepItem("ok")
	m.RecordSweepItem("validation")
	m.ObserveSweepDuration(2 * time.Second)

	if got := testutil.ToFloat64(m.purchases.WithLabelValues("ios", "ok")); got != 1 {
		t.Fatalf("purchases = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Acknowledgements().WithLabelValues("error")); got != 1 {
		t.Fatalf("acknowledgement errors = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.SweepItems()); got != 2 {
		t.Fatalf("sweep item series = %d, want 2", got)
	}
	if n, err := testutil.GatherAndCount(reg, "subscriptions_reconcile_duration_seconds"); err != nil || n != 1 {
		t.Fatalf("duration series = %d (%v), want 1", n, err)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordPurchase("android", "ok")
	m.RecordAcknowledgement(nil)
	m.RecordSweepRun("ok")
	m.RecordSweepItem("ok")
	m.ObserveSweepDuration(time.Second)
}
