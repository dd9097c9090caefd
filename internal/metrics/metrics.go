package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instrumentation of purchase processing and reconciliation.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	purchases       *prometheus.CounterVec
	acknowledgments *prometheus.CounterVec
	sweepRuns       *prometheus.CounterVec
	sweepItems      *prometheus.CounterVec
	sweepDuration   prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		purchases: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "subscriptions",
				Subsystem: "purchases",
				Name:      "processed_total",
				Help:      "Purchases processed by platform and outcome",
			},
			[]string{"app", "outcome"},
		),
		acknowledgments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "subscriptions",
				Subsystem: "purchases",
				Name:      "acknowledgements_total",
				Help:      "Google Play acknowledge calls by result",
			},
			[]string{"result"},
		),
		sweepRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "subscriptions",
				Subsystem: "reconcile",
				Name:      "runs_total",
				Help:      "Reconciliation sweeps by result",
			},
			[]string{"result"},
		),
		sweepItems: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "subscriptions",
				Subsystem: "reconcile",
				Name:      "items_total",
				Help:      "Subscriptions re-validated by the sweep, by outcome",
			},
			[]string{"outcome"},
		),
		sweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "subscriptions",
				Subsystem: "reconcile",
				Name:      "duration_seconds",
				Help:      "Wall time of completed reconciliation sweeps",
				Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600},
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.purchases, m.acknowledgments, m.sweepRuns, m.sweepItems, m.sweepDuration)
	}
	return m
}

func (m *Metrics) RecordPurchase(app, outcome string) {
	if m == nil {
		return
	}
	m.purchases.WithLabelValues(app, outcome).Inc()
}

func (m *Metrics) RecordAcknowledgement(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.acknowledgments.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordSweepRun(result string) {
	if m == nil {
		return
	}
	m.sweepRuns.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordSweepItem(outcome string) {
	if m == nil {
		return
	}
	m.sweepItems.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveSweepDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(d.Seconds())
}

// SweepRuns exposes the sweep counter for assertions in tests.
func (m *Metrics) SweepRuns() *prometheus.CounterVec {
	return m.sweepRuns
}

// SweepItems exposes the item counter for assertions in tests.
func (m *Metrics) SweepItems() *prometheus.CounterVec {
	return m.sweepItems
}

// Acknowledgements exposes the acknowledge counter for assertions in tests.
func (m *Metrics) Acknowledgements() *prometheus.CounterVec {
	return m.acknowledgments
}
