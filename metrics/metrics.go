// Package metrics provides the prometheus-backed sink the radix tree
// reports into.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// TreeMetrics implements radix.Metrics. Pointer traversals form a histogram
// because the interesting signal is the distribution (it tracks key length
// and tree depth, not load); value-cell CAS retries are a plain contention
// counter.
type TreeMetrics struct {
	PointerTraversals prometheus.Histogram
	ValueCASRetries   prometheus.Counter
}

// New builds and, when reg is non-nil, registers the tree metrics.
func New(reg prometheus.Registerer) *TreeMetrics {
	m := &TreeMetrics{
		PointerTraversals: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "famradix",
			Name:      "pointer_traversals",
			Help:      "Pointer dereferences per tree lookup.",
			Buckets:   prometheus.LinearBuckets(0, 4, 16),
		}),
		ValueCASRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "famradix",
			Name:      "value_cas_retries_total",
			Help:      "Value-cell compare-and-swap attempts that lost a race.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.PointerTraversals, m.ValueCASRetries)
	}
	return m
}

func (m *TreeMetrics) ObservePointerTraversals(n int) {
	m.PointerTraversals.Observe(float64(n))
}

func (m *TreeMetrics) IncValueCASRetry() {
	m.ValueCASRetries.Inc()
}
