package binding

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/smartcache/metric"
)

type bindingMetrics struct {
	fetches       prometheus.Counter
	fetchErrors   prometheus.Counter
	revalidations *prometheus.CounterVec
	fetchDuration prometheus.Histogram
}

func newBindingMetrics(registry *metric.MetricsRegistry, name string) (*bindingMetrics, error) {
	labels := prometheus.Labels{"binding": name}
	m := &bindingMetrics{
		fetches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace, Subsystem: "binding", Name: "fetches_total",
			ConstLabels: labels, Help: "Fetcher invocations started by the binding",
		}),
		fetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace, Subsystem: "binding", Name: "fetch_errors_total",
			ConstLabels: labels, Help: "Fetches that ended in an error",
		}),
		revalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace, Subsystem: "binding", Name: "revalidations_total",
			ConstLabels: labels, Help: "Forced revalidations by reason",
		}, []string{"reason"}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metric.Namespace, Subsystem: "binding", Name: "fetch_duration_seconds",
			ConstLabels: labels, Help: "Fetch latency including retries",
			Buckets: prometheus.DefBuckets,
		}),
	}

	owner := "binding." + name
	if err := registry.RegisterCounter(owner, "fetches_total", m.fetches); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(owner, "fetch_errors_total", m.fetchErrors); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec(owner, "revalidations_total", m.revalidations); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram(owner, "fetch_duration_seconds", m.fetchDuration); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *bindingMetrics) recordFetch(seconds float64, err error) {
	if m == nil {
		return
	}
	m.fetches.Inc()
	m.fetchDuration.Observe(seconds)
	if err != nil {
		m.fetchErrors.Inc()
	}
}

func (m *bindingMetrics) recordRevalidation(reason string) {
	if m != nil {
		m.revalidations.WithLabelValues(reason).Inc()
	}
}
