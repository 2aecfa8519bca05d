package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler serves the registry in Prometheus exposition format.
func (r *MetricsRegistry) Handler() http.Handler {
	return promhttp.HandlerFor(
		r.prometheusRegistry,
		promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		},
	)
}

// Instrument wraps next with request counting and latency observation
// labelled by handler name.
func (r *MetricsRegistry) Instrument(name string, next http.Handler) http.Handler {
	labels := prometheus.Labels{"handler": name}
	counter := r.Metrics.HTTPRequests.MustCurryWith(labels)
	duration := r.Metrics.HTTPDuration.MustCurryWith(labels)

	return promhttp.InstrumentHandlerCounter(counter,
		promhttp.InstrumentHandlerDuration(duration, next))
}
