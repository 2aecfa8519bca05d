// Package metric provides the Prometheus registry shared by caches, bindings
// and the admin server.
//
// The registry carries a small set of process-level metrics (component status,
// admin HTTP traffic, trigger signals, NATS connectivity) plus whatever the
// cache and binding packages register through MetricsRegistrar. Each
// registration is keyed by owner and metric name so two caches with different
// names can coexist in one process.
//
// # Basic Usage
//
//	registry := metric.NewMetricsRegistry()
//
//	store, err := cache.New[[]Product](cfg, cache.WithMetrics(registry, "products"))
//
//	mux.Handle("/metrics", registry.Handler())
//	mux.Handle("/cache/stats", registry.Instrument("cache_stats", statsHandler))
//
// Metrics are exported under the "smartcache" namespace, for example
// smartcache_cache_hits_total and smartcache_binding_fetches_total.
//
// # Testing
//
// Tests gather from PrometheusRegistry() directly or use
// prometheus/testutil.ToFloat64 on a single collector.
package metric
