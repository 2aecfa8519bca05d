// Package health aggregates component health for the admin /health endpoint.
//
// A Status is healthy, degraded or unhealthy. Helpers derive statuses from
// the pieces of a running service:
//
//	FromCacheStats  store hit rate and fill level against CacheThresholds
//	FromNATS        connection state of the revalidation transport
//	FromFetchError  last fetch outcome of a binding, error text sanitized
//
// A Monitor collects them, either pushed with Update or polled through a
// registered Probe:
//
//	mon := health.NewMonitor(registry.CoreMetrics())
//	mon.Register("cache", func() health.Status {
//		return health.FromCacheStats("cache", store.Stats(), health.DefaultCacheThresholds())
//	})
//	mux.Handle("/health", mon.Handler("smartcache"))
//
// Aggregation takes the worst sub-status. The handler answers 503 only
// when the aggregate is unhealthy. Each recorded status is mirrored to the
// smartcache_component_status gauge when core metrics are supplied.
//
// Error messages reported through FromFetchError have URLs, filesystem
// paths, IP addresses, ports and credential assignments replaced with
// placeholders before they leave the process.
package health
