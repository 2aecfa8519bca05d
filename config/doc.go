// Package config loads, validates and hot-reloads smartcache configuration.
//
// # Loading
//
// Files are layered onto Default(). Each layer is size and depth checked,
// validated against the embedded JSON schema, then deep-merged so a layer
// only needs the fields it changes. SMARTCACHE_* environment variables are
// applied last:
//
//	loader := config.NewLoader()
//	loader.AddLayer("/etc/smartcache/base.json")
//	loader.AddLayer("/etc/smartcache/prod.json")
//	cfg, err := loader.Load()
//
// Durations may be written as strings ("30s") or integer nanoseconds.
//
// Recognised overrides: HTTP_ADDR, CACHE_MAX_SIZE, CACHE_DEFAULT_TTL,
// CACHE_ENABLE_LRU, BINDING_ENABLED, BINDING_REFETCH_ON_WINDOW_FOCUS,
// BINDING_FETCH_TIMEOUT, WORKERS_COUNT, WORKERS_QUEUE_SIZE, NATS_ENABLED,
// NATS_URLS, NATS_USERNAME, NATS_PASSWORD, NATS_TOKEN, CATALOG_BACKEND_URL
// and CATALOG_SHOPS, each prefixed with SMARTCACHE_.
//
// # Runtime updates
//
// Manager listens on a NATS subject for Message values naming a section
// and a partial JSON value. Only the binding, retry, focus and catalog
// sections change at runtime. Updates carrying a version older than the
// local one are ignored. Subscribers register with OnChange:
//
//	updates := mgr.OnChange("binding")
//	for u := range updates {
//		applyBindingConfig(u.Config.Get().Binding)
//	}
//
// SafeConfig hands out deep copies so callers can never mutate shared state.
package config
