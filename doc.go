// Package smartcache is an in-memory TTL and LRU cache with reactive
// bindings that keep cached values fresh.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│          Triggers                   │  focus, visibility, interval,
//	│  (wsfocus, natstrigger, manual)     │  manual, remote invalidation
//	└─────────────────────────────────────┘
//	           ↓ signal
//	┌─────────────────────────────────────┐
//	│          Bindings                   │  fetch on demand, keep last
//	│  (state machine per cache key)      │  good data, publish state
//	└─────────────────────────────────────┘
//	           ↓ read through
//	┌─────────────────────────────────────┐
//	│          Cache store                │  TTL expiry, LRU eviction,
//	│  (pkg/cache)                        │  hit and miss statistics
//	└─────────────────────────────────────┘
//
// # Packages
//
//   - pkg/cache: the store, its eviction policy and statistics
//   - pkg/binding: reactive bindings over a store
//   - pkg/trigger: revalidation signal sources and combinators
//   - pkg/worker: bounded pool used as the fetch executor
//   - pkg/retry: backoff for transient fetch failures
//   - config, errors, health, metric, natsclient: service plumbing
//
// The cmd/smartcache binary wires these together behind an HTTP admin API.
package smartcache
