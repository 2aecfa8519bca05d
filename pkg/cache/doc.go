// Package cache provides a generic, bounded, TTL-aware in-memory store with
// LRU eviction and hit/miss statistics.
//
// # Overview
//
// Store[V] maps string keys to values of type V. Every entry carries its own
// TTL and is live while now-StoredAt <= TTL. Expired entries are never
// returned: Get and Has remove them on access and a background sweep removes
// the rest every CleanupInterval.
//
//	store, err := cache.New[[]Product](ctx, cache.Config{
//		MaxSize:         100,
//		DefaultTTL:      5 * time.Minute,
//		EnableLRU:       true,
//		EnableStats:     true,
//		CleanupInterval: time.Minute,
//	})
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//
//	_ = store.Set("shop:42:products", products)
//	if products, ok := store.Get("shop:42:products"); ok {
//		render(products)
//	}
//
// # Capacity
//
// Len() never exceeds MaxSize. Inserting a new key into a full store removes
// exactly one entry first:
//
//   - EnableLRU: the entry read least recently (Get refreshes recency, Has and Peek do not)
//   - OverflowReplaceOldest: the entry with the oldest StoredAt
//   - OverflowReject (default without LRU): nothing is removed and Set returns errors.ErrCapacityExceeded
//
// Overwriting an existing key never evicts. It resets StoredAt, TTL and HitCount.
//
// # Statistics
//
// Stats() returns a snapshot with hits, misses, size and hit rate plus set,
// delete, eviction and expiration counts. With EnableStats false hits and
// misses stay at zero; size is always tracked. Clear resets all counters.
// WithMetrics mirrors the counters to Prometheus under smartcache_cache_*.
//
// # Read-through Loading
//
// GetOrLoad and Load run a Loader on behalf of callers and store the result.
// Concurrent loads of one key share a single execution through
// golang.org/x/sync/singleflight, and a panicking loader is reported as
// errors.ErrFetchPanicked instead of crashing the process.
//
// # Time
//
// TTL arithmetic uses now.Sub(StoredAt). With the default clock time.Now
// carries a monotonic reading, so wall-clock adjustments do not move expiry.
// WithClock substitutes a controllable clock for tests.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Eviction callbacks run after the
// store lock is released.
package cache
