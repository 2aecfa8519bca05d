package cache

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/c360/smartcache/errors"
)

// Store is a thread-safe bounded cache of V keyed by string.
// One Store serves one logical namespace; construct it at the composition
// root and pass it to whatever needs it.
//
// Values are kept as given. When V holds references (slices, maps,
// pointers) callers share them with the entry unless the store was built
// WithClone.
type Store[V any] struct {
	mu      sync.Mutex
	cfg     Config
	entries map[string]*list.Element
	order   *list.List // front is most recently used
	stats   *Statistics
	metrics *cacheMetrics // nil unless WithMetrics
	evictFn EvictCallback[V]
	clone   func(V) V // nil keeps values as given
	now     func() time.Time
	logger  *slog.Logger

	loads    singleflight.Group
	loadSeq  uint64
	inflight map[string]uint64 // key to the sequence of the load allowed to store

	closeOnce sync.Once
	shutdown  chan struct{}
	done      chan struct{}
}

// removal is an entry taken out under the lock whose callback fires after unlock.
type removal[V any] struct {
	key    string
	value  V
	reason EvictionReason
}

// New creates a Store. When cfg.CleanupInterval is positive a background
// sweep runs until ctx is cancelled or Close is called.
func New[V any](ctx context.Context, cfg Config, options ...Option[V]) (*Store[V], error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "cache", "New", "config validation failed")
	}
	cfg.OverflowPolicy = cfg.overflowPolicy()

	opts := applyOptions(options...)

	var metrics *cacheMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newCacheMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "cache", "New", "metrics registration")
		}
	}

	s := &Store[V]{
		cfg:      cfg,
		entries:  make(map[string]*list.Element),
		inflight: make(map[string]uint64),
		order:    list.New(),
		stats:    NewStatistics(),
		metrics:  metrics,
		evictFn:  opts.evictCallback,
		clone:    opts.clone,
		now:      opts.clock,
		logger:   opts.logger.With("component", "cache"),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}

	if cfg.CleanupInterval > 0 {
		go s.sweep(ctx, cfg.CleanupInterval)
	} else {
		close(s.done)
	}

	return s, nil
}

// Config returns the effective configuration.
func (s *Store[V]) Config() Config {
	return s.cfg
}

// Set stores value under key with the default TTL.
func (s *Store[V]) Set(key string, value V) error {
	return s.SetWithTTL(key, value, s.cfg.DefaultTTL)
}

// SetWithTTL stores value under key with an entry-specific TTL.
// Inserting a new key into a full store first removes one entry according
// to the eviction policy; overwriting an existing key never evicts.
func (s *Store[V]) SetWithTTL(key string, value V, ttl time.Duration) error {
	_, err := s.put(key, value, ttl, 0)
	return err
}

// put stores value. A non-zero seq makes the write conditional on that load
// still being current for key; stored is false when it was superseded.
func (s *Store[V]) put(key string, value V, ttl time.Duration, seq uint64) (stored bool, err error) {
	if ttl < 0 {
		return false, errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "SetWithTTL",
			fmt.Sprintf("ttl cannot be negative, got %v", ttl))
	}

	value = s.copyValue(value)
	var removed []removal[V]

	s.mu.Lock()
	if seq != 0 {
		if s.inflight[key] != seq {
			s.mu.Unlock()
			return false, nil
		}
		delete(s.inflight, key)
	}
	now := s.now()

	if elem, exists := s.entries[key]; exists {
		entry := elem.Value.(*Entry[V])
		entry.Value = value
		entry.StoredAt = now
		entry.TTL = ttl
		entry.HitCount = 0
		entry.LastAccessed = now
		s.order.MoveToFront(elem)
	} else {
		if len(s.entries) >= s.cfg.MaxSize {
			r, err := s.makeRoomLocked()
			if err != nil {
				s.mu.Unlock()
				return false, err
			}
			removed = append(removed, r)
		}
		entry := &Entry[V]{
			Key:          key,
			Value:        value,
			StoredAt:     now,
			TTL:          ttl,
			LastAccessed: now,
		}
		s.entries[key] = s.order.PushFront(entry)
	}

	s.stats.Set()
	s.metrics.recordSet()
	s.syncSizeLocked()
	s.mu.Unlock()

	s.notify(removed)
	return true, nil
}

// Get returns the live value for key. An expired entry is removed and
// counted as a miss.
func (s *Store[V]) Get(key string) (V, bool) {
	var zero V

	s.mu.Lock()
	elem, exists := s.entries[key]
	if !exists {
		s.recordMissLocked()
		s.mu.Unlock()
		return zero, false
	}

	entry := elem.Value.(*Entry[V])
	now := s.now()
	if entry.Expired(now) {
		r := s.removeLocked(elem, ReasonExpired)
		s.recordMissLocked()
		s.mu.Unlock()
		s.notify([]removal[V]{r})
		return zero, false
	}

	entry.HitCount++
	entry.LastAccessed = now
	s.order.MoveToFront(elem)
	s.recordHitLocked()
	value := entry.Value
	s.mu.Unlock()

	return s.copyValue(value), true
}

// Has reports whether key holds a live entry. It does not touch statistics
// or recency, but removes the entry if it has expired.
func (s *Store[V]) Has(key string) bool {
	s.mu.Lock()
	elem, exists := s.entries[key]
	if !exists {
		s.mu.Unlock()
		return false
	}

	if elem.Value.(*Entry[V]).Expired(s.now()) {
		r := s.removeLocked(elem, ReasonExpired)
		s.mu.Unlock()
		s.notify([]removal[V]{r})
		return false
	}
	s.mu.Unlock()
	return true
}

// Peek returns a copy of the live entry for key without updating
// statistics, recency or hit count.
func (s *Store[V]) Peek(key string) (Entry[V], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, exists := s.entries[key]
	if !exists {
		return Entry[V]{}, false
	}
	entry := elem.Value.(*Entry[V])
	if entry.Expired(s.now()) {
		return Entry[V]{}, false
	}
	out := *entry
	out.Value = s.copyValue(out.Value)
	return out, true
}

func (s *Store[V]) copyValue(v V) V {
	if s.clone == nil {
		return v
	}
	return s.clone(v)
}

// Delete removes key. It returns true if the key was present.
func (s *Store[V]) Delete(key string) bool {
	s.mu.Lock()
	elem, exists := s.entries[key]
	if !exists {
		s.mu.Unlock()
		return false
	}

	r := s.removeLocked(elem, ReasonDeleted)
	s.mu.Unlock()

	s.notify([]removal[V]{r})
	return true
}

// Clear removes every entry and resets statistics.
func (s *Store[V]) Clear() {
	s.mu.Lock()
	var removed []removal[V]
	if s.evictFn != nil {
		removed = make([]removal[V], 0, len(s.entries))
		for elem := s.order.Front(); elem != nil; elem = elem.Next() {
			entry := elem.Value.(*Entry[V])
			removed = append(removed, removal[V]{key: entry.Key, value: entry.Value, reason: ReasonCleared})
		}
	}
	s.entries = make(map[string]*list.Element)
	s.order.Init()
	s.stats.Reset()
	s.syncSizeLocked()
	s.mu.Unlock()

	s.notify(removed)
}

// Keys returns the current keys, most recently used first. Expired entries
// that have not been swept yet are included.
func (s *Store[V]) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.entries))
	for elem := s.order.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*Entry[V]).Key)
	}
	return keys
}

// Len returns the number of entries, including expired ones not yet removed.
func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stats returns a snapshot of the store statistics.
func (s *Store[V]) Stats() Stats {
	return s.stats.Snapshot(s.cfg.MaxSize)
}

// Close stops the background sweep. The store stays usable afterwards.
func (s *Store[V]) Close() error {
	s.closeOnce.Do(func() {
		close(s.shutdown)
	})

	select {
	case <-s.done:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for cleanup goroutine to finish")
	}
}

// removeLocked unlinks elem and updates counters for reason.
func (s *Store[V]) removeLocked(elem *list.Element, reason EvictionReason) removal[V] {
	entry := s.order.Remove(elem).(*Entry[V])
	delete(s.entries, entry.Key)

	switch reason {
	case ReasonCapacity:
		s.stats.Eviction()
		s.metrics.recordEviction()
	case ReasonExpired:
		s.stats.Expiration()
		s.metrics.recordExpiration()
	case ReasonDeleted:
		s.stats.Delete()
		s.metrics.recordDelete()
	}
	s.syncSizeLocked()

	return removal[V]{key: entry.Key, value: entry.Value, reason: reason}
}

func (s *Store[V]) syncSizeLocked() {
	size := len(s.entries)
	s.stats.UpdateSize(size)
	s.metrics.updateSize(size)
}

func (s *Store[V]) recordHitLocked() {
	if s.cfg.EnableStats {
		s.stats.Hit()
		s.metrics.recordHit()
	}
}

func (s *Store[V]) recordMissLocked() {
	if s.cfg.EnableStats {
		s.stats.Miss()
		s.metrics.recordMiss()
	}
}

// notify runs the eviction callback for each removal. Must not hold s.mu.
func (s *Store[V]) notify(removed []removal[V]) {
	if s.evictFn == nil {
		return
	}
	for _, r := range removed {
		s.evictFn(r.key, r.value, r.reason)
	}
}
