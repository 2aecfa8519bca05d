package cache

import (
	"sync/atomic"
)

// Statistics tracks store counters. All fields are updated atomically.
type Statistics struct {
	hits        atomic.Int64
	misses      atomic.Int64
	sets        atomic.Int64
	deletes     atomic.Int64
	evictions   atomic.Int64
	expirations atomic.Int64
	size        atomic.Int64
}

// NewStatistics creates a new statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{}
}

// Hit records a cache hit.
func (s *Statistics) Hit() { s.hits.Add(1) }

// Miss records a cache miss.
func (s *Statistics) Miss() { s.misses.Add(1) }

// Set records a set operation.
func (s *Statistics) Set() { s.sets.Add(1) }

// Delete records an explicit delete of a present key.
func (s *Statistics) Delete() { s.deletes.Add(1) }

// Eviction records a capacity eviction.
func (s *Statistics) Eviction() { s.evictions.Add(1) }

// Expiration records removal of an expired entry.
func (s *Statistics) Expiration() { s.expirations.Add(1) }

// UpdateSize stores the current entry count.
func (s *Statistics) UpdateSize(size int) { s.size.Store(int64(size)) }

// Hits returns the total number of cache hits.
func (s *Statistics) Hits() int64 { return s.hits.Load() }

// Misses returns the total number of cache misses.
func (s *Statistics) Misses() int64 { return s.misses.Load() }

// HitRatio returns hits/(hits+misses), or 0 before any read.
func (s *Statistics) HitRatio() float64 {
	hits := s.Hits()
	total := hits + s.Misses()

	if total == 0 {
		return 0.0
	}

	return float64(hits) / float64(total)
}

// Reset sets every counter to zero.
func (s *Statistics) Reset() {
	s.hits.Store(0)
	s.misses.Store(0)
	s.sets.Store(0)
	s.deletes.Store(0)
	s.evictions.Store(0)
	s.expirations.Store(0)
	s.size.Store(0)
}

// Stats is a read-only snapshot of store statistics.
type Stats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	Size        int     `json:"size"`
	HitRate     float64 `json:"hit_rate"`
	Sets        int64   `json:"sets"`
	Deletes     int64   `json:"deletes"`
	Evictions   int64   `json:"evictions"`
	Expirations int64   `json:"expirations"`
	MaxSize     int     `json:"max_size"`
}

// Snapshot returns the current values. maxSize is the store's configured capacity.
func (s *Statistics) Snapshot(maxSize int) Stats {
	hits := s.hits.Load()
	misses := s.misses.Load()

	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}

	return Stats{
		Hits:        hits,
		Misses:      misses,
		Size:        int(s.size.Load()),
		HitRate:     rate,
		Sets:        s.sets.Load(),
		Deletes:     s.deletes.Load(),
		Evictions:   s.evictions.Load(),
		Expirations: s.expirations.Load(),
		MaxSize:     maxSize,
	}
}
