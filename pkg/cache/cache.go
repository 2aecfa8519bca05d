package cache

import (
	"context"
	"time"
)

// Entry is a stored value with its bookkeeping.
type Entry[V any] struct {
	Key          string
	Value        V
	StoredAt     time.Time
	TTL          time.Duration
	HitCount     int64
	LastAccessed time.Time
}

// Expired reports whether the entry is past its TTL at now.
// An entry is live while now-StoredAt <= TTL.
func (e *Entry[V]) Expired(now time.Time) bool {
	return now.Sub(e.StoredAt) > e.TTL
}

// EvictionReason says why an entry left the store.
type EvictionReason string

const (
	ReasonCapacity EvictionReason = "capacity"
	ReasonExpired  EvictionReason = "expired"
	ReasonDeleted  EvictionReason = "deleted"
	ReasonCleared  EvictionReason = "cleared"
)

// EvictCallback is called when an entry is removed from the store.
type EvictCallback[V any] func(key string, value V, reason EvictionReason)

// Loader produces the value for a key on a miss.
type Loader[V any] func(ctx context.Context) (V, error)
