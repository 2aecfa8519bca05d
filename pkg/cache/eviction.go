package cache

import (
	"container/list"
	"fmt"

	"github.com/c360/smartcache/errors"
)

// makeRoomLocked removes exactly one entry from a full store so a new key
// can be inserted. With LRU enabled the least recently accessed entry goes.
// Otherwise the overflow policy decides.
func (s *Store[V]) makeRoomLocked() (removal[V], error) {
	var victim *list.Element

	switch {
	case s.cfg.EnableLRU:
		victim = s.order.Back()
	case s.cfg.OverflowPolicy == OverflowReplaceOldest:
		victim = s.oldestStoredLocked()
	default:
		return removal[V]{}, errors.WrapInvalid(errors.ErrCapacityExceeded, "cache", "Set",
			fmt.Sprintf("insert into full store (max_size=%d)", s.cfg.MaxSize))
	}

	if victim == nil {
		return removal[V]{}, errors.WrapFatal(errors.ErrCapacityExceeded, "cache", "Set",
			"select eviction victim")
	}
	return s.removeLocked(victim, ReasonCapacity), nil
}

// oldestStoredLocked scans for the smallest StoredAt. Ties go to the entry
// closest to the LRU end of the list.
func (s *Store[V]) oldestStoredLocked() *list.Element {
	var oldest *list.Element
	for elem := s.order.Back(); elem != nil; elem = elem.Prev() {
		if oldest == nil || elem.Value.(*Entry[V]).StoredAt.Before(oldest.Value.(*Entry[V]).StoredAt) {
			oldest = elem
		}
	}
	return oldest
}

// Cleanup removes every expired entry and returns how many were removed.
func (s *Store[V]) Cleanup() int {
	var removed []removal[V]

	s.mu.Lock()
	now := s.now()
	for elem := s.order.Front(); elem != nil; {
		next := elem.Next()
		if elem.Value.(*Entry[V]).Expired(now) {
			removed = append(removed, s.removeLocked(elem, ReasonExpired))
		}
		elem = next
	}
	s.mu.Unlock()

	s.notify(removed)
	return len(removed)
}
