package cache

import (
	"context"
	"time"
)

// sweep runs in a background goroutine and periodically removes expired entries.
func (s *Store[V]) sweep(ctx context.Context, interval time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		case <-ticker.C:
			if n := s.Cleanup(); n > 0 {
				s.logger.Debug("Swept expired entries", "removed", n, "size", s.Len())
			}
		}
	}
}
