package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// testConfig returns a config with the background sweep disabled.
func testConfig(maxSize int, ttl time.Duration) Config {
	cfg := DefaultConfig()
	cfg.MaxSize = maxSize
	cfg.DefaultTTL = ttl
	cfg.CleanupInterval = 0
	return cfg
}

func newTestStore[V any](t *testing.T, cfg Config, opts ...Option[V]) *Store[V] {
	t.Helper()
	s, err := New[V](context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}
