package cache

import (
	"fmt"
	"math/rand"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/smartcache/errors"
)

func TestStore_BasicHit(t *testing.T) {
	store := newTestStore[int](t, testConfig(10, 1000*time.Millisecond))

	require.NoError(t, store.Set("a", 42))

	v, ok := store.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 42, v)

	stats := store.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(0), stats.Misses)
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, 1.0, stats.HitRate)
}

func TestStore_Expiry(t *testing.T) {
	store := newTestStore[int](t, testConfig(10, time.Minute))

	require.NoError(t, store.SetWithTTL("a", 42, 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	v, ok := store.Get("a")
	assert.False(t, ok)
	assert.Zero(t, v)
	assert.False(t, store.Has("a"))

	stats := store.Stats()
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Expirations)
	assert.Equal(t, 0, stats.Size)
}

func TestStore_LRUEviction(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(t, testConfig(2, time.Hour), WithClock[int](clock.Now))

	require.NoError(t, store.Set("a", 1))
	clock.Advance(time.Millisecond)
	require.NoError(t, store.Set("b", 2))
	clock.Advance(time.Millisecond)

	_, ok := store.Get("a")
	require.True(t, ok)
	clock.Advance(time.Millisecond)

	require.NoError(t, store.Set("c", 3))

	_, ok = store.Get("b")
	assert.False(t, ok, "b was least recently accessed")

	v, ok := store.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = store.Get("c")
	assert.True(t, ok)
	assert.Equal(t, 3, v)

	assert.Equal(t, int64(1), store.Stats().Evictions)
}

func TestStore_TTLBoundary(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(t, testConfig(10, time.Second), WithClock[string](clock.Now))

	require.NoError(t, store.Set("edge", "v"))
	clock.Advance(time.Second)
	assert.True(t, store.Has("edge"), "live at exactly TTL")

	clock.Advance(time.Nanosecond)
	assert.False(t, store.Has("edge"), "expired once TTL is exceeded")

	require.NoError(t, store.SetWithTTL("zero", "v", 0))
	assert.True(t, store.Has("zero"), "zero TTL is live with no elapsed time")
	clock.Advance(time.Nanosecond)
	_, ok := store.Get("zero")
	assert.False(t, ok)
}

func TestStore_OverwriteNeverEvicts(t *testing.T) {
	var evicted []string
	store := newTestStore(t, testConfig(2, time.Hour),
		WithEvictionCallback[int](func(key string, _ int, _ EvictionReason) {
			evicted = append(evicted, key)
		}))

	require.NoError(t, store.Set("a", 1))
	require.NoError(t, store.Set("b", 2))
	require.NoError(t, store.Set("a", 10))
	require.NoError(t, store.Set("b", 20))

	assert.Empty(t, evicted)
	assert.Equal(t, 2, store.Len())
	v, _ := store.Get("a")
	assert.Equal(t, 10, v)
}

func TestStore_OverwriteResetsEntry(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(t, testConfig(10, time.Minute), WithClock[string](clock.Now))

	require.NoError(t, store.Set("k", "v1"))
	store.Get("k")
	store.Get("k")

	entry, ok := store.Peek("k")
	require.True(t, ok)
	assert.Equal(t, int64(2), entry.HitCount)

	clock.Advance(50 * time.Second)
	require.NoError(t, store.SetWithTTL("k", "v2", 30*time.Second))

	entry, ok = store.Peek("k")
	require.True(t, ok)
	assert.Equal(t, "v2", entry.Value)
	assert.Equal(t, int64(0), entry.HitCount)
	assert.Equal(t, 30*time.Second, entry.TTL)
	assert.Equal(t, clock.Now(), entry.StoredAt)

	// The new StoredAt governs expiry, not the original insert.
	clock.Advance(20 * time.Second)
	assert.True(t, store.Has("k"))
}

func TestStore_HasDoesNotTouchStatsOrRecency(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(t, testConfig(2, time.Hour), WithClock[int](clock.Now))

	require.NoError(t, store.Set("a", 1))
	clock.Advance(time.Millisecond)
	require.NoError(t, store.Set("b", 2))
	clock.Advance(time.Millisecond)

	assert.True(t, store.Has("a"))
	assert.False(t, store.Has("missing"))

	stats := store.Stats()
	assert.Zero(t, stats.Hits)
	assert.Zero(t, stats.Misses)

	require.NoError(t, store.Set("c", 3))
	assert.False(t, store.Has("a"), "Has must not refresh recency")
	assert.True(t, store.Has("b"))
}

func TestStore_PeekHasNoSideEffects(t *testing.T) {
	store := newTestStore[string](t, testConfig(10, time.Minute))
	require.NoError(t, store.Set("k", "v"))

	entry, ok := store.Peek("k")
	require.True(t, ok)
	assert.Equal(t, "k", entry.Key)
	assert.Zero(t, entry.HitCount)
	assert.Zero(t, store.Stats().Hits)

	_, ok = store.Peek("missing")
	assert.False(t, ok)
}

func TestStore_Delete(t *testing.T) {
	store := newTestStore[string](t, testConfig(10, time.Minute))

	assert.False(t, store.Delete("missing"))

	require.NoError(t, store.Set("k", "v"))
	assert.True(t, store.Delete("k"))
	assert.False(t, store.Delete("k"))

	_, ok := store.Get("k")
	assert.False(t, ok)

	stats := store.Stats()
	assert.Equal(t, int64(1), stats.Deletes)
	assert.Equal(t, 0, stats.Size)
}

func TestStore_Clear(t *testing.T) {
	store := newTestStore[int](t, testConfig(10, time.Minute))

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Set(fmt.Sprintf("k%d", i), i))
	}
	store.Get("k1")
	store.Get("nope")

	store.Clear()

	assert.Equal(t, 0, store.Len())
	assert.Empty(t, store.Keys())
	stats := store.Stats()
	assert.Zero(t, stats.Hits)
	assert.Zero(t, stats.Misses)
	assert.Zero(t, stats.Size)
	assert.Zero(t, stats.HitRate)
	assert.Equal(t, 10, stats.MaxSize)
}

func TestStore_Cleanup(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(t, testConfig(10, time.Minute), WithClock[int](clock.Now))

	require.NoError(t, store.SetWithTTL("short1", 1, time.Second))
	require.NoError(t, store.SetWithTTL("short2", 2, time.Second))
	require.NoError(t, store.SetWithTTL("long", 3, time.Hour))

	assert.Equal(t, 0, store.Cleanup())

	clock.Advance(2 * time.Second)

	// Not yet swept: still listed and counted.
	assert.Len(t, store.Keys(), 3)

	assert.Equal(t, 2, store.Cleanup())
	assert.Equal(t, []string{"long"}, store.Keys())
	assert.Equal(t, 1, store.Stats().Size)
	assert.Equal(t, int64(2), store.Stats().Expirations)
}

func TestStore_KeysMostRecentFirst(t *testing.T) {
	store := newTestStore[int](t, testConfig(10, time.Minute))

	require.NoError(t, store.Set("a", 1))
	require.NoError(t, store.Set("b", 2))
	require.NoError(t, store.Set("c", 3))
	store.Get("a")

	assert.Equal(t, []string{"a", "c", "b"}, store.Keys())
}

func TestStore_StatsDisabled(t *testing.T) {
	cfg := testConfig(10, time.Minute)
	cfg.EnableStats = false
	store := newTestStore[int](t, cfg)

	require.NoError(t, store.Set("a", 1))
	store.Get("a")
	store.Get("b")

	stats := store.Stats()
	assert.Zero(t, stats.Hits)
	assert.Zero(t, stats.Misses)
	assert.Zero(t, stats.HitRate)
	assert.Equal(t, 1, stats.Size)
}

func TestStore_HitRate(t *testing.T) {
	store := newTestStore[int](t, testConfig(10, time.Minute))
	assert.Zero(t, store.Stats().HitRate)

	require.NoError(t, store.Set("a", 1))
	store.Get("a")
	store.Get("a")
	store.Get("a")
	store.Get("missing")

	assert.InDelta(t, 0.75, store.Stats().HitRate, 1e-9)
}

func TestStore_RejectOverflow(t *testing.T) {
	cfg := testConfig(2, time.Minute)
	cfg.EnableLRU = false
	cfg.OverflowPolicy = OverflowReject
	store := newTestStore[int](t, cfg)

	require.NoError(t, store.Set("a", 1))
	require.NoError(t, store.Set("b", 2))

	err := store.Set("c", 3)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCapacityExceeded))
	assert.True(t, errors.IsInvalid(err))

	assert.Equal(t, 2, store.Len())
	assert.False(t, store.Has("c"))

	// Overwrites still succeed on a full store.
	require.NoError(t, store.Set("a", 100))
}

func TestStore_EmptyPolicyDefaultsToReject(t *testing.T) {
	cfg := testConfig(1, time.Minute)
	cfg.EnableLRU = false
	cfg.OverflowPolicy = ""
	store := newTestStore[int](t, cfg)

	assert.Equal(t, OverflowReject, store.Config().OverflowPolicy)
	require.NoError(t, store.Set("a", 1))
	assert.ErrorIs(t, store.Set("b", 2), errors.ErrCapacityExceeded)
}

func TestStore_ReplaceOldestOverflow(t *testing.T) {
	clock := newFakeClock()
	cfg := testConfig(2, time.Hour)
	cfg.EnableLRU = false
	cfg.OverflowPolicy = OverflowReplaceOldest
	store := newTestStore(t, cfg, WithClock[int](clock.Now))

	require.NoError(t, store.Set("a", 1))
	clock.Advance(time.Millisecond)
	require.NoError(t, store.Set("b", 2))
	clock.Advance(time.Millisecond)

	// Recency does not protect "a": it has the oldest StoredAt.
	store.Get("a")
	clock.Advance(time.Millisecond)

	require.NoError(t, store.Set("c", 3))

	assert.False(t, store.Has("a"))
	assert.True(t, store.Has("b"))
	assert.True(t, store.Has("c"))
	assert.Equal(t, int64(1), store.Stats().Evictions)
}

func TestStore_EvictionCallbackReasons(t *testing.T) {
	clock := newFakeClock()
	var mu sync.Mutex
	reasons := map[string]EvictionReason{}

	store := newTestStore(t, testConfig(2, time.Minute),
		WithClock[int](clock.Now),
		WithEvictionCallback[int](func(key string, _ int, reason EvictionReason) {
			mu.Lock()
			reasons[key] = reason
			mu.Unlock()
		}))

	require.NoError(t, store.Set("deleted", 1))
	store.Delete("deleted")

	require.NoError(t, store.SetWithTTL("expired", 2, time.Second))
	clock.Advance(2 * time.Second)
	store.Get("expired")

	require.NoError(t, store.Set("lru", 3))
	clock.Advance(time.Millisecond)
	require.NoError(t, store.Set("keep", 4))
	clock.Advance(time.Millisecond)
	require.NoError(t, store.Set("new", 5))

	store.Clear()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, ReasonDeleted, reasons["deleted"])
	assert.Equal(t, ReasonExpired, reasons["expired"])
	assert.Equal(t, ReasonCapacity, reasons["lru"])
	assert.Equal(t, ReasonCleared, reasons["keep"])
	assert.Equal(t, ReasonCleared, reasons["new"])
}

func TestStore_CallbackMayReenter(t *testing.T) {
	var store *Store[int]
	store = newTestStore(t, testConfig(1, time.Minute),
		WithEvictionCallback[int](func(_ string, _ int, _ EvictionReason) {
			_ = store.Len()
		}))

	require.NoError(t, store.Set("a", 1))
	require.NoError(t, store.Set("b", 2))
	assert.Equal(t, 1, store.Len())
}

func TestStore_EmptyKeyIsAnOrdinaryKey(t *testing.T) {
	store := newTestStore[int](t, testConfig(10, time.Minute))

	require.NoError(t, store.Set("", 1))
	v, ok := store.Get("")
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.True(t, store.Delete(""))
}

func TestStore_WithCloneIsolatesValues(t *testing.T) {
	store := newTestStore[[]string](t, testConfig(10, time.Minute),
		WithClone(slices.Clone[[]string]))

	in := []string{"a", "b"}
	require.NoError(t, store.Set("k", in))
	in[0] = "changed"

	got, ok := store.Get("k")
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, got)
	got[1] = "changed"

	entry, ok := store.Peek("k")
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, entry.Value)
}

func TestStore_InvalidInput(t *testing.T) {
	store := newTestStore[int](t, testConfig(10, time.Minute))

	err := store.SetWithTTL("k", 1, -time.Second)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestNew_InvalidConfig(t *testing.T) {
	base := testConfig(10, time.Minute)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero max size", func(c *Config) { c.MaxSize = 0 }},
		{"negative max size", func(c *Config) { c.MaxSize = -5 }},
		{"negative ttl", func(c *Config) { c.DefaultTTL = -time.Second }},
		{"negative cleanup", func(c *Config) { c.CleanupInterval = -time.Second }},
		{"unknown policy", func(c *Config) { c.OverflowPolicy = "grow" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			_, err := New[int](t.Context(), cfg)
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestStore_SizeNeverExceedsMax(t *testing.T) {
	clock := newFakeClock()
	for _, lru := range []bool{true, false} {
		t.Run(fmt.Sprintf("lru=%v", lru), func(t *testing.T) {
			cfg := testConfig(8, 50*time.Millisecond)
			cfg.EnableLRU = lru
			cfg.OverflowPolicy = OverflowReplaceOldest
			store := newTestStore(t, cfg, WithClock[int](clock.Now))

			rng := rand.New(rand.NewSource(1))
			for i := 0; i < 2000; i++ {
				key := fmt.Sprintf("k%d", rng.Intn(32))
				switch rng.Intn(5) {
				case 0, 1:
					require.NoError(t, store.Set(key, i))
				case 2:
					store.Get(key)
				case 3:
					store.Delete(key)
				case 4:
					clock.Advance(time.Duration(rng.Intn(20)) * time.Millisecond)
				}
				require.LessOrEqual(t, store.Len(), 8)
				require.Equal(t, store.Len(), store.Stats().Size)

				stats := store.Stats()
				require.GreaterOrEqual(t, stats.HitRate, 0.0)
				require.LessOrEqual(t, stats.HitRate, 1.0)
			}
		})
	}
}

func TestStore_ConcurrentAccess(t *testing.T) {
	store := newTestStore[int](t, testConfig(50, time.Minute))

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				key := fmt.Sprintf("k%d", (g*31+i)%100)
				_ = store.Set(key, i)
				store.Get(key)
				store.Has(key)
				if i%50 == 0 {
					store.Delete(key)
					store.Cleanup()
				}
			}
		}(g)
	}
	wg.Wait()

	assert.LessOrEqual(t, store.Len(), 50)
	stats := store.Stats()
	assert.Equal(t, store.Len(), stats.Size)
}

func TestStore_BackgroundSweep(t *testing.T) {
	clock := newFakeClock()
	cfg := testConfig(10, time.Second)
	cfg.CleanupInterval = 5 * time.Millisecond
	store := newTestStore(t, cfg, WithClock[int](clock.Now))

	require.NoError(t, store.Set("a", 1))
	require.NoError(t, store.Set("b", 2))
	clock.Advance(2 * time.Second)

	require.Eventually(t, func() bool {
		return store.Len() == 0
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(2), store.Stats().Expirations)
}

func TestStore_CloseIsIdempotent(t *testing.T) {
	cfg := testConfig(10, time.Minute)
	cfg.CleanupInterval = time.Millisecond
	store, err := New[int](t.Context(), cfg)
	require.NoError(t, err)

	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	// Still usable after the sweeper stops.
	require.NoError(t, store.Set("a", 1))
	_, ok := store.Get("a")
	assert.True(t, ok)
}

func BenchmarkStore_Get(b *testing.B) {
	store, err := New[string](b.Context(), testConfig(1000, time.Minute))
	if err != nil {
		b.Fatal(err)
	}
	defer store.Close()

	for i := 0; i < 1000; i++ {
		_ = store.Set(fmt.Sprintf("key%d", i), fmt.Sprintf("value%d", i))
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			store.Get(fmt.Sprintf("key%d", i%1000))
			i++
		}
	})
}

func BenchmarkStore_SetWithEviction(b *testing.B) {
	store, err := New[int](b.Context(), testConfig(100, time.Minute))
	if err != nil {
		b.Fatal(err)
	}
	defer store.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = store.Set(fmt.Sprintf("key%d", i), i)
	}
}
