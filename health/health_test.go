package health

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/smartcache/metric"
	"github.com/c360/smartcache/natsclient"
	"github.com/c360/smartcache/pkg/cache"
)

func TestConstructors(t *testing.T) {
	h := NewHealthy("cache", "ok")
	assert.True(t, h.Healthy)
	assert.True(t, h.IsHealthy())
	assert.Equal(t, 2, h.Level())
	assert.False(t, h.Timestamp.IsZero())

	d := NewDegraded("cache", "slow")
	assert.False(t, d.Healthy)
	assert.True(t, d.IsDegraded())
	assert.Equal(t, 1, d.Level())

	u := NewUnhealthy("cache", "down")
	assert.True(t, u.IsUnhealthy())
	assert.Equal(t, 0, u.Level())
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name string
		subs []Status
		want string
	}{
		{"empty", nil, StateHealthy},
		{"all healthy", []Status{NewHealthy("a", ""), NewHealthy("b", "")}, StateHealthy},
		{"one degraded", []Status{NewHealthy("a", ""), NewDegraded("b", "")}, StateDegraded},
		{"unhealthy wins", []Status{NewDegraded("a", ""), NewUnhealthy("b", ""), NewHealthy("c", "")}, StateUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Aggregate("system", tt.subs)
			assert.Equal(t, tt.want, got.Status)
			assert.Len(t, got.SubStatuses, len(tt.subs))
		})
	}
}

func TestFromCacheStats(t *testing.T) {
	th := DefaultCacheThresholds()

	t.Run("too few reads", func(t *testing.T) {
		st := FromCacheStats("cache", cache.Stats{Hits: 0, Misses: 50, MaxSize: 100}, th)
		assert.True(t, st.IsHealthy())
		require.NotNil(t, st.Metrics)
		assert.Equal(t, int64(50), st.Metrics.Misses)
	})

	t.Run("low hit rate", func(t *testing.T) {
		st := FromCacheStats("cache", cache.Stats{Hits: 10, Misses: 190, HitRate: 0.05, MaxSize: 100}, th)
		assert.True(t, st.IsDegraded())
		assert.Contains(t, st.Message, "hit rate")
	})

	t.Run("nearly full", func(t *testing.T) {
		st := FromCacheStats("cache", cache.Stats{Hits: 90, Misses: 10, HitRate: 0.9, Size: 96, MaxSize: 100}, th)
		assert.True(t, st.IsDegraded())
		assert.Contains(t, st.Message, "96 of 100")
	})

	t.Run("healthy", func(t *testing.T) {
		st := FromCacheStats("cache", cache.Stats{Hits: 90, Misses: 10, HitRate: 0.9, Size: 10, MaxSize: 100}, th)
		assert.True(t, st.IsHealthy())
	})
}

func TestFromNATS(t *testing.T) {
	assert.True(t, FromNATS("nats", &natsclient.Status{Status: natsclient.StatusConnected}).IsHealthy())
	assert.True(t, FromNATS("nats", &natsclient.Status{Status: natsclient.StatusReconnecting}).IsDegraded())

	st := FromNATS("nats", &natsclient.Status{Status: natsclient.StatusCircuitOpen, FailureCount: 5})
	assert.True(t, st.IsUnhealthy())
	assert.Equal(t, "Connection circuit_open", st.Message)
	assert.Equal(t, 5, st.Metrics.ErrorCount)
}

func TestFromFetchError(t *testing.T) {
	assert.True(t, FromFetchError("b", nil, false).IsHealthy())

	err := errors.New("GET https://api.internal:8443/products failed")
	stale := FromFetchError("b", err, true)
	assert.True(t, stale.IsDegraded())
	assert.NotContains(t, stale.Message, "api.internal")
	assert.Contains(t, stale.Message, "[URL]")

	assert.True(t, FromFetchError("b", err, false).IsUnhealthy())
}

func TestSanitizeErrorMessage(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		absent  []string
		present string
	}{
		{"empty", "", nil, ""},
		{"nats url", "connect nats://user:pw@10.0.0.5:4222 refused", []string{"10.0.0.5", "user:pw"}, "[URL]"},
		{"path", "open /etc/smartcache/config.json: no such file", []string{"/etc/smartcache"}, "[PATH]"},
		{"ip and port", "dial tcp 192.168.1.10:6379: timeout", []string{"192.168.1.10", "6379"}, "[IP]"},
		{"credential", "auth failed token=abc123", []string{"abc123"}, "[REDACTED]"},
		{"plain", "fetch failed", nil, "fetch failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizeErrorMessage(tt.in)
			for _, s := range tt.absent {
				assert.NotContains(t, got, s)
			}
			assert.Contains(t, got, tt.present)
		})
	}
}

func TestMonitorUpdateAndGet(t *testing.T) {
	mon := NewMonitor(nil)
	mon.Update("cache", Status{Status: StateHealthy, Healthy: true})

	st, ok := mon.Get("cache")
	require.True(t, ok)
	assert.Equal(t, "cache", st.Component)
	assert.False(t, st.Timestamp.IsZero())

	mon.UpdateDegraded("nats", "reconnecting")
	assert.Equal(t, 2, mon.Count())

	mon.Remove("nats")
	_, ok = mon.Get("nats")
	assert.False(t, ok)
	assert.Equal(t, 1, mon.Count())
}

func TestMonitorProbes(t *testing.T) {
	mon := NewMonitor(nil)
	calls := 0
	mon.Register("cache", func() Status {
		calls++
		return NewHealthy("cache", "ok")
	})
	mon.Register("nats", func() Status { return NewDegraded("nats", "reconnecting") })
	assert.Equal(t, 2, mon.Count())

	statuses := mon.Check()
	require.Len(t, statuses, 2)
	assert.Equal(t, "cache", statuses[0].Component)
	assert.Equal(t, "nats", statuses[1].Component)
	assert.Equal(t, 1, calls)

	agg := mon.AggregateHealth("smartcache")
	assert.True(t, agg.IsDegraded())
	assert.Equal(t, 2, calls)
}

func TestMonitorRecordsMetrics(t *testing.T) {
	core := metric.NewMetrics()
	mon := NewMonitor(core)

	mon.UpdateUnhealthy("nats", "down")
	mon.UpdateHealthy("cache", "ok")

	assert.Equal(t, 0.0, testutil.ToFloat64(core.ComponentStatus.WithLabelValues("nats")))
	assert.Equal(t, 2.0, testutil.ToFloat64(core.ComponentStatus.WithLabelValues("cache")))
}

func TestMonitorHandler(t *testing.T) {
	mon := NewMonitor(nil)
	state := StateDegraded
	mon.Register("cache", func() Status { return newStatus("cache", state, "") })

	get := func() (*httptest.ResponseRecorder, Status) {
		rec := httptest.NewRecorder()
		mon.Handler("smartcache").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		var st Status
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
		return rec, st
	}

	rec, st := get()
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, StateDegraded, st.Status)
	assert.Equal(t, "smartcache", st.Component)
	require.Len(t, st.SubStatuses, 1)

	state = StateUnhealthy
	rec, st = get()
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, StateUnhealthy, st.Status)
	assert.WithinDuration(t, time.Now(), st.Timestamp, time.Minute)
}
