package health

import (
	"fmt"
	"time"

	"github.com/c360/smartcache/natsclient"
	"github.com/c360/smartcache/pkg/cache"
)

func newStatus(component, state, message string) Status {
	return Status{
		Component: component,
		Healthy:   state == StateHealthy,
		Status:    state,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewHealthy creates a new healthy status
func NewHealthy(component, message string) Status {
	return newStatus(component, StateHealthy, message)
}

// NewUnhealthy creates a new unhealthy status
func NewUnhealthy(component, message string) Status {
	return newStatus(component, StateUnhealthy, message)
}

// NewDegraded creates a new degraded status
func NewDegraded(component, message string) Status {
	return newStatus(component, StateDegraded, message)
}

// CacheThresholds decide when a store counts as degraded.
type CacheThresholds struct {
	// MinHitRate below which the store is degraded once MinReads reads happened.
	MinHitRate float64
	MinReads   int64
	// FullRatio of MaxSize at or above which the store is degraded.
	FullRatio float64
}

// DefaultCacheThresholds: hit rate under 0.2 after 100 reads, or 95% full.
func DefaultCacheThresholds() CacheThresholds {
	return CacheThresholds{MinHitRate: 0.2, MinReads: 100, FullRatio: 0.95}
}

// FromCacheStats derives a status from a store snapshot. A store is never
// unhealthy on statistics alone.
func FromCacheStats(name string, stats cache.Stats, th CacheThresholds) Status {
	metrics := &Metrics{
		Hits:    stats.Hits,
		Misses:  stats.Misses,
		HitRate: stats.HitRate,
		Size:    stats.Size,
		MaxSize: stats.MaxSize,
	}

	reads := stats.Hits + stats.Misses
	var status Status
	switch {
	case th.MinReads > 0 && reads >= th.MinReads && stats.HitRate < th.MinHitRate:
		status = NewDegraded(name, fmt.Sprintf("hit rate %.2f below %.2f", stats.HitRate, th.MinHitRate))
	case th.FullRatio > 0 && stats.MaxSize > 0 && float64(stats.Size) >= th.FullRatio*float64(stats.MaxSize):
		status = NewDegraded(name, fmt.Sprintf("%d of %d entries used", stats.Size, stats.MaxSize))
	default:
		status = NewHealthy(name, "Cache serving")
	}
	return status.WithMetrics(metrics)
}

// FromNATS derives a status from the client state. Reconnecting is degraded.
func FromNATS(name string, st *natsclient.Status) Status {
	metrics := &Metrics{ErrorCount: int(st.FailureCount), RTT: st.RTT}

	var status Status
	switch st.Status {
	case natsclient.StatusConnected:
		status = NewHealthy(name, "Connected")
	case natsclient.StatusReconnecting, natsclient.StatusConnecting:
		status = NewDegraded(name, "Connection "+st.Status.String())
	default:
		status = NewUnhealthy(name, "Connection "+st.Status.String())
	}
	return status.WithMetrics(metrics)
}

// FromFetchError reports a binding whose last fetch failed as degraded and
// one with no error as healthy. The error text is sanitized.
func FromFetchError(name string, err error, hasData bool) Status {
	if err == nil {
		return NewHealthy(name, "Last fetch succeeded")
	}
	msg := sanitizeErrorMessage(err.Error())
	if !hasData {
		return NewUnhealthy(name, msg)
	}
	return NewDegraded(name, "serving stale data: "+msg)
}

// Aggregate combines sub-statuses: unhealthy if any is unhealthy, else
// degraded if any is degraded, else healthy.
func Aggregate(component string, subStatuses []Status) Status {
	if len(subStatuses) == 0 {
		return NewHealthy(component, "No sub-components to aggregate")
	}

	worst := StateHealthy
	for _, sub := range subStatuses {
		if sub.IsUnhealthy() {
			worst = StateUnhealthy
			break
		}
		if sub.IsDegraded() {
			worst = StateDegraded
		}
	}

	var status Status
	switch worst {
	case StateUnhealthy:
		status = NewUnhealthy(component, "One or more sub-components are unhealthy")
	case StateDegraded:
		status = NewDegraded(component, "One or more sub-components are degraded")
	default:
		status = NewHealthy(component, "All sub-components are healthy")
	}

	status.SubStatuses = make([]Status, len(subStatuses))
	copy(status.SubStatuses, subStatuses)
	return status
}
