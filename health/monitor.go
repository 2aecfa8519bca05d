package health

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/c360/smartcache/metric"
)

// Probe reports a component's current health when asked.
type Probe func() Status

// Monitor tracks health of multiple components in a thread-safe manner.
// Components either push statuses with Update or register a Probe that is
// polled on every Check.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
	probes   map[string]Probe
	metrics  *metric.Metrics
}

// NewMonitor creates a new health monitor. metrics may be nil.
func NewMonitor(metrics *metric.Metrics) *Monitor {
	return &Monitor{
		statuses: make(map[string]Status),
		probes:   make(map[string]Probe),
		metrics:  metrics,
	}
}

// Register adds a probe for name, replacing any earlier one.
func (m *Monitor) Register(name string, probe Probe) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes[name] = probe
}

// Update updates the health status for a named component
func (m *Monitor) Update(name string, status Status) {
	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}

	m.mu.Lock()
	m.statuses[name] = status
	m.mu.Unlock()

	m.record(status)
}

// UpdateHealthy is a convenience method to update a component as healthy
func (m *Monitor) UpdateHealthy(name, message string) {
	m.Update(name, NewHealthy(name, message))
}

// UpdateUnhealthy is a convenience method to update a component as unhealthy
func (m *Monitor) UpdateUnhealthy(name, message string) {
	m.Update(name, NewUnhealthy(name, message))
}

// UpdateDegraded is a convenience method to update a component as degraded
func (m *Monitor) UpdateDegraded(name, message string) {
	m.Update(name, NewDegraded(name, message))
}

// Get retrieves the last known status for a named component.
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status, exists := m.statuses[name]
	return status, exists
}

// Remove removes a component and its probe from monitoring
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.statuses, name)
	delete(m.probes, name)
}

// Check polls every probe, stores the results and returns all statuses
// sorted by component name.
func (m *Monitor) Check() []Status {
	m.mu.RLock()
	probes := make(map[string]Probe, len(m.probes))
	for name, p := range m.probes {
		probes[name] = p
	}
	m.mu.RUnlock()

	// Probes run outside the lock; they may call into components that
	// report back through Update.
	for name, probe := range probes {
		m.Update(name, probe())
	}

	m.mu.RLock()
	out := make([]Status, 0, len(m.statuses))
	for _, st := range m.statuses {
		out = append(out, st)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Component < out[j].Component })
	return out
}

// AggregateHealth checks every component and folds the results into one
// status for the whole system.
func (m *Monitor) AggregateHealth(systemName string) Status {
	status := Aggregate(systemName, m.Check())
	m.record(status)
	return status
}

// Handler serves the aggregate status as JSON. Degraded still answers 200
// so load balancers keep routing; unhealthy answers 503.
func (m *Monitor) Handler(systemName string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		status := m.AggregateHealth(systemName)

		code := http.StatusOK
		if status.IsUnhealthy() {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	})
}

// Count returns the number of monitored components, probes included.
func (m *Monitor) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := len(m.statuses)
	for name := range m.probes {
		if _, ok := m.statuses[name]; !ok {
			n++
		}
	}
	return n
}

func (m *Monitor) record(status Status) {
	if m.metrics != nil {
		m.metrics.RecordComponentStatus(status.Component, status.Level())
	}
}
