package health

import (
	"sort"
	"sync"
	"time"
)

// Probe computes a component's current status on demand.
type Probe func() Status

// Monitor tracks health of multiple components in a thread-safe manner
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
	probes   map[string]Probe
}

// NewMonitor creates a new health monitor
func NewMonitor() *Monitor {
	return &Monitor{
		statuses: make(map[string]Status),
		probes:   make(map[string]Probe),
	}
}

// Register installs a probe for name. A probe takes precedence over a pushed
// status with the same name.
func (m *Monitor) Register(name string, probe Probe) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes[name] = probe
}

// Update updates the health status for a named component
func (m *Monitor) Update(name string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	m.statuses[name] = status
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

// Get returns the current status of name, running its probe if it has one.
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	probe, hasProbe := m.probes[name]
	status, exists := m.statuses[name]
	m.mu.RUnlock()

	if hasProbe {
		return m.run(name, probe), true
	}
	return status, exists
}

// Remove removes a component from monitoring
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, name)
	delete(m.probes, name)
}

// AggregateHealth returns an aggregated health status for the entire system
func (m *Monitor) AggregateHealth(systemName string) Status {
	m.mu.RLock()
	probes := make(map[string]Probe, len(m.probes))
	for name, p := range m.probes {
		probes[name] = p
	}
	subs := make([]Status, 0, len(m.statuses)+len(m.probes))
	for name, status := range m.statuses {
		if _, probed := probes[name]; !probed {
			subs = append(subs, status)
		}
	}
	m.mu.RUnlock()

	// Probes run outside the lock.
	for name, p := range probes {
		subs = append(subs, m.run(name, p))
	}

	sort.Slice(subs, func(i, j int) bool { return subs[i].Component < subs[j].Component })
	return Aggregate(systemName, subs)
}

// ListComponents returns the monitored component names, sorted.
func (m *Monitor) ListComponents() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]bool, len(m.statuses)+len(m.probes))
	for name := range m.statuses {
		seen[name] = true
	}
	for name := range m.probes {
		seen[name] = true
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of components being monitored
func (m *Monitor) Count() int {
	return len(m.ListComponents())
}

func (m *Monitor) run(name string, probe Probe) Status {
	status := probe()
	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	return status
}
