// internal/monitor/alert.go
// Alert lifecycle and listeners

package monitor

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/khaaliswooden-max/resmem/pkg/errors"
)

// Severity grades an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert sources. Manually created alerts default to SourceManual.
const (
	SourceUsage  = "usage"
	SourceGrowth = "growth"
	SourceManual = "manual"
)

// Alert is a threshold notification.
type Alert struct {
	ID          string    `json:"id"`
	Severity    Severity  `json:"severity"`
	Title       string    `json:"title"`
	Message     string    `json:"message"`
	Source      string    `json:"source"`
	Timestamp   time.Time `json:"timestamp"`
	Resolved    bool      `json:"resolved"`
	ResolvedAt  time.Time `json:"resolvedAt,omitzero"`
	AutoResolve bool      `json:"autoResolve"`
}

// Listener is called when an alert is raised or resolved. Listeners run
// on the goroutine that changed the alert, outside the monitor's lock.
type Listener func(Alert)

// CreateAlert records an alert and notifies listeners. An empty ID is
// filled with a new UUID, a zero Timestamp with the current time.
func (m *Monitor) CreateAlert(a Alert) Alert {
	if a.Source == "" {
		a.Source = SourceManual
	}
	if a.Severity == "" {
		a.Severity = SeverityInfo
	}

	m.mu.Lock()
	ts := a.Timestamp
	if ts.IsZero() {
		ts = m.now()
	}
	a = m.addLocked(a, ts)
	listeners := m.listenersLocked()
	m.mu.Unlock()

	m.logger.Info("alert created", "alert_id", a.ID, "severity", a.Severity, "source", a.Source)
	notify(listeners, a)
	return a
}

// ResolveAlert marks an active alert resolved and notifies listeners.
func (m *Monitor) ResolveAlert(id string) (Alert, error) {
	m.mu.Lock()
	if _, ok := m.alerts[id]; !ok {
		m.mu.Unlock()
		return Alert{}, fmt.Errorf("alert %q: %w", id, errors.ErrAlertNotFound)
	}
	a := m.resolveLocked(id, m.now())
	listeners := m.listenersLocked()
	m.mu.Unlock()

	m.logger.Info("alert resolved", "alert_id", id)
	notify(listeners, a)
	return a, nil
}

// ActiveAlerts returns unresolved alerts, oldest first.
func (m *Monitor) ActiveAlerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeLocked()
}

// ResolvedAlerts returns the most recently resolved alerts, oldest first.
func (m *Monitor) ResolvedAlerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Alert(nil), m.resolved...)
}

// AddListener registers fn and returns an ID for RemoveListener.
func (m *Monitor) AddListener(fn Listener) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.listeners[m.nextID] = fn
	return m.nextID
}

// RemoveListener unregisters a listener. It reports whether id was known.
func (m *Monitor) RemoveListener(id int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.listeners[id]; !ok {
		return false
	}
	delete(m.listeners, id)
	return true
}

func (m *Monitor) addLocked(a Alert, ts time.Time) Alert {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.Timestamp = ts
	a.Resolved = false
	stored := a
	m.alerts[a.ID] = &stored
	return a
}

func (m *Monitor) resolveLocked(id string, at time.Time) Alert {
	a := m.alerts[id]
	delete(m.alerts, id)
	a.Resolved = true
	a.ResolvedAt = at

	m.resolved = append(m.resolved, *a)
	if over := len(m.resolved) - maxResolvedAlerts; over > 0 {
		m.resolved = append(m.resolved[:0], m.resolved[over:]...)
	}
	return *a
}

func (m *Monitor) activeLocked() []Alert {
	out := make([]Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *Monitor) listenersLocked() []Listener {
	ids := make([]int, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]Listener, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.listeners[id])
	}
	return out
}

func notify(listeners []Listener, a Alert) {
	for _, fn := range listeners {
		fn(a)
	}
}

func formatBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
