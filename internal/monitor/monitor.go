// internal/monitor/monitor.go
// Periodic memory sampling with threshold alerts
//
// LEARN: Each tick takes a sample, appends it to a bounded history and
// evaluates two conditions: absolute heap usage and heap growth rate over
// the growth window. A condition must hold for Sustain before an alert is
// raised, which keeps a single GC-delayed spike from paging anyone. Once
// a sample is back under both thresholds, auto-resolving alerts clear.

package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/khaaliswooden-max/resmem/internal/leak"
)

const (
	DefaultInterval     = 5 * time.Second
	DefaultHistorySize  = 120
	DefaultGrowthWindow = time.Minute
	DefaultUsageBytes   = 512 << 20
	DefaultGrowthRate   = 10 << 20 // bytes per second
	maxResolvedAlerts   = 100
)

// Thresholds are the trigger levels applied to each sample.
type Thresholds struct {
	// UsageBytes is the heap allocation above which a usage alert is
	// raised. Zero disables the check.
	UsageBytes uint64 `json:"usageBytes" yaml:"usage_bytes"`
	// GrowthRate in bytes per second over GrowthWindow. Zero disables it.
	GrowthRate   float64       `json:"growthRate" yaml:"growth_rate"`
	GrowthWindow time.Duration `json:"growthWindow" yaml:"growth_window"`
	// Sustain is how long a condition must hold before alerting.
	Sustain time.Duration `json:"sustain" yaml:"sustain"`
}

// DefaultThresholds returns the standard trigger levels.
func DefaultThresholds() Thresholds {
	return Thresholds{
		UsageBytes:   DefaultUsageBytes,
		GrowthRate:   DefaultGrowthRate,
		GrowthWindow: DefaultGrowthWindow,
	}
}

// Stats is the monitor's read-only snapshot for dashboards.
type Stats struct {
	Current      leak.Snapshot  `json:"current"`
	GrowthRate   float64        `json:"growthRate"`
	Samples      int            `json:"samples"`
	Monitoring   bool           `json:"monitoring"`
	Thresholds   Thresholds     `json:"thresholds"`
	ActiveAlerts []Alert        `json:"activeAlerts"`
	Leaks        *leak.Stats    `json:"leaks,omitempty"`
	Sources      map[string]any `json:"sources,omitempty"`
}

// Config holds monitor configuration.
type Config struct {
	Thresholds  Thresholds
	HistorySize int
	Sampler     Sampler
	// Detector supplies the leak summary in Stats. Optional.
	Detector *leak.Detector
	Logger   *slog.Logger
	Now      func() time.Time
}

// Monitor samples memory usage and manages alerts. It is safe for
// concurrent use.
type Monitor struct {
	mu         sync.Mutex
	th         Thresholds
	history    []leak.Snapshot
	historyMax int
	growth     float64
	since      map[string]time.Time

	alerts    map[string]*Alert
	resolved  []Alert
	listeners map[int]Listener
	nextID    int
	sources   map[string]func() any

	cancel context.CancelFunc
	wg     sync.WaitGroup

	sampler  Sampler
	detector *leak.Detector
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a monitor. Sampling starts with StartMonitoring.
func New(cfg Config) *Monitor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sampler == nil {
		cfg.Sampler = RuntimeSampler{Now: cfg.Now}
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	if cfg.Thresholds.GrowthWindow <= 0 {
		cfg.Thresholds.GrowthWindow = DefaultGrowthWindow
	}
	return &Monitor{
		th:         cfg.Thresholds,
		historyMax: cfg.HistorySize,
		since:      make(map[string]time.Time),
		alerts:     make(map[string]*Alert),
		listeners:  make(map[int]Listener),
		sources:    make(map[string]func() any),
		sampler:    cfg.Sampler,
		detector:   cfg.Detector,
		logger:     cfg.Logger.With("component", "memory_monitor"),
		now:        cfg.Now,
	}
}

// StartMonitoring samples immediately and then every interval until
// StopMonitoring. Calling it again restarts with the new interval.
func (m *Monitor) StartMonitoring(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	m.StopMonitoring()

	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	m.Sample()
	m.wg.Add(1)
	go m.loop(ctx, interval)
	m.logger.Info("monitoring started", "interval", interval)
}

// StopMonitoring stops the sampling loop and waits for it to exit.
func (m *Monitor) StopMonitoring() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	m.wg.Wait()
	m.logger.Info("monitoring stopped")
}

func (m *Monitor) loop(ctx context.Context, interval time.Duration) {
	defer m.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sample()
		case <-ctx.Done():
			return
		}
	}
}

// Sample takes one sample and evaluates the thresholds against it.
func (m *Monitor) Sample() leak.Snapshot {
	snap := m.sampler.Sample()
	if snap.Timestamp.IsZero() {
		snap.Timestamp = m.now()
	}

	m.mu.Lock()
	m.history = append(m.history, snap)
	if over := len(m.history) - m.historyMax; over > 0 {
		m.history = append(m.history[:0], m.history[over:]...)
	}
	m.growth = m.growthLocked(snap)
	raised, cleared := m.evaluateLocked(snap)
	listeners := m.listenersLocked()
	m.mu.Unlock()

	for _, a := range raised {
		m.logger.Warn("memory alert raised", "alert_id", a.ID, "severity", a.Severity, "title", a.Title)
		notify(listeners, a)
	}
	for _, a := range cleared {
		m.logger.Info("memory alert auto-resolved", "alert_id", a.ID, "title", a.Title)
		notify(listeners, a)
	}
	return snap
}

// growthLocked returns heap growth in bytes per second between the oldest
// sample inside the growth window and snap.
func (m *Monitor) growthLocked(snap leak.Snapshot) float64 {
	cutoff := snap.Timestamp.Add(-m.th.GrowthWindow)
	for _, old := range m.history {
		if old.Timestamp.Before(cutoff) {
			continue
		}
		elapsed := snap.Timestamp.Sub(old.Timestamp).Seconds()
		if elapsed <= 0 {
			return 0
		}
		return (float64(snap.HeapAlloc) - float64(old.HeapAlloc)) / elapsed
	}
	return 0
}

func (m *Monitor) evaluateLocked(snap leak.Snapshot) (raised, cleared []Alert) {
	now := snap.Timestamp
	usageHigh := m.th.UsageBytes > 0 && snap.HeapAlloc > m.th.UsageBytes
	growthHigh := m.th.GrowthRate > 0 && m.growth > m.th.GrowthRate

	if a, ok := m.conditionLocked(SourceUsage, usageHigh, now, func() Alert {
		sev := SeverityWarning
		if float64(snap.HeapAlloc) > 1.5*float64(m.th.UsageBytes) {
			sev = SeverityCritical
		}
		return Alert{
			Severity: sev,
			Title:    "High memory usage",
			Message:  "heap allocation " + formatBytes(snap.HeapAlloc) + " exceeds " + formatBytes(m.th.UsageBytes),
		}
	}); ok {
		raised = append(raised, a)
	}
	if a, ok := m.conditionLocked(SourceGrowth, growthHigh, now, func() Alert {
		return Alert{
			Severity: SeverityWarning,
			Title:    "Rapid memory growth",
			Message:  "heap growing at " + formatBytes(uint64(m.growth)) + "/s over " + m.th.GrowthWindow.String(),
		}
	}); ok {
		raised = append(raised, a)
	}

	if !usageHigh && !growthHigh {
		for id, a := range m.alerts {
			if !a.AutoResolve {
				continue
			}
			cleared = append(cleared, m.resolveLocked(id, now))
		}
	}
	return raised, cleared
}

// conditionLocked tracks how long a condition has held and raises an alert
// once it has held for Sustain, unless one from the same source is active.
func (m *Monitor) conditionLocked(source string, holds bool, now time.Time, build func() Alert) (Alert, bool) {
	if !holds {
		delete(m.since, source)
		return Alert{}, false
	}
	start, ok := m.since[source]
	if !ok {
		start = now
		m.since[source] = now
	}
	if now.Sub(start) < m.th.Sustain {
		return Alert{}, false
	}
	for _, a := range m.alerts {
		if a.Source == source {
			return Alert{}, false
		}
	}
	a := build()
	a.Source = source
	a.AutoResolve = true
	return m.addLocked(a, now), true
}

// UpdateThresholds changes the trigger levels for future samples.
func (m *Monitor) UpdateThresholds(th Thresholds) {
	if th.GrowthWindow <= 0 {
		th.GrowthWindow = DefaultGrowthWindow
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.th = th
	m.logger.Info("thresholds updated",
		"usage_bytes", th.UsageBytes,
		"growth_rate", th.GrowthRate,
		"sustain", th.Sustain,
	)
}

// Thresholds returns the active trigger levels.
func (m *Monitor) Thresholds() Thresholds {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.th
}

// History returns a copy of the retained samples, oldest first.
func (m *Monitor) History() []leak.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]leak.Snapshot(nil), m.history...)
}

// AddSource registers a named stats provider included in GetStats.
func (m *Monitor) AddSource(name string, fn func() any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[name] = fn
}

// GetStats returns current usage, active alerts, the leak summary and
// every registered source.
func (m *Monitor) GetStats() Stats {
	m.mu.Lock()
	s := Stats{
		GrowthRate:   m.growth,
		Samples:      len(m.history),
		Monitoring:   m.cancel != nil,
		Thresholds:   m.th,
		ActiveAlerts: m.activeLocked(),
	}
	if n := len(m.history); n > 0 {
		s.Current = m.history[n-1]
	}
	sources := make(map[string]func() any, len(m.sources))
	for k, fn := range m.sources {
		sources[k] = fn
	}
	m.mu.Unlock()

	if m.detector != nil {
		ls := m.detector.Stats()
		s.Leaks = &ls
	}
	if len(sources) > 0 {
		s.Sources = make(map[string]any, len(sources))
		for k, fn := range sources {
			s.Sources[k] = fn()
		}
	}
	return s
}

// Close stops monitoring. Alerts and history stay readable.
func (m *Monitor) Close() error {
	m.StopMonitoring()
	return nil
}
