// internal/monitor/monitor_test.go
// Tests for the memory monitor

package monitor

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/khaaliswooden-max/resmem/internal/leak"
	"github.com/khaaliswooden-max/resmem/pkg/errors"
)

const mib = 1 << 20

// scripted returns heap values one per call, one second apart.
type scripted struct {
	mu    sync.Mutex
	start time.Time
	heap  []uint64
	i     int
}

func newScripted(heap ...uint64) *scripted {
	return &scripted{start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), heap: heap}
}

func (s *scripted) Sample() leak.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.heap[min(s.i, len(s.heap)-1)]
	ts := s.start.Add(time.Duration(s.i) * time.Second)
	s.i++
	return leak.Snapshot{Timestamp: ts, HeapAlloc: h}
}

type alertLog struct {
	mu     sync.Mutex
	alerts []Alert
}

func (l *alertLog) listen(a Alert) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.alerts = append(l.alerts, a)
}

func (l *alertLog) all() []Alert {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Alert(nil), l.alerts...)
}

func TestUsageAlertRaisedAndAutoResolved(t *testing.T) {
	sampler := newScripted(10*mib, 200*mib, 210*mib, 50*mib)
	m := New(Config{
		Sampler:    sampler,
		Thresholds: Thresholds{UsageBytes: 100 * mib},
	})
	log := &alertLog{}
	m.AddListener(log.listen)

	m.Sample()
	assert.Empty(t, m.ActiveAlerts())

	m.Sample()
	active := m.ActiveAlerts()
	require.Len(t, active, 1)
	assert.Equal(t, SourceUsage, active[0].Source)
	assert.Equal(t, SeverityCritical, active[0].Severity, "200 MiB is over 1.5x the threshold")
	assert.True(t, active[0].AutoResolve)
	assert.NotEmpty(t, active[0].ID)

	m.Sample()
	assert.Len(t, m.ActiveAlerts(), 1, "no duplicate alert while the condition holds")

	m.Sample()
	assert.Empty(t, m.ActiveAlerts())

	events := log.all()
	require.Len(t, events, 2)
	assert.False(t, events[0].Resolved)
	assert.True(t, events[1].Resolved)
	assert.Equal(t, events[0].ID, events[1].ID)
}

func TestSustain(t *testing.T) {
	sampler := newScripted(200*mib, 200*mib, 200*mib, 200*mib)
	m := New(Config{
		Sampler:    sampler,
		Thresholds: Thresholds{UsageBytes: 100 * mib, Sustain: 2 * time.Second},
	})

	m.Sample()
	m.Sample()
	assert.Empty(t, m.ActiveAlerts(), "held for 1s only")
	m.Sample()
	assert.Len(t, m.ActiveAlerts(), 1)
}

func TestSustainResetsWhenConditionClears(t *testing.T) {
	sampler := newScripted(200*mib, 200*mib, 10*mib, 200*mib, 200*mib)
	m := New(Config{
		Sampler:    sampler,
		Thresholds: Thresholds{UsageBytes: 100 * mib, Sustain: 2 * time.Second},
	})
	for i := 0; i < 5; i++ {
		m.Sample()
	}
	assert.Empty(t, m.ActiveAlerts())
}

func TestGrowthAlert(t *testing.T) {
	sampler := newScripted(10*mib, 30*mib, 50*mib, 50*mib, 50*mib, 50*mib)
	m := New(Config{
		Sampler: sampler,
		Thresholds: Thresholds{
			GrowthRate:   5 * mib,
			GrowthWindow: 2 * time.Second,
		},
	})

	m.Sample()
	m.Sample()
	active := m.ActiveAlerts()
	require.Len(t, active, 1)
	assert.Equal(t, SourceGrowth, active[0].Source)
	assert.InDelta(t, float64(20*mib), m.GetStats().GrowthRate, 1)

	m.Sample() // window 10..50 over 2s, still growing
	m.Sample() // window 30..50 over 2s = 10 MiB/s
	assert.Len(t, m.ActiveAlerts(), 1)
	m.Sample() // window 50..50, flat
	assert.Empty(t, m.ActiveAlerts())
}

func TestManualAlertNeedsExplicitResolve(t *testing.T) {
	sampler := newScripted(10 * mib)
	m := New(Config{Sampler: sampler, Thresholds: Thresholds{UsageBytes: 100 * mib}})
	log := &alertLog{}
	id := m.AddListener(log.listen)

	a := m.CreateAlert(Alert{Title: "renderer stalled", Severity: SeverityWarning})
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, SourceManual, a.Source)

	m.Sample()
	require.Len(t, m.ActiveAlerts(), 1, "manual alert without AutoResolve survives a healthy sample")

	resolved, err := m.ResolveAlert(a.ID)
	require.NoError(t, err)
	assert.True(t, resolved.Resolved)
	assert.Empty(t, m.ActiveAlerts())
	require.Len(t, m.ResolvedAlerts(), 1)

	_, err = m.ResolveAlert(a.ID)
	assert.ErrorIs(t, err, errors.ErrAlertNotFound)

	assert.True(t, m.RemoveListener(id))
	assert.False(t, m.RemoveListener(id))
	m.CreateAlert(Alert{Title: "unheard"})
	assert.Len(t, log.all(), 2)
}

func TestAutoResolveManualAlert(t *testing.T) {
	m := New(Config{Sampler: newScripted(10 * mib), Thresholds: Thresholds{UsageBytes: 100 * mib}})
	m.CreateAlert(Alert{Title: "transient", AutoResolve: true})
	m.Sample()
	assert.Empty(t, m.ActiveAlerts())
}

func TestUpdateThresholds(t *testing.T) {
	sampler := newScripted(150*mib, 150*mib)
	m := New(Config{Sampler: sampler, Thresholds: Thresholds{UsageBytes: 200 * mib}})

	m.Sample()
	assert.Empty(t, m.ActiveAlerts())

	m.UpdateThresholds(Thresholds{UsageBytes: 100 * mib})
	assert.Equal(t, DefaultGrowthWindow, m.Thresholds().GrowthWindow)
	m.Sample()
	assert.Len(t, m.ActiveAlerts(), 1)
}

func TestHistoryBounded(t *testing.T) {
	heap := make([]uint64, 10)
	for i := range heap {
		heap[i] = uint64(i) * mib
	}
	m := New(Config{Sampler: newScripted(heap...), HistorySize: 4})
	for range heap {
		m.Sample()
	}
	h := m.History()
	require.Len(t, h, 4)
	assert.Equal(t, uint64(6*mib), h[0].HeapAlloc)
	assert.Equal(t, uint64(9*mib), h[3].HeapAlloc)
}

func TestGetStats(t *testing.T) {
	d := leak.New(leak.Config{})
	d.Register(leak.KindTimer, 64)

	m := New(Config{Sampler: newScripted(42 * mib), Detector: d})
	m.AddSource("pool", func() any { return map[string]int{"active": 3} })
	m.Sample()

	s := m.GetStats()
	assert.Equal(t, uint64(42*mib), s.Current.HeapAlloc)
	assert.Equal(t, 1, s.Samples)
	require.NotNil(t, s.Leaks)
	assert.Equal(t, 1, s.Leaks.RegisteredObjects)
	assert.Equal(t, map[string]int{"active": 3}, s.Sources["pool"])
	assert.False(t, s.Monitoring)
}

func TestStartStopMonitoring(t *testing.T) {
	defer goleak.VerifyNone(t)

	var n atomic.Int64
	m := New(Config{Sampler: SamplerFunc(func() leak.Snapshot {
		n.Add(1)
		return leak.Snapshot{HeapAlloc: mib}
	})})

	m.StartMonitoring(2 * time.Millisecond)
	assert.GreaterOrEqual(t, n.Load(), int64(1), "first sample is taken immediately")
	assert.True(t, m.GetStats().Monitoring)

	require.Eventually(t, func() bool { return n.Load() >= 4 }, time.Second, time.Millisecond)
	m.StartMonitoring(time.Millisecond)
	require.NoError(t, m.Close())
	m.StopMonitoring()
	assert.False(t, m.GetStats().Monitoring)
}

func TestRuntimeSampler(t *testing.T) {
	s := RuntimeSampler{}.Sample()
	assert.NotZero(t, s.HeapAlloc)
	assert.NotZero(t, s.Sys)
	assert.False(t, s.Timestamp.IsZero())
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 KiB", formatBytes(1536))
	assert.Equal(t, "100.0 MiB", formatBytes(100*mib))
}
