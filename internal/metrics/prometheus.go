// internal/metrics/prometheus.go
// Prometheus export of component stats
//
// LEARN: Component stats are read-only snapshots, so most series here are
// gauges set from the latest snapshot on every Observe* call. Events the
// engine sees as they happen (task outcomes, alert transitions, leak
// reports) are real counters. Each Prometheus owns its own registry so
// tests and multiple engines never collide on the global default.

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/khaaliswooden-max/resmem/internal/leak"
	"github.com/khaaliswooden-max/resmem/internal/scheduler"
	"github.com/khaaliswooden-max/resmem/pkg/cache"
	"github.com/khaaliswooden-max/resmem/pkg/pool"
	"github.com/khaaliswooden-max/resmem/pkg/ring"
)

const namespace = "resmem"

// Prometheus holds every series the engine exports.
type Prometheus struct {
	registry *prometheus.Registry

	poolResources *prometheus.GaugeVec // pool, state=active|available
	poolEvents    *prometheus.GaugeVec // pool, event=created|destroyed|reused
	cacheEntries  *prometheus.GaugeVec // cache
	cacheLookups  *prometheus.GaugeVec // cache, result=hit|miss
	cacheDrops    *prometheus.GaugeVec // cache, reason=evicted|expired
	ringUsed      *prometheus.GaugeVec // buffer
	ringCapacity  *prometheus.GaugeVec // buffer
	ringRejected  *prometheus.GaugeVec // buffer
	ringBuffers   prometheus.Gauge

	leakObjects  *prometheus.GaugeVec // kind
	leakOrphaned prometheus.Gauge
	leakBytes    prometheus.Gauge
	leakReports  *prometheus.CounterVec // type, severity

	tasksPending *prometheus.GaugeVec   // priority
	taskResults  *prometheus.CounterVec // status
	sweeps       prometheus.Gauge

	heapBytes    prometheus.Gauge
	growthRate   prometheus.Gauge
	activeAlerts prometheus.Gauge
	alerts       *prometheus.CounterVec // severity, state=raised|resolved
}

// NewPrometheus creates the series and registers them, together with the
// Go runtime and process collectors, on a fresh registry.
func NewPrometheus() *Prometheus {
	p := &Prometheus{registry: prometheus.NewRegistry()}
	p.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p.register()
}

func (p *Prometheus) register() *Prometheus {
	p.poolResources = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "resources",
		Help:      "Pooled resources by state.",
	}, []string{"pool", "state"})
	p.registry.MustRegister(p.poolResources)

	p.poolEvents = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "events",
		Help:      "Cumulative pool events as of the last snapshot.",
	}, []string{"pool", "event"})
	p.registry.MustRegister(p.poolEvents)

	p.cacheEntries = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "entries",
		Help:      "Entries held by the cache.",
	}, []string{"cache"})
	p.registry.MustRegister(p.cacheEntries)

	p.cacheLookups = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "lookups",
		Help:      "Cumulative cache lookups by result as of the last snapshot.",
	}, []string{"cache", "result"})
	p.registry.MustRegister(p.cacheLookups)

	p.cacheDrops = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "drops",
		Help:      "Cumulative entries dropped by reason as of the last snapshot.",
	}, []string{"cache", "reason"})
	p.registry.MustRegister(p.cacheDrops)

	p.ringUsed = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ring",
		Name:      "used_bytes",
		Help:      "Unread bytes in the ring buffer.",
	}, []string{"buffer"})
	p.registry.MustRegister(p.ringUsed)

	p.ringCapacity = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ring",
		Name:      "capacity_bytes",
		Help:      "Ring buffer capacity.",
	}, []string{"buffer"})
	p.registry.MustRegister(p.ringCapacity)

	p.ringRejected = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ring",
		Name:      "rejected_writes",
		Help:      "Writes rejected for lack of space as of the last snapshot.",
	}, []string{"buffer"})
	p.registry.MustRegister(p.ringRejected)

	p.ringBuffers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ring",
		Name:      "buffers",
		Help:      "Number of managed ring buffers.",
	})
	p.registry.MustRegister(p.ringBuffers)

	p.leakObjects = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "leak",
		Name:      "tracked_objects",
		Help:      "Tracked objects by kind.",
	}, []string{"kind"})
	p.registry.MustRegister(p.leakObjects)

	p.leakOrphaned = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "leak",
		Name:      "orphaned_objects",
		Help:      "Tracked objects matching the orphan heuristic.",
	})
	p.registry.MustRegister(p.leakOrphaned)

	p.leakBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "leak",
		Name:      "tracked_bytes",
		Help:      "Declared size of all tracked objects.",
	})
	p.registry.MustRegister(p.leakBytes)

	p.leakReports = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "leak",
		Name:      "reports_total",
		Help:      "Leak reports produced by detection runs.",
	}, []string{"type", "severity"})
	p.registry.MustRegister(p.leakReports)

	p.tasksPending = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "pending_tasks",
		Help:      "Registered cleanup tasks not yet executed.",
	}, []string{"priority"})
	p.registry.MustRegister(p.tasksPending)

	p.taskResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "task_results_total",
		Help:      "Cleanup task execution attempts by status.",
	}, []string{"status"})
	p.registry.MustRegister(p.taskResults)

	p.sweeps = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "sweeps",
		Help:      "Periodic sweeps run as of the last snapshot.",
	})
	p.registry.MustRegister(p.sweeps)

	p.heapBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "monitor",
		Name:      "heap_alloc_bytes",
		Help:      "Heap allocation at the last monitor sample.",
	})
	p.registry.MustRegister(p.heapBytes)

	p.growthRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "monitor",
		Name:      "growth_bytes_per_second",
		Help:      "Heap growth rate over the growth window.",
	})
	p.registry.MustRegister(p.growthRate)

	p.activeAlerts = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "monitor",
		Name:      "active_alerts",
		Help:      "Unresolved memory alerts.",
	})
	p.registry.MustRegister(p.activeAlerts)

	p.alerts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "monitor",
		Name:      "alerts_total",
		Help:      "Alert transitions by severity and state.",
	}, []string{"severity", "state"})
	p.registry.MustRegister(p.alerts)

	return p
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(
		p.registry,
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	)
}

// Registry exposes the underlying registry, for tests and extra collectors.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

func (p *Prometheus) ObservePool(name string, s pool.Stats) {
	p.poolResources.WithLabelValues(name, "active").Set(float64(s.Active))
	p.poolResources.WithLabelValues(name, "available").Set(float64(s.Available))
	p.poolEvents.WithLabelValues(name, "created").Set(float64(s.Created))
	p.poolEvents.WithLabelValues(name, "destroyed").Set(float64(s.Destroyed))
	p.poolEvents.WithLabelValues(name, "reused").Set(float64(s.Reused))
}

func (p *Prometheus) ObserveCache(name string, s cache.Stats) {
	p.cacheEntries.WithLabelValues(name).Set(float64(s.Size))
	p.cacheLookups.WithLabelValues(name, "hit").Set(float64(s.Hits))
	p.cacheLookups.WithLabelValues(name, "miss").Set(float64(s.Misses))
	p.cacheDrops.WithLabelValues(name, "evicted").Set(float64(s.Evictions))
	p.cacheDrops.WithLabelValues(name, "expired").Set(float64(s.Expired))
}

// ObserveRing replaces the per-buffer series so deleted buffers disappear.
func (p *Prometheus) ObserveRing(s ring.ManagerStats) {
	p.ringUsed.Reset()
	p.ringCapacity.Reset()
	p.ringRejected.Reset()
	p.ringBuffers.Set(float64(s.BufferCount))
	for key, b := range s.Buffers {
		p.ringUsed.WithLabelValues(key).Set(float64(b.Used))
		p.ringCapacity.WithLabelValues(key).Set(float64(b.Capacity))
		p.ringRejected.WithLabelValues(key).Set(float64(b.RejectedWrites))
	}
}

func (p *Prometheus) ObserveLeaks(s leak.Stats) {
	p.leakObjects.Reset()
	for kind, n := range s.ByKind {
		p.leakObjects.WithLabelValues(kind).Set(float64(n))
	}
	p.leakOrphaned.Set(float64(s.OrphanedObjects))
	p.leakBytes.Set(float64(s.TotalSize))
}

func (p *Prometheus) ObserveLeakReports(reports []leak.Report) {
	for _, r := range reports {
		p.leakReports.WithLabelValues(string(r.Type), string(r.Severity)).Inc()
	}
}

func (p *Prometheus) ObserveScheduler(s scheduler.Stats) {
	for _, pr := range scheduler.Priorities {
		p.tasksPending.WithLabelValues(pr.String()).Set(float64(s.ByPriority[pr.String()]))
	}
	p.sweeps.Set(float64(s.Sweeps))
}

func (p *Prometheus) ObserveTaskResult(r scheduler.Result) {
	p.taskResults.WithLabelValues(string(r.Status)).Inc()
}

// ObserveMemory records the latest monitor sample.
func (p *Prometheus) ObserveMemory(s leak.Snapshot, growth float64, activeAlerts int) {
	p.heapBytes.Set(float64(s.HeapAlloc))
	p.growthRate.Set(growth)
	p.activeAlerts.Set(float64(activeAlerts))
}

// ObserveAlert counts an alert transition.
func (p *Prometheus) ObserveAlert(severity string, resolved bool) {
	state := "raised"
	if resolved {
		state = "resolved"
	}
	p.alerts.WithLabelValues(severity, state).Inc()
}
