// internal/engine/engine.go
// One shared instance of every lifecycle component
//
// LEARN: There are no package-level singletons. main builds one Engine
// at startup and passes it to whoever needs a pool, cache, buffer or the
// detector. Tests build their own engines side by side.

package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/khaaliswooden-max/resmem/internal/audit"
	"github.com/khaaliswooden-max/resmem/internal/config"
	"github.com/khaaliswooden-max/resmem/internal/leak"
	"github.com/khaaliswooden-max/resmem/internal/metrics"
	"github.com/khaaliswooden-max/resmem/internal/monitor"
	"github.com/khaaliswooden-max/resmem/internal/scheduler"
	"github.com/khaaliswooden-max/resmem/pkg/cache"
	"github.com/khaaliswooden-max/resmem/pkg/errors"
	"github.com/khaaliswooden-max/resmem/pkg/pool"
	"github.com/khaaliswooden-max/resmem/pkg/ring"
)

// Standard component names, used in stats, metrics and logs.
const (
	SurfacePoolName  = "surfaces"
	BufferPoolName   = "series_buffers"
	ComputationCache = "computations"
	DataCache        = "processed_data"
)

// Options supplies collaborators that are not part of the YAML config.
type Options struct {
	Logger  *slog.Logger
	Journal audit.Recorder   // nil disables the journal
	Now     func() time.Time // clock for detector, monitor and scheduler
	Sampler monitor.Sampler  // nil samples the Go runtime
}

// Engine wires the components together.
type Engine struct {
	Surfaces     *pool.SurfacePool
	Buffers      *pool.Float64Pool
	Computations *cache.Cache[any, any]
	Data         *cache.Cache[string, []float64]
	Rings        *ring.Manager
	Detector     *leak.Detector
	Scheduler    *scheduler.Scheduler
	Monitor      *monitor.Monitor
	Metrics      *metrics.Prometheus

	cfg     config.Config
	journal audit.Recorder
	logger  *slog.Logger
	now     func() time.Time

	mu         sync.Mutex
	lastDetect time.Time
	lastReport []leak.Report
	closed     bool
}

// New builds every component from cfg. Nothing runs in the background
// until Start.
func New(cfg *config.Config, opts Options) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	e := &Engine{
		cfg:     *cfg,
		journal: opts.Journal,
		logger:  opts.Logger,
		now:     opts.Now,
		Metrics: metrics.NewPrometheus(),
		Rings:   ring.NewManager(),
	}

	e.Surfaces = pool.NewSurfacePool(SurfacePoolName, cfg.Pool.SurfaceMaxSize, cfg.Pool.SurfaceWidth, cfg.Pool.SurfaceHeight)
	e.Buffers = pool.NewFloat64Pool(BufferPoolName, cfg.Pool.BufferMaxSize, cfg.Pool.BufferLength)

	e.Computations = cache.New(ComputationCache, cache.Config[any, any]{
		TTL:     cfg.Cache.Computations.TTL,
		MaxSize: cfg.Cache.Computations.MaxSize,
		Now:     opts.Now,
	})
	e.Data = cache.New(DataCache, cache.Config[string, []float64]{
		TTL:     cfg.Cache.Data.TTL,
		MaxSize: cfg.Cache.Data.MaxSize,
		Now:     opts.Now,
		OnEvict: func(key string, v []float64) {
			e.logger.Debug("processed data evicted", "cache", DataCache, "key", key, "points", len(v))
		},
	})

	e.Detector = leak.New(leak.Config{
		Thresholds: cfg.LeakThresholds(),
		Logger:     opts.Logger,
		Now:        opts.Now,
	})

	e.Scheduler = scheduler.New(scheduler.Config{
		Logger:   opts.Logger,
		Now:      opts.Now,
		OnResult: e.onTaskResult,
	})

	e.Monitor = monitor.New(monitor.Config{
		Thresholds:  cfg.MonitorThresholds(),
		HistorySize: cfg.Monitor.HistorySize,
		Sampler:     opts.Sampler,
		Detector:    e.Detector,
		Logger:      opts.Logger,
		Now:         opts.Now,
	})
	e.Monitor.AddListener(e.onAlert)
	e.Monitor.AddSource("pools", func() any {
		return map[string]pool.Stats{
			SurfacePoolName: e.Surfaces.Stats(),
			BufferPoolName:  e.Buffers.Stats(),
		}
	})
	e.Monitor.AddSource("caches", func() any {
		return map[string]cache.Stats{
			ComputationCache: e.Computations.Stats(),
			DataCache:        e.Data.Stats(),
		}
	})
	e.Monitor.AddSource("rings", func() any { return e.Rings.Stats() })
	e.Monitor.AddSource("scheduler", func() any { return e.Scheduler.Stats() })

	e.Scheduler.AddSweeper("caches", func(context.Context) {
		e.Computations.Sweep()
		e.Data.Sweep()
	})
	e.Scheduler.AddSweeper("leak_detection", func(context.Context) {
		if e.now().Sub(e.lastDetection()) >= cfg.Leak.DetectInterval {
			e.DetectLeaks()
		}
	})
	e.Scheduler.AddSweeper("leak_cleanup", func(context.Context) { e.CleanupRecords() })
	e.Scheduler.AddSweeper("metrics", func(context.Context) { e.RefreshMetrics() })

	return e, nil
}

// Start launches memory monitoring (when enabled) and the periodic sweep.
func (e *Engine) Start() {
	if e.cfg.Monitor.Enabled {
		e.Monitor.StartMonitoring(e.cfg.Monitor.Interval)
	}
	e.Scheduler.StartPeriodicCleanup(e.cfg.Scheduler.SweepInterval)
	e.logger.Info("engine started",
		"monitor", e.cfg.Monitor.Enabled,
		"sweep_interval", e.cfg.Scheduler.SweepInterval,
	)
}

// RegisterComponent tracks obj in the leak detector and registers its
// teardown as a cleanup task. When the task runs the record is untracked.
// The returned function drops the task without running it.
func RegisterComponent[T any](e *Engine, name string, obj *T, kind leak.Kind, sizeBytes int64,
	teardown scheduler.Action, priority scheduler.Priority, deps ...string,
) (leak.Handle, func()) {
	h := leak.Track(e.Detector, obj, kind, sizeBytes)
	unregister := e.Scheduler.RegisterTask(name, func(ctx context.Context) error {
		defer e.Detector.Untrack(h)
		return teardown(ctx)
	}, priority, deps...)
	return h, unregister
}

// OpenChannel creates a transport buffer under key and wraps it in a
// msgpack Channel. Shared buffers live in a file under the ring
// directory so another process can attach to them.
func (e *Engine) OpenChannel(key string, size int, shared bool) (*ring.Channel, error) {
	if size <= 0 {
		size = e.cfg.Ring.DefaultSize
	}
	var (
		buf *ring.Buffer
		err error
	)
	if shared {
		buf, err = e.Rings.CreateShared(key, e.SegmentPath(key), size)
	} else {
		buf, err = e.Rings.CreateBuffer(key, size)
	}
	if err != nil {
		return nil, err
	}
	return ring.NewChannel(buf, 0), nil
}

// CloseChannel deletes the buffer under key, unmapping it if shared. An
// unknown key returns an error wrapping errors.ErrBufferNotFound.
func (e *Engine) CloseChannel(key string) error {
	found, err := e.Rings.DeleteBuffer(key)
	if !found {
		return errors.WrapBufferError(key, errors.ErrBufferNotFound)
	}
	return err
}

// SegmentPath is the backing file for a shared buffer key.
func (e *Engine) SegmentPath(key string) string {
	return filepath.Join(e.cfg.Ring.Dir, "resmem-"+key+".ring")
}

// DetectLeaks runs every detector over the monitor's sample history and
// records the findings in metrics and the journal.
func (e *Engine) DetectLeaks() []leak.Report {
	reports := e.Detector.DetectLeaks(e.Monitor.History())

	e.mu.Lock()
	e.lastDetect = e.now()
	e.lastReport = reports
	e.mu.Unlock()

	e.Metrics.ObserveLeakReports(reports)
	for _, r := range reports {
		e.record(audit.ReportEntry(r))
	}
	return reports
}

// LastReports returns the findings of the most recent detection run.
func (e *Engine) LastReports() []leak.Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]leak.Report(nil), e.lastReport...)
}

func (e *Engine) lastDetection() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastDetect
}

// CleanupRecords purges stale and collected detector records.
func (e *Engine) CleanupRecords() int {
	n := e.Detector.Cleanup()
	if n > 0 {
		e.record(audit.PurgeEntry(e.now(), n))
	}
	return n
}

// RefreshMetrics copies every component's stats into the gauges.
func (e *Engine) RefreshMetrics() {
	e.Metrics.ObservePool(SurfacePoolName, e.Surfaces.Stats())
	e.Metrics.ObservePool(BufferPoolName, e.Buffers.Stats())
	e.Metrics.ObserveCache(ComputationCache, e.Computations.Stats())
	e.Metrics.ObserveCache(DataCache, e.Data.Stats())
	e.Metrics.ObserveRing(e.Rings.Stats())
	e.Metrics.ObserveLeaks(e.Detector.Stats())
	e.Metrics.ObserveScheduler(e.Scheduler.Stats())

	ms := e.Monitor.GetStats()
	e.Metrics.ObserveMemory(ms.Current, ms.GrowthRate, len(ms.ActiveAlerts))
}

// Stats returns the dashboard snapshot: memory, alerts, the leak summary
// and every component's stats.
func (e *Engine) Stats() monitor.Stats {
	return e.Monitor.GetStats()
}

func (e *Engine) onTaskResult(r scheduler.Result) {
	e.Metrics.ObserveTaskResult(r)
	e.record(audit.TaskEntry(r))
}

func (e *Engine) onAlert(a monitor.Alert) {
	e.Metrics.ObserveAlert(string(a.Severity), a.Resolved)
	e.record(audit.AlertEntry(a))
}

func (e *Engine) record(entry audit.Entry) {
	if e.journal == nil {
		return
	}
	if err := e.journal.Log(entry); err != nil {
		e.logger.Error("journal write failed", "event", entry.Event, "error", err)
	}
}

// Close runs a final cleanup pass over every registered task, then tears
// down monitoring, caches, pools and buffers. Using a component after
// Close panics.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	results := e.Scheduler.Close(ctx)
	failed := 0
	for _, r := range results {
		if r.Status != scheduler.StatusSucceeded {
			failed++
		}
	}
	e.Monitor.StopMonitoring()

	e.Computations.Close()
	e.Data.Close()
	e.Surfaces.Close()
	e.Buffers.Close()

	var errs []error
	if err := e.Rings.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close rings: %w", err))
	}
	if c, ok := e.journal.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close journal: %w", err))
		}
	}

	e.logger.Info("engine closed", "final_tasks", len(results), "not_succeeded", failed)
	return errors.Join(errs...)
}
