// internal/leak/detect.go
// Heuristic and structural leak detectors

package leak

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Snapshot is one process-wide memory sample, as taken by the monitor.
type Snapshot struct {
	Timestamp  time.Time `json:"timestamp"`
	HeapAlloc  uint64    `json:"heapAlloc"`
	HeapInuse  uint64    `json:"heapInuse"`
	Sys        uint64    `json:"sys"`
	TotalAlloc uint64    `json:"totalAlloc"`
	NumGC      uint32    `json:"numGC"`
}

var patternAdvice = map[Kind][]string{
	KindEventListener: {
		"Remove the listener in the component's cleanup task",
		"Prefer listeners bound to a cancellable context",
	},
	KindTimer: {
		"Stop tickers and timers when the owning component unmounts",
		"Register the stop call with the cleanup scheduler",
	},
	KindDOMReference: {
		"Drop references to detached nodes",
		"Avoid caching element handles across renders",
	},
	KindSubscription: {
		"Unsubscribe in the teardown callback",
		"Check that every subscribe has a matching unsubscribe",
	},
}

// DetectLeaks runs every detector in order: patterns, orphans, cycles,
// fragmentation. Detectors that lack data are skipped silently.
func (d *Detector) DetectLeaks(snapshots []Snapshot) []Report {
	var reports []Report
	reports = append(reports, d.DetectPatternLeaks()...)
	if r, ok := d.orphanReport(); ok {
		reports = append(reports, r)
	}
	reports = append(reports, d.cycleReports()...)
	if r, ok := d.DetectFragmentation(snapshots); ok {
		reports = append(reports, r)
	}

	d.mu.Lock()
	d.lastDetection = d.now()
	d.lastReportCount = len(reports)
	d.mu.Unlock()

	for _, r := range reports {
		d.logger.Warn("leak suspected",
			"type", r.Type,
			"severity", r.Severity,
			"kind", r.Kind,
			"objects", len(r.Handles),
			"bytes", r.EstimatedBytes,
		)
	}
	return reports
}

// DetectPatternLeaks flags suspicious kinds: objects older than the
// kind's MinAge that have been idle longer than its MaxIdle, and kinds
// with more tracked objects than MaxCount.
func (d *Detector) DetectPatternLeaks() []Report {
	d.mu.RLock()
	defer d.mu.RUnlock()

	now := d.now()
	type group struct {
		handles []Handle
		ids     []string
		bytes   int64
		total   int
	}
	groups := make(map[Kind]*group)

	for h, r := range d.records {
		rule, ok := d.th.Patterns[r.kind]
		if !ok {
			continue
		}
		g := groups[r.kind]
		if g == nil {
			g = &group{}
			groups[r.kind] = g
		}
		g.total++
		if now.Sub(r.created) > rule.MinAge && now.Sub(r.lastAccessed) > rule.MaxIdle {
			g.handles = append(g.handles, h)
			g.ids = append(g.ids, r.id)
			g.bytes += r.size
		}
	}

	kinds := make([]Kind, 0, len(groups))
	for k := range groups {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	var reports []Report
	for _, k := range kinds {
		g := groups[k]
		rule := d.th.Patterns[k]
		if len(g.handles) > 0 {
			sortHandles(g.handles, g.ids)
			reports = append(reports, Report{
				Type:     ReportPattern,
				Severity: severityForCount(len(g.handles)),
				Kind:     k.String(),
				Description: fmt.Sprintf("%d %s object(s) older than %s and idle for more than %s",
					len(g.handles), k, rule.MinAge, rule.MaxIdle),
				Recommendations: patternAdvice[k],
				Handles:         g.handles,
				IDs:             g.ids,
				EstimatedBytes:  g.bytes,
				DetectedAt:      now,
			})
		}
		if rule.MaxCount > 0 && g.total > rule.MaxCount {
			reports = append(reports, Report{
				Type:        ReportCount,
				Severity:    SeverityMedium,
				Kind:        k.String(),
				Description: fmt.Sprintf("%d live %s objects exceed the expected maximum of %d", g.total, k, rule.MaxCount),
				Recommendations: []string{
					"Check for registrations repeated on every render",
					"Share one instance where possible",
				},
				DetectedAt: now,
			})
		}
	}
	return reports
}

// DetectOrphanedObjects returns records older than OrphanAge that have
// not been accessed within OrphanIdle, regardless of kind.
func (d *Detector) DetectOrphanedObjects() []Record {
	d.mu.RLock()
	defer d.mu.RUnlock()

	now := d.now()
	var out []Record
	for h, r := range d.records {
		if d.isOrphanLocked(r, now) {
			out = append(out, r.snapshot(h))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

func (d *Detector) orphanReport() (Report, bool) {
	orphans := d.DetectOrphanedObjects()
	if len(orphans) == 0 {
		return Report{}, false
	}
	th := d.Thresholds()
	r := Report{
		Type:     ReportOrphan,
		Severity: severityForCount(len(orphans)),
		Description: fmt.Sprintf("%d object(s) older than %s not accessed in %s",
			len(orphans), th.OrphanAge, th.OrphanIdle),
		Recommendations: []string{
			"Release the object or call Touch when it is still in use",
			"Run Cleanup to purge records of discarded objects",
		},
		DetectedAt: d.now(),
	}
	for _, o := range orphans {
		r.Handles = append(r.Handles, o.Handle)
		r.IDs = append(r.IDs, o.ID)
		r.EstimatedBytes += o.Size
	}
	return r, true
}

// DetectCircularReferenceLeak reports whether any reference cycle exists.
func (d *Detector) DetectCircularReferenceLeak() bool {
	return d.HasCycle()
}

func (d *Detector) cycleReports() []Report {
	cycles := d.FindCycles()
	if len(cycles) == 0 {
		return nil
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	now := d.now()

	reports := make([]Report, 0, len(cycles))
	for _, c := range cycles {
		r := Report{
			Type:     ReportCycle,
			Severity: SeverityHigh,
			Description: fmt.Sprintf("reference cycle through %d object(s)", len(c)),
			Recommendations: []string{
				"Break one edge of the cycle during teardown",
				"Replace back-references with handles or lookups",
			},
			Handles:    c,
			DetectedAt: now,
		}
		for _, h := range c {
			if rec, ok := d.records[h]; ok {
				r.IDs = append(r.IDs, rec.id)
				r.EstimatedBytes += rec.size
			}
		}
		reports = append(reports, r)
	}
	return reports
}

// DetectFragmentation inspects heap allocation deltas between successive
// snapshots. It reports when the deltas are erratic (stddev above
// FragmentationRatio * mean |delta|) and large (mean |delta| above
// FragmentationMinMean). With too few snapshots it returns false.
func (d *Detector) DetectFragmentation(snapshots []Snapshot) (Report, bool) {
	th := d.Thresholds()
	if len(snapshots) < th.FragmentationMinSamples {
		return Report{}, false
	}

	deltas := make([]float64, len(snapshots)-1)
	for i := 1; i < len(snapshots); i++ {
		deltas[i-1] = float64(snapshots[i].HeapAlloc) - float64(snapshots[i-1].HeapAlloc)
	}

	var sum, sumAbs float64
	for _, x := range deltas {
		sum += x
		sumAbs += math.Abs(x)
	}
	n := float64(len(deltas))
	mean := sum / n
	meanAbs := sumAbs / n

	var variance float64
	for _, x := range deltas {
		variance += (x - mean) * (x - mean)
	}
	stddev := math.Sqrt(variance / n)

	if stddev <= th.FragmentationRatio*meanAbs || meanAbs <= th.FragmentationMinMean {
		return Report{}, false
	}

	return Report{
		Type:     ReportFragmentation,
		Severity: SeverityMedium,
		Description: fmt.Sprintf("erratic heap growth: stddev %.0f bytes vs mean delta %.0f bytes over %d samples",
			stddev, meanAbs, len(snapshots)),
		Recommendations: []string{
			"Pool large buffers instead of reallocating them per frame",
			"Allocate series buffers at their final size",
		},
		DetectedAt: d.now(),
	}, true
}

func severityForCount(n int) Severity {
	switch {
	case n >= 100:
		return SeverityCritical
	case n >= 20:
		return SeverityHigh
	case n >= 5:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// sortHandles orders handles ascending, keeping ids aligned.
func sortHandles(handles []Handle, ids []string) {
	idx := make([]int, len(handles))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return handles[idx[a]] < handles[idx[b]] })
	h2 := make([]Handle, len(handles))
	i2 := make([]string, len(ids))
	for to, from := range idx {
		h2[to] = handles[from]
		i2[to] = ids[from]
	}
	copy(handles, h2)
	copy(ids, i2)
}
