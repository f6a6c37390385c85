// internal/leak/detector.go
// Registry of tracked objects and their reference graph
//
// LEARN: Go has a tracing collector, but we still must not let the
// registry keep tracked objects alive. Records live in an arena keyed by
// a Handle (a plain integer) handed back at registration. The object
// itself is only reachable from the registry through a weak.Pointer
// (see track.go), so dropping the object elsewhere lets it be collected.

package leak

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Handle identifies a tracked record. The zero Handle is never issued.
type Handle uint64

// Record is a read-only copy of a tracked object's metadata.
type Record struct {
	Handle       Handle    `json:"handle"`
	ID           string    `json:"id"`
	Kind         Kind      `json:"-"`
	KindName     string    `json:"kind"`
	Created      time.Time `json:"created"`
	LastAccessed time.Time `json:"lastAccessed"`
	Size         int64     `json:"size"`
	References   []Handle  `json:"references,omitempty"`
	Collected    bool      `json:"collected"`
}

type record struct {
	id           string
	kind         Kind
	created      time.Time
	lastAccessed time.Time
	size         int64
	refs         map[Handle]struct{}
	objectKey    any // weak.Pointer[T] for tracked objects, nil for bare tokens
	collected    bool
}

// Stats summarizes the registry.
type Stats struct {
	RegisteredObjects int            `json:"registeredObjects"`
	OrphanedObjects   int            `json:"orphanedObjects"`
	CollectedObjects  int            `json:"collectedObjects"`
	References        int            `json:"references"`
	TotalSize         int64          `json:"totalSize"`
	ByKind            map[string]int `json:"byKind"`
	LastDetection     time.Time      `json:"lastDetection"`
	LastReportCount   int            `json:"lastReportCount"`
	LastCleanup       time.Time      `json:"lastCleanup"`
	Purged            int64          `json:"purged"`
}

// Config holds detector configuration.
type Config struct {
	Thresholds Thresholds
	Logger     *slog.Logger
	Now        func() time.Time
}

// Detector tracks objects and runs heuristic and structural leak checks.
// It is safe for concurrent use.
type Detector struct {
	mu       sync.RWMutex
	records  map[Handle]*record
	byObject map[any]Handle
	next     Handle

	th     Thresholds
	logger *slog.Logger
	now    func() time.Time

	lastDetection   time.Time
	lastReportCount int
	lastCleanup     time.Time
	purged          int64
}

// New creates a detector.
func New(cfg Config) *Detector {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Detector{
		records:  make(map[Handle]*record),
		byObject: make(map[any]Handle),
		th:       cfg.Thresholds.withDefaults(),
		logger:   cfg.Logger.With("component", "leak_detector"),
		now:      cfg.Now,
	}
}

// Thresholds returns the active heuristic configuration.
func (d *Detector) Thresholds() Thresholds {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.th
}

// SetThresholds replaces the heuristic configuration for future checks.
func (d *Detector) SetThresholds(th Thresholds) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.th = th.withDefaults()
}

// Register creates a record that is not associated with any Go object.
// Collaborators keep the Handle next to whatever they are tracking.
func (d *Detector) Register(kind Kind, sizeBytes int64) Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.registerLocked(kind, sizeBytes, nil)
}

func (d *Detector) registerLocked(kind Kind, sizeBytes int64, key any) Handle {
	now := d.now()
	d.next++
	h := d.next
	d.records[h] = &record{
		id:           newRecordID(kind, now),
		kind:         kind,
		created:      now,
		lastAccessed: now,
		size:         sizeBytes,
		refs:         make(map[Handle]struct{}),
		objectKey:    key,
	}
	if key != nil {
		d.byObject[key] = h
	}
	return h
}

// newRecordID builds a type-tagged, time-ordered, random-suffixed ID.
func newRecordID(kind Kind, now time.Time) string {
	return fmt.Sprintf("%s_%d_%s", kind, now.UnixNano(), uuid.NewString()[:8])
}

// Touch refreshes a record's lastAccessed time. It reports whether the
// handle is known.
func (d *Detector) Touch(h Handle) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.records[h]
	if !ok {
		return false
	}
	r.lastAccessed = d.now()
	return true
}

// AddReference records the edge from -> to. Both handles must be known;
// edges never point at records the registry does not hold.
func (d *Detector) AddReference(from, to Handle) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	src, ok := d.records[from]
	if !ok {
		return false
	}
	if _, ok := d.records[to]; !ok {
		return false
	}
	src.refs[to] = struct{}{}
	return true
}

// RemoveReference deletes the edge from -> to if present.
func (d *Detector) RemoveReference(from, to Handle) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	src, ok := d.records[from]
	if !ok {
		return false
	}
	if _, ok := src.refs[to]; !ok {
		return false
	}
	delete(src.refs, to)
	return true
}

// Untrack removes a record and every edge pointing at it.
func (d *Detector) Untrack(h Handle) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.records[h]; !ok {
		return false
	}
	d.removeLocked([]Handle{h})
	return true
}

// removeLocked deletes records and their incoming edges. Caller holds d.mu.
func (d *Detector) removeLocked(handles []Handle) {
	gone := make(map[Handle]struct{}, len(handles))
	for _, h := range handles {
		r, ok := d.records[h]
		if !ok {
			continue
		}
		if r.objectKey != nil {
			delete(d.byObject, r.objectKey)
		}
		delete(d.records, h)
		gone[h] = struct{}{}
	}
	for _, r := range d.records {
		for to := range r.refs {
			if _, ok := gone[to]; ok {
				delete(r.refs, to)
			}
		}
	}
}

// markCollected flags a record whose object was reclaimed by the GC. The
// record itself is purged by the next Cleanup.
func (d *Detector) markCollected(h Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r, ok := d.records[h]; ok {
		r.collected = true
	}
}

// Record returns a copy of the record for h.
func (d *Detector) Record(h Handle) (Record, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.records[h]
	if !ok {
		return Record{}, false
	}
	return r.snapshot(h), true
}

// Records returns copies of all records ordered by handle.
func (d *Detector) Records() []Record {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Record, 0, len(d.records))
	for h, r := range d.records {
		out = append(out, r.snapshot(h))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

func (r *record) snapshot(h Handle) Record {
	refs := make([]Handle, 0, len(r.refs))
	for to := range r.refs {
		refs = append(refs, to)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i] < refs[j] })
	return Record{
		Handle:       h,
		ID:           r.id,
		Kind:         r.kind,
		KindName:     r.kind.String(),
		Created:      r.created,
		LastAccessed: r.lastAccessed,
		Size:         r.size,
		References:   refs,
		Collected:    r.collected,
	}
}

// Cleanup purges records idle for longer than the retention threshold and
// records whose object has been garbage collected. It returns the number
// of purged records. This is the only destructive detector operation.
func (d *Detector) Cleanup() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	var stale []Handle
	for h, r := range d.records {
		if r.collected || now.Sub(r.lastAccessed) > d.th.Retention {
			stale = append(stale, h)
		}
	}
	d.removeLocked(stale)
	d.lastCleanup = now
	d.purged += int64(len(stale))

	if len(stale) > 0 {
		d.logger.Debug("purged stale records", "count", len(stale), "remaining", len(d.records))
	}
	return len(stale)
}

// Stats returns a registry summary.
func (d *Detector) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	now := d.now()
	s := Stats{
		RegisteredObjects: len(d.records),
		ByKind:            make(map[string]int),
		LastDetection:     d.lastDetection,
		LastReportCount:   d.lastReportCount,
		LastCleanup:       d.lastCleanup,
		Purged:            d.purged,
	}
	for _, r := range d.records {
		s.TotalSize += r.size
		s.References += len(r.refs)
		s.ByKind[r.kind.String()]++
		if r.collected {
			s.CollectedObjects++
		}
		if d.isOrphanLocked(r, now) {
			s.OrphanedObjects++
		}
	}
	return s
}

func (d *Detector) isOrphanLocked(r *record, now time.Time) bool {
	return now.Sub(r.created) > d.th.OrphanAge && now.Sub(r.lastAccessed) > d.th.OrphanIdle
}
