// internal/leak/track.go
// Non-owning association between live objects and their records
//
// LEARN: weak.Pointer (Go 1.24) gives us what a weak map gives other
// runtimes:
// 1. weak.Make(p) does not keep *p alive
// 2. two weak pointers made from the same object compare equal, so a
//    weak.Pointer works as a map key for "look up by object identity"
// 3. runtime.AddCleanup tells us, best effort, when *p was reclaimed
//
// The cleanup only flags the record. Detector.Cleanup does the purge, so
// reclamation stays driven by explicit sweeps.

package leak

import (
	"runtime"
	"weak"
)

// Track registers obj (or returns its existing handle) without extending
// its lifetime. obj must be non-nil.
func Track[T any](d *Detector, obj *T, kind Kind, sizeBytes int64) Handle {
	if obj == nil {
		panic("leak: Track called with nil object")
	}
	key := weak.Make(obj)

	d.mu.Lock()
	if h, ok := d.byObject[key]; ok {
		if r := d.records[h]; r != nil {
			r.lastAccessed = d.now()
		}
		d.mu.Unlock()
		return h
	}
	h := d.registerLocked(kind, sizeBytes, key)
	d.mu.Unlock()

	runtime.AddCleanup(obj, d.markCollected, h)
	return h
}

// Lookup returns the handle of a tracked object.
func Lookup[T any](d *Detector, obj *T) (Handle, bool) {
	if obj == nil {
		return 0, false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.byObject[weak.Make(obj)]
	return h, ok
}

// TouchObject refreshes lastAccessed for a tracked object.
func TouchObject[T any](d *Detector, obj *T) bool {
	h, ok := Lookup(d, obj)
	if !ok {
		return false
	}
	return d.Touch(h)
}

// LinkObjects records that from references to. Both must be tracked.
func LinkObjects[T, U any](d *Detector, from *T, to *U) bool {
	fh, ok := Lookup(d, from)
	if !ok {
		return false
	}
	th, ok := Lookup(d, to)
	if !ok {
		return false
	}
	return d.AddReference(fh, th)
}
