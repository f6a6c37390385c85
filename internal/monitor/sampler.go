// internal/monitor/sampler.go
// Process memory sampling

package monitor

import (
	"runtime"
	"time"

	"github.com/khaaliswooden-max/resmem/internal/leak"
)

// Sampler takes one process-wide memory sample.
type Sampler interface {
	Sample() leak.Snapshot
}

// SamplerFunc adapts a function to Sampler.
type SamplerFunc func() leak.Snapshot

func (f SamplerFunc) Sample() leak.Snapshot { return f() }

// RuntimeSampler reads the Go runtime's heap statistics.
//
// LEARN: runtime.ReadMemStats stops the world briefly. At the default
// interval of a few seconds the pause is negligible; do not sample in a
// hot loop.
type RuntimeSampler struct {
	Now func() time.Time
}

func (s RuntimeSampler) Sample() leak.Snapshot {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return leak.Snapshot{
		Timestamp:  now(),
		HeapAlloc:  ms.HeapAlloc,
		HeapInuse:  ms.HeapInuse,
		Sys:        ms.Sys,
		TotalAlloc: ms.TotalAlloc,
		NumGC:      ms.NumGC,
	}
}
