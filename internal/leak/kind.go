// internal/leak/kind.go
// Trackable object kinds and report vocabulary

package leak

import "time"

// Kind tags a tracked object at registration time. The pattern detectors
// dispatch on Kind instead of matching type names.
type Kind int

const (
	KindGeneric Kind = iota
	KindEventListener
	KindTimer
	KindDOMReference
	KindSubscription
	KindSurface
	KindBuffer
	KindWorker
)

var kindNames = [...]string{
	KindGeneric:       "generic",
	KindEventListener: "event_listener",
	KindTimer:         "timer",
	KindDOMReference:  "dom_reference",
	KindSubscription:  "subscription",
	KindSurface:       "surface",
	KindBuffer:        "buffer",
	KindWorker:        "worker",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// ParseKind maps a kind name back to its Kind. Unknown names map to
// KindGeneric.
func ParseKind(s string) Kind {
	for k, name := range kindNames {
		if name == s {
			return Kind(k)
		}
	}
	return KindGeneric
}

// Severity grades a finding.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ReportType names the detector that produced a report.
type ReportType string

const (
	ReportPattern       ReportType = "pattern"
	ReportCount         ReportType = "suspicious_count"
	ReportOrphan        ReportType = "orphan"
	ReportCycle         ReportType = "circular_reference"
	ReportFragmentation ReportType = "fragmentation"
)

// Report is one finding with remediation hints.
type Report struct {
	Type            ReportType `json:"type"`
	Severity        Severity   `json:"severity"`
	Kind            string     `json:"kind,omitempty"`
	Description     string     `json:"description"`
	Recommendations []string   `json:"recommendations"`
	Handles         []Handle   `json:"handles,omitempty"`
	IDs             []string   `json:"ids,omitempty"`
	EstimatedBytes  int64      `json:"estimatedBytes"`
	DetectedAt      time.Time  `json:"detectedAt"`
}

// Involves reports whether h is one of the report's objects.
func (r Report) Involves(h Handle) bool {
	for _, x := range r.Handles {
		if x == h {
			return true
		}
	}
	return false
}

// PatternRule is the heuristic applied to one suspicious kind: objects
// older than MinAge that have been idle longer than MaxIdle are flagged.
type PatternRule struct {
	MinAge  time.Duration `yaml:"min_age"`
	MaxIdle time.Duration `yaml:"max_idle"`
	// MaxCount flags the kind as a whole when more live objects than this
	// are tracked. Zero disables the count check.
	MaxCount int `yaml:"max_count"`
}

// Thresholds holds every heuristic constant. The defaults are the
// historical values and carry no stronger meaning than that.
type Thresholds struct {
	Patterns map[Kind]PatternRule

	OrphanAge  time.Duration // record age before orphan checks apply (10m)
	OrphanIdle time.Duration // idle time that makes an old record an orphan (5m)
	Retention  time.Duration // idle time after which Cleanup purges a record (10m)

	FragmentationMinSamples int     // snapshots needed before evaluating (10)
	FragmentationMinMean    float64 // bytes; mean |delta| must exceed this (1 MiB)
	FragmentationRatio      float64 // stddev must exceed ratio * mean |delta| (2)
}

// DefaultThresholds returns the standard heuristic configuration.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Patterns: map[Kind]PatternRule{
			KindEventListener: {MinAge: 5 * time.Minute, MaxIdle: 2 * time.Minute, MaxCount: 100},
			KindTimer:         {MinAge: 10 * time.Minute, MaxIdle: 5 * time.Minute, MaxCount: 50},
			KindDOMReference:  {MinAge: 5 * time.Minute, MaxIdle: 2 * time.Minute, MaxCount: 1000},
			KindSubscription:  {MinAge: 10 * time.Minute, MaxIdle: 5 * time.Minute, MaxCount: 100},
		},
		OrphanAge:               10 * time.Minute,
		OrphanIdle:              5 * time.Minute,
		Retention:               10 * time.Minute,
		FragmentationMinSamples: 10,
		FragmentationMinMean:    1 << 20,
		FragmentationRatio:      2,
	}
}

// withDefaults fills zero fields from DefaultThresholds.
func (t Thresholds) withDefaults() Thresholds {
	d := DefaultThresholds()
	if t.Patterns == nil {
		t.Patterns = d.Patterns
	}
	if t.OrphanAge <= 0 {
		t.OrphanAge = d.OrphanAge
	}
	if t.OrphanIdle <= 0 {
		t.OrphanIdle = d.OrphanIdle
	}
	if t.Retention <= 0 {
		t.Retention = d.Retention
	}
	if t.FragmentationMinSamples <= 1 {
		t.FragmentationMinSamples = d.FragmentationMinSamples
	}
	if t.FragmentationMinMean <= 0 {
		t.FragmentationMinMean = d.FragmentationMinMean
	}
	if t.FragmentationRatio <= 0 {
		t.FragmentationRatio = d.FragmentationRatio
	}
	return t
}
