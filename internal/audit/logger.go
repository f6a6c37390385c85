// internal/audit/logger.go
// Lifecycle journal for cleanup, alert and leak events
//
// LEARN: slog output is for operators reading a stream. The journal is
// for after-the-fact questions ("which teardown failed before the heap
// alert?") so it is:
// - Append-only JSON lines
// - One entry per lifecycle event, never sampled
// - Timestamped in UTC

package audit

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/khaaliswooden-max/resmem/internal/leak"
	"github.com/khaaliswooden-max/resmem/internal/monitor"
	"github.com/khaaliswooden-max/resmem/internal/scheduler"
)

// Event names.
const (
	EventTask          = "cleanup_task"
	EventAlertRaised   = "alert_raised"
	EventAlertResolved = "alert_resolved"
	EventLeakReport    = "leak_report"
	EventPurge         = "registry_purge"
)

// Entry is one journal line.
type Entry struct {
	Timestamp  time.Time `json:"timestamp"`
	Event      string    `json:"event"`
	Subject    string    `json:"subject,omitempty"` // task name, alert ID, report type
	Severity   string    `json:"severity,omitempty"`
	Success    bool      `json:"success"`
	Detail     string    `json:"detail,omitempty"`
	Count      int       `json:"count,omitempty"`
	DurationMs int64     `json:"duration_ms,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Recorder is anything that accepts journal entries.
type Recorder interface {
	Log(entry Entry) error
}

// Logger writes entries as JSON lines.
type Logger struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

// Config holds logger configuration.
type Config struct {
	Output io.Writer // default: os.Stdout
}

// New creates a journal writer.
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	return &Logger{encoder: json.NewEncoder(cfg.Output)}
}

// Log writes an entry. The mutex keeps concurrent lines from interleaving.
func (l *Logger) Log(entry Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.encoder.Encode(entry)
}

// === Typed helpers ===

// TaskEntry builds the entry for a scheduler result.
func TaskEntry(r scheduler.Result) Entry {
	e := Entry{
		Timestamp:  r.At.UTC(),
		Event:      EventTask,
		Subject:    r.Task,
		Severity:   r.Priority.String(),
		Success:    r.Status == scheduler.StatusSucceeded,
		Detail:     string(r.Status),
		DurationMs: r.Duration.Milliseconds(),
	}
	if r.Err != nil {
		e.Error = r.Err.Error()
	}
	return e
}

// AlertEntry builds the entry for an alert transition.
func AlertEntry(a monitor.Alert) Entry {
	e := Entry{
		Timestamp: a.Timestamp.UTC(),
		Event:     EventAlertRaised,
		Subject:   a.ID,
		Severity:  string(a.Severity),
		Success:   true,
		Detail:    a.Title + ": " + a.Message,
	}
	if a.Resolved {
		e.Event = EventAlertResolved
		e.Timestamp = a.ResolvedAt.UTC()
	}
	return e
}

// ReportEntry builds the entry for a leak report.
func ReportEntry(r leak.Report) Entry {
	return Entry{
		Timestamp: r.DetectedAt.UTC(),
		Event:     EventLeakReport,
		Subject:   string(r.Type),
		Severity:  string(r.Severity),
		Success:   true,
		Detail:    r.Description,
		Count:     len(r.Handles),
	}
}

// PurgeEntry builds the entry for a detector cleanup pass.
func PurgeEntry(at time.Time, purged int) Entry {
	return Entry{
		Timestamp: at.UTC(),
		Event:     EventPurge,
		Subject:   "leak_detector",
		Success:   true,
		Count:     purged,
	}
}

// === File Logger ===

// FileLogger writes the journal to an append-only file.
//
// LEARN: Rotation and retention are left to logrotate or the log
// shipper; the journal only ever appends.
type FileLogger struct {
	*Logger
	file *os.File
}

// NewFileLogger opens (or creates) path for appending.
func NewFileLogger(path string) (*FileLogger, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileLogger{
		Logger: New(Config{Output: file}),
		file:   file,
	}, nil
}

// Sync flushes writes to disk.
func (l *FileLogger) Sync() error {
	return l.file.Sync()
}

// Close syncs and closes the file.
func (l *FileLogger) Close() error {
	if err := l.file.Sync(); err != nil {
		l.file.Close()
		return err
	}
	return l.file.Close()
}

// === Multi Logger ===

// MultiLogger fans entries out to several recorders.
type MultiLogger struct {
	recorders []Recorder
}

func NewMultiLogger(recorders ...Recorder) *MultiLogger {
	return &MultiLogger{recorders: recorders}
}

// Log writes to every recorder, continuing past failures. It returns the
// last error seen.
func (m *MultiLogger) Log(entry Entry) error {
	var lastErr error
	for _, r := range m.recorders {
		if err := r.Log(entry); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// === In-Memory Logger (for testing) ===

// MemoryLogger keeps entries in memory.
type MemoryLogger struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{}
}

func (m *MemoryLogger) Log(entry Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

// Entries returns a copy of the recorded entries.
func (m *MemoryLogger) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...)
}

// Count returns the number of entries.
func (m *MemoryLogger) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Filter returns entries with the given event name.
func (m *MemoryLogger) Filter(event string) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for _, e := range m.entries {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

var (
	_ Recorder = (*Logger)(nil)
	_ Recorder = (*MultiLogger)(nil)
	_ Recorder = (*MemoryLogger)(nil)
)
