// internal/scheduler/scheduler.go
// Priority and dependency aware cleanup scheduler
//
// LEARN: Cleanup actions are collaborator code we do not trust. Every
// action runs behind recover() so a panic or error in one teardown is
// logged and counted, and the pass carries on with the next task.
// Tasks run at most once: a task is removed from the registry before
// its action starts, and must be registered again to run again.

package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/khaaliswooden-max/resmem/pkg/errors"
)

// Priority is an ordered cleanup tier. Lower values run first.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
)

// Priorities lists every tier in execution order.
var Priorities = []Priority{PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow}

var priorityNames = [...]string{"critical", "high", "normal", "low"}

func (p Priority) String() string {
	if p >= 0 && int(p) < len(priorityNames) {
		return priorityNames[p]
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// ParsePriority maps a tier name to its Priority.
func ParsePriority(s string) (Priority, bool) {
	for i, name := range priorityNames {
		if name == s {
			return Priority(i), true
		}
	}
	return 0, false
}

// Action is a cleanup action. It may block; the scheduler waits for it.
type Action func(ctx context.Context) error

// Task is a registered cleanup action.
type Task struct {
	Name         string
	Priority     Priority
	Dependencies []string
	Action       Action
}

// Status is the outcome of one execution attempt.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
	StatusNotFound  Status = "not_found"
)

// Result describes one execution attempt. Failures are reported here and
// in the log, never returned as errors.
type Result struct {
	Task     string        `json:"task"`
	Priority Priority      `json:"priority"`
	Status   Status        `json:"status"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
	At       time.Time     `json:"at"`
}

// Stats summarizes scheduler activity.
type Stats struct {
	Registered int            `json:"registered"`
	ByPriority map[string]int `json:"byPriority"`
	Executed   int64          `json:"executed"`
	Failed     int64          `json:"failed"`
	Skipped    int64          `json:"skipped"`
	Sweeps     int64          `json:"sweeps"`
	Sweepers   int            `json:"sweepers"`
	Periodic   bool           `json:"periodic"`
	LastRun    time.Time      `json:"lastRun"`
	LastSweep  time.Time      `json:"lastSweep"`
}

// Config holds scheduler configuration.
type Config struct {
	Logger *slog.Logger
	Now    func() time.Time
	// OnResult observes every execution attempt, for example to journal
	// it. It is called without the scheduler lock held.
	OnResult func(Result)
}

type entry struct {
	task Task
	seq  uint64
}

type sweeper struct {
	name string
	fn   func(ctx context.Context)
	seq  uint64
}

// Scheduler runs registered cleanup tasks by tier and drives periodic
// sweeps. It is safe for concurrent use.
type Scheduler struct {
	mu       sync.Mutex
	tasks    map[string]*entry
	seq      uint64
	ran      map[string]struct{}
	sweepers []sweeper
	closed   bool

	executed, failed, skipped, sweeps int64
	lastRun, lastSweep                time.Time

	// periodic sweep loop
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger   *slog.Logger
	now      func() time.Time
	onResult func(Result)
}

// New creates a scheduler.
func New(cfg Config) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Scheduler{
		tasks:    make(map[string]*entry),
		ran:      make(map[string]struct{}),
		logger:   cfg.Logger.With("component", "cleanup_scheduler"),
		now:      cfg.Now,
		onResult: cfg.OnResult,
	}
}

// RegisterTask registers action under name and returns a function that
// unregisters it. Registering a name again replaces the earlier task; an
// unregister function from the earlier registration then does nothing.
func (s *Scheduler) RegisterTask(name string, action Action, priority Priority, deps ...string) (unregister func()) {
	return s.Register(Task{Name: name, Priority: priority, Dependencies: deps, Action: action})
}

// Register is RegisterTask taking a Task value.
func (s *Scheduler) Register(t Task) (unregister func()) {
	if t.Action == nil {
		panic(fmt.Sprintf("scheduler: task %q registered with nil action", t.Name))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		panic(errors.WrapMisuse("scheduler", "register task"))
	}

	s.seq++
	seq := s.seq
	t.Dependencies = append([]string(nil), t.Dependencies...)
	s.tasks[t.Name] = &entry{task: t, seq: seq}
	delete(s.ran, t.Name)

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if e, ok := s.tasks[t.Name]; ok && e.seq == seq {
			delete(s.tasks, t.Name)
		}
	}
}

// Pending reports whether a task is registered and not yet executed.
func (s *Scheduler) Pending(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[name]
	return ok
}

// ExecuteTask runs one task regardless of its dependencies.
func (s *Scheduler) ExecuteTask(ctx context.Context, name string) Result {
	s.mu.Lock()
	e, ok := s.tasks[name]
	if ok {
		delete(s.tasks, name)
	}
	s.mu.Unlock()

	if !ok {
		r := Result{Task: name, Status: StatusNotFound, Err: errors.ErrTaskNotFound, At: s.now()}
		s.logger.Warn("cleanup task not found", "task", name)
		s.report(r)
		return r
	}
	return s.run(ctx, e.task)
}

// ExecuteTasksByPriority runs every task registered at tier, in
// dependency order. A task whose dependency has not run is skipped and
// stays registered.
func (s *Scheduler) ExecuteTasksByPriority(ctx context.Context, tier Priority) []Result {
	return s.executeTier(ctx, tier, make(map[string]struct{}))
}

// ExecuteAll runs every tier from critical to low as one pass, so a
// task may depend on a task in an earlier tier.
func (s *Scheduler) ExecuteAll(ctx context.Context) []Result {
	pass := make(map[string]struct{})
	var results []Result
	for _, p := range Priorities {
		results = append(results, s.executeTier(ctx, p, pass)...)
	}
	return results
}

func (s *Scheduler) executeTier(ctx context.Context, tier Priority, pass map[string]struct{}) []Result {
	s.mu.Lock()
	var tasks []Task
	seqs := make(map[string]uint64)
	for _, e := range s.tasks {
		if e.task.Priority == tier {
			tasks = append(tasks, e.task)
			seqs[e.task.Name] = e.seq
		}
	}
	s.mu.Unlock()

	order, cyclic := topoOrder(tasks, seqs)

	var results []Result
	for _, t := range cyclic {
		results = append(results, s.skip(t, errors.ErrDependencyCycle))
	}

	for _, t := range order {
		if ctx.Err() != nil {
			s.logger.Warn("cleanup pass cancelled", "priority", tier, "error", ctx.Err())
			break
		}
		if missing, ok := s.unmet(t, pass); !ok {
			results = append(results, s.skip(t, fmt.Errorf("%w: %s", errors.ErrDependencyNotMet, missing)))
			continue
		}

		s.mu.Lock()
		e, ok := s.tasks[t.Name]
		if !ok || e.seq != seqs[t.Name] {
			// unregistered or replaced while the tier was running
			s.mu.Unlock()
			continue
		}
		delete(s.tasks, t.Name)
		s.mu.Unlock()

		r := s.run(ctx, t)
		pass[t.Name] = struct{}{}
		results = append(results, r)
	}
	return results
}

// unmet returns the first dependency of t that has neither run in this
// pass nor completed earlier without being registered again. Tiers run as
// separate calls, so a dependency executed by an earlier call stays
// satisfied; registering it again clears that until it runs once more.
func (s *Scheduler) unmet(t Task, pass map[string]struct{}) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, dep := range t.Dependencies {
		if _, ok := pass[dep]; ok {
			continue
		}
		if _, pending := s.tasks[dep]; pending {
			return dep, false
		}
		if _, ok := s.ran[dep]; !ok {
			return dep, false
		}
	}
	return "", true
}

func (s *Scheduler) skip(t Task, reason error) Result {
	s.logger.Warn("cleanup task skipped",
		"task", t.Name,
		"priority", t.Priority,
		"reason", reason,
	)
	s.mu.Lock()
	s.skipped++
	s.mu.Unlock()

	r := Result{Task: t.Name, Priority: t.Priority, Status: StatusSkipped, Err: reason, At: s.now()}
	s.report(r)
	return r
}

// run executes the action, converting panics into failures.
func (s *Scheduler) run(ctx context.Context, t Task) (r Result) {
	start := s.now()
	r = Result{Task: t.Name, Priority: t.Priority, At: start}

	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("panic: %v", p)
			}
		}()
		return t.Action(ctx)
	}()
	r.Duration = s.now().Sub(start)

	s.mu.Lock()
	s.ran[t.Name] = struct{}{}
	s.lastRun = start
	if err != nil {
		s.failed++
	} else {
		s.executed++
	}
	s.mu.Unlock()

	if err != nil {
		r.Status = StatusFailed
		r.Err = errors.WrapTaskError(t.Name, err)
		s.logger.Error("cleanup task failed",
			"task", t.Name,
			"priority", t.Priority,
			"error", err,
		)
	} else {
		r.Status = StatusSucceeded
		s.logger.Debug("cleanup task done", "task", t.Name, "priority", t.Priority, "duration", r.Duration)
	}
	s.report(r)
	return r
}

func (s *Scheduler) report(r Result) {
	if s.onResult != nil {
		s.onResult(r)
	}
}

// topoOrder orders tasks so that same-tier dependencies come first. Ties
// keep registration order. Tasks on a dependency cycle are returned
// separately and never run.
func topoOrder(tasks []Task, seqs map[string]uint64) (order, cyclic []Task) {
	byName := make(map[string]Task, len(tasks))
	for _, t := range tasks {
		byName[t.Name] = t
	}
	indegree := make(map[string]int, len(tasks))
	dependents := make(map[string][]string)
	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			if _, same := byName[dep]; same {
				indegree[t.Name]++
				dependents[dep] = append(dependents[dep], t.Name)
			}
		}
	}

	var ready []string
	for _, t := range tasks {
		if indegree[t.Name] == 0 {
			ready = append(ready, t.Name)
		}
	}
	bySeq := func(names []string) {
		sort.Slice(names, func(i, j int) bool { return seqs[names[i]] < seqs[names[j]] })
	}
	bySeq(ready)

	done := make(map[string]bool, len(tasks))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		done[name] = true
		order = append(order, byName[name])

		var next []string
		for _, d := range dependents[name] {
			indegree[d]--
			if indegree[d] == 0 {
				next = append(next, d)
			}
		}
		ready = append(ready, next...)
		bySeq(ready)
	}

	for _, t := range tasks {
		if !done[t.Name] {
			cyclic = append(cyclic, t)
		}
	}
	sort.Slice(cyclic, func(i, j int) bool { return seqs[cyclic[i].Name] < seqs[cyclic[j].Name] })
	return order, cyclic
}

// Stats returns a snapshot of scheduler activity.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{
		Registered: len(s.tasks),
		ByPriority: make(map[string]int),
		Executed:   s.executed,
		Failed:     s.failed,
		Skipped:    s.skipped,
		Sweeps:     s.sweeps,
		Sweepers:   len(s.sweepers),
		Periodic:   s.cancel != nil,
		LastRun:    s.lastRun,
		LastSweep:  s.lastSweep,
	}
	for _, e := range s.tasks {
		st.ByPriority[e.task.Priority.String()]++
	}
	return st
}
