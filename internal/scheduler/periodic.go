// internal/scheduler/periodic.go
// Background sweep timer
//
// LEARN: The periodic timer never runs registered tasks. Tasks are
// teardown and run once; sweepers are cheap idempotent housekeeping
// (expire cache entries, purge stale leak records) and run on every tick.

package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/khaaliswooden-max/resmem/pkg/errors"
)

// DefaultSweepInterval is used when StartPeriodicCleanup gets a
// non-positive interval.
const DefaultSweepInterval = 30 * time.Second

// AddSweeper registers a lightweight sweep run on every periodic tick and
// on every Sweep call. It returns a function that removes it.
func (s *Scheduler) AddSweeper(name string, fn func(ctx context.Context)) (remove func()) {
	if fn == nil {
		panic(fmt.Sprintf("scheduler: sweeper %q registered with nil func", name))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		panic(errors.WrapMisuse("scheduler", "add sweeper"))
	}
	s.seq++
	seq := s.seq
	s.sweepers = append(s.sweepers, sweeper{name: name, fn: fn, seq: seq})

	// Names may repeat, so removal matches on the registration seq.
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sw := range s.sweepers {
			if sw.seq == seq {
				s.sweepers = append(s.sweepers[:i], s.sweepers[i+1:]...)
				return
			}
		}
	}
}

// Sweep runs every sweeper once. A panicking sweeper is logged and the
// remaining sweepers still run.
func (s *Scheduler) Sweep(ctx context.Context) {
	s.mu.Lock()
	sweepers := append([]sweeper(nil), s.sweepers...)
	s.mu.Unlock()

	for _, sw := range sweepers {
		if ctx.Err() != nil {
			return
		}
		func() {
			defer func() {
				if p := recover(); p != nil {
					s.logger.Error("sweeper panicked", "sweeper", sw.name, "panic", p)
				}
			}()
			sw.fn(ctx)
		}()
	}

	s.mu.Lock()
	s.sweeps++
	s.lastSweep = s.now()
	s.mu.Unlock()
}

// StartPeriodicCleanup starts the background sweep timer. Calling it
// while the timer runs restarts it with the new interval.
func (s *Scheduler) StartPeriodicCleanup(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	s.StopPeriodicCleanup()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		panic(errors.WrapMisuse("scheduler", "start periodic cleanup"))
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.loop(ctx, interval)

	s.logger.Info("periodic cleanup started", "interval", interval)
}

// StopPeriodicCleanup stops the timer and waits for an in-flight sweep.
func (s *Scheduler) StopPeriodicCleanup() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.logger.Info("periodic cleanup stopped")
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Close stops the timer and runs every remaining task as a final pass.
// Registering after Close panics.
func (s *Scheduler) Close(ctx context.Context) []Result {
	s.StopPeriodicCleanup()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return s.ExecuteAll(ctx)
}
