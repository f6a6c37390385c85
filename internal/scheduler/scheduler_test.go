// internal/scheduler/scheduler_test.go
// Tests for the cleanup scheduler

package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	rerrors "github.com/khaaliswooden-max/resmem/pkg/errors"
)

// recorder collects the order in which actions ran.
type recorder struct {
	mu    sync.Mutex
	order []string
}

func (r *recorder) action(name string) Action {
	return func(ctx context.Context) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.order = append(r.order, name)
		return nil
	}
}

func (r *recorder) ran() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func statuses(results []Result) map[string]Status {
	out := make(map[string]Status, len(results))
	for _, r := range results {
		out[r.Task] = r.Status
	}
	return out
}

func TestExecuteTask(t *testing.T) {
	ctx := context.Background()
	s := New(Config{})
	rec := &recorder{}

	s.RegisterTask("close-socket", rec.action("close-socket"), PriorityNormal)
	r := s.ExecuteTask(ctx, "close-socket")
	assert.Equal(t, StatusSucceeded, r.Status)
	assert.Equal(t, []string{"close-socket"}, rec.ran())

	t.Run("at most once", func(t *testing.T) {
		r := s.ExecuteTask(ctx, "close-socket")
		assert.Equal(t, StatusNotFound, r.Status)
		assert.ErrorIs(t, r.Err, rerrors.ErrTaskNotFound)
		assert.Len(t, rec.ran(), 1)
	})

	t.Run("re-registration runs again", func(t *testing.T) {
		s.RegisterTask("close-socket", rec.action("close-socket"), PriorityNormal)
		assert.Equal(t, StatusSucceeded, s.ExecuteTask(ctx, "close-socket").Status)
		assert.Len(t, rec.ran(), 2)
	})
}

func TestExecuteTaskRecoversFailures(t *testing.T) {
	ctx := context.Background()
	s := New(Config{})
	boom := errors.New("boom")

	s.RegisterTask("fails", func(context.Context) error { return boom }, PriorityHigh)
	s.RegisterTask("panics", func(context.Context) error { panic("kaboom") }, PriorityHigh)

	r := s.ExecuteTask(ctx, "fails")
	assert.Equal(t, StatusFailed, r.Status)
	assert.ErrorIs(t, r.Err, boom)
	assert.ErrorIs(t, r.Err, rerrors.ErrTaskFailed)

	var r2 Result
	require.NotPanics(t, func() { r2 = s.ExecuteTask(ctx, "panics") })
	assert.Equal(t, StatusFailed, r2.Status)
	assert.Contains(t, r2.Err.Error(), "kaboom")

	assert.Equal(t, int64(2), s.Stats().Failed)
}

func TestUnregister(t *testing.T) {
	ctx := context.Background()
	s := New(Config{})
	rec := &recorder{}

	unregister := s.RegisterTask("a", rec.action("a"), PriorityNormal)
	unregister()
	assert.False(t, s.Pending("a"))
	assert.Empty(t, s.ExecuteTasksByPriority(ctx, PriorityNormal))
	assert.Empty(t, rec.ran())

	t.Run("stale handle does not drop re-registration", func(t *testing.T) {
		first := s.RegisterTask("b", rec.action("b1"), PriorityNormal)
		s.RegisterTask("b", rec.action("b2"), PriorityNormal)
		first()
		require.True(t, s.Pending("b"))
		s.ExecuteTask(ctx, "b")
		assert.Equal(t, []string{"b2"}, rec.ran())
	})
}

func TestDependencyOrdering(t *testing.T) {
	ctx := context.Background()

	t.Run("dependent registered first still runs second", func(t *testing.T) {
		s := New(Config{})
		var aDone atomic.Bool
		var bSawA bool

		s.RegisterTask("B", func(context.Context) error {
			bSawA = aDone.Load()
			return nil
		}, PriorityNormal, "A")
		s.RegisterTask("A", func(context.Context) error {
			time.Sleep(5 * time.Millisecond)
			aDone.Store(true)
			return nil
		}, PriorityNormal)

		results := s.ExecuteTasksByPriority(ctx, PriorityNormal)
		require.Len(t, results, 2)
		assert.Equal(t, "A", results[0].Task)
		assert.Equal(t, "B", results[1].Task)
		assert.True(t, bSawA, "B ran before A completed")
	})

	t.Run("chain", func(t *testing.T) {
		s := New(Config{})
		rec := &recorder{}
		s.RegisterTask("d", rec.action("d"), PriorityLow, "c")
		s.RegisterTask("c", rec.action("c"), PriorityLow, "b")
		s.RegisterTask("b", rec.action("b"), PriorityLow, "a")
		s.RegisterTask("a", rec.action("a"), PriorityLow)

		s.ExecuteTasksByPriority(ctx, PriorityLow)
		assert.Equal(t, []string{"a", "b", "c", "d"}, rec.ran())
	})

	t.Run("failed dependency counts as run", func(t *testing.T) {
		s := New(Config{})
		rec := &recorder{}
		s.RegisterTask("a", func(context.Context) error { return errors.New("x") }, PriorityNormal)
		s.RegisterTask("b", rec.action("b"), PriorityNormal, "a")

		got := statuses(s.ExecuteTasksByPriority(ctx, PriorityNormal))
		assert.Equal(t, StatusFailed, got["a"])
		assert.Equal(t, StatusSucceeded, got["b"])
	})
}

func TestUnmetDependencySkipped(t *testing.T) {
	ctx := context.Background()
	s := New(Config{})
	rec := &recorder{}

	s.RegisterTask("flush", rec.action("flush"), PriorityLow)
	s.RegisterTask("close", rec.action("close"), PriorityHigh, "flush")
	s.RegisterTask("orphan", rec.action("orphan"), PriorityHigh, "never-registered")

	results := s.ExecuteTasksByPriority(ctx, PriorityHigh)
	got := statuses(results)
	assert.Equal(t, StatusSkipped, got["close"])
	assert.Equal(t, StatusSkipped, got["orphan"])
	for _, r := range results {
		assert.ErrorIs(t, r.Err, rerrors.ErrDependencyNotMet)
	}
	assert.Empty(t, rec.ran())
	assert.True(t, s.Pending("close"), "skipped tasks stay registered")

	s.ExecuteTasksByPriority(ctx, PriorityLow)
	s.ExecuteTasksByPriority(ctx, PriorityHigh)
	assert.Equal(t, []string{"flush", "close"}, rec.ran())
	assert.Equal(t, int64(3), s.Stats().Skipped)
}

func TestDependencySatisfiedByEarlierPass(t *testing.T) {
	ctx := context.Background()
	s := New(Config{})
	rec := &recorder{}

	s.RegisterTask("flush", rec.action("flush"), PriorityLow)
	require.Equal(t, StatusSucceeded, s.ExecuteTask(ctx, "flush").Status)

	s.RegisterTask("close", rec.action("close"), PriorityHigh, "flush")
	s.RegisterTask("flush", rec.action("flush-again"), PriorityLow)
	got := statuses(s.ExecuteTasksByPriority(ctx, PriorityHigh))
	assert.Equal(t, StatusSkipped, got["close"], "a re-registered dependency must run again")

	s.ExecuteTasksByPriority(ctx, PriorityLow)
	got = statuses(s.ExecuteTasksByPriority(ctx, PriorityHigh))
	assert.Equal(t, StatusSucceeded, got["close"])
	assert.Equal(t, []string{"flush", "flush-again", "close"}, rec.ran())
}

func TestDependencyCycleSkipped(t *testing.T) {
	ctx := context.Background()
	s := New(Config{})
	rec := &recorder{}

	s.RegisterTask("x", rec.action("x"), PriorityNormal, "y")
	s.RegisterTask("y", rec.action("y"), PriorityNormal, "x")
	s.RegisterTask("z", rec.action("z"), PriorityNormal)

	got := statuses(s.ExecuteTasksByPriority(ctx, PriorityNormal))
	assert.Equal(t, StatusSkipped, got["x"])
	assert.Equal(t, StatusSkipped, got["y"])
	assert.Equal(t, StatusSucceeded, got["z"])
	assert.Equal(t, []string{"z"}, rec.ran())
}

func TestExecuteAll(t *testing.T) {
	ctx := context.Background()
	s := New(Config{})
	rec := &recorder{}

	s.RegisterTask("low", rec.action("low"), PriorityLow)
	s.RegisterTask("normal", rec.action("normal"), PriorityNormal, "critical")
	s.RegisterTask("critical", rec.action("critical"), PriorityCritical)
	s.RegisterTask("high", func(context.Context) error { panic("bad teardown") }, PriorityHigh)

	results := s.ExecuteAll(ctx)
	assert.Len(t, results, 4)
	assert.Equal(t, []string{"critical", "normal", "low"}, rec.ran(), "a failing tier does not stop later tiers")

	st := s.Stats()
	assert.Equal(t, 0, st.Registered)
	assert.Equal(t, int64(3), st.Executed)
	assert.Equal(t, int64(1), st.Failed)
}

func TestOnResult(t *testing.T) {
	var mu sync.Mutex
	var seen []Result
	s := New(Config{OnResult: func(r Result) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, r)
	}})

	s.RegisterTask("a", func(context.Context) error { return nil }, PriorityNormal)
	s.ExecuteAll(context.Background())
	s.ExecuteTask(context.Background(), "missing")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	assert.Equal(t, StatusSucceeded, seen[0].Status)
	assert.Equal(t, StatusNotFound, seen[1].Status)
}

func TestCancelledPass(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := New(Config{})
	rec := &recorder{}
	s.RegisterTask("a", rec.action("a"), PriorityNormal)

	s.ExecuteAll(ctx)
	assert.Empty(t, rec.ran())
	assert.True(t, s.Pending("a"))
}

func TestPeriodicCleanup(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := New(Config{})
	var sweeps atomic.Int64
	var taskRan atomic.Bool
	s.AddSweeper("count", func(context.Context) { sweeps.Add(1) })
	s.AddSweeper("panics", func(context.Context) { panic("sweeper bug") })
	s.RegisterTask("task", func(context.Context) error {
		taskRan.Store(true)
		return nil
	}, PriorityNormal)

	s.StartPeriodicCleanup(5 * time.Millisecond)
	assert.True(t, s.Stats().Periodic)
	require.Eventually(t, func() bool { return sweeps.Load() >= 3 }, time.Second, time.Millisecond)
	s.StopPeriodicCleanup()
	s.StopPeriodicCleanup()

	assert.False(t, s.Stats().Periodic)
	assert.False(t, taskRan.Load(), "the sweep timer never runs tasks")
	assert.GreaterOrEqual(t, s.Stats().Sweeps, int64(3))
}

func TestRemoveSweeper(t *testing.T) {
	s := New(Config{})
	var n int
	remove := s.AddSweeper("n", func(context.Context) { n++ })
	s.Sweep(context.Background())
	remove()
	s.Sweep(context.Background())
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, s.Stats().Sweepers)
}

func TestRemoveSweeperSharedName(t *testing.T) {
	s := New(Config{})
	var first, second int
	s.AddSweeper("expire", func(context.Context) { first++ })
	removeSecond := s.AddSweeper("expire", func(context.Context) { second++ })

	removeSecond()
	s.Sweep(context.Background())

	assert.Equal(t, 1, first, "the earlier registration survives")
	assert.Zero(t, second)
	assert.Equal(t, 1, s.Stats().Sweepers)
}

func TestClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := New(Config{})
	rec := &recorder{}
	s.RegisterTask("a", rec.action("a"), PriorityLow)
	s.StartPeriodicCleanup(time.Millisecond)

	results := s.Close(context.Background())
	require.Len(t, results, 1)
	assert.Equal(t, []string{"a"}, rec.ran())
	assert.Nil(t, s.Close(context.Background()))

	assert.Panics(t, func() { s.RegisterTask("b", rec.action("b"), PriorityLow) })
	assert.Panics(t, func() { s.AddSweeper("c", func(context.Context) {}) })
}

func TestPriorityNames(t *testing.T) {
	for _, p := range Priorities {
		got, ok := ParsePriority(p.String())
		require.True(t, ok)
		assert.Equal(t, p, got)
	}
	_, ok := ParsePriority("urgent")
	assert.False(t, ok)
}
