package taskqueue

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestQueue(t *testing.T, cfg Config) *Queue {
	t.Helper()
	q := New(cfg, testLogger())
	q.Start(context.Background())
	t.Cleanup(func() { q.Stop(time.Second) })
	return q
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestQueue_RunsSubmittedTask(t *testing.T) {
	q := newTestQueue(t, Config{Workers: 2, Depth: 8})

	var ran atomic.Bool
	err := q.Submit(&Task{
		ID:   "t1",
		Kind: KindEmbedding,
		Run: func(context.Context) error {
			ran.Store(true)
			return nil
		},
	})
	require.NoError(t, err)

	waitFor(t, ran.Load)
	waitFor(t, func() bool { return q.Stats().Completed == 1 })
}

func TestQueue_NilTaskRejected(t *testing.T) {
	q := newTestQueue(t, Config{Workers: 1, Depth: 2})
	assert.ErrorIs(t, q.Submit(nil), ErrNilTask)
	assert.ErrorIs(t, q.Submit(&Task{ID: "no-run"}), ErrNilTask)
}

func TestQueue_FullLaneRejects(t *testing.T) {
	// No Start: nothing drains the lanes.
	q := New(Config{Workers: 1, Depth: 1}, testLogger())

	noop := func(context.Context) error { return nil }
	require.NoError(t, q.Submit(&Task{ID: "a", Run: noop}))
	err := q.Submit(&Task{ID: "b", Run: noop})
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, int64(1), q.Stats().Dropped)
}

func TestQueue_HigherPriorityDrainsFirst(t *testing.T) {
	// Single worker, tasks queued before Start so the drain order is
	// observable.
	q := New(Config{Workers: 1, Depth: 8}, testLogger())

	var mu sync.Mutex
	var order []string
	record := func(id string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			return nil
		}
	}

	require.NoError(t, q.Submit(&Task{ID: "low", Priority: PriorityLow, Run: record("low")}))
	require.NoError(t, q.Submit(&Task{ID: "critical", Priority: PriorityCritical, Run: record("critical")}))
	require.NoError(t, q.Submit(&Task{ID: "high", Priority: PriorityHigh, Run: record("high")}))

	q.Start(context.Background())
	t.Cleanup(func() { q.Stop(time.Second) })

	waitFor(t, func() bool { return q.Stats().Completed == 3 })
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"critical", "high", "low"}, order)
}

func TestQueue_RetriesFailedTask(t *testing.T) {
	q := newTestQueue(t, Config{Workers: 1, Depth: 8, MaxRetries: 2})

	var attempts atomic.Int32
	err := q.Submit(&Task{
		ID:   "flaky",
		Kind: KindForget,
		Run: func(context.Context) error {
			if attempts.Add(1) < 3 {
				return errors.New("transient")
			}
			return nil
		},
	})
	require.NoError(t, err)

	waitFor(t, func() bool { return q.Stats().Completed == 1 })
	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, int64(2), q.Stats().Retried)
}

func TestQueue_NeverRetryTask(t *testing.T) {
	q := newTestQueue(t, Config{Workers: 1, Depth: 8, MaxRetries: 3})

	var attempts atomic.Int32
	err := q.Submit(&Task{
		ID:         "once",
		MaxRetries: -1,
		Run: func(context.Context) error {
			attempts.Add(1)
			return errors.New("always fails")
		},
	})
	require.NoError(t, err)

	waitFor(t, func() bool { return q.Stats().Failed == 1 })
	assert.Equal(t, int32(1), attempts.Load())
}

func TestQueue_TaskTimeout(t *testing.T) {
	q := newTestQueue(t, Config{Workers: 1, Depth: 8, MaxRetries: 3})

	err := q.Submit(&Task{
		ID:      "slow",
		Timeout: 20 * time.Millisecond,
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})
	require.NoError(t, err)

	// Deadline-exceeded tasks are not retried.
	waitFor(t, func() bool { return q.Stats().Failed == 1 })
	assert.Equal(t, int64(0), q.Stats().Retried)
}

func TestQueue_TimingStats(t *testing.T) {
	q := newTestQueue(t, Config{Workers: 2, Depth: 8})

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Submit(&Task{
			ID:   "timed",
			Kind: KindEmbedding,
			Run: func(context.Context) error {
				time.Sleep(5 * time.Millisecond)
				return nil
			},
		}))
	}
	waitFor(t, func() bool { return q.Stats().Completed == 3 })

	s := q.Stats()
	assert.GreaterOrEqual(t, s.AvgExecMs, 5.0,
		"average run time reflects the sleep in each task")
	assert.Equal(t, 3, s.ThroughputPerMin,
		"all three runs finished inside the trailing minute")
}

func TestQueue_TimingStatsCountFailedRuns(t *testing.T) {
	q := newTestQueue(t, Config{Workers: 1, Depth: 8})

	require.NoError(t, q.Submit(&Task{
		ID:         "boom",
		MaxRetries: -1,
		Run:        func(context.Context) error { return errors.New("boom") },
	}))
	waitFor(t, func() bool { return q.Stats().Failed == 1 })

	s := q.Stats()
	assert.Equal(t, 1, s.ThroughputPerMin, "failed runs still count as finished work")
	assert.Greater(t, s.AvgExecMs, 0.0)
}

func TestQueue_StopDrainsPendingWork(t *testing.T) {
	q := New(Config{Workers: 1, Depth: 8}, testLogger())

	var done atomic.Int32
	for i := 0; i < 4; i++ {
		require.NoError(t, q.Submit(&Task{
			ID: "drain",
			Run: func(context.Context) error {
				done.Add(1)
				return nil
			},
		}))
	}
	q.Start(context.Background())
	q.Stop(2 * time.Second)

	assert.Equal(t, int32(4), done.Load())
}

func TestQueue_SubmitAfterStop(t *testing.T) {
	q := New(Config{Workers: 1, Depth: 8}, testLogger())
	q.Start(context.Background())
	q.Stop(time.Second)

	err := q.Submit(&Task{ID: "late", Run: func(context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrStopped)
}
