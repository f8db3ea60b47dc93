// Package taskqueue runs background work on a fixed worker pool with four
// priority lanes. Higher lanes are always drained first; a full lane
// rejects instead of blocking the caller.
package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Priority selects the lane a task is queued on.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
	numPriorities
)

// String returns the lane name.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Kind labels what a task does, for logs and stats.
type Kind string

const (
	KindEmbedding  Kind = "embedding"
	KindForget     Kind = "forget"
	KindReview     Kind = "review"
	KindCheckpoint Kind = "checkpoint"
	KindAlerts     Kind = "alerts"
)

// Task is one unit of background work.
type Task struct {
	ID         string
	Kind       Kind
	Priority   Priority
	Timeout    time.Duration // 0 = queue default
	MaxRetries int           // -1 = never retry, 0 = queue default

	Run func(ctx context.Context) error

	attempts int
}

// Submission and lifecycle errors.
var (
	ErrQueueFull = errors.New("task queue lane full")
	ErrStopped   = errors.New("task queue stopped")
	ErrNilTask   = errors.New("task has no run function")
)

// Config sizes the queue.
type Config struct {
	Workers        int
	Depth          int // per-lane buffer
	DefaultTimeout time.Duration
	MaxRetries     int
}

// Stats is a point-in-time snapshot of queue counters. AvgExecMs averages
// every finished run, retries included; ThroughputPerMin counts tasks that
// finished inside the trailing minute.
type Stats struct {
	Submitted        int64   `json:"submitted"`
	Completed        int64   `json:"completed"`
	Failed           int64   `json:"failed"`
	Retried          int64   `json:"retried"`
	Dropped          int64   `json:"dropped"`
	InFlight         int64   `json:"in_flight"`
	Depth            int     `json:"depth"`
	AvgExecMs        float64 `json:"avg_exec_ms"`
	ThroughputPerMin int     `json:"throughput_per_min"`
}

// Queue is the worker pool. Create with New, then Start, then Submit.
type Queue struct {
	lanes [numPriorities]chan *Task
	cfg   Config

	ctx    context.Context
	cancel context.CancelFunc
	quit   chan struct{}
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	retried   atomic.Int64
	dropped   atomic.Int64
	inFlight  atomic.Int64
	execNanos atomic.Int64
	execCount atomic.Int64

	doneMu sync.Mutex
	doneAt []time.Time // completion times inside the trailing minute

	logger *slog.Logger
}

// New creates a queue. Zero config fields get working defaults.
func New(cfg Config, logger *slog.Logger) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.Depth <= 0 {
		cfg.Depth = 256
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	q := &Queue{
		cfg:    cfg,
		quit:   make(chan struct{}),
		logger: logger,
	}
	for i := range q.lanes {
		q.lanes[i] = make(chan *Task, cfg.Depth)
	}
	return q
}

// Start launches the workers. Task contexts derive from ctx.
func (q *Queue) Start(ctx context.Context) {
	q.startOnce.Do(func() {
		q.ctx, q.cancel = context.WithCancel(ctx)
		for i := 0; i < q.cfg.Workers; i++ {
			q.wg.Add(1)
			go q.worker(i)
		}
		q.logger.Debug("task queue started", "workers", q.cfg.Workers, "lane_depth", q.cfg.Depth)
	})
}

// Submit enqueues the task on its priority lane without blocking.
func (q *Queue) Submit(t *Task) error {
	if t == nil || t.Run == nil {
		return ErrNilTask
	}
	select {
	case <-q.quit:
		return ErrStopped
	default:
	}
	if t.Priority < PriorityLow || t.Priority >= numPriorities {
		t.Priority = PriorityNormal
	}

	select {
	case q.lanes[t.Priority] <- t:
		q.submitted.Add(1)
		return nil
	default:
		q.dropped.Add(1)
		return fmt.Errorf("%w: %s", ErrQueueFull, t.Priority)
	}
}

// Stop refuses new work, lets the workers drain for at most drainTimeout,
// then cancels whatever is still running. Safe to call more than once.
func (q *Queue) Stop(drainTimeout time.Duration) {
	q.stopOnce.Do(func() {
		close(q.quit)

		done := make(chan struct{})
		go func() {
			q.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(drainTimeout):
			q.logger.Warn("task queue drain timed out, cancelling in-flight tasks",
				"in_flight", q.inFlight.Load(), "depth", q.depth())
		}
		if q.cancel != nil {
			q.cancel()
		}
		<-done
		q.logger.Debug("task queue stopped", "completed", q.completed.Load(), "failed", q.failed.Load())
	})
}

// Stats returns a counter snapshot.
func (q *Queue) Stats() Stats {
	s := Stats{
		Submitted:        q.submitted.Load(),
		Completed:        q.completed.Load(),
		Failed:           q.failed.Load(),
		Retried:          q.retried.Load(),
		Dropped:          q.dropped.Load(),
		InFlight:         q.inFlight.Load(),
		Depth:            q.depth(),
		ThroughputPerMin: q.recentFinishes(time.Now()),
	}
	if n := q.execCount.Load(); n > 0 {
		s.AvgExecMs = float64(q.execNanos.Load()) / float64(n) / 1e6
	}
	return s
}

// recordRun folds one finished run (any outcome) into the timing stats.
func (q *Queue) recordRun(elapsed time.Duration, finished time.Time) {
	q.execNanos.Add(int64(elapsed))
	q.execCount.Add(1)

	q.doneMu.Lock()
	q.doneAt = append(q.doneAt, finished)
	q.pruneDoneLocked(finished)
	q.doneMu.Unlock()
}

// recentFinishes counts runs that finished inside the trailing minute.
func (q *Queue) recentFinishes(now time.Time) int {
	q.doneMu.Lock()
	defer q.doneMu.Unlock()
	q.pruneDoneLocked(now)
	return len(q.doneAt)
}

func (q *Queue) pruneDoneLocked(now time.Time) {
	cutoff := now.Add(-time.Minute)
	i := 0
	for i < len(q.doneAt) && !q.doneAt[i].After(cutoff) {
		i++
	}
	if i > 0 {
		q.doneAt = append(q.doneAt[:0], q.doneAt[i:]...)
	}
}

func (q *Queue) depth() int {
	n := 0
	for i := range q.lanes {
		n += len(q.lanes[i])
	}
	return n
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()
	idle := 10 * time.Millisecond

	for {
		task := q.next()
		if task == nil {
			select {
			case <-q.quit:
				// Drain: exit only once every lane is empty.
				if q.depth() == 0 {
					return
				}
			case <-q.ctx.Done():
				return
			case <-time.After(idle):
			}
			continue
		}
		q.execute(id, task)
	}
}

// next takes the highest-priority waiting task without blocking.
func (q *Queue) next() *Task {
	for p := numPriorities - 1; p >= 0; p-- {
		select {
		case t := <-q.lanes[p]:
			return t
		default:
		}
	}
	return nil
}

func (q *Queue) execute(worker int, t *Task) {
	q.inFlight.Add(1)
	defer q.inFlight.Add(-1)

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = q.cfg.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(q.ctx, timeout)
	defer cancel()

	start := time.Now()
	err := t.Run(ctx)
	q.recordRun(time.Since(start), time.Now())
	if err == nil {
		q.completed.Add(1)
		q.logger.Debug("task complete", "worker", worker, "kind", t.Kind, "id", t.ID, "elapsed", time.Since(start))
		return
	}

	retries := t.MaxRetries
	switch {
	case retries < 0:
		retries = 0
	case retries == 0:
		retries = q.cfg.MaxRetries
	}
	if errors.Is(err, context.DeadlineExceeded) {
		// A task that ran out its deadline will run it out again.
		retries = 0
	}

	t.attempts++
	if t.attempts <= retries {
		q.retried.Add(1)
		q.logger.Warn("task failed, retrying", "kind", t.Kind, "id", t.ID, "attempt", t.attempts, "error", err)
		select {
		case q.lanes[t.Priority] <- t:
			return
		default:
			// Lane filled up while the task was running; give up on it.
		}
	}

	q.failed.Add(1)
	q.logger.Error("task failed", "kind", t.Kind, "id", t.ID, "attempts", t.attempts, "error", err)
}
