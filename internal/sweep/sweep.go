// Package sweep drives the background maintenance jobs: forgetting
// sweeps, review scheduling, alert evaluation, and WAL checkpoints.
// Schedules come from configuration as cron expressions or durations.
// Firing a job only submits it to the task queue; the queue's workers
// do the actual work, so a slow sweep never blocks the cron loop.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mnemo-ai/mnemo/internal/alerts"
	"github.com/mnemo-ai/mnemo/internal/cache"
	"github.com/mnemo-ai/mnemo/internal/config"
	"github.com/mnemo-ai/mnemo/internal/forget"
	"github.com/mnemo-ai/mnemo/internal/metrics"
	"github.com/mnemo-ai/mnemo/internal/store"
	"github.com/mnemo-ai/mnemo/internal/taskqueue"
)

// Job timeouts. Sweeps walk the whole live set; alert checks are a
// counter snapshot and should never take long.
const (
	sweepTimeout = 5 * time.Minute
	alertTimeout = 30 * time.Second
)

// Sweeper owns the cron schedule for all recurring maintenance.
type Sweeper struct {
	cron    *cron.Cron
	queue   *taskqueue.Queue
	engine  *forget.Engine
	review  *forget.Scheduler
	monitor *alerts.Monitor
	store   store.Store
	queries *cache.QueryCache
	logger  *slog.Logger

	// One guard per job kind: a sweep that is still queued or running
	// is not submitted again on the next tick.
	busy map[taskqueue.Kind]*atomic.Bool

	mu      sync.Mutex
	started bool
}

// New builds a sweeper with all four jobs registered. The queue must be
// non-nil; queries and monitor may be nil to disable cache invalidation
// and alert checks respectively.
func New(st store.Store, queue *taskqueue.Queue, engine *forget.Engine, review *forget.Scheduler, monitor *alerts.Monitor, queries *cache.QueryCache, cfg config.SweepConfig, logger *slog.Logger) (*Sweeper, error) {
	s := &Sweeper{
		cron:    cron.New(),
		queue:   queue,
		engine:  engine,
		review:  review,
		monitor: monitor,
		store:   st,
		queries: queries,
		logger:  logger,
		busy: map[taskqueue.Kind]*atomic.Bool{
			taskqueue.KindForget:     {},
			taskqueue.KindReview:     {},
			taskqueue.KindAlerts:     {},
			taskqueue.KindCheckpoint: {},
		},
	}

	jobs := []struct {
		kind     taskqueue.Kind
		schedule string
		priority taskqueue.Priority
		timeout  time.Duration
		run      func(ctx context.Context) error
	}{
		{taskqueue.KindForget, cfg.ForgetSchedule, taskqueue.PriorityLow, sweepTimeout, s.runForget},
		{taskqueue.KindReview, cfg.ReviewSchedule, taskqueue.PriorityLow, sweepTimeout, s.runReview},
		{taskqueue.KindAlerts, cfg.AlertSchedule, taskqueue.PriorityNormal, alertTimeout, s.runAlerts},
		{taskqueue.KindCheckpoint, cfg.CheckpointSchedule, taskqueue.PriorityLow, sweepTimeout, s.runCheckpoint},
	}
	for _, j := range jobs {
		if j.schedule == "" {
			logger.Info("maintenance job disabled", "kind", j.kind)
			continue
		}
		if j.kind == taskqueue.KindAlerts && monitor == nil {
			continue
		}
		if err := s.addJob(j.kind, j.schedule, j.priority, j.timeout, j.run); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// addJob registers one recurring submission with the cron runner.
func (s *Sweeper) addJob(kind taskqueue.Kind, schedule string, priority taskqueue.Priority, timeout time.Duration, run func(ctx context.Context) error) error {
	sched, err := parseSchedule(schedule)
	if err != nil {
		return fmt.Errorf("sweep: job %s: invalid schedule %q: %w", kind, schedule, err)
	}
	s.cron.Schedule(sched, cron.FuncJob(func() {
		s.submit(kind, priority, timeout, run)
	}))
	s.logger.Info("maintenance job scheduled", "kind", kind, "schedule", schedule)
	return nil
}

// submit hands the job to the task queue unless the previous run is
// still in flight.
func (s *Sweeper) submit(kind taskqueue.Kind, priority taskqueue.Priority, timeout time.Duration, run func(ctx context.Context) error) {
	guard := s.busy[kind]
	if !guard.CompareAndSwap(false, true) {
		s.logger.Debug("previous sweep still running, skipping tick", "kind", kind)
		return
	}
	task := &taskqueue.Task{
		ID:       string(kind),
		Kind:     kind,
		Priority: priority,
		Timeout:  timeout,
		Run: func(ctx context.Context) error {
			defer guard.Store(false)
			return run(ctx)
		},
	}
	if err := s.queue.Submit(task); err != nil {
		guard.Store(false)
		s.logger.Warn("sweep submission rejected", "kind", kind, "error", err)
	}
}

// Start begins firing jobs on their schedules.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.cron.Start()
	s.started = true
	s.logger.Info("sweeper started", "jobs", len(s.cron.Entries()))
}

// Stop halts the schedule and waits for any job already handed to the
// cron runner to return. Work already on the task queue drains with the
// queue, not here.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	<-s.cron.Stop().Done()
	s.started = false
	s.logger.Info("sweeper stopped")
}

func (s *Sweeper) runForget(ctx context.Context) error {
	report, err := s.engine.Run(ctx, false)
	if err != nil {
		return err
	}
	if report.SoftDeleted > 0 || report.HardDeleted > 0 {
		if s.queries != nil {
			s.queries.InvalidateAll()
		}
	}
	s.logger.Info("forget sweep finished",
		"evaluated", report.Evaluated,
		"soft_deleted", report.SoftDeleted,
		"hard_deleted", report.HardDeleted,
		"deferred", report.Deferred,
		"kept", report.Kept,
		"duration", report.Finished.Sub(report.Started))
	return nil
}

func (s *Sweeper) runReview(ctx context.Context) error {
	report, err := s.review.Run(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("review sweep finished",
		"scanned", report.Scanned,
		"seeded", report.Seeded,
		"updated", report.Updated,
		"due", len(report.Due),
		"duration", report.Finished.Sub(report.Started))
	return nil
}

func (s *Sweeper) runAlerts(context.Context) error {
	fired := s.monitor.Check(metrics.Read())
	for _, a := range fired {
		if a.Level == alerts.LevelCritical {
			s.logger.Error("alert fired", "metric", a.Metric, "value", a.Value, "threshold", a.Threshold)
		} else {
			s.logger.Warn("alert fired", "metric", a.Metric, "value", a.Value, "threshold", a.Threshold)
		}
	}
	return nil
}

func (s *Sweeper) runCheckpoint(ctx context.Context) error {
	if err := s.store.Checkpoint(ctx); err != nil {
		return err
	}
	s.logger.Debug("wal checkpoint complete")
	return nil
}

// parseSchedule accepts a standard five-field cron expression, a cron
// descriptor like "@every 1h", or a plain duration like "30m".
func parseSchedule(schedule string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(schedule); err == nil {
		return sched, nil
	}
	dur, err := time.ParseDuration(schedule)
	if err != nil {
		return nil, fmt.Errorf("not a cron expression or duration: %q", schedule)
	}
	if dur <= 0 {
		return nil, fmt.Errorf("duration must be positive: %q", schedule)
	}
	return constantDelay{delay: dur}, nil
}

// constantDelay fires at a fixed interval. Unlike cron.Every it has no
// minimum granularity, which keeps sub-minute test schedules possible.
type constantDelay struct {
	delay time.Duration
}

func (d constantDelay) Next(t time.Time) time.Time {
	return t.Add(d.delay)
}
