// Package tools implements the tool surface: the transport-neutral
// operations behind remember, recall, pin, unpin, forget, feedback, and
// stats. MCP, HTTP, and WebSocket all marshal into and out of this
// package; it owns validation, error taxonomy mapping, and the write-path
// side effects (cache invalidation, embedding enqueue, usage feedback).
package tools

import (
	"context"
	"log/slog"
	"time"

	"github.com/mnemo-ai/mnemo/internal/alerts"
	"github.com/mnemo-ai/mnemo/internal/cache"
	"github.com/mnemo-ai/mnemo/internal/config"
	"github.com/mnemo-ai/mnemo/internal/embedder"
	"github.com/mnemo-ai/mnemo/internal/memerr"
	"github.com/mnemo-ai/mnemo/internal/metrics"
	"github.com/mnemo-ai/mnemo/internal/models"
	"github.com/mnemo-ai/mnemo/internal/recall"
	"github.com/mnemo-ai/mnemo/internal/store"
	"github.com/mnemo-ai/mnemo/internal/taskqueue"
)

// Service executes tool calls. The task queue is optional: without one
// (CLI invocations) embeddings are generated synchronously on a best-effort
// basis instead of being enqueued.
type Service struct {
	store    store.Store
	embedder embedder.Embedder
	pipeline *recall.Pipeline
	queries  *cache.QueryCache
	queue    *taskqueue.Queue
	monitor  *alerts.Monitor
	cfg      *config.Config
	logger   *slog.Logger
	started  time.Time
}

// New wires the tool service. queries, queue, and monitor may be nil.
func New(st store.Store, emb embedder.Embedder, pipeline *recall.Pipeline, queries *cache.QueryCache, queue *taskqueue.Queue, monitor *alerts.Monitor, cfg *config.Config, logger *slog.Logger) *Service {
	return &Service{
		store:    st,
		embedder: emb,
		pipeline: pipeline,
		queries:  queries,
		queue:    queue,
		monitor:  monitor,
		cfg:      cfg,
		logger:   logger,
		started:  time.Now().UTC(),
	}
}

// Store exposes the underlying store for transports that report health.
func (s *Service) Store() store.Store { return s.store }

// Uptime reports how long the service has been running.
func (s *Service) Uptime() time.Duration { return time.Since(s.started) }

// VectorSearchAvailable reports whether the vector leg of recall can run.
// Goes down with the provider: a disabled embedder or an open circuit
// breaker both report unavailable.
func (s *Service) VectorSearchAvailable() bool {
	return s.embedder != nil && s.embedder.Available()
}

// ResolveAlert manually clears the active alert for a metric, recording who
// resolved it. Unavailable without a running monitor; NotFound when nothing
// is firing for the metric.
func (s *Service) ResolveAlert(metric, by string) error {
	if s.monitor == nil {
		return memerr.E("tools.ResolveAlert", memerr.ErrUnavailable, "alert monitoring is not running")
	}
	if !s.monitor.Resolve(metric, by) {
		return memerr.Ef("tools.ResolveAlert", memerr.ErrNotFound, "no active alert for metric %q", metric)
	}
	return nil
}

// invalidateQueries drops all cached recall results. Every write goes
// through here: rankings are batch-relative, so no cached entry survives a
// write intact.
func (s *Service) invalidateQueries() {
	if s.queries != nil {
		s.queries.InvalidateAll()
	}
}

// scheduleEmbedding generates the vector for a memory, asynchronously when
// a queue is running, synchronously best-effort otherwise. Failures never
// fail the write: the memory stays recallable by text and the backfill
// sweep retries later.
func (s *Service) scheduleEmbedding(mem models.Memory) bool {
	if s.embedder == nil {
		return false
	}

	work := func(ctx context.Context) error {
		return s.embedMemory(ctx, mem)
	}

	if s.queue != nil {
		err := s.queue.Submit(&taskqueue.Task{
			ID:       mem.ID,
			Kind:     taskqueue.KindEmbedding,
			Priority: taskqueue.PriorityHigh,
			Run:      work,
		})
		if err != nil {
			s.logger.Warn("embedding enqueue failed, leaving for backfill", "id", mem.ID, "error", err)
			return false
		}
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := work(ctx); err != nil {
		s.logger.Debug("synchronous embedding failed, leaving for backfill", "id", mem.ID, "error", err)
		return false
	}
	return true
}

func (s *Service) embedMemory(ctx context.Context, mem models.Memory) error {
	metrics.Inc(metrics.EmbedTotal)
	vec, err := s.embedder.Embed(ctx, mem.Content)
	if err != nil {
		metrics.Inc(metrics.EmbedFailures)
		return err
	}
	return s.store.UpsertEmbedding(ctx, models.Embedding{
		MemoryID: mem.ID,
		Vector:   vec,
		Dim:      len(vec),
		Model:    s.embedder.Model(),
	})
}

// recordViews appends a viewed event for every returned memory so usage
// counters and last-access times stay live. Runs after cache hits too; a
// served result is a view regardless of where it came from.
func (s *Service) recordViews(ctx context.Context, results []models.RecallResult) {
	now := time.Now().UTC()
	for i := range results {
		ev := models.FeedbackEvent{
			MemoryID:  results[i].Memory.ID,
			Kind:      models.FeedbackViewed,
			CreatedAt: now,
		}
		if err := s.store.AppendFeedback(ctx, ev); err != nil {
			s.logger.Debug("recording view failed", "id", ev.MemoryID, "error", err)
		}
	}
}
