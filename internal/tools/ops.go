package tools

import (
	"context"
	"strings"
	"time"

	"github.com/mnemo-ai/mnemo/internal/cache"
	"github.com/mnemo-ai/mnemo/internal/memerr"
	"github.com/mnemo-ai/mnemo/internal/metrics"
	"github.com/mnemo-ai/mnemo/internal/models"
	"github.com/mnemo-ai/mnemo/internal/recall"
	"github.com/mnemo-ai/mnemo/internal/textproc"
)

// fail counts a whole-call failure and passes the error through.
func (s *Service) fail(err error) error {
	metrics.Inc(metrics.ErrorsTotal)
	return err
}

// Remember validates and stores a new memory, schedules its embedding, and
// invalidates cached recall results. The memory is recallable by text as
// soon as this returns; vector recall follows once the embedding lands.
func (s *Service) Remember(ctx context.Context, p RememberParams) (*RememberResult, error) {
	const op = "tools.Remember"
	metrics.Inc(metrics.RememberTotal)

	if err := validateContent(p.Content); err != nil {
		return nil, s.fail(err)
	}
	if err := validateImportance(op, p.Importance); err != nil {
		return nil, s.fail(err)
	}
	memType, err := parseMemoryType(op, p.Type)
	if err != nil {
		return nil, s.fail(err)
	}
	if memType == "" {
		memType = models.MemoryTypeSemantic
	}
	scope, err := parsePrivacyScope(op, p.PrivacyScope)
	if err != nil {
		return nil, s.fail(err)
	}
	if scope == "" {
		scope = models.ScopePrivate
	}
	importance := memType.DefaultImportance()
	if p.Importance != nil {
		importance = *p.Importance
	}

	mem := models.Memory{
		ID:           models.NewID(),
		Type:         memType,
		Content:      strings.TrimSpace(p.Content),
		Importance:   importance,
		PrivacyScope: scope,
		Tags:         p.Tags,
		Source:       strings.TrimSpace(p.Source),
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateMemory(ctx, mem); err != nil {
		return nil, s.fail(err)
	}
	s.invalidateQueries()
	s.scheduleEmbedding(mem)

	s.logger.Info("memory stored",
		"id", mem.ID, "type", mem.Type, "importance", mem.Importance, "tags", len(mem.Tags))
	return &RememberResult{
		MemoryID:   mem.ID,
		CreatedAt:  mem.CreatedAt,
		Type:       string(mem.Type),
		Importance: mem.Importance,
	}, nil
}

// Recall runs the hybrid retrieval pipeline and returns the ranked result
// envelope. Returned memories are recorded as viewed.
func (s *Service) Recall(ctx context.Context, p RecallParams) (*RecallResponse, error) {
	const op = "tools.Recall"
	metrics.Inc(metrics.RecallTotal)

	if s.pipeline == nil {
		return nil, s.fail(memerr.E(op, memerr.ErrUnavailable, "no searcher configured"))
	}
	if err := validateQuery(p.Query); err != nil {
		return nil, s.fail(err)
	}
	if p.VectorWeight != nil && *p.VectorWeight < 0 {
		return nil, s.fail(memerr.E(op, memerr.ErrInvalid, "vector_weight must be >= 0"))
	}
	if p.TextWeight != nil && *p.TextWeight < 0 {
		return nil, s.fail(memerr.E(op, memerr.ErrInvalid, "text_weight must be >= 0"))
	}

	filters := p.effectiveFilters()
	sf, err := storeFilters(op, filters)
	if err != nil {
		return nil, s.fail(err)
	}
	limit := clampLimit(p.Limit, s.cfg.Search.DefaultLimit, s.cfg.Search.MaxLimit)

	q := recall.Query{Text: p.Query, Filters: sf, Limit: limit}
	if p.VectorWeight != nil {
		q.VectorWeight = *p.VectorWeight
	}
	if p.TextWeight != nil {
		q.TextWeight = *p.TextWeight
	}
	hybrid := p.EnableHybrid == nil || *p.EnableHybrid
	q.DisableVector = !hybrid

	started := time.Now()
	results, err := s.pipeline.Recall(ctx, q)
	if err != nil {
		return nil, s.fail(err)
	}
	elapsed := time.Since(started)

	s.recordViews(ctx, results)

	includeMeta := p.IncludeMetadata == nil || *p.IncludeMetadata
	items := make([]RecallItem, 0, len(results))
	for i := range results {
		items = append(items, toRecallItem(&results[i], includeMeta))
	}

	vw, tw := s.cfg.Search.VectorWeight, s.cfg.Search.TextWeight
	if q.VectorWeight+q.TextWeight > 0 {
		vw, tw = q.VectorWeight, q.TextWeight
	}
	// Echo the weights the pipeline actually used.
	if sum := vw + tw; sum > 0 {
		vw, tw = vw/sum, tw/sum
	}
	return &RecallResponse{
		Items:          items,
		TotalCount:     len(items),
		QueryTime:      elapsed.Round(10 * time.Microsecond).String(),
		SearchType:     searchType(p.Query, results),
		FiltersApplied: filters,
		SearchOptions: SearchOptions{
			Limit:         limit,
			VectorWeight:  vw,
			TextWeight:    tw,
			HybridSearch:  hybrid,
			MinSimilarity: s.cfg.Search.MinSimilarity,
		},
	}, nil
}

// searchType classifies how the result set was produced: "recent" for an
// empty query, "hybrid" when the vector leg contributed, "text" otherwise.
func searchType(query string, results []models.RecallResult) string {
	if textproc.Normalize(query) == "" {
		return "recent"
	}
	for i := range results {
		if results[i].VectorScore > 0 {
			return "hybrid"
		}
	}
	return "text"
}

func toRecallItem(r *models.RecallResult, includeMeta bool) RecallItem {
	m := &r.Memory
	item := RecallItem{
		ID:           m.ID,
		Type:         string(m.Type),
		Content:      m.Content,
		Importance:   m.Importance,
		Tags:         m.Tags,
		Pinned:       m.Pinned,
		CreatedAt:    m.CreatedAt,
		Score:        r.FinalScore,
		RecallReason: r.RecallReason,
	}
	if includeMeta {
		item.Metadata = &RecallItemMetadata{
			TextScore:    r.TextScore,
			VectorScore:  r.VectorScore,
			Relevance:    r.Relevance,
			Recency:      r.Recency,
			Usage:        r.Usage,
			DupPenalty:   r.DupPenalty,
			PrivacyScope: string(m.PrivacyScope),
			Source:       m.Source,
			ViewCount:    m.ViewCount,
			CiteCount:    m.CiteCount,
			EditCount:    m.EditCount,
			LastAccessed: m.LastAccessed,
		}
	}
	return item
}

// Pin marks the target memories as pinned: protected from hard delete and
// down-weighted by the forgetting sweep. Already-pinned targets succeed.
func (s *Service) Pin(ctx context.Context, p PinParams) (*PinResponse, error) {
	metrics.Inc(metrics.PinTotal)
	resp, err := s.setPinned(ctx, "tools.Pin", p, true)
	if err != nil {
		return nil, s.fail(err)
	}
	return resp, nil
}

// Unpin clears the pin flag. Unpinning a memory with importance above
// ConfirmImportance requires confirm=true; without it the per-id outcome
// is a conflict.
func (s *Service) Unpin(ctx context.Context, p PinParams) (*PinResponse, error) {
	metrics.Inc(metrics.UnpinTotal)
	resp, err := s.setPinned(ctx, "tools.Unpin", p, false)
	if err != nil {
		return nil, s.fail(err)
	}
	return resp, nil
}

func (s *Service) setPinned(ctx context.Context, op string, p PinParams, pinned bool) (*PinResponse, error) {
	ids := p.ids()
	if len(ids) == 0 {
		return nil, memerr.E(op, memerr.ErrInvalid, "id or batch is required")
	}
	if len(ids) > MaxBatchIDs {
		return nil, memerr.Ef(op, memerr.ErrInvalid, "batch of %d ids exceeds limit %d", len(ids), MaxBatchIDs)
	}

	resp := &PinResponse{
		Requested: len(ids),
		Reason:    strings.TrimSpace(p.Reason),
		Results:   make([]PinOutcome, 0, len(ids)),
	}
	for _, id := range ids {
		outcome := s.setPinnedOne(ctx, op, id, pinned, p.Confirm)
		if outcome.Success {
			resp.Succeeded++
		}
		resp.Results = append(resp.Results, outcome)
	}
	s.invalidateQueries()

	s.logger.Info("pin state changed",
		"pinned", pinned, "requested", resp.Requested, "succeeded", resp.Succeeded)
	return resp, nil
}

// setPinnedOne applies one pin/unpin. Per-id failures are reported in the
// outcome, not as a call failure, so one bad id never sinks a batch.
func (s *Service) setPinnedOne(ctx context.Context, op, id string, pinned, confirm bool) PinOutcome {
	mem, err := s.store.GetMemory(ctx, id)
	if err != nil {
		return failedOutcome(id, err)
	}
	if !mem.Live() {
		return failedOutcome(id, memerr.Ef(op, memerr.ErrNotFound, "memory %s is deleted", id))
	}
	if !pinned && mem.Pinned && mem.Importance > ConfirmImportance && !confirm {
		return failedOutcome(id, memerr.Ef(op, memerr.ErrConflict,
			"memory %s has importance %.2f; unpinning requires confirm=true", id, mem.Importance))
	}
	if mem.Pinned == pinned {
		return PinOutcome{ID: id, Success: true}
	}
	if err := s.store.SetPinned(ctx, id, pinned); err != nil {
		return failedOutcome(id, err)
	}

	kind := models.FeedbackPinned
	if !pinned {
		kind = models.FeedbackUnpinned
	}
	ev := models.FeedbackEvent{MemoryID: id, Kind: kind, CreatedAt: time.Now().UTC()}
	if err := s.store.AppendFeedback(ctx, ev); err != nil {
		s.logger.Debug("pin audit event failed", "id", id, "error", err)
	}
	return PinOutcome{ID: id, Success: true}
}

func failedOutcome(id string, err error) PinOutcome {
	return PinOutcome{
		ID:      id,
		Success: false,
		Error:   memerr.UserMessage(err),
		Code:    string(memerr.CodeOf(err)),
	}
}

// Forget soft-deletes a memory, or purges it and all dependent rows when
// hard is set. Pinned memories are refused; repeating a soft delete is a
// no-op, repeating a hard delete reports the row as gone.
func (s *Service) Forget(ctx context.Context, p ForgetParams) (*ForgetResponse, error) {
	const op = "tools.Forget"
	metrics.Inc(metrics.ForgetTotal)

	id := strings.TrimSpace(p.ID)
	if id == "" {
		return nil, s.fail(memerr.E(op, memerr.ErrInvalid, "id is required"))
	}
	mem, err := s.store.GetMemory(ctx, id)
	if err != nil {
		return nil, s.fail(err)
	}
	if mem.Pinned {
		return nil, s.fail(memerr.Ef(op, memerr.ErrConflict,
			"memory %s is pinned; unpin it before forgetting", id))
	}

	status := "soft_deleted"
	if p.Hard {
		status = "hard_deleted"
		err = s.store.HardDeleteMemory(ctx, id)
	} else {
		err = s.store.SoftDeleteMemory(ctx, id)
	}
	if err != nil {
		return nil, s.fail(err)
	}
	s.invalidateQueries()

	s.logger.Info("memory forgotten", "id", id, "hard", p.Hard)
	return &ForgetResponse{MemoryID: id, Status: status}, nil
}

// Feedback appends quality signals for a memory. Helpful feedback also
// counts as a citation so the usage score reflects it.
func (s *Service) Feedback(ctx context.Context, p FeedbackParams) (*FeedbackResponse, error) {
	const op = "tools.Feedback"
	metrics.Inc(metrics.FeedbackTotal)

	id := strings.TrimSpace(p.MemoryID)
	if id == "" {
		return nil, s.fail(memerr.E(op, memerr.ErrInvalid, "memory_id is required"))
	}
	if p.Score != nil && (*p.Score < 0 || *p.Score > 1) {
		return nil, s.fail(memerr.Ef(op, memerr.ErrInvalid, "score %.3f is outside [0,1]", *p.Score))
	}
	mem, err := s.store.GetMemory(ctx, id)
	if err != nil {
		return nil, s.fail(err)
	}
	if !mem.Live() {
		return nil, s.fail(memerr.Ef(op, memerr.ErrNotFound, "memory %s is deleted", id))
	}

	var score float64
	if p.Score != nil {
		score = *p.Score
	}
	kinds := []models.FeedbackKind{models.FeedbackNotHelpful}
	if p.Helpful {
		kinds = []models.FeedbackKind{models.FeedbackHelpful, models.FeedbackCited}
	}
	now := time.Now().UTC()
	recorded := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		ev := models.FeedbackEvent{MemoryID: id, Kind: kind, Score: score, CreatedAt: now}
		if err := s.store.AppendFeedback(ctx, ev); err != nil {
			return nil, s.fail(err)
		}
		recorded = append(recorded, string(kind))
	}
	s.invalidateQueries()

	s.logger.Debug("feedback recorded", "id", id, "helpful", p.Helpful, "kinds", recorded)
	return &FeedbackResponse{MemoryID: id, Helpful: p.Helpful, Recorded: recorded}, nil
}

// Stats reports store, cache, queue, and tool-call statistics.
func (s *Service) Stats(ctx context.Context) (*StatsResponse, error) {
	st, err := s.store.Stats(ctx)
	if err != nil {
		return nil, s.fail(err)
	}
	snap := metrics.Read()
	resp := &StatsResponse{
		Store: st,
		Tools: ToolCounters{
			Remember: snap.RememberTotal,
			Recall:   snap.RecallTotal,
			Pin:      snap.PinTotal,
			Unpin:    snap.UnpinTotal,
			Forget:   snap.ForgetTotal,
			Feedback: snap.FeedbackTotal,
			Errors:   snap.ErrorsTotal,
		},
		Cache: CacheStats{
			Hits:        snap.CacheHits,
			Misses:      snap.CacheMisses,
			PatternHits: snap.CachePatternHits,
		},
		RecallLatencyMs: snap.RecallLatencyMs,
		UptimeSeconds:   s.Uptime().Seconds(),
	}
	if s.queries != nil {
		resp.Cache.QueryEntries = s.queries.Len()
	}
	if ec, ok := s.embedder.(*cache.EmbedderCache); ok {
		resp.Cache.EmbeddingEntries = ec.Len()
	}
	if s.embedder != nil {
		resp.Embedder = &EmbedderInfo{
			Model:     s.embedder.Model(),
			Dimension: s.embedder.Dimension(),
			MaxTokens: s.embedder.MaxTokens(),
			Available: s.embedder.Available(),
		}
	}
	if s.queue != nil {
		qs := s.queue.Stats()
		resp.Queue = &qs
	}
	if s.monitor != nil {
		resp.ActiveAlerts = s.monitor.Active()
	}
	return resp, nil
}

// UpdateParams carries a partial rewrite of one memory. nil fields are
// left untouched; TagsSet distinguishes "clear tags" from "keep tags".
type UpdateParams struct {
	ID           string
	Content      *string
	Type         *string
	Importance   *float64
	Tags         []string
	TagsSet      bool
	Source       *string
	PrivacyScope *string
}

// Update rewrites fields of a live memory, records an edited event, and
// schedules re-embedding when the content changed. Management surface,
// not part of the agent tool catalog.
func (s *Service) Update(ctx context.Context, p UpdateParams) (*models.Memory, error) {
	const op = "tools.Update"

	id := strings.TrimSpace(p.ID)
	if id == "" {
		return nil, s.fail(memerr.E(op, memerr.ErrInvalid, "id is required"))
	}
	mem, err := s.store.GetMemory(ctx, id)
	if err != nil {
		return nil, s.fail(err)
	}
	if !mem.Live() {
		return nil, s.fail(memerr.Ef(op, memerr.ErrNotFound, "memory %s is deleted", id))
	}

	contentChanged := false
	if p.Content != nil {
		if err := validateContent(*p.Content); err != nil {
			return nil, s.fail(err)
		}
		trimmed := strings.TrimSpace(*p.Content)
		contentChanged = trimmed != mem.Content
		mem.Content = trimmed
	}
	if p.Type != nil {
		mt, err := parseMemoryType(op, *p.Type)
		if err != nil {
			return nil, s.fail(err)
		}
		if mt != "" {
			mem.Type = mt
		}
	}
	if err := validateImportance(op, p.Importance); err != nil {
		return nil, s.fail(err)
	}
	if p.Importance != nil {
		mem.Importance = *p.Importance
	}
	if p.PrivacyScope != nil {
		ps, err := parsePrivacyScope(op, *p.PrivacyScope)
		if err != nil {
			return nil, s.fail(err)
		}
		if ps != "" {
			mem.PrivacyScope = ps
		}
	}
	if p.TagsSet {
		mem.Tags = p.Tags
	}
	if p.Source != nil {
		mem.Source = strings.TrimSpace(*p.Source)
	}

	if err := s.store.UpdateMemory(ctx, *mem); err != nil {
		return nil, s.fail(err)
	}
	ev := models.FeedbackEvent{MemoryID: id, Kind: models.FeedbackEdited, CreatedAt: time.Now().UTC()}
	if err := s.store.AppendFeedback(ctx, ev); err != nil {
		s.logger.Debug("edit audit event failed", "id", id, "error", err)
	}
	s.invalidateQueries()
	if contentChanged {
		s.scheduleEmbedding(*mem)
	}

	s.logger.Info("memory updated", "id", id, "content_changed", contentChanged)
	return s.store.GetMemory(ctx, id)
}
