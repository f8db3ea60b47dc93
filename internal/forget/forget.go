// Package forget implements retention: a scoring sweep that soft-deletes
// decayed memories, escalates old soft-deletions to hard deletions, and a
// spaced-repetition scheduler that projects when a memory should be
// resurfaced.
package forget

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/mnemo-ai/mnemo/internal/config"
	"github.com/mnemo-ai/mnemo/internal/memerr"
	"github.com/mnemo-ai/mnemo/internal/metrics"
	"github.com/mnemo-ai/mnemo/internal/models"
	"github.com/mnemo-ai/mnemo/internal/store"
)

// Forget score weights. Recency, usage, and duplication push a memory out;
// importance and pinning hold it in.
const (
	weightRecency     = 0.35
	weightUsage       = 0.25
	weightDuplication = 0.20
	weightImportance  = 0.15
	weightPinned      = 0.30
)

// Feature thresholds for reason derivation.
const (
	agedRecencyBelow  = 0.35
	unusedUsageBelow  = 0.25
	duplicateRatioMin = 0.5
	lowImportanceMax  = 0.2
)

// Action is the engine's verdict for one memory.
type Action string

const (
	ActionKeep       Action = "keep"
	ActionSoftDelete Action = "soft_delete"
	ActionHardDelete Action = "hard_delete"
	ActionDefer      Action = "deferred"
)

// Features are the per-memory inputs to the forget score.
type Features struct {
	Recency     float64 `json:"recency"`
	Usage       float64 `json:"usage"`
	Duplication float64 `json:"duplication"`
	Importance  float64 `json:"importance"`
	Pinned      bool    `json:"pinned"`
	AgeHours    float64 `json:"age_hours"`
}

// Decision is one non-keep verdict, with the features that drove it.
type Decision struct {
	MemoryID string   `json:"memory_id"`
	Action   Action   `json:"action"`
	Score    float64  `json:"score"`
	Reasons  []string `json:"reasons"`
	Features Features `json:"features"`
}

// Report summarizes one sweep.
type Report struct {
	Evaluated   int        `json:"evaluated"`
	SoftDeleted int        `json:"soft_deleted"`
	HardDeleted int        `json:"hard_deleted"`
	Deferred    int        `json:"deferred"`
	Kept        int        `json:"kept"`
	Capped      bool       `json:"capped"`
	DryRun      bool       `json:"dry_run"`
	Decisions   []Decision `json:"decisions,omitempty"`
	Started     time.Time  `json:"started"`
	Finished    time.Time  `json:"finished"`
}

// Engine runs retention sweeps. Deletion happens in two phases across
// runs: a live memory that qualifies is soft-deleted first, and only a
// later sweep escalates the soft-deleted row to a hard delete. Nothing
// ever goes from live to gone in one tick.
type Engine struct {
	store  store.Store
	cfg    config.ForgetConfig
	logger *slog.Logger
}

// NewEngine creates a retention engine.
func NewEngine(st store.Store, cfg config.ForgetConfig, logger *slog.Logger) *Engine {
	return &Engine{store: st, cfg: cfg, logger: logger}
}

// Run evaluates every memory and applies the per-run capped deletions.
// With dryRun the report carries the decisions but nothing is written.
func (e *Engine) Run(ctx context.Context, dryRun bool) (*Report, error) {
	report := &Report{DryRun: dryRun, Started: time.Now().UTC()}

	all, err := e.store.ListMemories(ctx, store.Filters{IncludeDeleted: true})
	if err != nil {
		return nil, memerr.Wrap("forget.Run", err)
	}
	report.Evaluated = len(all)
	now := report.Started

	// Batch context: same-type share for the duplication ratio, counter
	// min-max for the usage norm. Soft-deleted rows are included so the
	// two phases score against the same baseline.
	typeCounts := make(map[models.MemoryType]int, 4)
	for i := range all {
		typeCounts[all[i].Type]++
	}
	counterNorm := normalizeCounters(all)

	actions := 0
	for i := range all {
		m := &all[i]
		if m.Pinned {
			report.Kept++
			continue
		}

		feats := e.features(m, now, typeCounts, len(all), counterNorm[m.ID])
		score := Score(feats)
		ttl := e.ttlFor(m.Type)
		age := now.Sub(m.AccessedAt())

		var action Action
		var reasons []string
		switch {
		case m.DeletedAt == nil:
			if e.qualifiesSoft(score, age, ttl) {
				action = ActionSoftDelete
				reasons = reasonsFor(feats, ttl > 0 && age > ttl)
			}
		default:
			if e.qualifiesHard(score, age, ttl) {
				action = ActionHardDelete
				reasons = append(reasonsFor(feats, ttl > 0 && age > 2*ttl), "unpinned")
			}
		}
		if action == "" {
			report.Kept++
			continue
		}

		if actions >= e.cfg.MaxPerRun {
			report.Capped = true
			report.Kept++
			continue
		}

		if action == ActionHardDelete {
			if deferred, err := e.inFeedbackCooldown(ctx, m.ID, now); err != nil {
				e.logger.Warn("forget: cooldown check failed, keeping", "id", m.ID, "error", err)
				report.Kept++
				continue
			} else if deferred {
				action = ActionDefer
				reasons = []string{"recent feedback"}
			}
		}

		decision := Decision{
			MemoryID: m.ID,
			Action:   action,
			Score:    score,
			Reasons:  reasons,
			Features: feats,
		}

		if !dryRun {
			if err := e.apply(ctx, m.ID, action); err != nil {
				e.logger.Error("forget: applying decision failed", "id", m.ID, "action", action, "error", err)
				report.Kept++
				continue
			}
		}

		switch action {
		case ActionSoftDelete:
			report.SoftDeleted++
			actions++
		case ActionHardDelete:
			report.HardDeleted++
			actions++
		case ActionDefer:
			report.Deferred++
		}
		report.Decisions = append(report.Decisions, decision)
	}

	report.Finished = time.Now().UTC()
	e.logger.Info("forget sweep complete",
		"evaluated", report.Evaluated,
		"soft_deleted", report.SoftDeleted,
		"hard_deleted", report.HardDeleted,
		"deferred", report.Deferred,
		"capped", report.Capped,
		"dry_run", dryRun)
	return report, nil
}

// Score computes the forget score from the features.
func Score(f Features) float64 {
	score := weightRecency*(1-f.Recency) +
		weightUsage*(1-f.Usage) +
		weightDuplication*f.Duplication -
		weightImportance*f.Importance
	if f.Pinned {
		score -= weightPinned
	}
	return score
}

func (e *Engine) qualifiesSoft(score float64, age, ttl time.Duration) bool {
	if score >= e.cfg.SoftThreshold {
		return true
	}
	return ttl > 0 && age > ttl
}

// qualifiesHard gates escalation of an already soft-deleted row. The hard
// TTL is twice the soft TTL.
func (e *Engine) qualifiesHard(score float64, age, ttl time.Duration) bool {
	if score >= e.cfg.HardThreshold {
		return true
	}
	return ttl > 0 && age > 2*ttl
}

func (e *Engine) apply(ctx context.Context, id string, action Action) error {
	switch action {
	case ActionSoftDelete:
		if err := e.store.SoftDeleteMemory(ctx, id); err != nil {
			return err
		}
		metrics.Inc(metrics.SweepSoftDeletes)
	case ActionHardDelete:
		if err := e.store.HardDeleteMemory(ctx, id); err != nil {
			return err
		}
		metrics.Inc(metrics.SweepHardDeletes)
	}
	return nil
}

// inFeedbackCooldown reports whether the memory received feedback recently
// enough that hard deletion should wait for the next sweep.
func (e *Engine) inFeedbackCooldown(ctx context.Context, id string, now time.Time) (bool, error) {
	if e.cfg.FeedbackCooldownHours <= 0 {
		return false, nil
	}
	latest, err := e.store.LatestFeedbackAt(ctx, id)
	if err != nil {
		return false, err
	}
	if latest == nil {
		return false, nil
	}
	cooldown := time.Duration(e.cfg.FeedbackCooldownHours) * time.Hour
	return now.Sub(*latest) < cooldown, nil
}

// features assembles the scoring inputs for one memory.
func (e *Engine) features(m *models.Memory, now time.Time, typeCounts map[models.MemoryType]int, total int, counterNorm float64) Features {
	ageHours := now.Sub(m.AccessedAt()).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	recency := recencyDecay(ageHours, m.Type)

	dup := 0.0
	if total > 0 {
		dup = float64(typeCounts[m.Type]) / float64(total)
	}

	return Features{
		Recency:     recency,
		Usage:       0.5*counterNorm + 0.5*recency,
		Duplication: dup,
		Importance:  models.ClampUnit(m.Importance),
		Pinned:      m.Pinned,
		AgeHours:    ageHours,
	}
}

// recencyDecay is the exponential half-life decay used by both recall and
// retention.
func recencyDecay(ageHours float64, t models.MemoryType) float64 {
	halfLife := t.HalfLife().Hours()
	if halfLife <= 0 {
		return 0
	}
	return math.Exp(-0.693 * ageHours / halfLife)
}

func (e *Engine) ttlFor(t models.MemoryType) time.Duration {
	hours := e.cfg.TTLHoursFor(string(t))
	if hours < 0 {
		return 0
	}
	return time.Duration(hours) * time.Hour
}

// normalizeCounters min-maxes the raw counter score across the batch.
func normalizeCounters(all []models.Memory) map[string]float64 {
	out := make(map[string]float64, len(all))
	if len(all) == 0 {
		return out
	}
	minV, maxV := all[0].UsageRaw(), all[0].UsageRaw()
	for i := range all[1:] {
		raw := all[i+1].UsageRaw()
		if raw < minV {
			minV = raw
		}
		if raw > maxV {
			maxV = raw
		}
	}
	span := maxV - minV
	for i := range all {
		if span <= 0 {
			out[all[i].ID] = 0
			continue
		}
		out[all[i].ID] = (all[i].UsageRaw() - minV) / span
	}
	return out
}

// reasonsFor maps crossed feature thresholds onto the reason vocabulary.
func reasonsFor(f Features, ttlBreached bool) []string {
	var rs []string
	if ttlBreached || f.Recency < agedRecencyBelow {
		rs = append(rs, "aged")
	}
	if f.Usage < unusedUsageBelow {
		rs = append(rs, "unused")
	}
	if f.Duplication >= duplicateRatioMin {
		rs = append(rs, "duplicate")
	}
	if f.Importance <= lowImportanceMax {
		rs = append(rs, "low importance")
	}
	if len(rs) == 0 {
		rs = append(rs, "unused")
	}
	return rs
}
