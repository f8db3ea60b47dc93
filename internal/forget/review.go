package forget

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/mnemo-ai/mnemo/internal/config"
	"github.com/mnemo-ai/mnemo/internal/memerr"
	"github.com/mnemo-ai/mnemo/internal/metrics"
	"github.com/mnemo-ai/mnemo/internal/models"
	"github.com/mnemo-ai/mnemo/internal/store"
)

// Interval growth weights: importance and usage stretch the review
// interval, helpful feedback stretches it further, bad feedback shrinks it.
const (
	intervalImportanceGain = 0.6
	intervalUsageGain      = 0.4
	intervalHelpfulGain    = 0.5
	intervalBadPenalty     = 0.7
)

// ReviewReport summarizes one scheduler pass.
type ReviewReport struct {
	Scanned  int       `json:"scanned"`
	Seeded   int       `json:"seeded"`
	Updated  int       `json:"updated"`
	Due      []string  `json:"due,omitempty"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
}

// Scheduler maintains spaced-repetition review intervals for accessed,
// non-pinned memories. It writes schedules and probabilities; it never
// deletes anything.
type Scheduler struct {
	store  store.Store
	cfg    config.ReviewConfig
	logger *slog.Logger
}

// NewScheduler creates a review scheduler.
func NewScheduler(st store.Store, cfg config.ReviewConfig, logger *slog.Logger) *Scheduler {
	return &Scheduler{store: st, cfg: cfg, logger: logger}
}

// Run updates the review schedule for every live, non-pinned memory that
// has been accessed at least once. A memory without a schedule is seeded
// at the minimum interval. A due schedule grows or shrinks by importance,
// usage, and the feedback received since the last review; an undue one
// just gets its recall probability refreshed.
func (s *Scheduler) Run(ctx context.Context) (*ReviewReport, error) {
	report := &ReviewReport{Started: time.Now().UTC()}
	now := report.Started

	unpinned := false
	live, err := s.store.ListMemories(ctx, store.Filters{Pinned: &unpinned})
	if err != nil {
		return nil, memerr.Wrap("review.Run", err)
	}
	counterNorm := normalizeCounters(live)

	for i := range live {
		m := &live[i]
		if m.ViewCount == 0 && m.LastAccessed == nil {
			continue
		}
		report.Scanned++

		rs, err := s.store.GetReview(ctx, m.ID)
		switch {
		case errors.Is(err, memerr.ErrNotFound):
			rs = s.seed(m.ID, now)
			report.Seeded++
		case err != nil:
			s.logger.Warn("review: reading schedule failed", "id", m.ID, "error", err)
			continue
		case !now.Before(rs.NextReview):
			helpful, bad, err := s.store.FeedbackTallies(ctx, m.ID, rs.LastReview)
			if err != nil {
				s.logger.Warn("review: tallying feedback failed", "id", m.ID, "error", err)
				continue
			}
			next := NextInterval(rs.IntervalDays, models.ClampUnit(m.Importance), counterNorm[m.ID],
				helpful, bad, s.cfg.MinIntervalDays, s.cfg.MaxIntervalDays)
			rs.IntervalDays = next
			rs.LastReview = now
			rs.NextReview = now.AddDate(0, 0, next)
			rs.RecallProbability = 1.0
		default:
			rs.RecallProbability = RecallProbability(now.Sub(rs.LastReview), rs.IntervalDays)
		}

		if err := s.store.UpsertReview(ctx, *rs); err != nil {
			s.logger.Warn("review: writing schedule failed", "id", m.ID, "error", err)
			continue
		}
		metrics.Inc(metrics.ReviewsUpdated)
		report.Updated++

		if NeedsReview(rs.RecallProbability, s.cfg.NeedsReviewBelow) {
			report.Due = append(report.Due, m.ID)
		}
	}

	report.Finished = time.Now().UTC()
	s.logger.Info("review pass complete",
		"scanned", report.Scanned, "seeded", report.Seeded,
		"updated", report.Updated, "due", len(report.Due))
	return report, nil
}

func (s *Scheduler) seed(memoryID string, now time.Time) *models.ReviewSchedule {
	interval := s.cfg.MinIntervalDays
	if interval <= 0 {
		interval = 1
	}
	return &models.ReviewSchedule{
		MemoryID:          memoryID,
		IntervalDays:      interval,
		LastReview:        now,
		NextReview:        now.AddDate(0, 0, interval),
		RecallProbability: 1.0,
	}
}

// NextInterval grows or shrinks the review interval:
//
//	next = ceil(current · (1 + 0.6·importance + 0.4·usage + 0.5·helpful − 0.7·bad))
//
// clamped to [minDays, maxDays]. helpful and bad are event counts since the
// last review.
func NextInterval(current int, importance, usage float64, helpful, bad int64, minDays, maxDays int) int {
	if minDays <= 0 {
		minDays = 1
	}
	if maxDays < minDays {
		maxDays = minDays
	}
	if current < minDays {
		current = minDays
	}

	mult := 1 + intervalImportanceGain*importance + intervalUsageGain*usage +
		intervalHelpfulGain*float64(helpful) - intervalBadPenalty*float64(bad)
	next := int(math.Ceil(float64(current) * mult))

	if next < minDays {
		return minDays
	}
	if next > maxDays {
		return maxDays
	}
	return next
}

// RecallProbability estimates how likely the memory still surfaces:
// exp(−days_since_review / interval).
func RecallProbability(sinceReview time.Duration, intervalDays int) float64 {
	if intervalDays <= 0 {
		return 0
	}
	days := sinceReview.Hours() / 24
	if days < 0 {
		days = 0
	}
	return math.Exp(-days / float64(intervalDays))
}

// NeedsReview reports whether the probability has decayed to the review
// threshold.
func NeedsReview(p, threshold float64) bool { return p <= threshold }
