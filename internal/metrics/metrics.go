// Package metrics provides application-level counters using stdlib expvar.
// Counters are exported on /debug/vars when net/http/pprof is imported and
// are rendered in Prometheus text format by the HTTP API's /metrics handler.
package metrics

import "expvar"

// Tool call counters.
var (
	RememberTotal = expvar.NewInt("mnemo_remember_total")
	RecallTotal   = expvar.NewInt("mnemo_recall_total")
	PinTotal      = expvar.NewInt("mnemo_pin_total")
	UnpinTotal    = expvar.NewInt("mnemo_unpin_total")
	ForgetTotal   = expvar.NewInt("mnemo_forget_total")
	FeedbackTotal = expvar.NewInt("mnemo_feedback_total")
	ErrorsTotal   = expvar.NewInt("mnemo_errors_total")
)

// Pipeline counters.
var (
	CacheHits        = expvar.NewInt("mnemo_cache_hits_total")
	CacheMisses      = expvar.NewInt("mnemo_cache_misses_total")
	CachePatternHits = expvar.NewInt("mnemo_cache_pattern_hits_total")
	EmbedTotal       = expvar.NewInt("mnemo_embed_total")
	EmbedFailures    = expvar.NewInt("mnemo_embed_failures_total")
	StoreBusyRetries = expvar.NewInt("mnemo_store_busy_retries_total")
	SweepSoftDeletes = expvar.NewInt("mnemo_sweep_soft_deletes_total")
	SweepHardDeletes = expvar.NewInt("mnemo_sweep_hard_deletes_total")
	ReviewsUpdated   = expvar.NewInt("mnemo_reviews_updated_total")
)

// RecallLatencyMs is an exponentially weighted moving average of recall
// latency, maintained by the tool surface and read by the alert monitor.
var RecallLatencyMs = expvar.NewFloat("mnemo_recall_latency_ms")

const latencyAlpha = 0.2

// Inc increments the given counter by 1.
func Inc(counter *expvar.Int) { counter.Add(1) }

// ObserveRecallLatency folds one recall latency sample into the EWMA.
func ObserveRecallLatency(ms float64) {
	prev := RecallLatencyMs.Value()
	if prev == 0 {
		RecallLatencyMs.Set(ms)
		return
	}
	RecallLatencyMs.Set(prev*(1-latencyAlpha) + ms*latencyAlpha)
}

// Snapshot is a point-in-time read of the counters the alert monitor and
// the /metrics handler consume.
type Snapshot struct {
	RememberTotal    int64
	RecallTotal      int64
	PinTotal         int64
	UnpinTotal       int64
	ForgetTotal      int64
	FeedbackTotal    int64
	ErrorsTotal      int64
	CacheHits        int64
	CacheMisses      int64
	CachePatternHits int64
	EmbedTotal       int64
	EmbedFailures    int64
	StoreBusyRetries int64
	SweepSoftDeletes int64
	SweepHardDeletes int64
	ReviewsUpdated   int64
	RecallLatencyMs  float64
}

// Read captures the current counter values.
func Read() Snapshot {
	return Snapshot{
		RememberTotal:    RememberTotal.Value(),
		RecallTotal:      RecallTotal.Value(),
		PinTotal:         PinTotal.Value(),
		UnpinTotal:       UnpinTotal.Value(),
		ForgetTotal:      ForgetTotal.Value(),
		FeedbackTotal:    FeedbackTotal.Value(),
		ErrorsTotal:      ErrorsTotal.Value(),
		CacheHits:        CacheHits.Value(),
		CacheMisses:      CacheMisses.Value(),
		CachePatternHits: CachePatternHits.Value(),
		EmbedTotal:       EmbedTotal.Value(),
		EmbedFailures:    EmbedFailures.Value(),
		StoreBusyRetries: StoreBusyRetries.Value(),
		SweepSoftDeletes: SweepSoftDeletes.Value(),
		SweepHardDeletes: SweepHardDeletes.Value(),
		ReviewsUpdated:   ReviewsUpdated.Value(),
		RecallLatencyMs:  RecallLatencyMs.Value(),
	}
}

// ToolCalls is the total number of tool invocations recorded.
func (s Snapshot) ToolCalls() int64 {
	return s.RememberTotal + s.RecallTotal + s.PinTotal + s.UnpinTotal +
		s.ForgetTotal + s.FeedbackTotal
}

// ErrorRate is the fraction of tool calls that failed, in [0,1].
func (s Snapshot) ErrorRate() float64 {
	calls := s.ToolCalls()
	if calls == 0 {
		return 0
	}
	return float64(s.ErrorsTotal) / float64(calls)
}
