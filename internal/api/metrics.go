package api

import (
	"fmt"
	"net/http"
	"runtime"

	"github.com/mnemo-ai/mnemo/internal/metrics"
)

// handleMetrics renders GET /metrics in Prometheus text format. The
// lightweight text rendering avoids pulling in the full prometheus client
// for a handful of counters.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	snap := metrics.Read()

	counter := func(name, help string, value int64) {
		fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE %s counter\n", name)
		fmt.Fprintf(w, "%s %d\n", name, value)
	}
	gaugeF := func(name, help string, value float64) {
		fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE %s gauge\n", name)
		fmt.Fprintf(w, "%s %f\n", name, value)
	}

	counter("mnemo_remember_total", "Total remember calls.", snap.RememberTotal)
	counter("mnemo_recall_total", "Total recall calls.", snap.RecallTotal)
	counter("mnemo_pin_total", "Total pin calls.", snap.PinTotal)
	counter("mnemo_unpin_total", "Total unpin calls.", snap.UnpinTotal)
	counter("mnemo_forget_total", "Total forget calls.", snap.ForgetTotal)
	counter("mnemo_feedback_total", "Total feedback calls.", snap.FeedbackTotal)
	counter("mnemo_errors_total", "Total failed tool calls.", snap.ErrorsTotal)

	counter("mnemo_cache_hits_total", "Query cache exact hits.", snap.CacheHits)
	counter("mnemo_cache_misses_total", "Query cache misses.", snap.CacheMisses)
	counter("mnemo_cache_pattern_hits_total", "Query cache pattern-match hits.", snap.CachePatternHits)
	counter("mnemo_embed_total", "Embedding generations attempted.", snap.EmbedTotal)
	counter("mnemo_embed_failures_total", "Embedding generations failed.", snap.EmbedFailures)
	counter("mnemo_store_busy_retries_total", "Store writes retried after contention.", snap.StoreBusyRetries)
	counter("mnemo_sweep_soft_deletes_total", "Memories soft-deleted by the forgetting sweep.", snap.SweepSoftDeletes)
	counter("mnemo_sweep_hard_deletes_total", "Memories hard-deleted by the forgetting sweep.", snap.SweepHardDeletes)
	counter("mnemo_reviews_updated_total", "Review schedules written.", snap.ReviewsUpdated)

	gaugeF("mnemo_recall_latency_ms", "Smoothed recall latency in milliseconds.", snap.RecallLatencyMs)
	gaugeF("mnemo_uptime_seconds", "Seconds since the service started.", s.svc.Uptime().Seconds())

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	fmt.Fprintf(w, "# HELP go_goroutines Number of goroutines.\n")
	fmt.Fprintf(w, "# TYPE go_goroutines gauge\n")
	fmt.Fprintf(w, "go_goroutines %d\n", runtime.NumGoroutine())

	fmt.Fprintf(w, "# HELP go_memstats_alloc_bytes Bytes of allocated heap objects.\n")
	fmt.Fprintf(w, "# TYPE go_memstats_alloc_bytes gauge\n")
	fmt.Fprintf(w, "go_memstats_alloc_bytes %d\n", mem.Alloc)

	fmt.Fprintf(w, "# HELP go_memstats_sys_bytes Total bytes of memory obtained from the OS.\n")
	fmt.Fprintf(w, "# TYPE go_memstats_sys_bytes gauge\n")
	fmt.Fprintf(w, "go_memstats_sys_bytes %d\n", mem.Sys)
}
