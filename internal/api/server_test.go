package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemo-ai/mnemo/internal/alerts"
	"github.com/mnemo-ai/mnemo/internal/cache"
	"github.com/mnemo-ai/mnemo/internal/config"
	"github.com/mnemo-ai/mnemo/internal/embedder"
	"github.com/mnemo-ai/mnemo/internal/metrics"
	"github.com/mnemo-ai/mnemo/internal/recall"
	"github.com/mnemo-ai/mnemo/internal/store"
	"github.com/mnemo-ai/mnemo/internal/tools"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestServer(t *testing.T, serverCfg config.ServerConfig) *Server {
	return newTestServerWithMonitor(t, serverCfg, nil)
}

func newTestServerWithMonitor(t *testing.T, serverCfg config.ServerConfig, monitor *alerts.Monitor) *Server {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "mnemo.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	lex, err := embedder.NewLexicalEmbedder(0, testLogger())
	require.NoError(t, err)

	cfg := &config.Config{
		Server: serverCfg,
		Search: config.SearchConfig{
			DefaultLimit:  10,
			MaxLimit:      100,
			VectorWeight:  0.6,
			TextWeight:    0.4,
			MinSimilarity: 0.1,
		},
	}
	queries := cache.NewQueryCache(32, time.Minute, 0.6)
	pipeline := recall.NewPipeline(st, lex, queries, nil, recall.Options{
		DefaultLimit:  10,
		MaxLimit:      100,
		VectorWeight:  0.6,
		TextWeight:    0.4,
		MinSimilarity: 0.1,
	}, testLogger())
	svc := tools.New(st, lex, pipeline, queries, nil, monitor, cfg, testLogger())

	return NewServer(svc, "test", serverCfg, nil, testLogger())
}

func postTool(t *testing.T, h http.Handler, name, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/tools/"+name, strings.NewReader(body))
	req.RemoteAddr = "192.0.2.1:54321"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var envelope struct {
		Result map[string]any `json:"result"`
		Error  *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.Nil(t, envelope.Error, "expected a result, got error: %+v", envelope.Error)
	return envelope.Result
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.NotEmpty(t, envelope.Error.Code)
	return envelope.Error.Code
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, config.ServerConfig{Port: 0})
	h := srv.Handler()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "test", resp["version"])
	assert.Equal(t, "ok", resp["store"])
	assert.Equal(t, true, resp["text_search"])
	assert.Equal(t, true, resp["vector_search"])
}

func TestCatalog(t *testing.T) {
	srv := newTestServer(t, config.ServerConfig{Port: 0})
	h := srv.Handler()

	req := httptest.NewRequest(http.MethodGet, "/tools", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Tools []struct {
			Name        string         `json:"name"`
			InputSchema map[string]any `json:"input_schema"`
		} `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	names := make([]string, len(resp.Tools))
	for i, spec := range resp.Tools {
		names[i] = spec.Name
		assert.NotNil(t, spec.InputSchema, "%s has a schema", spec.Name)
	}
	for _, want := range []string{"remember", "recall", "pin", "unpin", "forget", "feedback", "stats"} {
		assert.Contains(t, names, want)
	}
}

func TestToolDispatch_RememberThenRecall(t *testing.T) {
	srv := newTestServer(t, config.ServerConfig{Port: 0})
	h := srv.Handler()

	rec := postTool(t, h, "remember", `{"content": "the api gateway caches auth tokens for five minutes"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	result := decodeResult(t, rec)
	id, _ := result["memory_id"].(string)
	require.True(t, strings.HasPrefix(id, "mem_"))

	rec = postTool(t, h, "recall", `{"query": "gateway auth tokens"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	result = decodeResult(t, rec)
	items, ok := result["items"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, items)
	first := items[0].(map[string]any)
	assert.Equal(t, id, first["id"])
}

func TestToolDispatch_Errors(t *testing.T) {
	srv := newTestServer(t, config.ServerConfig{Port: 0})
	h := srv.Handler()

	cases := []struct {
		name       string
		tool       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"unknown tool", "vanish", `{}`, http.StatusNotFound, "NOT_FOUND"},
		{"malformed json", "remember", `{"content": `, http.StatusBadRequest, "INVALID"},
		{"validation failure", "remember", `{"content": ""}`, http.StatusBadRequest, "INVALID"},
		{"missing memory", "forget", `{"id": "mem_absent"}`, http.StatusNotFound, "NOT_FOUND"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := postTool(t, h, tc.tool, tc.body)
			assert.Equal(t, tc.wantStatus, rec.Code)
			assert.Equal(t, tc.wantCode, decodeError(t, rec))
		})
	}
}

func TestToolDispatch_EmptyBodyAllowed(t *testing.T) {
	srv := newTestServer(t, config.ServerConfig{Port: 0})
	h := srv.Handler()

	rec := postTool(t, h, "stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	result := decodeResult(t, rec)
	assert.Contains(t, result, "store")
}

func TestRateLimit(t *testing.T) {
	srv := newTestServer(t, config.ServerConfig{
		Port:            0,
		RateLimitPerMin: 60,
		RateLimitBurst:  2,
	})
	h := srv.Handler()

	// The burst admits the first two calls; the third is refused.
	for i := range 2 {
		rec := postTool(t, h, "stats", "")
		require.Equal(t, http.StatusOK, rec.Code, "call %d within burst", i)
	}
	rec := postTool(t, h, "stats", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	// A different client has its own bucket.
	req := httptest.NewRequest(http.MethodPost, "/tools/stats", bytes.NewReader(nil))
	req.RemoteAddr = "198.51.100.7:1234"
	other := httptest.NewRecorder()
	h.ServeHTTP(other, req)
	assert.Equal(t, http.StatusOK, other.Code)
}

func TestResolveAlertRoute(t *testing.T) {
	monitor := alerts.NewMonitor(config.AlertConfig{
		Cooldown:           5 * time.Minute,
		History:            10,
		ResponseTimeWarnMs: 500,
		ResponseTimeCritMs: 2000,
		MemoryWarnMB:       1 << 20,
		MemoryCritMB:       1 << 21,
		ThroughputWarn:     -1,
		ThroughputCrit:     -1,
	}, testLogger())
	require.Len(t, monitor.Check(metrics.Snapshot{RecallLatencyMs: 600}), 1)

	srv := newTestServerWithMonitor(t, config.ServerConfig{Port: 0}, monitor)
	h := srv.Handler()

	post := func(metric, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/alerts/"+metric+"/resolve", strings.NewReader(body))
		req.RemoteAddr = "192.0.2.1:54321"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := post(alerts.MetricResponseTime, `{"by": "oncall"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	result := decodeResult(t, rec)
	assert.Equal(t, true, result["resolved"])
	assert.Equal(t, "oncall", result["by"])
	assert.Empty(t, monitor.Active())

	history := monitor.History()
	require.Len(t, history, 1)
	assert.Equal(t, "oncall", history[0].ResolvedBy)

	// Resolving again is a 404: nothing is firing anymore.
	rec = post(alerts.MetricResponseTime, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decodeError(t, rec))
}

func TestResolveAlertRoute_AttributesClientWithoutBody(t *testing.T) {
	monitor := alerts.NewMonitor(config.AlertConfig{
		Cooldown:           5 * time.Minute,
		History:            10,
		ResponseTimeWarnMs: 500,
		ResponseTimeCritMs: 2000,
		MemoryWarnMB:       1 << 20,
		MemoryCritMB:       1 << 21,
		ThroughputWarn:     -1,
		ThroughputCrit:     -1,
	}, testLogger())
	require.Len(t, monitor.Check(metrics.Snapshot{RecallLatencyMs: 600}), 1)

	srv := newTestServerWithMonitor(t, config.ServerConfig{Port: 0}, monitor)
	h := srv.Handler()

	req := httptest.NewRequest(http.MethodPost, "/alerts/"+alerts.MetricResponseTime+"/resolve", nil)
	req.RemoteAddr = "192.0.2.9:4000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	history := monitor.History()
	require.Len(t, history, 1)
	assert.Equal(t, "192.0.2.9", history[0].ResolvedBy)
}

func TestResolveAlertRoute_NoMonitor(t *testing.T) {
	srv := newTestServer(t, config.ServerConfig{Port: 0})
	h := srv.Handler()

	req := httptest.NewRequest(http.MethodPost, "/alerts/error_rate/resolve", nil)
	req.RemoteAddr = "192.0.2.1:54321"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "UNAVAILABLE", decodeError(t, rec))
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, config.ServerConfig{Port: 0})
	h := srv.Handler()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	body := rec.Body.String()
	for _, metric := range []string{
		"mnemo_remember_total",
		"mnemo_recall_total",
		"mnemo_cache_hits_total",
		"go_goroutines",
	} {
		assert.Contains(t, body, fmt.Sprintf("# TYPE %s", metric))
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.5:8899"
	assert.Equal(t, "10.0.0.5", clientIP(req))

	req.RemoteAddr = "[::1]:8899"
	assert.Equal(t, "[::1]", clientIP(req))
}
