package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemo-ai/mnemo/internal/cache"
	"github.com/mnemo-ai/mnemo/internal/config"
	"github.com/mnemo-ai/mnemo/internal/embedder"
	"github.com/mnemo-ai/mnemo/internal/recall"
	"github.com/mnemo-ai/mnemo/internal/store"
	"github.com/mnemo-ai/mnemo/internal/tools"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestMCPServer(t *testing.T) *Server {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "mnemo.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	lex, err := embedder.NewLexicalEmbedder(0, testLogger())
	require.NoError(t, err)

	cfg := &config.Config{
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
		DefaultLimit: 10, MaxLimit: 100,
		VectorWeight: 0.6, TextWeight: 0.4, MinSimilarity: 0.1,
	}, testLogger())
	svc := tools.New(st, lex, pipeline, queries, nil, nil, cfg, testLogger())
	return NewServer(svc, testLogger())
}

// makeReq builds a CallToolRequest with the given arguments.
func makeReq(toolName string, args map[string]any) mcpgo.CallToolRequest {
	req := mcpgo.CallToolRequest{}
	req.Params.Name = toolName
	req.Params.Arguments = args
	return req
}

// textContent extracts the first TextContent string from a CallToolResult.
func textContent(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content item")
	tc, ok := result.Content[0].(mcpgo.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

// rememberAndGetID calls the remember handler and returns the new memory ID.
func rememberAndGetID(t *testing.T, srv *Server, args map[string]any) string {
	t.Helper()
	result, err := srv.HandleRemember(context.Background(), makeReq("remember", args))
	require.NoError(t, err)
	require.False(t, result.IsError, "remember failed: %s", textContent(t, result))

	var out tools.RememberResult
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &out))
	require.NotEmpty(t, out.MemoryID)
	return out.MemoryID
}

func TestHandleRemember(t *testing.T) {
	srv := newTestMCPServer(t)
	ctx := context.Background()

	result, err := srv.HandleRemember(ctx, makeReq("remember", map[string]any{
		"content":    "release builds must be signed before upload",
		"type":       "procedural",
		"tags":       []any{"release", "signing"},
		"importance": 0.8,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, "unexpected tool error: %s", textContent(t, result))

	var out tools.RememberResult
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &out))
	assert.NotEmpty(t, out.MemoryID)
	assert.Equal(t, "procedural", out.Type)
	assert.InDelta(t, 0.8, out.Importance, 1e-9)
}

func TestHandleRemember_ValidationRidesInResult(t *testing.T) {
	srv := newTestMCPServer(t)

	// Tool-level failures come back as error results, not protocol errors.
	result, err := srv.HandleRemember(context.Background(), makeReq("remember", map[string]any{
		"content": "",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.NotEmpty(t, textContent(t, result))
}

func TestHandleRecall(t *testing.T) {
	srv := newTestMCPServer(t)
	ctx := context.Background()

	id := rememberAndGetID(t, srv, map[string]any{
		"content": "the staging cluster runs in the frankfurt region",
	})
	rememberAndGetID(t, srv, map[string]any{
		"content": "standup moved to ten thirty on fridays",
	})

	result, err := srv.HandleRecall(ctx, makeReq("recall", map[string]any{
		"query": "staging cluster region",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, "recall failed: %s", textContent(t, result))

	var resp tools.RecallResponse
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &resp))
	require.NotEmpty(t, resp.Items)
	assert.Equal(t, id, resp.Items[0].ID)
	assert.Equal(t, "hybrid", resp.SearchType)
}

func TestHandleRecall_NestedFilters(t *testing.T) {
	srv := newTestMCPServer(t)
	ctx := context.Background()

	rememberAndGetID(t, srv, map[string]any{
		"content": "episodic note about the outage call",
		"type":    "episodic",
	})
	rememberAndGetID(t, srv, map[string]any{
		"content": "semantic note about the outage root cause",
		"type":    "semantic",
	})

	result, err := srv.HandleRecall(ctx, makeReq("recall", map[string]any{
		"query":   "outage",
		"filters": map[string]any{"type": []any{"episodic"}},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, "recall failed: %s", textContent(t, result))

	var resp tools.RecallResponse
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &resp))
	require.NotEmpty(t, resp.Items)
	for _, item := range resp.Items {
		assert.Equal(t, "episodic", item.Type)
	}
}

func TestHandlePinAndUnpin(t *testing.T) {
	srv := newTestMCPServer(t)
	ctx := context.Background()

	id := rememberAndGetID(t, srv, map[string]any{
		"content": "the vault root token rotation runbook",
	})

	result, err := srv.HandlePin(ctx, makeReq("pin", map[string]any{"id": id}))
	require.NoError(t, err)
	require.False(t, result.IsError, "pin failed: %s", textContent(t, result))

	var pinResp tools.PinResponse
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &pinResp))
	assert.Equal(t, 1, pinResp.Requested)
	assert.Equal(t, 1, pinResp.Succeeded)

	result, err = srv.HandleUnpin(ctx, makeReq("unpin", map[string]any{"id": id}))
	require.NoError(t, err)
	require.False(t, result.IsError, "unpin failed: %s", textContent(t, result))

	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &pinResp))
	assert.Equal(t, 1, pinResp.Succeeded)
}

func TestHandleUnpin_HighImportanceNeedsConfirm(t *testing.T) {
	srv := newTestMCPServer(t)
	ctx := context.Background()

	id := rememberAndGetID(t, srv, map[string]any{
		"content":    "production database credentials live in the sealed vault",
		"importance": 0.95,
	})
	_, err := srv.HandlePin(ctx, makeReq("pin", map[string]any{"id": id}))
	require.NoError(t, err)

	result, err := srv.HandleUnpin(ctx, makeReq("unpin", map[string]any{"id": id}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var resp tools.PinResponse
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &resp))
	require.Len(t, resp.Results, 1)
	assert.False(t, resp.Results[0].Success)
	assert.Equal(t, "CONFLICT", resp.Results[0].Code)

	result, err = srv.HandleUnpin(ctx, makeReq("unpin", map[string]any{
		"id": id, "confirm": true,
	}))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &resp))
	assert.Equal(t, 1, resp.Succeeded)
}

func TestHandleForget(t *testing.T) {
	srv := newTestMCPServer(t)
	ctx := context.Background()

	id := rememberAndGetID(t, srv, map[string]any{
		"content": "scratch note from the debugging session",
		"type":    "working",
	})

	result, err := srv.HandleForget(ctx, makeReq("forget", map[string]any{"id": id}))
	require.NoError(t, err)
	assert.False(t, result.IsError, "soft forget failed: %s", textContent(t, result))

	result, err = srv.HandleForget(ctx, makeReq("forget", map[string]any{
		"id": id, "hard": true,
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError, "hard forget failed: %s", textContent(t, result))

	// The row is gone now.
	result, err = srv.HandleForget(ctx, makeReq("forget", map[string]any{"id": id}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleFeedback(t *testing.T) {
	srv := newTestMCPServer(t)
	ctx := context.Background()

	id := rememberAndGetID(t, srv, map[string]any{
		"content": "retry budget for the payments client is three attempts",
	})

	result, err := srv.HandleFeedback(ctx, makeReq("feedback", map[string]any{
		"memory_id": id,
		"helpful":   true,
		"score":     0.9,
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError, "feedback failed: %s", textContent(t, result))

	// helpful is required and has no usable default.
	result, err = srv.HandleFeedback(ctx, makeReq("feedback", map[string]any{
		"memory_id": id,
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleStats(t *testing.T) {
	srv := newTestMCPServer(t)
	ctx := context.Background()

	rememberAndGetID(t, srv, map[string]any{"content": "one memory for the counters"})

	result, err := srv.HandleStats(ctx, makeReq("stats", nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var resp tools.StatsResponse
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &resp))
	require.NotNil(t, resp.Store)
	assert.Equal(t, int64(1), resp.Store.LiveMemories)
	assert.Equal(t, int64(1), resp.Tools.Remember)
}
